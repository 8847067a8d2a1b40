package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
)

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoMessageContext provides strongly typed access to the incoming message payload.
type ProtoMessageContext[T proto.Message] struct {
	MessageContext
	Payload T
}

// ProtoMessageHandler processes a typed protobuf payload.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, mc ProtoMessageContext[T]) error

// BuildProtoHandler decodes the raw message with protojson into a fresh clone
// of prototype. Envelope keys such as "@type" are discarded as unknown fields.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T]) (Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	prototype, err := EnsureProtoPrototype(prototype)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, mc MessageContext) error {
		if mc.Message == nil {
			return errspkg.ErrMalformed
		}
		typed, err := clonePrototype(prototype)
		if err != nil {
			return err
		}
		if err := protoJSONUnmarshalOptions.Unmarshal(mc.Message.Raw, typed); err != nil {
			return fmt.Errorf("failed to unmarshal %T payload: %w", prototype, err)
		}
		return handler(ctx, ProtoMessageContext[T]{MessageContext: mc, Payload: typed})
	}, nil
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrPayloadTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a new zero message of its type
// when candidate is a typed nil.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPayloadPointerNeeded
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
