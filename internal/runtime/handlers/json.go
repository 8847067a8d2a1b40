package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
)

// JSONMessageContext exposes the decoded payload next to the dispatch context.
type JSONMessageContext[T any] struct {
	MessageContext
	Payload T
}

// JSONMessageHandler processes a typed JSON payload.
type JSONMessageHandler[T any] func(ctx context.Context, mc JSONMessageContext[T]) error

// BuildJSONHandler decodes the raw message into a fresh T before calling
// handler. T must be a pointer type.
func BuildJSONHandler[T any](handler JSONMessageHandler[T]) (Handler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, mc MessageContext) error {
		if mc.Message == nil {
			return errspkg.ErrMalformed
		}
		typed := prototypeFactory()
		if err := jsoncodec.Unmarshal(mc.Message.Raw, typed); err != nil {
			return fmt.Errorf("failed to unmarshal %T payload: %w", typed, err)
		}
		return handler(ctx, JSONMessageContext[T]{MessageContext: mc, Payload: typed})
	}, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}
