package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrServiceRequired   = sterrors.New("hookflow: service is required")
	ErrHandlerRequired   = sterrors.New("hookflow: handler function is required")
	ErrRegistryRequired  = sterrors.New("hookflow: handler registry is required")
	ErrModuleRequired    = sterrors.New("hookflow: protocol module is required")
	ErrModuleNameEmpty   = sterrors.New("hookflow: protocol module name is required")
	ErrContextRequired   = sterrors.New("hookflow: agent context is required")
	ErrPublisherRequired = sterrors.New("hookflow: publisher is required")
	ErrTopicRequired     = sterrors.New("hookflow: topic is required")
	ErrConfigRequired    = sterrors.New("hookflow: configuration is required")
	ErrLoggerRequired    = sterrors.New("hookflow: logger is required")
	ErrIdentifierInvalid = sterrors.New("hookflow: message type identifier is invalid")
	ErrFamilyRequired    = sterrors.New("hookflow: protocol family and version are required")

	ErrPayloadTypeRequired  = sterrors.New("hookflow: payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("hookflow: payload type must be a pointer")
)

// Envelope and dispatch sentinels. ParseError and DispatchError match them via errors.Is.
var (
	ErrMalformed        = sterrors.New("hookflow: malformed message")
	ErrUnrecognizedType = sterrors.New("hookflow: unrecognized message type")
	ErrNoHandler        = sterrors.New("hookflow: no handler registered")
	ErrHandlerFailed    = sterrors.New("hookflow: handler failed")
	ErrTimeout          = sterrors.New("hookflow: handler timed out")
	ErrCanceled         = sterrors.New("hookflow: dispatch canceled by caller")
	ErrParseFailed      = sterrors.New("hookflow: message could not be parsed")
)

type ParseErrorKind string

const (
	ParseMalformed        ParseErrorKind = "malformed"
	ParseUnrecognizedType ParseErrorKind = "unrecognized_type"
)

// ParseError is returned by the envelope parser.
type ParseError struct {
	Kind ParseErrorKind
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel().Error(), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *ParseError) sentinel() error {
	if e.Kind == ParseUnrecognizedType {
		return ErrUnrecognizedType
	}
	return ErrMalformed
}

// NewMalformedError wraps err as a malformed-payload ParseError.
func NewMalformedError(err error) error {
	return &ParseError{Kind: ParseMalformed, Err: err}
}

// NewUnrecognizedTypeError wraps err as an unrecognized-type ParseError.
func NewUnrecognizedTypeError(err error) error {
	return &ParseError{Kind: ParseUnrecognizedType, Err: err}
}

type DispatchErrorKind string

const (
	DispatchNoHandler     DispatchErrorKind = "no_handler"
	DispatchHandlerFailed DispatchErrorKind = "handler_failed"
	DispatchTimeout       DispatchErrorKind = "timeout"
	DispatchParseFailed   DispatchErrorKind = "parse_failed"
	DispatchCanceled      DispatchErrorKind = "canceled"
)

// DispatchError describes why a single dispatch did not succeed.
type DispatchError struct {
	Kind        DispatchErrorKind
	DispatchID  string
	MessageType string
	Status      string
	Err         error
}

func (e *DispatchError) Error() string {
	msg := e.sentinel().Error()
	if e.MessageType != "" {
		msg += " for " + e.MessageType
		if e.Status != "" {
			msg += " (status " + e.Status + ")"
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DispatchError) sentinel() error {
	switch e.Kind {
	case DispatchNoHandler:
		return ErrNoHandler
	case DispatchTimeout:
		return ErrTimeout
	case DispatchCanceled:
		return ErrCanceled
	case DispatchParseFailed:
		return ErrParseFailed
	default:
		return ErrHandlerFailed
	}
}

// KindOf returns the dispatch error kind carried by err, if any.
func KindOf(err error) (DispatchErrorKind, bool) {
	var de *DispatchError
	if sterrors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// ConfigValidationError wraps the joined configuration validation failures.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "hookflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
