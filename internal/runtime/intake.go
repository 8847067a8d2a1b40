package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/hookflow/internal/runtime/dispatcher"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
)

const intakeHandlerName = "hookflow_intake"

// UnprocessableEventError marks an intake message that no amount of retrying
// will route. The poison queue middleware forwards such messages.
type UnprocessableEventError struct {
	eventMessage string
	kind         errspkg.DispatchErrorKind
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

// Reason is the dispatch failure kind that made the message unprocessable.
func (e *UnprocessableEventError) Reason() string { return string(e.kind) }

// handleIntake dispatches one broker message. Parse and routing failures are
// final; handler failures and timeouts bubble up so they can be retried.
func (s *Service) handleIntake(msg *message.Message) error {
	ctx := dispatcher.WithCorrelationID(msg.Context(), middleware.MessageCorrelationID(msg))
	_, err := s.dispatcher.Dispatch(ctx, s.agent, msg.Payload)
	if err == nil {
		return nil
	}

	kind, ok := errspkg.KindOf(err)
	if ok && (kind == errspkg.DispatchParseFailed || kind == errspkg.DispatchNoHandler) {
		return &UnprocessableEventError{
			eventMessage: string(msg.Payload),
			kind:         kind,
			err:          err,
		}
	}

	s.Logger.Debug("Intake dispatch failed, message will be retried", loggingpkg.LogFields{
		"message_uuid": msg.UUID,
		"error":        err.Error(),
	})
	return err
}

func isUnprocessable(err error) bool {
	var unprocessable *UnprocessableEventError
	return errors.As(err, &unprocessable)
}
