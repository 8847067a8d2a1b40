package dispatcher

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/hookflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookflow/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/hookflow/dispatcher"

// correlationIDMiddleware keeps an inbound correlation id and otherwise
// reuses the dispatch id.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if middleware.MessageCorrelationID(msg) == "" {
			id := msg.Metadata.Get(metadatapkg.KeyDispatchID)
			if id == "" {
				id = ids.NewDispatchID()
			}
			middleware.SetCorrelationID(id, msg)
		}
		return h(msg)
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "hookflow.Dispatch")
		defer span.End()
		msg.SetContext(ctx)

		spanCtx := span.SpanContext()
		if spanCtx.HasTraceID() {
			msg.Metadata.Set(metadatapkg.KeyTraceID, spanCtx.TraceID().String())
			msg.Metadata.Set(metadatapkg.KeySpanID, spanCtx.SpanID().String())
		}
		span.SetAttributes(
			attribute.String("hookflow.dispatch_id", msg.Metadata.Get(metadatapkg.KeyDispatchID)),
			attribute.String("hookflow.message_type", msg.Metadata.Get(metadatapkg.KeyMessageType)),
			attribute.String("hookflow.status", msg.Metadata.Get(metadatapkg.KeyStatus)),
			attribute.String("hookflow.handler", msg.Metadata.Get(metadatapkg.KeyHandler)),
		)

		out, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Trace("Handling message", loggingpkg.LogFields{
				loggingpkg.FieldDispatchID: msg.UUID,
				"payload":                  string(msg.Payload),
				"metadata":                 msg.Metadata,
			})
			return h(msg)
		}
	}
}
