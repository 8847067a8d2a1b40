package handlers

import (
	"context"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	"github.com/drblury/hookflow/internal/runtime/envelope"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookflow/internal/runtime/metadata"
	"github.com/drblury/hookflow/internal/runtime/outbound"
)

// Handler processes one dispatched message.
type Handler func(ctx context.Context, mc MessageContext) error

// MessageContext is what a handler receives for a single dispatch.
type MessageContext struct {
	Message  *envelope.Message
	Agent    *agentctx.Context
	Producer outbound.Producer
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// Get retrieves a metadata value by key.
func (c MessageContext) Get(key string) string {
	return c.Metadata[key]
}

// CorrelationID returns the correlation ID from metadata, if present.
func (c MessageContext) CorrelationID() string {
	return c.Metadata[metadatapkg.KeyCorrelationID]
}

func (c MessageContext) DispatchID() string {
	return c.Metadata[metadatapkg.KeyDispatchID]
}

// Session returns the agent's follow-up state, or nil without an agent.
func (c MessageContext) Session() *agentctx.Session {
	if c.Agent == nil {
		return nil
	}
	return c.Agent.Session()
}

// Send issues an outbound protocol message on a new or explicit thread.
func (c MessageContext) Send(ctx context.Context, msg outbound.Message) error {
	if c.Producer == nil {
		return errspkg.ErrPublisherRequired
	}
	return c.Producer.Send(ctx, c.Agent, msg)
}

// Reply issues msg on the thread of the message being handled.
func (c MessageContext) Reply(ctx context.Context, msg outbound.Message) error {
	if c.Message != nil {
		msg = msg.InThread(c.Message.ThreadID)
	}
	return c.Send(ctx, msg)
}

// Named adapts a family-level callback that receives the message name
// separately, the shape protocol family handlers are usually written in.
func Named(fn func(ctx context.Context, msgName string, mc MessageContext) error) Handler {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, mc MessageContext) error {
		name := ""
		if mc.Message != nil {
			name = mc.Message.Type.Name
		}
		return fn(ctx, name, mc)
	}
}
