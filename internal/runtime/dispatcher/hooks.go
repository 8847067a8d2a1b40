package dispatcher

import (
	"context"
	"time"

	"github.com/drblury/hookflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	"github.com/drblury/hookflow/internal/runtime/registry"
)

// DispatchContext describes one dispatch to hooks.
type DispatchContext struct {
	DispatchID string
	Message    *envelope.Message
	Key        registry.Key
	Level      registry.Level
	Handler    string
	Context    context.Context
	StartedAt  time.Time
	// Duration is only set for OnDispatchDone and OnDispatchError.
	Duration time.Duration
}

// Hooks are optional callbacks around handler execution. They run on the
// dispatching goroutine, never concurrently for the same dispatch.
type Hooks struct {
	OnDispatchStart func(dc DispatchContext)
	OnDispatchDone  func(dc DispatchContext)
	OnDispatchError func(dc DispatchContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnDispatchStart: chainHooks(h.OnDispatchStart, other.OnDispatchStart),
		OnDispatchDone:  chainHooks(h.OnDispatchDone, other.OnDispatchDone),
		OnDispatchError: chainErrorHooks(h.OnDispatchError, other.OnDispatchError),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DispatchContext) {
		a(dc)
		b(dc)
	}
}

func chainErrorHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DispatchContext, err error) {
		a(dc, err)
		b(dc, err)
	}
}

func (h Hooks) start(dc DispatchContext) {
	if h.OnDispatchStart != nil {
		h.OnDispatchStart(dc)
	}
}

func (h Hooks) finish(dc DispatchContext, err error) {
	if err != nil {
		if h.OnDispatchError != nil {
			h.OnDispatchError(dc, err)
		}
		return
	}
	if h.OnDispatchDone != nil {
		h.OnDispatchDone(dc)
	}
}

// LoggingHooks logs handler start at debug and completion at info.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	fields := func(dc DispatchContext) loggingpkg.LogFields {
		f := loggingpkg.LogFields{
			loggingpkg.FieldDispatchID: dc.DispatchID,
			loggingpkg.FieldHandler:    dc.Handler,
			loggingpkg.FieldLevel:      string(dc.Level),
		}
		if dc.Message != nil && !dc.Message.Type.IsZero() {
			f[loggingpkg.FieldMessageType] = dc.Message.Type.String()
			f[loggingpkg.FieldStatus] = dc.Message.Status
		}
		if dc.Duration > 0 {
			f[loggingpkg.FieldDuration] = dc.Duration.String()
		}
		return f
	}
	return Hooks{
		OnDispatchStart: func(dc DispatchContext) {
			logger.Debug("Dispatch started", fields(dc))
		},
		OnDispatchDone: func(dc DispatchContext) {
			logger.Info("Dispatch completed", fields(dc))
		},
		OnDispatchError: func(dc DispatchContext, err error) {
			logger.Error("Dispatch failed", err, fields(dc))
		},
	}
}

// AlertingHooks calls alert for every failed dispatch.
func AlertingHooks(alert func(dc DispatchContext, err error)) Hooks {
	return Hooks{OnDispatchError: alert}
}
