// Package dispatcher routes one raw message to exactly one registered
// handler and runs it under a deadline.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	"github.com/drblury/hookflow/internal/runtime/envelope"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/handlers"
	"github.com/drblury/hookflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookflow/internal/runtime/metadata"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	"github.com/drblury/hookflow/internal/runtime/registry"
)

// DefaultTimeout bounds handler execution when the caller's context carries
// no earlier deadline.
const DefaultTimeout = 30 * time.Second

type Options struct {
	Parser   *envelope.Parser
	Timeout  time.Duration
	Logger   loggingpkg.ServiceLogger
	Producer outbound.Producer
	// Middlewares wrap handler execution inside the built-in chain.
	Middlewares []message.HandlerMiddleware
	Hooks       Hooks
	Classifier  registry.ErrorClassifier
	Metrics     *Metrics
}

// Result describes a successful dispatch.
type Result struct {
	DispatchID  string
	Key         registry.Key
	Level       registry.Level
	HandlerName string
	Duration    time.Duration
	Message     *envelope.Message
}

// Dispatcher is safe for concurrent use. It reads the registry but never
// modifies it.
type Dispatcher struct {
	registry *registry.Registry
	parser   *envelope.Parser
	timeout  time.Duration
	logger   loggingpkg.ServiceLogger
	producer outbound.Producer
	chain    []message.HandlerMiddleware
	hooks    Hooks
	classify registry.ErrorClassifier
	metrics  *Metrics
}

func New(reg *registry.Registry, opts Options) (*Dispatcher, error) {
	if reg == nil {
		return nil, errspkg.ErrRegistryRequired
	}
	if opts.Parser == nil {
		opts.Parser = envelope.NewParser()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = loggingpkg.Nop()
	}
	if opts.Classifier == nil {
		opts.Classifier = registry.DefaultErrorClassifier
	}

	// Outermost first. The recoverer turns handler panics into errors.
	chain := []message.HandlerMiddleware{
		middleware.Recoverer,
		correlationIDMiddleware,
		tracerMiddleware,
		logMessagesMiddleware(opts.Logger),
	}
	chain = append(chain, opts.Middlewares...)

	return &Dispatcher{
		registry: reg,
		parser:   opts.Parser,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		producer: opts.Producer,
		chain:    chain,
		hooks:    opts.Hooks,
		classify: opts.Classifier,
		metrics:  opts.Metrics,
	}, nil
}

// Dispatch parses raw, resolves its handler and runs it. At most one handler
// runs per call. On failure the returned error is a *errors.DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, actx *agentctx.Context, raw []byte) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dispatchID := ids.NewDispatchID()
	start := time.Now()

	msg, err := d.parser.Parse(raw)
	if err != nil {
		res, ok := d.problemReportFor(raw)
		if !ok {
			derr := &errspkg.DispatchError{
				Kind:       errspkg.DispatchParseFailed,
				DispatchID: dispatchID,
				Err:        err,
			}
			d.reject(OutcomeParseFailed, derr, start, nil)
			return nil, derr
		}
		return d.execute(ctx, actx, dispatchID, &envelope.Message{Raw: raw, ParseErr: err}, res, start)
	}

	res, ok := d.resolve(msg)
	if !ok {
		derr := &errspkg.DispatchError{
			Kind:        errspkg.DispatchNoHandler,
			DispatchID:  dispatchID,
			MessageType: msg.Type.String(),
			Status:      msg.Status,
		}
		d.reject(OutcomeNoHandler, derr, start, msg)
		return nil, derr
	}
	return d.execute(ctx, actx, dispatchID, msg, res, start)
}

// Resolve reports which handler Dispatch would run for msg without running it.
func (d *Dispatcher) Resolve(msg *envelope.Message) (registry.Resolution, bool) {
	return d.resolve(msg)
}

// Problem reports bound at status or type level keep their registration;
// everything else of that kind goes to the problem-report handler when set.
func (d *Dispatcher) resolve(msg *envelope.Message) (registry.Resolution, bool) {
	res, ok := d.registry.Resolve(msg)
	if !msg.Type.IsProblemReport() {
		return res, ok
	}
	if ok && (res.Level == registry.LevelStatus || res.Level == registry.LevelType) {
		return res, true
	}
	if pr, found := d.registry.ProblemReport(); found {
		return pr, true
	}
	return res, ok
}

// problemReportFor picks the problem-report handler for an unparseable
// payload, provided the payload still carries a problem-report marker.
func (d *Dispatcher) problemReportFor(raw []byte) (registry.Resolution, bool) {
	if !envelope.ContainsProblemReportMarker(raw) {
		return registry.Resolution{}, false
	}
	return d.registry.ProblemReport()
}

func (d *Dispatcher) execute(
	ctx context.Context,
	actx *agentctx.Context,
	dispatchID string,
	msg *envelope.Message,
	res registry.Resolution,
	start time.Time,
) (*Result, error) {
	entry := res.Entry

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	md := metadatapkg.New(metadatapkg.KeyDispatchID, dispatchID).
		With(metadatapkg.KeyHandler, entry.Name).
		With(metadatapkg.KeyMessageType, msg.Type.String()).
		With(metadatapkg.KeyStatus, msg.Status).
		With(metadatapkg.KeyThreadID, msg.ThreadID).
		With(metadatapkg.KeyCorrelationID, CorrelationIDFromContext(ctx))

	wm := message.NewMessage(dispatchID, msg.Raw)
	wm.Metadata = metadatapkg.ToWatermill(md)
	wm.SetContext(execCtx)

	logger := d.logger.With(loggingpkg.LogFields{
		loggingpkg.FieldDispatchID: dispatchID,
		loggingpkg.FieldHandler:    entry.Name,
	})

	handle := func(m *message.Message) ([]*message.Message, error) {
		mc := handlers.MessageContext{
			Message:  msg,
			Agent:    actx,
			Producer: d.producer,
			Metadata: metadatapkg.FromWatermill(m.Metadata),
			Logger:   logger,
		}
		return nil, entry.Handler(m.Context(), mc)
	}
	wrapped := message.HandlerFunc(handle)
	for i := len(d.chain) - 1; i >= 0; i-- {
		wrapped = d.chain[i](wrapped)
	}

	dc := DispatchContext{
		DispatchID: dispatchID,
		Message:    msg,
		Key:        entry.Key,
		Level:      res.Level,
		Handler:    entry.Name,
		Context:    execCtx,
		StartedAt:  start,
	}
	d.hooks.start(dc)
	entry.Stats.Begin()
	d.metrics.handlerStarted()

	// Buffered so an abandoned handler can still complete its send.
	done := make(chan error, 1)
	go func() {
		defer d.metrics.handlerReturned()
		_, err := wrapped(wm)
		done <- err
	}()

	var (
		handlerErr error
		kind       errspkg.DispatchErrorKind
		outcome    = OutcomeSuccess
	)
	select {
	case handlerErr = <-done:
		switch {
		case handlerErr == nil:
		case execCtx.Err() != nil && errors.Is(handlerErr, execCtx.Err()):
			kind, outcome = contextFailure(execCtx.Err())
		default:
			kind, outcome = errspkg.DispatchHandlerFailed, OutcomeHandlerFailed
		}
	case <-execCtx.Done():
		handlerErr = execCtx.Err()
		kind, outcome = contextFailure(handlerErr)
	}

	duration := time.Since(start)
	dc.Duration = duration

	var err error
	if handlerErr != nil {
		err = &errspkg.DispatchError{
			Kind:        kind,
			DispatchID:  dispatchID,
			MessageType: msg.Type.String(),
			Status:      msg.Status,
			Err:         handlerErr,
		}
	}

	entry.Stats.Finish(duration, err, d.classify)
	d.metrics.observe(outcome, string(res.Level), duration)
	d.hooks.finish(dc, err)

	if err != nil {
		logger.Error("Dispatch failed", err, loggingpkg.LogFields{
			loggingpkg.FieldMessageType: msg.Type.String(),
			loggingpkg.FieldStatus:      msg.Status,
			loggingpkg.FieldOutcome:     outcome,
		})
		return nil, err
	}

	logger.Debug("Dispatch completed", loggingpkg.LogFields{
		loggingpkg.FieldMessageType: msg.Type.String(),
		loggingpkg.FieldStatus:      msg.Status,
		loggingpkg.FieldLevel:       string(res.Level),
		loggingpkg.FieldDuration:    duration.String(),
	})
	return &Result{
		DispatchID:  dispatchID,
		Key:         entry.Key,
		Level:       res.Level,
		HandlerName: entry.Name,
		Duration:    duration,
		Message:     msg,
	}, nil
}

func (d *Dispatcher) reject(outcome string, err error, start time.Time, msg *envelope.Message) {
	d.metrics.observe(outcome, string(registry.LevelNone), time.Since(start))

	fields := loggingpkg.LogFields{loggingpkg.FieldOutcome: outcome}
	if msg != nil {
		fields[loggingpkg.FieldMessageType] = msg.Type.String()
		fields[loggingpkg.FieldStatus] = msg.Status
	}
	d.logger.Error("Dispatch rejected", err, fields)
}

// contextFailure separates an expired deadline from a caller that went away.
func contextFailure(err error) (errspkg.DispatchErrorKind, string) {
	if errors.Is(err, context.DeadlineExceeded) {
		return errspkg.DispatchTimeout, OutcomeTimeout
	}
	return errspkg.DispatchCanceled, OutcomeCanceled
}
