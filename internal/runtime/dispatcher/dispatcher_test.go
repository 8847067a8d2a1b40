package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookflow/internal/runtime/metadata"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	"github.com/drblury/hookflow/internal/runtime/registry"
)

const domain = "did:sov:123456789abcdefghi1234;spec/"

func payload(family, version, name, status string) []byte {
	if status == "" {
		return []byte(fmt.Sprintf(`{"@type":"%s%s/%s/%s"}`, domain, family, version, name))
	}
	return []byte(fmt.Sprintf(`{"@type":"%s%s/%s/%s","status":"%s"}`, domain, family, version, name, status))
}

func newDispatcher(t *testing.T, reg *registry.Registry, opts Options) *Dispatcher {
	t.Helper()
	d, err := New(reg, opts)
	require.NoError(t, err)
	return d
}

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
	names []string
}

func newRecorder() *recorder {
	return &recorder{calls: make(map[string]int)}
}

func (r *recorder) handler(id string) handlers.Handler {
	return func(ctx context.Context, mc handlers.MessageContext) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls[id]++
		if mc.Message != nil {
			r.names = append(r.names, mc.Message.Type.Name)
		}
		return nil
	}
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, errspkg.ErrRegistryRequired)
}

// A family handler receives a connection response and sees its name.
func TestFamilyHandlerReceivesMessage(t *testing.T) {
	reg := registry.New()
	var gotName string
	reg.RegisterFamily("connecting", "0.6", "connecting", handlers.Named(func(ctx context.Context, msgName string, mc handlers.MessageContext) error {
		gotName = msgName
		return nil
	}))
	d := newDispatcher(t, reg, Options{})

	res, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", "ACCEPTED"))
	require.NoError(t, err)
	assert.Equal(t, "CONN_REQUEST_RESP", gotName)
	assert.Equal(t, registry.LevelFamily, res.Level)
	assert.Equal(t, "connecting", res.HandlerName)
	assert.Equal(t, registry.FamilyKey("connecting", "0.6"), res.Key)
	assert.NotEmpty(t, res.DispatchID)
}

// An unregistered status with no default fails with NoHandler and runs nothing.
func TestUnregisteredStatusWithoutDefault(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.Register(registry.StatusKey("issue-credential", "1.0", "sent", "OFFER_SENT"), "offer", rec.handler("offer"))
	d := newDispatcher(t, reg, Options{})

	res, err := d.Dispatch(context.Background(), nil, payload("issue-credential", "1.0", "sent", "UNKNOWN_STATUS"))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrNoHandler)

	var derr *errspkg.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errspkg.DispatchNoHandler, derr.Kind)
	assert.Equal(t, "issue-credential/1.0/sent", derr.MessageType)
	assert.Equal(t, "UNKNOWN_STATUS", derr.Status)
	assert.Zero(t, rec.total())
}

// A malformed payload that still names a problem report goes to the
// problem-report handler exactly once.
func TestMalformedPayloadRoutesToProblemReport(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	var parseErr error
	reg.SetProblemReportHandler("problems", func(ctx context.Context, mc handlers.MessageContext) error {
		parseErr = mc.Message.ParseErr
		return rec.handler("problems")(ctx, mc)
	})
	reg.SetDefaultHandler("default", rec.handler("default"))
	d := newDispatcher(t, reg, Options{})

	truncated := `{"@type":"` + domain + `report-problem/1.0/problem-report","description":{"en":"boo`
	res, err := d.Dispatch(context.Background(), nil, []byte(truncated))
	require.NoError(t, err)
	assert.Equal(t, registry.LevelProblemReport, res.Level)
	assert.Equal(t, 1, rec.count("problems"))
	assert.Zero(t, rec.count("default"))
	assert.ErrorIs(t, parseErr, errspkg.ErrMalformed)
}

func TestMalformedPayloadWithoutProblemReportHandler(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.SetDefaultHandler("default", rec.handler("default"))
	d := newDispatcher(t, reg, Options{})

	tests := []struct {
		name  string
		raw   string
		cause error
	}{
		{"not json", "definitely not json", errspkg.ErrMalformed},
		{"array", "[]", errspkg.ErrMalformed},
		{"no type", `{"status":"OK"}`, errspkg.ErrUnrecognizedType},
		{"bad type", `{"@type":"hello"}`, errspkg.ErrUnrecognizedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), nil, []byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrParseFailed)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
	assert.Zero(t, rec.total(), "default handler never sees unparseable payloads")
}

// Concurrent dispatches of distinct types each reach their own handler.
func TestConcurrentDispatchRoutesCorrectly(t *testing.T) {
	reg := registry.New()
	const types = 10
	var counters [types]atomic.Int64
	for i := 0; i < types; i++ {
		i := i
		reg.Register(registry.TypeKey("family", "1.0", fmt.Sprintf("type-%d", i)), "", func(ctx context.Context, mc handlers.MessageContext) error {
			if mc.Message.Type.Name != fmt.Sprintf("type-%d", i) {
				return fmt.Errorf("handler %d got %s", i, mc.Message.Type.Name)
			}
			counters[i].Add(1)
			return nil
		})
	}
	d := newDispatcher(t, reg, Options{})

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for n := 0; n < 100; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := d.Dispatch(context.Background(), nil, payload("family", "1.0", fmt.Sprintf("type-%d", n%types), ""))
			if err != nil {
				errs <- err
			}
		}(n)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("dispatch failed: %v", err)
	}
	for i := 0; i < types; i++ {
		assert.Equal(t, int64(100/types), counters[i].Load(), "handler %d", i)
	}
}

func TestResolutionPrecedence(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.RegisterFamily("connecting", "0.6", "family", rec.handler("family"))
	reg.Register(registry.StatusKey("connecting", "0.6", "CONN_REQUEST_RESP", "ACCEPTED"), "status", rec.handler("status"))
	reg.SetDefaultHandler("default", rec.handler("default"))
	d := newDispatcher(t, reg, Options{})

	res, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", "ACCEPTED"))
	require.NoError(t, err)
	assert.Equal(t, "status", res.HandlerName)

	res, err = d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", "DECLINED"))
	require.NoError(t, err)
	assert.Equal(t, "family", res.HandlerName)

	res, err = d.Dispatch(context.Background(), nil, payload("write-schema", "0.6", "status-report", ""))
	require.NoError(t, err)
	assert.Equal(t, "default", res.HandlerName)

	assert.Equal(t, 1, rec.count("status"))
	assert.Equal(t, 1, rec.count("family"))
	assert.Equal(t, 1, rec.count("default"))
}

func TestReRegistrationAffectsLaterDispatches(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	key := registry.TypeKey("relationship", "1.0", "created")
	reg.Register(key, "first", rec.handler("first"))
	d := newDispatcher(t, reg, Options{})

	_, err := d.Dispatch(context.Background(), nil, payload("relationship", "1.0", "created", ""))
	require.NoError(t, err)

	reg.Register(key, "second", rec.handler("second"))
	_, err = d.Dispatch(context.Background(), nil, payload("relationship", "1.0", "created", ""))
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count("first"))
	assert.Equal(t, 1, rec.count("second"))
}

func TestMalformedPayloadWithoutMarkerIsParseFailed(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.SetProblemReportHandler("problems", rec.handler("problems"))
	d := newDispatcher(t, reg, Options{})

	tests := []struct {
		name  string
		raw   string
		cause error
	}{
		{"not json", "not json at all", errspkg.ErrMalformed},
		{"unparseable type", `{"@type":"no marker here"}`, errspkg.ErrUnrecognizedType},
		{"no type", `{"hello":1}`, errspkg.ErrUnrecognizedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), nil, []byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, errspkg.ErrParseFailed)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
	assert.Zero(t, rec.total())
}

func TestExplicitProblemReportRegistrationWins(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.SetProblemReportHandler("problems", rec.handler("problems"))
	reg.RegisterFamily("report-problem", "1.0", "family", rec.handler("family"))
	reg.Register(registry.TypeKey("present-proof", "1.0", "problem-report"), "proof-problems", rec.handler("proof-problems"))
	d := newDispatcher(t, reg, Options{})

	res, err := d.Dispatch(context.Background(), nil, payload("present-proof", "1.0", "problem-report", ""))
	require.NoError(t, err)
	assert.Equal(t, registry.LevelType, res.Level)
	assert.Equal(t, "proof-problems", res.HandlerName)

	// Family registrations stay below the problem-report handler.
	res, err = d.Dispatch(context.Background(), nil, payload("report-problem", "1.0", "problem-report", ""))
	require.NoError(t, err)
	assert.Equal(t, registry.LevelProblemReport, res.Level)

	assert.Equal(t, 1, rec.count("proof-problems"))
	assert.Equal(t, 1, rec.count("problems"))
	assert.Zero(t, rec.count("family"))
}

func TestProblemReportMessageRouting(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	reg.RegisterFamily("issue-credential", "1.0", "issue", rec.handler("issue"))
	d := newDispatcher(t, reg, Options{})

	// Without a problem-report handler the message follows normal resolution.
	_, err := d.Dispatch(context.Background(), nil, payload("issue-credential", "1.0", "problem-report", ""))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.count("issue"))

	reg.SetProblemReportHandler("problems", rec.handler("problems"))
	res, err := d.Dispatch(context.Background(), nil, payload("issue-credential", "1.0", "problem-report", ""))
	require.NoError(t, err)
	assert.Equal(t, registry.LevelProblemReport, res.Level)
	assert.Equal(t, 1, rec.count("problems"))

	resolved, ok := d.Resolve(res.Message)
	require.True(t, ok)
	assert.Equal(t, "problems", resolved.Entry.Name)
}

func TestHandlerErrorIsHandlerFailed(t *testing.T) {
	reg := registry.New()
	boom := errors.New("boom")
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error {
		return boom
	})
	d := newDispatcher(t, reg, Options{})

	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrHandlerFailed)
	assert.ErrorIs(t, err, boom)

	entries := reg.Entries()
	require.Len(t, entries, 1)
	stats := entries[0].Stats.Snapshot()
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Equal(t, uint64(1), stats.MessagesFailed)
}

func TestHandlerPanicIsHandlerFailed(t *testing.T) {
	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error {
		panic("kaboom")
	})
	d := newDispatcher(t, reg, Options{})

	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrHandlerFailed)
	assert.Contains(t, err.Error(), "kaboom")

	// The dispatcher stays usable after a panic.
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error { return nil })
	_, err = d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	assert.NoError(t, err)
}

func TestHandlerTimeout(t *testing.T) {
	reg := registry.New()
	release := make(chan struct{})
	defer close(release)
	reg.RegisterFamily("connecting", "0.6", "slow", func(ctx context.Context, mc handlers.MessageContext) error {
		<-release
		return nil
	})
	d := newDispatcher(t, reg, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandlerHonouringContextReportsTimeout(t *testing.T) {
	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "ctx-aware", func(ctx context.Context, mc handlers.MessageContext) error {
		<-ctx.Done()
		return fmt.Errorf("gave up: %w", ctx.Err())
	})
	d := newDispatcher(t, reg, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Dispatch(ctx, nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrTimeout)
}

func TestCallerCancellationIsCanceled(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	reg.RegisterFamily("connecting", "0.6", "ctx-aware", func(ctx context.Context, mc handlers.MessageContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	d := newDispatcher(t, reg, Options{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := d.Dispatch(ctx, nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrCanceled)
	assert.NotErrorIs(t, err, errspkg.ErrTimeout)
	kind, ok := errspkg.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errspkg.DispatchCanceled, kind)
}

func TestHandlerContextCarriesAgentAndMetadata(t *testing.T) {
	reg := registry.New()
	agent := &agentctx.Context{DomainDID: "did-1"}
	var sent []outbound.Message
	producer := outbound.ProducerFunc(func(ctx context.Context, actx *agentctx.Context, msg outbound.Message) error {
		assert.Same(t, agent, actx)
		sent = append(sent, msg)
		return nil
	})

	var got handlers.MessageContext
	reg.Register(registry.StatusKey("connecting", "0.6", "CONN_REQUEST_RESP", "ACCEPTED"), "accepted", func(ctx context.Context, mc handlers.MessageContext) error {
		got = mc
		mc.Session().Set(agentctx.SessionConnectionID, "rel-1")
		return mc.Reply(ctx, outbound.NewMessage("relationship", "1.0", "create", nil))
	})
	d := newDispatcher(t, reg, Options{Producer: producer})

	raw := []byte(`{"@type":"` + domain + `connecting/0.6/CONN_REQUEST_RESP","status":"ACCEPTED","~thread":{"thid":"th-1"}}`)
	res, err := d.Dispatch(context.Background(), agent, raw)
	require.NoError(t, err)

	assert.Equal(t, res.DispatchID, got.DispatchID())
	assert.Equal(t, res.DispatchID, got.CorrelationID())
	assert.Equal(t, "connecting/0.6/CONN_REQUEST_RESP", got.Get(metadatapkg.KeyMessageType))
	assert.Equal(t, "ACCEPTED", got.Get(metadatapkg.KeyStatus))
	assert.Equal(t, "accepted", got.Get(metadatapkg.KeyHandler))
	assert.Equal(t, "th-1", got.Get(metadatapkg.KeyThreadID))
	require.Len(t, sent, 1)
	assert.Equal(t, "th-1", sent[0].ThreadID)

	v, ok := agent.Session().Get(agentctx.SessionConnectionID)
	assert.True(t, ok)
	assert.Equal(t, "rel-1", v)
}

func TestCustomMiddlewareRunsInsideChain(t *testing.T) {
	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error {
		if mc.Get("tenant") != "acme" {
			return errors.New("tenant metadata missing")
		}
		return nil
	})

	var sawCorrelation string
	tenant := func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			sawCorrelation = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
			msg.Metadata.Set("tenant", "acme")
			return h(msg)
		}
	}
	d := newDispatcher(t, reg, Options{Middlewares: []message.HandlerMiddleware{tenant}})

	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, sawCorrelation, "correlation id is set before custom middlewares run")
}

func TestHooksObserveDispatches(t *testing.T) {
	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "ok", func(ctx context.Context, mc handlers.MessageContext) error { return nil })
	reg.RegisterFamily("write-schema", "0.6", "fail", func(ctx context.Context, mc handlers.MessageContext) error { return errors.New("ledger down") })

	var (
		mu      sync.Mutex
		started []string
		done    []string
		failed  []string
	)
	first := Hooks{
		OnDispatchStart: func(dc DispatchContext) {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, dc.Handler)
		},
		OnDispatchDone: func(dc DispatchContext) {
			mu.Lock()
			defer mu.Unlock()
			done = append(done, dc.Handler)
			assert.Positive(t, dc.Duration)
		},
	}
	second := AlertingHooks(func(dc DispatchContext, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, dc.Handler)
	})
	d := newDispatcher(t, reg, Options{Hooks: first.Merge(second)})

	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), nil, payload("write-schema", "0.6", "status-report", ""))
	require.Error(t, err)

	assert.Equal(t, []string{"ok", "fail"}, started)
	assert.Equal(t, []string{"ok"}, done)
	assert.Equal(t, []string{"fail"}, failed)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := NewMetrics(promReg)
	require.NoError(t, metrics.Register())
	require.NoError(t, metrics.Register())

	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error { return nil })
	d := newDispatcher(t, reg, Options{Metrics: metrics})

	_, _ = d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	_, _ = d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	_, _ = d.Dispatch(context.Background(), nil, payload("issue-credential", "1.0", "sent", ""))
	_, _ = d.Dispatch(context.Background(), nil, []byte("nope"))

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.dispatchTotal.WithLabelValues(OutcomeSuccess, string(registry.LevelFamily))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatchTotal.WithLabelValues(OutcomeNoHandler, string(registry.LevelNone))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.dispatchTotal.WithLabelValues(OutcomeParseFailed, string(registry.LevelNone))))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.inFlight) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLoggingHooksDoNotPanic(t *testing.T) {
	reg := registry.New()
	reg.RegisterFamily("connecting", "0.6", "connecting", func(ctx context.Context, mc handlers.MessageContext) error { return nil })
	reg.RegisterFamily("write-schema", "0.6", "ws", func(ctx context.Context, mc handlers.MessageContext) error { return errors.New("x") })
	d := newDispatcher(t, reg, Options{Hooks: LoggingHooks(loggingNop())})

	_, err := d.Dispatch(context.Background(), nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", "ACCEPTED"))
	assert.NoError(t, err)
	_, err = d.Dispatch(context.Background(), nil, payload("write-schema", "0.6", "x", ""))
	assert.Error(t, err)
}

func loggingNop() loggingpkg.ServiceLogger {
	return loggingpkg.Nop()
}

func TestCorrelationIDFromContextReachesHandler(t *testing.T) {
	reg := registry.New()
	var got handlers.MessageContext
	reg.SetDefaultHandler("all", func(ctx context.Context, mc handlers.MessageContext) error {
		got = mc
		return nil
	})
	d := newDispatcher(t, reg, Options{})

	ctx := WithCorrelationID(context.Background(), "upstream-1")
	res, err := d.Dispatch(ctx, nil, payload("connecting", "0.6", "CONN_REQUEST_RESP", ""))
	require.NoError(t, err)

	assert.Equal(t, "upstream-1", got.CorrelationID())
	assert.Equal(t, res.DispatchID, got.DispatchID())
	assert.Equal(t, "upstream-1", CorrelationIDFromContext(ctx))
	assert.Empty(t, CorrelationIDFromContext(context.Background()))
	assert.Equal(t, context.Background(), WithCorrelationID(context.Background(), ""))
}
