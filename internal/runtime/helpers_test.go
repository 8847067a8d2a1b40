package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	configpkg "github.com/drblury/hookflow/internal/runtime/config"
	handlerpkg "github.com/drblury/hookflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	transportpkg "github.com/drblury/hookflow/internal/runtime/transport"
)

const testDomain = "did:sov:123456789abcdefghi1234;spec/"

func testPayload(family, version, name, status string) []byte {
	if status == "" {
		return []byte(fmt.Sprintf(`{"@type":"%s%s/%s/%s"}`, testDomain, family, version, name))
	}
	return []byte(fmt.Sprintf(`{"@type":"%s%s/%s/%s","status":"%s"}`, testDomain, family, version, name, status))
}

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

func newTestAgent() *agentctx.Context {
	return &agentctx.Context{
		VerityURL:    "http://verity.local",
		DomainDID:    "DomainDID1234",
		RESTAPIToken: "token",
	}
}

type testPublisher struct {
	mu        sync.Mutex
	published map[string][]*message.Message
	err       error
	closed    bool
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.published == nil {
		p.published = make(map[string][]*message.Message)
	}
	p.published[topic] = append(p.published[topic], messages...)
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *testPublisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	clone := make([]*message.Message, len(p.published[topic]))
	copy(clone, p.published[topic])
	return clone
}

type testSubscriber struct {
	err    error
	closed bool
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s *testSubscriber) Close() error {
	s.closed = true
	return nil
}

type recordingProducer struct {
	mu   sync.Mutex
	sent []outbound.Message
}

func (p *recordingProducer) Send(_ context.Context, _ *agentctx.Context, msg outbound.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingProducer) Sent() []outbound.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]outbound.Message(nil), p.sent...)
}

// callCounter counts handler invocations and signals each one.
type callCounter struct {
	mu    sync.Mutex
	calls int
	seen  chan handlerpkg.MessageContext
	err   error
}

func newCallCounter() *callCounter {
	return &callCounter{seen: make(chan handlerpkg.MessageContext, 16)}
}

func (c *callCounter) handler(ctx context.Context, mc handlerpkg.MessageContext) error {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	select {
	case c.seen <- mc:
	default:
	}
	return err
}

func (c *callCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *callCounter) wait(t *testing.T) handlerpkg.MessageContext {
	t.Helper()
	select {
	case mc := <-c.seen:
		return mc
	case <-time.After(5 * time.Second):
		t.Fatal("handler was not called")
		return handlerpkg.MessageContext{}
	}
}

func staticFactory(pub message.Publisher, sub message.Subscriber) transportpkg.Factory {
	return transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
		return transportpkg.Transport{Publisher: pub, Subscriber: sub}, nil
	})
}

func newGoChannel() *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
}

// newTestService builds a Service without broker intake unless conf selects
// one. Metrics go to a private registry.
func newTestService(t *testing.T, conf *configpkg.Config, deps ServiceDependencies) *Service {
	t.Helper()
	if conf == nil {
		conf = &configpkg.Config{}
	}
	if deps.Agent == nil {
		deps.Agent = newTestAgent()
	}
	if deps.Producer == nil {
		deps.Producer = &recordingProducer{}
	}
	if deps.MetricsRegisterer == nil {
		deps.MetricsRegisterer = prometheus.NewRegistry()
	}
	svc, err := TryNewService(conf, newTestLogger(), context.Background(), deps)
	if err != nil {
		t.Fatalf("service init failed: %v", err)
	}
	return svc
}

// runRouter runs the intake router until the test ends.
func runRouter(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.router.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	select {
	case <-svc.router.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
}
