package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/hookflow/internal/runtime/config"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	"github.com/drblury/hookflow/internal/runtime/registration"
	transportpkg "github.com/drblury/hookflow/internal/runtime/transport"
	kafkatransport "github.com/drblury/hookflow/transport/kafka"
)

func TestNewServiceWithoutIntake(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{})

	if svc.router != nil {
		t.Fatal("router should only exist when a transport is configured")
	}
	if svc.publisher != nil || svc.subscriber != nil {
		t.Fatal("transport should not be built without a pubsub system")
	}
	if svc.Registry() == nil || svc.Dispatcher() == nil {
		t.Fatal("registry and dispatcher must be initialised")
	}
	if svc.Conf.WebhookAddress != ":4000" || svc.Conf.DispatchTimeout != 30*time.Second {
		t.Fatalf("config defaults not applied: %+v", svc.Conf)
	}
}

func TestNewServiceConfiguresKafka(t *testing.T) {
	origPub := kafkatransport.PublisherFactory
	origSub := kafkatransport.SubscriberFactory
	t.Cleanup(func() {
		kafkatransport.PublisherFactory = origPub
		kafkatransport.SubscriberFactory = origSub
	})
	pub := &testPublisher{}
	sub := &testSubscriber{}
	kafkatransport.PublisherFactory = func(config kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, nil
	}
	kafkatransport.SubscriberFactory = func(config kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		if config.ConsumerGroup != "group" {
			t.Fatalf("unexpected consumer group: %s", config.ConsumerGroup)
		}
		return sub, nil
	}

	cfg := &configpkg.Config{
		PubSubSystem:       "kafka",
		KafkaBrokers:       []string{"b1"},
		KafkaConsumerGroup: "group",
	}
	svc := newTestService(t, cfg, ServiceDependencies{})

	if svc.publisher != pub || svc.subscriber != sub {
		t.Fatal("expected kafka transport to be assigned")
	}
	if svc.Conf != cfg {
		t.Fatal("service config not set")
	}
	if svc.router == nil {
		t.Fatal("router should not be nil")
	}
	if _, ok := svc.router.Handlers()[intakeHandlerName]; !ok {
		t.Fatal("intake handler not registered")
	}
	if svc.capabilities.Name != "kafka" {
		t.Fatalf("unexpected capabilities: %+v", svc.capabilities)
	}
}

func TestTryNewServiceTransportError(t *testing.T) {
	_, err := TryNewService(&configpkg.Config{PubSubSystem: "channel"}, newTestLogger(), context.Background(), ServiceDependencies{
		Agent:             newTestAgent(),
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
		TransportFactory: transportpkg.FactoryFunc(func(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
			return transportpkg.Transport{}, errors.New("broker down")
		}),
	})
	if err == nil || err.Error() != "build channel transport: broker down" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServiceUnsupportedPubSubPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for unsupported pubsub system")
		}
	}()

	NewService(&configpkg.Config{PubSubSystem: "gcp"}, newTestLogger(), context.Background(), ServiceDependencies{
		Agent:             newTestAgent(),
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
	})
}

func TestTryNewServiceRequiresConfig(t *testing.T) {
	if _, err := TryNewService(nil, newTestLogger(), context.Background(), ServiceDependencies{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewServiceLoadsAgentContextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verity-context.json")
	doc := `{"verityUrl":"http://from-file","domainDID":"Domain1","restApiToken":"secret"}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	svc, err := TryNewService(&configpkg.Config{
		ContextFile: path,
		VerityURL:   "http://override",
	}, newTestLogger(), context.Background(), ServiceDependencies{
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Agent() == nil || svc.Agent().DomainDID != "Domain1" {
		t.Fatalf("agent context not loaded: %+v", svc.Agent())
	}
	if svc.Agent().VerityURL != "http://override" {
		t.Fatalf("expected configured verity url to win, got %s", svc.Agent().VerityURL)
	}
}

func TestNewServiceMissingAgentContextFile(t *testing.T) {
	svc, err := TryNewService(&configpkg.Config{
		ContextFile: filepath.Join(t.TempDir(), "missing.json"),
	}, newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Agent() != nil || svc.producer != nil {
		t.Fatal("expected no agent and no producer without a context file")
	}
}

func TestNewServiceInvalidAgentContextFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := TryNewService(&configpkg.Config{ContextFile: path}, newTestLogger(), context.Background(), ServiceDependencies{
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err == nil {
		t.Fatal("expected error for unreadable context file")
	}
}

func TestNewServiceInstallsModules(t *testing.T) {
	counter := newCallCounter()
	module := registration.ModuleFunc{
		ModuleName: "connections",
		Fn: func(b *registration.Builder) error {
			return b.Family("connecting", "0.6").Handle("", counter.handler)
		},
	}
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{
		Modules: []registration.Module{module},
	})

	if _, err := svc.Dispatch(context.Background(), testPayload("connecting", "0.6", "CONN_REQUEST_RESP", "")); err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	if counter.count() != 1 {
		t.Fatalf("expected one call, got %d", counter.count())
	}
}

func TestNewServiceModuleErrorFails(t *testing.T) {
	_, err := TryNewService(&configpkg.Config{}, newTestLogger(), context.Background(), ServiceDependencies{
		Agent:             newTestAgent(),
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
		Modules: []registration.Module{registration.ModuleFunc{
			ModuleName: "broken",
			Fn: func(b *registration.Builder) error {
				return b.Family("", "").Handle("", nil)
			},
		}},
	})
	if err == nil {
		t.Fatal("expected module error")
	}
}

func TestServiceStartReturnsWhenContextCancelled(t *testing.T) {
	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	called := make(chan struct{}, 1)
	routerRun = func(_ *message.Router, runCtx context.Context) error {
		called <- struct{}{}
		<-runCtx.Done()
		return nil
	}

	pub := &testPublisher{}
	sub := &testSubscriber{}
	svc := newTestService(t, &configpkg.Config{
		PubSubSystem:   "channel",
		WebhookAddress: "127.0.0.1:0",
	}, ServiceDependencies{TransportFactory: staticFactory(pub, sub)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("routerRun override not invoked")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service start did not return after context cancellation")
	}
	if !pub.closed || !sub.closed {
		t.Fatal("expected transport to be closed on shutdown")
	}
}

func TestServiceStartStopsWhenRouterStops(t *testing.T) {
	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	routerRun = func(*message.Router, context.Context) error {
		return nil
	}

	svc := newTestService(t, &configpkg.Config{
		PubSubSystem:   "channel",
		WebhookAddress: "127.0.0.1:0",
	}, ServiceDependencies{TransportFactory: staticFactory(&testPublisher{}, &testSubscriber{})})

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(context.Background())
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("service start did not return after the router stopped")
	}
}

func TestServiceStartReportsRouterError(t *testing.T) {
	origRun := routerRun
	t.Cleanup(func() { routerRun = origRun })
	routerRun = func(*message.Router, context.Context) error {
		return errors.New("router failed")
	}

	svc := newTestService(t, &configpkg.Config{
		PubSubSystem:   "channel",
		WebhookAddress: "127.0.0.1:0",
	}, ServiceDependencies{TransportFactory: staticFactory(&testPublisher{}, &testSubscriber{})})

	if err := svc.Start(context.Background()); err == nil || err.Error() != "router failed" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewServiceRegistersMiddlewares(t *testing.T) {
	mwCalled := false
	deps := ServiceDependencies{
		TransportFactory: staticFactory(&testPublisher{}, &testSubscriber{}),
		Middlewares: []MiddlewareRegistration{
			{
				Name: "custom",
				Builder: func(s *Service) (message.HandlerMiddleware, error) {
					mwCalled = true
					return func(h message.HandlerFunc) message.HandlerFunc {
						return h
					}, nil
				},
			},
		},
	}
	newTestService(t, &configpkg.Config{PubSubSystem: "channel"}, deps)
	if !mwCalled {
		t.Fatal("expected custom middleware builder to be called")
	}
}

func TestNewService_MiddlewareBuilderErrorPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic")
		}
	}()
	NewService(&configpkg.Config{PubSubSystem: "channel"}, newTestLogger(), context.Background(), ServiceDependencies{
		Agent:             newTestAgent(),
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
		TransportFactory:  staticFactory(&testPublisher{}, &testSubscriber{}),
		Middlewares: []MiddlewareRegistration{{
			Name: "bad",
			Builder: func(s *Service) (message.HandlerMiddleware, error) {
				return nil, errors.New("boom")
			},
		}},
	})
}

func TestNewService_AnonymousMiddlewareError(t *testing.T) {
	_, err := TryNewService(&configpkg.Config{PubSubSystem: "channel"}, newTestLogger(), context.Background(), ServiceDependencies{
		Agent:             newTestAgent(),
		Producer:          &recordingProducer{},
		MetricsRegisterer: prometheus.NewRegistry(),
		TransportFactory:  staticFactory(&testPublisher{}, &testSubscriber{}),
		Middlewares:       []MiddlewareRegistration{{}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); got != "failed to register middleware anonymous_middleware: middleware registration requires Middleware or Builder" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestNewService_DisableDefaultMiddlewares(t *testing.T) {
	svc := newTestService(t, &configpkg.Config{PubSubSystem: "channel"}, ServiceDependencies{
		DisableDefaultMiddlewares: true,
		TransportFactory:          staticFactory(nil, &testSubscriber{}),
	})
	if svc.router == nil {
		t.Fatal("router should be created")
	}
}

func TestServiceCloseClosesProducer(t *testing.T) {
	producer := &closingProducer{}
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{Producer: producer})
	if err := svc.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !producer.closed {
		t.Fatal("expected producer to be closed")
	}
}

type closingProducer struct {
	recordingProducer
	closed bool
}

func (p *closingProducer) Close() error {
	p.closed = true
	return nil
}

func TestServiceSendUsesAgentContext(t *testing.T) {
	producer := &recordingProducer{}
	svc := newTestService(t, &configpkg.Config{}, ServiceDependencies{Producer: producer})

	if err := svc.Send(context.Background(), outbound.NewMessage("connecting", "0.6", "CREATE_CONNECTION", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent := producer.Sent(); len(sent) != 1 || sent[0].Name != "CREATE_CONNECTION" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}

	svc.agent = nil
	if err := svc.Send(context.Background(), outbound.Message{}); !errors.Is(err, errspkg.ErrContextRequired) {
		t.Fatalf("expected ErrContextRequired, got %v", err)
	}
}
