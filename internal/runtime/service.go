package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	configpkg "github.com/drblury/hookflow/internal/runtime/config"
	"github.com/drblury/hookflow/internal/runtime/dispatcher"
	"github.com/drblury/hookflow/internal/runtime/envelope"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	"github.com/drblury/hookflow/internal/runtime/registration"
	"github.com/drblury/hookflow/internal/runtime/registry"
	transportpkg "github.com/drblury/hookflow/internal/runtime/transport"
	transportcore "github.com/drblury/hookflow/transport"
)

const shutdownTimeout = 10 * time.Second

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to fall back to the defaults derived from the config.
type ServiceDependencies struct {
	Registry *registry.Registry
	Agent    *agentctx.Context
	Producer outbound.Producer
	Parser   *envelope.Parser
	Modules  []registration.Module

	Middlewares               []MiddlewareRegistration // Appended after the default intake middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default intake middleware chain when true.
	DispatchMiddlewares       []message.HandlerMiddleware
	Hooks                     dispatcher.Hooks

	TransportFactory  transportpkg.Factory
	ErrorClassifier   registry.ErrorClassifier
	MetricsRegisterer prometheus.Registerer
}

// Service serves the webhook, optionally consumes broker intake, and hands
// every inbound message to a single dispatcher.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	agent      *agentctx.Context
	producer   outbound.Producer

	publisher    message.Publisher
	subscriber   message.Subscriber
	router       *message.Router
	capabilities transportcore.Capabilities

	registerer      prometheus.Registerer
	dispatchMetrics *dispatcher.Metrics
	poisonMetrics   *PoisonMetrics
	resourceTracker *resourceTracker

	httpServers   map[string]chi.Router
	httpServersMu sync.Mutex
	resourceOnce  sync.Once
	webUIOnce     sync.Once
}

// NewService constructs a Service for the supplied configuration and panics
// when it cannot be built. Use TryNewService to handle the error instead.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	s, err := TryNewService(conf, log, ctx, deps)
	if err != nil {
		panic(err)
	}
	return s
}

// TryNewService constructs a Service for the supplied configuration. Register
// handlers on the returned Service before calling Start.
func TryNewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errors.New("service config is required")
	}
	if log == nil {
		log = loggingpkg.Nop()
	}
	normalized := conf.WithDefaults()
	*conf = normalized

	log.Info("Creating hookflow service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"webhook_mode":  conf.WebhookMode,
		"config":        conf,
	})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		registry:        deps.Registry,
		agent:           deps.Agent,
		producer:        deps.Producer,
		registerer:      deps.MetricsRegisterer,
		resourceTracker: newResourceTracker(),
	}
	if s.registry == nil {
		s.registry = registry.New()
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}

	if err := s.setupAgent(); err != nil {
		return nil, err
	}
	if err := s.setupProducer(); err != nil {
		return nil, err
	}
	if err := s.setupDispatcher(deps); err != nil {
		return nil, err
	}
	if len(deps.Modules) > 0 {
		if err := registration.Install(s.registry, deps.Modules...); err != nil {
			return nil, err
		}
	}
	if err := s.setupIntake(ctx, deps); err != nil {
		return nil, err
	}

	s.registerWebhook()
	return s, nil
}

func (s *Service) setupAgent() error {
	if s.agent == nil && s.Conf.ContextFile != "" {
		actx, err := agentctx.Load(s.Conf.ContextFile)
		switch {
		case err == nil:
			s.agent = actx
		case errors.Is(err, fs.ErrNotExist):
			s.Logger.Info("Agent context file not found, outbound messages disabled", loggingpkg.LogFields{
				"context_file": s.Conf.ContextFile,
			})
		default:
			return err
		}
	}
	if s.agent != nil && s.Conf.VerityURL != "" {
		s.agent.VerityURL = s.Conf.VerityURL
	}
	return nil
}

func (s *Service) setupProducer() error {
	if s.producer != nil || s.agent == nil {
		return nil
	}
	producer, err := outbound.NewRESTProducer(
		outbound.WithLogger(loggingpkg.NewWatermillAdapter(s.Logger)),
	)
	if err != nil {
		return fmt.Errorf("create outbound producer: %w", err)
	}
	s.producer = producer
	return nil
}

func (s *Service) setupDispatcher(deps ServiceDependencies) error {
	s.dispatchMetrics = dispatcher.NewMetrics(s.registerer)
	if s.Conf.MetricsEnabled {
		if err := s.dispatchMetrics.Register(); err != nil {
			return fmt.Errorf("register dispatch metrics: %w", err)
		}
	}

	d, err := dispatcher.New(s.registry, dispatcher.Options{
		Parser:      deps.Parser,
		Timeout:     s.Conf.DispatchTimeout,
		Logger:      s.Logger,
		Producer:    s.producer,
		Middlewares: deps.DispatchMiddlewares,
		Hooks:       dispatcher.LoggingHooks(s.Logger).Merge(deps.Hooks),
		Classifier:  deps.ErrorClassifier,
		Metrics:     s.dispatchMetrics,
	})
	if err != nil {
		return err
	}
	s.dispatcher = d
	return nil
}

func (s *Service) setupIntake(ctx context.Context, deps ServiceDependencies) error {
	if !s.Conf.IntakeEnabled() {
		return nil
	}
	wmLogger := loggingpkg.NewWatermillAdapter(s.Logger)

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, s.Conf, wmLogger)
	if err != nil {
		return fmt.Errorf("build %s transport: %w", s.Conf.PubSubSystem, err)
	}
	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber
	s.capabilities = transportpkg.CapabilitiesFor(s.Conf)

	s.poisonMetrics = NewPoisonMetrics(s.registerer)
	if s.Conf.MetricsEnabled {
		if err := s.poisonMetrics.Register(); err != nil {
			return fmt.Errorf("register poison metrics: %w", err)
		}
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	if err := s.registerConfiguredMiddlewares(deps); err != nil {
		return err
	}
	if s.subscriber != nil {
		s.router.AddNoPublisherHandler(
			intakeHandlerName,
			s.Conf.IntakeTopic,
			s.subscriber,
			s.handleIntake,
		)
	}
	return nil
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Registry exposes the handler registry so callers can register handlers
// directly.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Dispatcher returns the dispatcher used by the webhook and broker intake.
func (s *Service) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Agent returns the agent context handed to handlers, or nil when none was loaded.
func (s *Service) Agent() *agentctx.Context { return s.agent }

// Dispatch runs one raw message through the dispatcher with the service's
// agent context.
func (s *Service) Dispatch(ctx context.Context, raw []byte) (*dispatcher.Result, error) {
	return s.dispatcher.Dispatch(ctx, s.agent, raw)
}

// Send issues msg through the service producer with the service agent
// context. Use it to start protocols outside of a handler.
func (s *Service) Send(ctx context.Context, msg outbound.Message) error {
	if s.producer == nil {
		return errspkg.ErrPublisherRequired
	}
	if s.agent == nil {
		return errspkg.ErrContextRequired
	}
	return s.producer.Send(ctx, s.agent, msg)
}

// Start serves HTTP and, when configured, runs the intake router until ctx is
// cancelled. Servers are shut down gracefully on return.
func (s *Service) Start(ctx context.Context) error {
	s.StartWebUIServer()
	s.registerMetricsEndpoint()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for addr, handler := range s.snapshotHTTPServers() {
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if s.router != nil {
		g.Go(func() error {
			// The signals plugin may stop the router on its own.
			defer cancel()
			return routerRun(s.router, gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if closeErr := s.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the transport and the outbound producer.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil || s.subscriber != nil {
		t := transportpkg.Transport{Publisher: s.publisher, Subscriber: s.subscriber}
		errs = append(errs, t.Close())
	}
	if closer, ok := s.producer.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func (s *Service) httpRouter(addr string) chi.Router {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[string]chi.Router)
	}
	r, ok := s.httpServers[addr]
	if !ok {
		r = chi.NewRouter()
		s.httpServers[addr] = r
	}
	return r
}

// RegisterHTTPHandler mounts handler under pattern on the server listening on addr.
func (s *Service) RegisterHTTPHandler(addr, pattern string, handler http.Handler) {
	s.httpRouter(addr).Handle(pattern, handler)
}

func (s *Service) snapshotHTTPServers() map[string]http.Handler {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	out := make(map[string]http.Handler, len(s.httpServers))
	for addr, r := range s.httpServers {
		out[addr] = r
	}
	return out
}

func portAddress(port int) string {
	return fmt.Sprintf(":%d", port)
}

func (s *Service) getResourceTracker() *resourceTracker {
	s.resourceOnce.Do(func() {
		if s.resourceTracker == nil {
			s.resourceTracker = newResourceTracker()
		}
	})
	return s.resourceTracker
}
