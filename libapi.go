package hookflow

import (
	"google.golang.org/protobuf/proto"

	runtimepkg "github.com/drblury/hookflow/internal/runtime"
	"github.com/drblury/hookflow/internal/runtime/agentctx"
	configpkg "github.com/drblury/hookflow/internal/runtime/config"
	"github.com/drblury/hookflow/internal/runtime/dispatcher"
	"github.com/drblury/hookflow/internal/runtime/envelope"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/hookflow/internal/runtime/handlers"
	idspkg "github.com/drblury/hookflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/hookflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hookflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/hookflow/internal/runtime/metadata"
	"github.com/drblury/hookflow/internal/runtime/outbound"
	"github.com/drblury/hookflow/internal/runtime/registration"
	"github.com/drblury/hookflow/internal/runtime/registry"
	transportpkg "github.com/drblury/hookflow/internal/runtime/transport"
	newtransport "github.com/drblury/hookflow/transport"
)

type (
	Config               = configpkg.Config
	Service              = runtimepkg.Service
	ServiceDependencies  = runtimepkg.ServiceDependencies
	Transport            = transportpkg.Transport
	TransportFactory     = transportpkg.Factory
	TransportFactoryFunc = transportpkg.FactoryFunc

	Handler                                   = handlerpkg.Handler
	MessageContext                            = handlerpkg.MessageContext
	HandlerRegistration                       = runtimepkg.HandlerRegistration
	JSONHandlerRegistration[T any]            = runtimepkg.JSONHandlerRegistration[T]
	JSONMessageContext[T any]                 = handlerpkg.JSONMessageContext[T]
	JSONMessageHandler[T any]                 = handlerpkg.JSONMessageHandler[T]
	ProtoHandlerRegistration[T proto.Message] = runtimepkg.ProtoHandlerRegistration[T]
	ProtoMessageContext[T proto.Message]      = handlerpkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message]      = handlerpkg.ProtoMessageHandler[T]

	Module              = registration.Module
	ModuleFunc          = registration.ModuleFunc
	RegistrationBuilder = registration.Builder
	Catalog             = registration.Catalog

	Registry     = registry.Registry
	Key          = registry.Key
	Level        = registry.Level
	EntryInfo    = registry.EntryInfo
	HandlerStats = registry.HandlerStats

	Dispatcher        = dispatcher.Dispatcher
	DispatcherOptions = dispatcher.Options
	DispatchResult    = dispatcher.Result
	DispatchContext   = dispatcher.DispatchContext
	DispatchHooks     = dispatcher.Hooks
	DispatchMetrics   = dispatcher.Metrics

	Parser       = envelope.Parser
	ParserOption = envelope.Option
	Message      = envelope.Message
	MessageType  = envelope.MessageType

	AgentContext = agentctx.Context
	Session      = agentctx.Session

	Producer        = outbound.Producer
	ProducerFunc    = outbound.ProducerFunc
	OutboundMessage = outbound.Message
	RESTProducer    = outbound.RESTProducer
	BrokerProducer  = outbound.BrokerProducer

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ParseError              = errspkg.ParseError
	DispatchError           = errspkg.DispatchError
	DispatchErrorKind       = errspkg.DispatchErrorKind
	UnprocessableEventError = runtimepkg.UnprocessableEventError
	ConfigValidationError   = errspkg.ConfigValidationError

	PoisonMetrics         = runtimepkg.PoisonMetrics
	PoisonMetricsSnapshot = runtimepkg.PoisonMetricsSnapshot
	RuntimeInfo           = runtimepkg.RuntimeInfo

	ErrorClassifier = registry.ErrorClassifier
	ErrorCategory   = registry.ErrorCategory

	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	LoadConfig           = configpkg.Load
	LoadConfigWithPrefix = configpkg.LoadWithPrefix
	ValidateConfig       = configpkg.ValidateConfig

	NewService    = runtimepkg.NewService
	TryNewService = runtimepkg.TryNewService

	RegisterHandler         = runtimepkg.RegisterHandler
	RegisterModule          = runtimepkg.RegisterModule
	SetDefaultHandler       = runtimepkg.SetDefaultHandler
	SetProblemReportHandler = runtimepkg.SetProblemReportHandler
	Named                   = handlerpkg.Named

	NewRegistry        = registry.New
	FamilyKey          = registry.FamilyKey
	TypeKey            = registry.TypeKey
	StatusKey          = registry.StatusKey
	NewDispatcher      = dispatcher.New
	NewDispatchMetrics = dispatcher.NewMetrics
	NewParser          = envelope.NewParser
	WithTypeKeys       = envelope.WithTypeKeys
	WithStatusKeys     = envelope.WithStatusKeys

	ParseMessageType = envelope.ParseMessageType

	DefaultCatalog = registration.DefaultCatalog
	NewBuilder     = registration.NewBuilder
	NewCatalog     = registration.NewCatalog
	Install        = registration.Install
	AddModule      = registration.Add
	MustAddModule  = registration.MustAdd

	LoadAgentContext  = agentctx.Load
	ParseAgentContext = agentctx.Parse

	NewOutboundMessage = outbound.NewMessage
	NewRESTProducer    = outbound.NewRESTProducer
	NewBrokerProducer  = outbound.NewBrokerProducer

	WithCorrelationID        = dispatcher.WithCorrelationID
	CorrelationIDFromContext = dispatcher.CorrelationIDFromContext
	LoggingHooks             = dispatcher.LoggingHooks
	AlertingHooks            = dispatcher.AlertingHooks

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	DefaultTransportFactory = transportpkg.DefaultFactory
	RegisterTransport       = newtransport.Register
	BuildTransport          = newtransport.Build
	GetCapabilities         = newtransport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired   = errspkg.ErrServiceRequired
	ErrHandlerRequired   = errspkg.ErrHandlerRequired
	ErrRegistryRequired  = errspkg.ErrRegistryRequired
	ErrModuleRequired    = errspkg.ErrModuleRequired
	ErrIdentifierInvalid = errspkg.ErrIdentifierInvalid
	ErrFamilyRequired    = errspkg.ErrFamilyRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrContextRequired   = errspkg.ErrContextRequired

	ErrMalformed        = errspkg.ErrMalformed
	ErrUnrecognizedType = errspkg.ErrUnrecognizedType
	ErrNoHandler        = errspkg.ErrNoHandler
	ErrHandlerFailed    = errspkg.ErrHandlerFailed
	ErrTimeout          = errspkg.ErrTimeout
	ErrCanceled         = errspkg.ErrCanceled
	ErrParseFailed      = errspkg.ErrParseFailed
	DispatchErrorKindOf = errspkg.KindOf

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewLogger            = loggingpkg.New
	NopLogger            = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	NewDispatchID = idspkg.NewDispatchID
	NewMessageID  = idspkg.NewMessageID
)

// Metadata keys set on every dispatch.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyDispatchID    = metadatapkg.KeyDispatchID
	MetadataKeyMessageType   = metadatapkg.KeyMessageType
	MetadataKeyStatus        = metadatapkg.KeyStatus
	MetadataKeyThreadID      = metadatapkg.KeyThreadID
	MetadataKeyHandler       = metadatapkg.KeyHandler
)

const (
	LevelStatus        = registry.LevelStatus
	LevelType          = registry.LevelType
	LevelFamily        = registry.LevelFamily
	LevelDefault       = registry.LevelDefault
	LevelProblemReport = registry.LevelProblemReport
)

const (
	DispatchNoHandler     = errspkg.DispatchNoHandler
	DispatchHandlerFailed = errspkg.DispatchHandlerFailed
	DispatchTimeout       = errspkg.DispatchTimeout
	DispatchParseFailed   = errspkg.DispatchParseFailed
	DispatchCanceled      = errspkg.DispatchCanceled
)

const (
	WebhookModeDispatch     = configpkg.WebhookModeDispatch
	WebhookModeRelay        = configpkg.WebhookModeRelay
	CorrelationIDHeader     = runtimepkg.CorrelationIDHeader
	DefaultAgentContextFile = agentctx.DefaultFile
)

// Session keys the protocol handlers share.
const (
	SessionConnectionID = agentctx.SessionConnectionID
	SessionRelationship = agentctx.SessionRelationship
	SessionSchemaID     = agentctx.SessionSchemaID
	SessionCredDefID    = agentctx.SessionCredDefID
	SessionIssuerDID    = agentctx.SessionIssuerDID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = registry.ErrorCategoryNone
	ErrorCategoryValidation = registry.ErrorCategoryValidation
	ErrorCategoryTimeout    = registry.ErrorCategoryTimeout
	ErrorCategoryDownstream = registry.ErrorCategoryDownstream
	ErrorCategoryOther      = registry.ErrorCategoryOther
)

func RegisterJSONHandler[T any](svc *Service, cfg JSONHandlerRegistration[T]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}

// JSONHandler adapts a typed JSON handler for use with a RegistrationBuilder.
func JSONHandler[T any](handler JSONMessageHandler[T]) (Handler, error) {
	return handlerpkg.BuildJSONHandler(handler)
}
