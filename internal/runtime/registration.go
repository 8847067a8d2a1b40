package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/hookflow/internal/runtime/handlers"
	"github.com/drblury/hookflow/internal/runtime/registration"
)

// HandlerRegistration binds a handler at one routing level. Set Type (a full
// message type identifier, optionally narrowed by Status) or Family and
// Version, but not both.
type HandlerRegistration struct {
	Name    string
	Family  string
	Version string
	Type    string
	Status  string
	Handler handlerpkg.Handler
}

// JSONHandlerRegistration is HandlerRegistration for a typed JSON handler.
type JSONHandlerRegistration[T any] struct {
	Name    string
	Family  string
	Version string
	Type    string
	Status  string
	Handler handlerpkg.JSONMessageHandler[T]
}

// ProtoHandlerRegistration is HandlerRegistration for a typed protobuf handler.
type ProtoHandlerRegistration[T proto.Message] struct {
	Name    string
	Family  string
	Version string
	Type    string
	Status  string
	Handler handlerpkg.ProtoMessageHandler[T]
}

// RegisterModule installs modules on the service registry.
func RegisterModule(svc *Service, modules ...registration.Module) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return registration.Install(svc.registry, modules...)
}

// RegisterHandler binds cfg.Handler on the service registry.
func RegisterHandler(svc *Service, cfg HandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	b := registration.NewBuilder(svc.registry)
	if cfg.Type != "" {
		t := b.Type(cfg.Type)
		if cfg.Status != "" {
			t = t.Status(cfg.Status)
		}
		return t.Handle(cfg.Name, cfg.Handler)
	}
	return b.Family(cfg.Family, cfg.Version).Handle(cfg.Name, cfg.Handler)
}

// RegisterJSONHandler decodes each routed payload into a fresh T before
// calling the handler. T must be a pointer type.
func RegisterJSONHandler[T any](svc *Service, cfg JSONHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	h, err := handlerpkg.BuildJSONHandler(cfg.Handler)
	if err != nil {
		return err
	}
	return RegisterHandler(svc, HandlerRegistration{
		Name:    cfg.Name,
		Family:  cfg.Family,
		Version: cfg.Version,
		Type:    cfg.Type,
		Status:  cfg.Status,
		Handler: h,
	})
}

// RegisterProtoHandler decodes each routed payload with protojson into a
// fresh T before calling the handler.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}
	h, err := handlerpkg.BuildProtoHandler(prototype, cfg.Handler)
	if err != nil {
		return err
	}
	return RegisterHandler(svc, HandlerRegistration{
		Name:    cfg.Name,
		Family:  cfg.Family,
		Version: cfg.Version,
		Type:    cfg.Type,
		Status:  cfg.Status,
		Handler: h,
	})
}

// SetDefaultHandler installs the handler used when nothing more specific matches.
func SetDefaultHandler(svc *Service, name string, h handlerpkg.Handler) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return registration.NewBuilder(svc.registry).Default(name, h)
}

// SetProblemReportHandler installs the handler for problem reports and
// unparseable payloads.
func SetProblemReportHandler(svc *Service, name string, h handlerpkg.Handler) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return registration.NewBuilder(svc.registry).ProblemReport(name, h)
}
