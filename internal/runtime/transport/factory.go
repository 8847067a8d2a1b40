// Package transport connects the runtime config to the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/hookflow/internal/runtime/config"
	transportpkg "github.com/drblury/hookflow/transport"
	_ "github.com/drblury/hookflow/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport = transportpkg.Transport

// Factory abstracts how the Service obtains its broker transport.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory builds transports from the registry every built-in
// transport package registers with.
func DefaultFactory() Factory {
	return registryFactory{registry: transportpkg.DefaultRegistry}
}

// RegistryFactory builds transports from reg.
func RegistryFactory(reg *transportpkg.Registry) Factory {
	return registryFactory{registry: reg}
}

type registryFactory struct {
	registry *transportpkg.Registry
}

func (f registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errors.New("config is required")
	}
	return f.registry.Build(ctx, conf, logger)
}

// CapabilitiesFor reports what the configured transport guarantees.
func CapabilitiesFor(conf *config.Config) transportpkg.Capabilities {
	if conf == nil {
		return transportpkg.Capabilities{}
	}
	return transportpkg.GetCapabilities(conf.PubSubSystem)
}
