// Package nats provides the NATS Core transport.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/hookflow/transport"
)

const TransportName = "nats"

const (
	// ConnectionName identifies hookflow clients in NATS monitoring.
	ConnectionName = "hookflow"
	// QueueGroupPrefix makes intake replicas share a subject instead of each
	// receiving every relayed webhook.
	QueueGroupPrefix = "hookflow"
	ReconnectWait    = 2 * time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions are the nats.go options every hookflow connection uses.
func ConnectOptions() []nc.Option {
	return []nc.Option{
		nc.Name(ConnectionName),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(ReconnectWait),
	}
}

// Build creates a NATS Core transport with JetStream disabled.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	jetStream := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: ConnectOptions(),
			Marshaler:   marshaler,
			JetStream:   jetStream,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: QueueGroupPrefix,
			NatsOptions:      ConnectOptions(),
			Unmarshaler:      marshaler,
			JetStream:        jetStream,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
