// Package kafka provides the Kafka transport.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hookflow/transport"
)

const TransportName = "kafka"

const (
	DefaultClientID      = "hookflow"
	DefaultConsumerGroup = "hookflow"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka transport. Intake subscribers join one consumer group
// so replicas share the relayed webhook load.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	clientID := valueOr(cfg.GetKafkaClientID(), DefaultClientID)

	saramaPub := kafka.DefaultSaramaSyncPublisherConfig()
	saramaPub.ClientID = clientID

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPub,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	saramaSub := kafka.DefaultSaramaSubscriberConfig()
	saramaSub.ClientID = clientID

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			ConsumerGroup:         valueOr(cfg.GetKafkaConsumerGroup(), DefaultConsumerGroup),
			OverwriteSaramaConfig: saramaSub,
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
	return transport.KafkaCapabilities
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
