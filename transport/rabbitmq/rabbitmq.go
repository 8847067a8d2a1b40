// Package rabbitmq relays webhooks through durable RabbitMQ queues. Every
// topic is a queue of its own name, so the intake topic is shared by all
// replicas and each relayed message is dispatched once.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hookflow/transport"
)

const TransportName = "rabbitmq"

// Prefetch caps unacknowledged deliveries per intake consumer. Dispatch is
// synchronous per message, so a small window keeps slow handlers from
// starving other replicas.
const Prefetch = 16

var ErrURLRequired = errors.New("rabbitmq: URL is required")

// Factories are replaceable in tests.
var (
	ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
		return amqp.NewConnection(cfg, logger)
	}
	PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
		return amqp.NewPublisherWithConnection(cfg, logger, conn)
	}
	SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
		return amqp.NewSubscriberWithConnection(cfg, logger, conn)
	}
	closeConnection = func(conn *amqp.ConnectionWrapper) error {
		return conn.Close()
	}
)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
	transport.DefaultRegistry.Alias("amqp", TransportName)
}

// QueueConfig returns the durable queue config used for both relay and intake.
func QueueConfig(url string) amqp.Config {
	cfg := amqp.NewDurableQueueConfig(url)
	cfg.Consume.Qos.PrefetchCount = Prefetch
	return cfg
}

// Build opens one connection shared by the relay publisher and the intake
// subscriber. A failed step releases whatever was opened before it.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, ErrURLRequired
	}
	queues := QueueConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("rabbitmq: connect: %w", err)
	}

	publisher, err := PublisherFactory(queues, logger, conn)
	if err != nil {
		_ = closeConnection(conn)
		return transport.Transport{}, fmt.Errorf("rabbitmq: relay publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(queues, logger, conn)
	if err != nil {
		_ = publisher.Close()
		_ = closeConnection(conn)
		return transport.Transport{}, fmt.Errorf("rabbitmq: intake subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
