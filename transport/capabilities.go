package transport

// Capabilities describes what a transport guarantees for relayed webhook
// payloads.
type Capabilities struct {
	Name string `json:"name"`

	// SupportsAck and SupportsNack together mean a failed intake dispatch is
	// redelivered by the broker.
	SupportsAck  bool `json:"supports_ack"`
	SupportsNack bool `json:"supports_nack"`

	// SupportsOrdering means messages of one partition or queue arrive in
	// publish order. The dispatcher never relies on it.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsNativeDLQ means the broker can dead-letter on its own; hookflow
	// still forwards unroutable payloads to the poison queue.
	SupportsNativeDLQ bool `json:"supports_native_dlq"`

	// MaxMessageSize is the largest payload in bytes, 0 when unknown.
	MaxMessageSize int64 `json:"max_message_size"`
}

// SupportsReliableDelivery reports at-least-once delivery (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes can be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsAck:      true,
		SupportsOrdering: true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
		SupportsNativeDLQ: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsNativeDLQ: true,
		MaxMessageSize:    256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name: "http",
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
