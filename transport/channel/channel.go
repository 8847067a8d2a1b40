// Package channel is the in-process transport. Relay and intake share one
// gochannel pub/sub, so a single binary can relay webhooks to its own intake
// router without a broker.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/hookflow/transport"
)

const TransportName = "channel"

// OutputBuffer is the per-subscriber buffer. Relayed webhooks queue here while
// the intake router is busy dispatching.
const OutputBuffer = 256

// NewPubSub creates the shared pub/sub; tests replace it.
var NewPubSub = func(buffer int64, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: buffer}, logger)
	return ps, ps
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
	transport.DefaultRegistry.Alias("gochannel", TransportName)
}

func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := NewPubSub(OutputBuffer, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
