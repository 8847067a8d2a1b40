package outbound

import (
	"bytes"
	"context"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/hookflow/internal/runtime/agentctx"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/ids"
	"github.com/drblury/hookflow/internal/runtime/metadata"
)

const (
	HeaderAPIKey = "X-API-Key"

	metadataKeyAPIKey = "hookflow_api_key"
	metadataKeyFamily = "hookflow_family"
	metadataKeyName   = "hookflow_name"
)

// Producer sends outbound protocol messages on behalf of an agent.
type Producer interface {
	Send(ctx context.Context, actx *agentctx.Context, msg Message) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, actx *agentctx.Context, msg Message) error

func (f ProducerFunc) Send(ctx context.Context, actx *agentctx.Context, msg Message) error {
	return f(ctx, actx, msg)
}

// RESTProducer posts messages to the agent service REST API through a
// watermill HTTP publisher.
type RESTProducer struct {
	publisher message.Publisher
	qualifier string
}

// RESTOption configures a RESTProducer.
type RESTOption func(*restOptions)

type restOptions struct {
	client    *nethttp.Client
	qualifier string
	logger    watermill.LoggerAdapter
}

func WithHTTPClient(client *nethttp.Client) RESTOption {
	return func(o *restOptions) { o.client = client }
}

func WithQualifier(qualifier string) RESTOption {
	return func(o *restOptions) { o.qualifier = qualifier }
}

func WithLogger(logger watermill.LoggerAdapter) RESTOption {
	return func(o *restOptions) { o.logger = logger }
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func NewRESTProducer(opts ...RESTOption) (*RESTProducer, error) {
	o := restOptions{
		client:    nethttp.DefaultClient,
		qualifier: DefaultQualifier,
		logger:    watermill.NopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: marshalRESTRequest,
		Client:             o.client,
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("create REST publisher: %w", err)
	}
	return &RESTProducer{publisher: publisher, qualifier: o.qualifier}, nil
}

// Send posts msg to {verityUrl}/api/{domainDID}/{family}/{version}/{threadId}.
func (p *RESTProducer) Send(ctx context.Context, actx *agentctx.Context, msg Message) error {
	if err := actx.Validate(); err != nil {
		return err
	}
	if msg.ThreadID == "" {
		msg.ThreadID = ids.NewMessageID()
	}

	payload, err := msg.Payload(p.qualifier)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", msg.Family, msg.Name, err)
	}

	wm := message.NewMessage(ids.NewMessageID(), payload)
	wm.Metadata = metadata.ToWatermill(metadata.New(
		metadataKeyAPIKey, actx.RESTAPIToken,
		metadataKeyFamily, msg.Family,
		metadataKeyName, msg.Name,
		metadata.KeyThreadID, msg.ThreadID,
	))
	wm.SetContext(ctx)

	if err := p.publisher.Publish(RESTEndpoint(actx, msg), wm); err != nil {
		return fmt.Errorf("send %s/%s/%s: %w", msg.Family, msg.Version, msg.Name, err)
	}
	return nil
}

func (p *RESTProducer) Close() error {
	return p.publisher.Close()
}

// RESTEndpoint builds the REST URL for msg.
func RESTEndpoint(actx *agentctx.Context, msg Message) string {
	base := strings.TrimRight(actx.VerityURL, "/")
	return base + "/api/" + url.PathEscape(actx.DomainDID) + "/" +
		url.PathEscape(msg.Family) + "/" + url.PathEscape(msg.Version) + "/" + url.PathEscape(msg.ThreadID)
}

func marshalRESTRequest(endpoint string, msg *message.Message) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(msg.Context(), nethttp.MethodPost, endpoint, bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := msg.Metadata.Get(metadataKeyAPIKey); key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	return req, nil
}

// BrokerProducer publishes outbound messages to a topic instead of calling
// the REST API directly, for deployments where a relay owns the credentials.
type BrokerProducer struct {
	publisher message.Publisher
	topic     string
	qualifier string
}

func NewBrokerProducer(publisher message.Publisher, topic string) (*BrokerProducer, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return nil, errspkg.ErrTopicRequired
	}
	return &BrokerProducer{publisher: publisher, topic: topic, qualifier: DefaultQualifier}, nil
}

func (p *BrokerProducer) Send(ctx context.Context, actx *agentctx.Context, msg Message) error {
	if actx == nil {
		return errspkg.ErrContextRequired
	}
	payload, err := msg.Payload(p.qualifier)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", msg.Family, msg.Name, err)
	}

	wm := message.NewMessage(ids.NewMessageID(), payload)
	wm.Metadata = metadata.ToWatermill(metadata.New(
		metadataKeyFamily, msg.Family,
		metadataKeyName, msg.Name,
		metadata.KeyThreadID, msg.ThreadID,
		"domain_did", actx.DomainDID,
	))
	wm.SetContext(ctx)
	return p.publisher.Publish(p.topic, wm)
}
