// Package envelope turns raw webhook payloads into routable messages.
package envelope

import (
	"bytes"
	"fmt"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
)

var (
	DefaultTypeKeys   = []string{"@type", "type", "msg_type"}
	DefaultStatusKeys = []string{"status"}
)

// Message is the inbound view of one delivered payload. It lives for a single
// dispatch. When parsing failed, only Raw and ParseErr are populated.
type Message struct {
	Raw      []byte
	Body     map[string]any
	Type     MessageType
	Status   string
	ID       string
	ThreadID string
	ParseErr error
}

// HasStatus reports whether the payload carried a status qualifier.
func (m *Message) HasStatus() bool {
	return m != nil && m.Status != ""
}

// Field returns a top-level string field of the body.
func (m *Message) Field(key string) string {
	if m == nil || m.Body == nil {
		return ""
	}
	s, _ := m.Body[key].(string)
	return s
}

// Decode unmarshals the raw payload into v.
func (m *Message) Decode(v any) error {
	return jsoncodec.Unmarshal(m.Raw, v)
}

// Option configures a Parser.
type Option func(*Parser)

// WithTypeKeys overrides the keys searched for the type identifier, in order.
func WithTypeKeys(keys ...string) Option {
	return func(p *Parser) {
		if len(keys) > 0 {
			p.typeKeys = append([]string(nil), keys...)
		}
	}
}

// WithStatusKeys overrides the keys searched for the status qualifier, in order.
func WithStatusKeys(keys ...string) Option {
	return func(p *Parser) {
		if len(keys) > 0 {
			p.statusKeys = append([]string(nil), keys...)
		}
	}
}

// Parser is stateless after construction and safe for concurrent use.
type Parser struct {
	typeKeys   []string
	statusKeys []string
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		typeKeys:   DefaultTypeKeys,
		statusKeys: DefaultStatusKeys,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes raw and extracts its routing key. It returns a
// *errors.ParseError of kind Malformed or UnrecognizedType on failure.
func (p *Parser) Parse(raw []byte) (*Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errspkg.NewMalformedError(fmt.Errorf("empty payload"))
	}

	body, err := jsoncodec.DecodeObject(raw)
	if err != nil {
		return nil, errspkg.NewMalformedError(err)
	}

	identifier, err := p.typeIdentifier(body)
	if err != nil {
		return nil, err
	}

	mt, err := ParseMessageType(identifier)
	if err != nil {
		return nil, err
	}

	status, _ := firstString(body, p.statusKeys)

	msg := &Message{
		Raw:    raw,
		Body:   body,
		Type:   mt,
		Status: status,
	}
	msg.ID, _ = body["@id"].(string)
	if thread, ok := body["~thread"].(map[string]any); ok {
		msg.ThreadID, _ = thread["thid"].(string)
	}
	return msg, nil
}

// typeIdentifier reads the first type key present in body. A present but
// non-string value is not skipped.
func (p *Parser) typeIdentifier(body map[string]any) (string, error) {
	for _, key := range p.typeKeys {
		v, present := body[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", errspkg.NewUnrecognizedTypeError(fmt.Errorf("type field %q is %T, not a string", key, v))
		}
		return s, nil
	}
	return "", errspkg.NewUnrecognizedTypeError(fmt.Errorf("no type field among %v", p.typeKeys))
}

func firstString(body map[string]any, keys []string) (string, bool) {
	for _, key := range keys {
		v, present := body[key]
		if !present {
			continue
		}
		s, ok := v.(string)
		if ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// ContainsProblemReportMarker is a byte-level check on payloads that failed to
// parse. Only those carrying the marker reach the problem-report handler.
func ContainsProblemReportMarker(raw []byte) bool {
	return bytes.Contains(raw, []byte(ProblemReportName)) || bytes.Contains(raw, []byte(ProblemReportFamily))
}
