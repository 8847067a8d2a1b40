// Package outbound sends protocol messages from handlers back to the agent
// service.
package outbound

import (
	"github.com/drblury/hookflow/internal/runtime/ids"
	"github.com/drblury/hookflow/internal/runtime/jsoncodec"
)

// DefaultQualifier is the message family qualifier used by the agent service.
const DefaultQualifier = "did:sov:123456789abcdefghi1234"

// Message is an outbound protocol action.
type Message struct {
	Family   string
	Version  string
	Name     string
	ID       string
	ThreadID string
	Body     map[string]any
}

// NewMessage starts a new protocol thread.
func NewMessage(family, version, name string, body map[string]any) Message {
	return Message{
		Family:   family,
		Version:  version,
		Name:     name,
		ID:       ids.NewMessageID(),
		ThreadID: ids.NewMessageID(),
		Body:     body,
	}
}

// InThread returns a copy of m that continues an existing thread.
func (m Message) InThread(threadID string) Message {
	if threadID != "" {
		m.ThreadID = threadID
	}
	return m
}

// TypeIdentifier renders the "@type" value for m.
func (m Message) TypeIdentifier(qualifier string) string {
	if qualifier == "" {
		qualifier = DefaultQualifier
	}
	return qualifier + ";spec/" + m.Family + "/" + m.Version + "/" + m.Name
}

// Payload encodes m as a JSON agent message. Body keys are kept, the
// envelope keys always win.
func (m Message) Payload(qualifier string) ([]byte, error) {
	doc := make(map[string]any, len(m.Body)+3)
	for k, v := range m.Body {
		doc[k] = v
	}
	doc["@type"] = m.TypeIdentifier(qualifier)
	id := m.ID
	if id == "" {
		id = ids.NewMessageID()
	}
	doc["@id"] = id
	if m.ThreadID != "" {
		doc["~thread"] = map[string]any{"thid": m.ThreadID}
	}
	return jsoncodec.Marshal(doc)
}
