package agentctx

import "sync"

// Well-known session keys written by the protocol handlers.
const (
	SessionConnectionID = "connection_id"
	SessionRelationship = "relationship_did"
	SessionSchemaID     = "schema_id"
	SessionCredDefID    = "cred_def_id"
	SessionIssuerDID    = "issuer_did"
)

// Session is a concurrency-safe key/value store for values one handler
// produces and a later handler consumes.
type Session struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSession() *Session {
	return &Session{values: make(map[string]string)}
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns a copy of all stored values.
func (s *Session) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
