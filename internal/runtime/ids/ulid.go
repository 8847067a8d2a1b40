package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewDispatchID returns a time-sortable ULID used to correlate one dispatch
// across logs, spans and metrics.
func NewDispatchID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewMessageID returns a random UUID in the form agent protocol messages use
// for "@id" and thread identifiers.
func NewMessageID() string {
	return uuid.NewString()
}

// IsMessageID reports whether s parses as a UUID.
func IsMessageID(s string) bool {
	return uuid.Validate(s) == nil
}
