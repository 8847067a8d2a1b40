package metadata

// Keys attached to every dispatched message. KeyCorrelationID matches the key
// used by watermill's correlation middleware so both layers agree.
const (
	KeyCorrelationID = "correlation_id"
	KeyDispatchID    = "hookflow_dispatch_id"
	KeyMessageType   = "hookflow_message_type"
	KeyStatus        = "hookflow_status"
	KeyThreadID      = "hookflow_thread_id"
	KeyHandler       = "hookflow_handler"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
)

// Metadata represents the headers carried alongside a dispatched message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Fields converts the metadata into log fields.
func (m Metadata) Fields() map[string]any {
	fields := make(map[string]any, len(m))
	for k, v := range m {
		fields[k] = v
	}
	return fields
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
