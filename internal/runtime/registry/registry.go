// Package registry maps message keys to handlers.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/drblury/hookflow/internal/runtime/envelope"
	"github.com/drblury/hookflow/internal/runtime/handlers"
)

// Entry is one registered handler. Entries are replaced wholesale on
// re-registration; a replaced entry is never resolved again.
type Entry struct {
	Key          Key
	Name         string
	Handler      handlers.Handler
	RegisteredAt time.Time
	Stats        *HandlerStats
}

// EntryInfo is the serialisable view of an Entry.
type EntryInfo struct {
	Key          Key           `json:"key"`
	Level        Level         `json:"level"`
	Name         string        `json:"name"`
	RegisteredAt time.Time     `json:"registered_at"`
	Stats        *HandlerStats `json:"stats"`
}

// Resolution is the outcome of a lookup. Entry is never nil.
type Resolution struct {
	Entry *Entry
	Level Level
}

// Registry is safe for concurrent use. Lookups take a read lock and never
// run handlers; handlers execute after the lock is released.
type Registry struct {
	mu            sync.RWMutex
	entries       map[Key]*Entry
	defaultEntry  *Entry
	problemReport *Entry
	now           func() time.Time
}

func New() *Registry {
	return &Registry{
		entries: make(map[Key]*Entry),
		now:     time.Now,
	}
}

// Register binds h to key, replacing any previous binding. A nil handler is
// ignored.
func (r *Registry) Register(key Key, name string, h handlers.Handler) {
	if h == nil {
		return
	}
	entry := r.newEntry(key, name, h)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = entry
}

// RegisterFamily binds h to every message of family/version that has no more
// specific registration.
func (r *Registry) RegisterFamily(family, version, name string, h handlers.Handler) {
	r.Register(FamilyKey(family, version), name, h)
}

// Unregister removes the binding for key and reports whether one existed.
func (r *Registry) Unregister(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// SetDefaultHandler installs the catch-all handler. A nil handler is ignored.
func (r *Registry) SetDefaultHandler(name string, h handlers.Handler) {
	if h == nil {
		return
	}
	entry := r.newEntry(Key{}, name, h)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultEntry = entry
}

// SetProblemReportHandler installs the handler for problem reports and for
// unparseable payloads that still carry a problem-report marker. Status and
// type registrations for a problem report take precedence over it; family
// registrations do not. A nil handler is ignored.
func (r *Registry) SetProblemReportHandler(name string, h handlers.Handler) {
	if h == nil {
		return
	}
	entry := r.newEntry(Key{}, name, h)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.problemReport = entry
}

// Resolve finds the handler for msg: status key, then type key, then
// family/version key, then the default handler.
func (r *Registry) Resolve(msg *envelope.Message) (Resolution, bool) {
	if msg == nil {
		return Resolution{}, false
	}
	mt := msg.Type

	r.mu.RLock()
	defer r.mu.RUnlock()

	if msg.HasStatus() {
		if e, ok := r.entries[StatusKey(mt.Family, mt.Version, mt.Name, msg.Status)]; ok {
			return Resolution{Entry: e, Level: LevelStatus}, true
		}
	}
	if e, ok := r.entries[TypeKey(mt.Family, mt.Version, mt.Name)]; ok {
		return Resolution{Entry: e, Level: LevelType}, true
	}
	if e, ok := r.entries[FamilyKey(mt.Family, mt.Version)]; ok {
		return Resolution{Entry: e, Level: LevelFamily}, true
	}
	if r.defaultEntry != nil {
		return Resolution{Entry: r.defaultEntry, Level: LevelDefault}, true
	}
	return Resolution{}, false
}

// ProblemReport returns the problem-report handler, if one is set.
func (r *Registry) ProblemReport() (Resolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.problemReport == nil {
		return Resolution{}, false
	}
	return Resolution{Entry: r.problemReport, Level: LevelProblemReport}, true
}

// Default returns the default handler, if one is set.
func (r *Registry) Default() (Resolution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultEntry == nil {
		return Resolution{}, false
	}
	return Resolution{Entry: r.defaultEntry, Level: LevelDefault}, true
}

// Len returns the number of keyed registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Entries returns a snapshot of all registrations sorted by key, followed by
// the default and problem-report handlers when set.
func (r *Registry) Entries() []EntryInfo {
	r.mu.RLock()
	infos := make([]EntryInfo, 0, len(r.entries)+2)
	for _, e := range r.entries {
		infos = append(infos, e.info(e.Key.Level()))
	}
	defaultEntry, problemReport := r.defaultEntry, r.problemReport
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Key.String() < infos[j].Key.String()
	})
	if defaultEntry != nil {
		infos = append(infos, defaultEntry.info(LevelDefault))
	}
	if problemReport != nil {
		infos = append(infos, problemReport.info(LevelProblemReport))
	}
	return infos
}

func (r *Registry) newEntry(key Key, name string, h handlers.Handler) *Entry {
	if name == "" {
		name = key.String()
	}
	return &Entry{
		Key:          key,
		Name:         name,
		Handler:      h,
		RegisteredAt: r.now().UTC(),
		Stats:        newHandlerStats(name),
	}
}

func (e *Entry) info(level Level) EntryInfo {
	return EntryInfo{
		Key:          e.Key,
		Level:        level,
		Name:         e.Name,
		RegisteredAt: e.RegisteredAt,
		Stats:        e.Stats,
	}
}
