package registration

import (
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/registry"
)

// Module is a protocol's set of handlers. Modules register themselves, the
// dispatcher never imports them.
type Module interface {
	Name() string
	Register(b *Builder) error
}

// ModuleFunc adapts a function to Module.
type ModuleFunc struct {
	ModuleName string
	Fn         func(b *Builder) error
}

func (m ModuleFunc) Name() string { return m.ModuleName }

func (m ModuleFunc) Register(b *Builder) error { return m.Fn(b) }

// Catalog holds modules by name; adding a module with an existing name
// replaces it.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]Module)}
}

func (c *Catalog) Add(m Module) error {
	if m == nil {
		return errspkg.ErrModuleRequired
	}
	if m.Name() == "" {
		return errspkg.ErrModuleNameEmpty
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[m.Name()] = m
	return nil
}

func (c *Catalog) Get(name string) (Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	return m, ok
}

// Names returns the sorted module names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Modules returns the modules sorted by name.
func (c *Catalog) Modules() []Module {
	names := c.Names()
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Module, 0, len(names))
	for _, name := range names {
		if m, ok := c.modules[name]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Install registers every module of the catalog into reg.
func (c *Catalog) Install(reg *registry.Registry) error {
	return Install(reg, c.Modules()...)
}

// Install registers modules into reg in order. A failing module does not stop
// later ones; all failures are returned joined.
func Install(reg *registry.Registry, modules ...Module) error {
	if reg == nil {
		return errspkg.ErrRegistryRequired
	}
	b := NewBuilder(reg)
	for _, m := range modules {
		if m == nil {
			_ = b.fail(errspkg.ErrModuleRequired)
			continue
		}
		before := b.failures()
		if err := m.Register(b); err != nil && b.failures() == before {
			_ = b.fail(fmt.Errorf("module %s: %w", m.Name(), err))
		}
	}
	return b.Err()
}

// DefaultCatalog is the process-wide catalog modules add themselves to from
// init functions.
var DefaultCatalog = NewCatalog()

// Add adds m to DefaultCatalog.
func Add(m Module) error {
	return DefaultCatalog.Add(m)
}

// MustAdd adds m to DefaultCatalog and panics on error. Meant for init().
func MustAdd(m Module) {
	if err := Add(m); err != nil {
		panic(err)
	}
}
