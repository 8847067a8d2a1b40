// Package registration is the surface applications and protocol modules use
// to bind handlers. It validates identifiers before anything reaches the
// registry, so the registry itself never fails.
package registration

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/drblury/hookflow/internal/runtime/envelope"
	errspkg "github.com/drblury/hookflow/internal/runtime/errors"
	"github.com/drblury/hookflow/internal/runtime/handlers"
	"github.com/drblury/hookflow/internal/runtime/registry"
)

// Builder collects registrations against a registry. Invalid registrations
// are recorded and skipped; Err reports them.
type Builder struct {
	registry *registry.Registry

	mu   sync.Mutex
	errs []error
}

func NewBuilder(reg *registry.Registry) *Builder {
	return &Builder{registry: reg}
}

// Registry returns the underlying registry.
func (b *Builder) Registry() *registry.Registry {
	return b.registry
}

// Err returns all registration failures joined, or nil.
func (b *Builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return errors.Join(b.errs...)
}

func (b *Builder) failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.errs)
}

func (b *Builder) fail(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs = append(b.errs, err)
	return err
}

// Family starts a family/version registration.
func (b *Builder) Family(family, version string) FamilyRegistration {
	return FamilyRegistration{b: b, family: strings.TrimSpace(family), version: strings.TrimSpace(version)}
}

// Type starts a registration for a fully qualified message type identifier.
func (b *Builder) Type(identifier string) TypeRegistration {
	mt, err := envelope.ParseMessageType(identifier)
	if err != nil {
		err = fmt.Errorf("%w: %w", errspkg.ErrIdentifierInvalid, err)
	}
	return TypeRegistration{b: b, mt: mt, err: err}
}

// Default installs the catch-all handler.
func (b *Builder) Default(name string, h handlers.Handler) error {
	if h == nil {
		return b.fail(fmt.Errorf("default handler: %w", errspkg.ErrHandlerRequired))
	}
	b.registry.SetDefaultHandler(nameOr(name, "default"), h)
	return nil
}

// ProblemReport installs the problem-report handler.
func (b *Builder) ProblemReport(name string, h handlers.Handler) error {
	if h == nil {
		return b.fail(fmt.Errorf("problem report handler: %w", errspkg.ErrHandlerRequired))
	}
	b.registry.SetProblemReportHandler(nameOr(name, "problem-report"), h)
	return nil
}

type FamilyRegistration struct {
	b       *Builder
	family  string
	version string
}

// Handle binds h to every message of the family that has no more specific
// registration.
func (f FamilyRegistration) Handle(name string, h handlers.Handler) error {
	key := registry.FamilyKey(f.family, f.version)
	if f.family == "" || f.version == "" {
		return f.b.fail(fmt.Errorf("family %q version %q: %w", f.family, f.version, errspkg.ErrFamilyRequired))
	}
	if h == nil {
		return f.b.fail(fmt.Errorf("%s: %w", key, errspkg.ErrHandlerRequired))
	}
	f.b.registry.Register(key, nameOr(name, f.family), h)
	return nil
}

type TypeRegistration struct {
	b      *Builder
	mt     envelope.MessageType
	status string
	err    error
}

// Status narrows the registration to one status value.
func (t TypeRegistration) Status(status string) TypeRegistration {
	t.status = strings.TrimSpace(status)
	return t
}

// Handle binds h to the message type, or to the type and status when Status
// was called.
func (t TypeRegistration) Handle(name string, h handlers.Handler) error {
	if t.err != nil {
		return t.b.fail(t.err)
	}
	key := registry.StatusKey(t.mt.Family, t.mt.Version, t.mt.Name, t.status)
	if h == nil {
		return t.b.fail(fmt.Errorf("%s: %w", key, errspkg.ErrHandlerRequired))
	}
	t.b.registry.Register(key, nameOr(name, key.String()), h)
	return nil
}

func nameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
