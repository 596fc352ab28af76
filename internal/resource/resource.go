package resource

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/anvil-platform/wiring/internal/semver"
)

// Resource is an installable unit bundling capabilities and requirements.
//
// A Resource starts mutable, is populated with AddCapability and
// AddRequirement, and is sealed by MakeImmutable. It owns exactly one
// identity capability. The current-wiring slot is an atomic pointer so
// readers never need the Environment's lock.
type Resource struct {
	id string

	caps     []*Capability
	capsByNS map[string][]*Capability
	reqs     []*Requirement
	reqsByNS map[string][]*Requirement

	identity *Capability
	fragment bool

	immutable atomic.Bool
	current   atomic.Pointer[Wiring]
}

// New returns an empty, mutable resource.
func New() *Resource {
	return &Resource{
		id:       uuid.NewString(),
		capsByNS: make(map[string][]*Capability),
		reqsByNS: make(map[string][]*Requirement),
	}
}

// ID is a process-unique identifier assigned at creation.
func (r *Resource) ID() string {
	return r.id
}

// AddCapability appends c. A second identity capability is rejected.
func (r *Resource) AddCapability(c *Capability) error {
	if c == nil {
		return fmt.Errorf("resource: add capability: %w", ErrNilArgument)
	}
	if r.immutable.Load() {
		return fmt.Errorf("resource %s: add capability: %w", r, ErrImmutable)
	}
	if c.resource != nil {
		return fmt.Errorf("resource %s: capability %s: %w", r, c, ErrForeignOwner)
	}
	if c.kind == KindIdentity {
		if r.identity != nil {
			return fmt.Errorf("resource %s: %w", r, ErrDuplicateIdentity)
		}
		r.identity = c
	}
	c.resource = r
	c.ordinal = len(r.caps)
	r.caps = append(r.caps, c)
	r.capsByNS[c.namespace] = append(r.capsByNS[c.namespace], c)
	return nil
}

// AddRequirement appends req.
func (r *Resource) AddRequirement(req *Requirement) error {
	if req == nil {
		return fmt.Errorf("resource: add requirement: %w", ErrNilArgument)
	}
	if r.immutable.Load() {
		return fmt.Errorf("resource %s: add requirement: %w", r, ErrImmutable)
	}
	if req.resource != nil {
		return fmt.Errorf("resource %s: requirement %s: %w", r, req, ErrForeignOwner)
	}
	req.resource = r
	r.reqs = append(r.reqs, req)
	r.reqsByNS[req.namespace] = append(r.reqsByNS[req.namespace], req)
	return nil
}

// MakeImmutable seals the resource. It fails if no identity capability was
// added; sealing twice is a no-op.
func (r *Resource) MakeImmutable() error {
	if r.immutable.Load() {
		return nil
	}
	if r.identity == nil {
		return fmt.Errorf("resource %s: %w", r.id, ErrNoIdentity)
	}
	typ, _ := r.identity.attrs.values[AttrType].(string)
	r.fragment = typ == TypeFragment
	r.immutable.Store(true)
	return nil
}

// IsImmutable reports whether MakeImmutable succeeded.
func (r *Resource) IsImmutable() bool {
	return r.immutable.Load()
}

// Capabilities returns the capabilities in namespace, or all of them when
// namespace is empty, in insertion order.
func (r *Resource) Capabilities(namespace string) []*Capability {
	if namespace == "" {
		return append([]*Capability(nil), r.caps...)
	}
	return append([]*Capability(nil), r.capsByNS[namespace]...)
}

// Requirements returns the requirements in namespace, or all of them when
// namespace is empty, in insertion order.
func (r *Resource) Requirements(namespace string) []*Requirement {
	if namespace == "" {
		return append([]*Requirement(nil), r.reqs...)
	}
	return append([]*Requirement(nil), r.reqsByNS[namespace]...)
}

// Identity returns the identity capability; nil while none has been added.
func (r *Resource) Identity() *Capability {
	return r.identity
}

func (r *Resource) SymbolicName() string {
	if r.identity == nil {
		return ""
	}
	return r.identity.Value()
}

func (r *Resource) Version() semver.Version {
	if r.identity == nil {
		return semver.Zero
	}
	return r.identity.version
}

// Type is the identity type attribute, e.g. osgi.bundle or osgi.fragment.
func (r *Resource) Type() string {
	if r.identity == nil {
		return ""
	}
	typ, _ := r.identity.attrs.values[AttrType].(string)
	return typ
}

// IsFragment is derived from the identity type when the resource is sealed.
func (r *Resource) IsFragment() bool {
	return r.fragment
}

// IsSingleton reports whether the identity capability is marked singleton.
func (r *Resource) IsSingleton() bool {
	return r.identity != nil && r.identity.singleton
}

// CurrentWiring returns the wiring most recently installed for r, nil when
// r is unresolved.
func (r *Resource) CurrentWiring() *Wiring {
	return r.current.Load()
}

// SwapCurrentWiring installs w as the current wiring and returns the
// previous one. Passing nil marks the resource unresolved.
func (r *Resource) SwapCurrentWiring(w *Wiring) *Wiring {
	return r.current.Swap(w)
}

func (r *Resource) String() string {
	if r.identity == nil {
		return r.id
	}
	return r.identity.Value() + "@" + r.identity.version.String()
}
