package resource

import (
	"fmt"
	"sync/atomic"
)

// Wire records that requirer's requirement is satisfied by provider's
// capability. The four facts are fixed at construction; the wirings on
// either end are bound when the wire is recorded into a Wiring.
type Wire struct {
	requirement *Requirement
	capability  *Capability
	provider    *Resource
	requirer    *Resource

	providerWiring atomic.Pointer[Wiring]
	requirerWiring atomic.Pointer[Wiring]
}

// NewWire builds a wire between explicit provider and requirer resources.
// They usually own the capability and requirement, but a fragment's wires
// may be hosted by its host.
func NewWire(req *Requirement, c *Capability, provider, requirer *Resource) (*Wire, error) {
	if req == nil || c == nil || provider == nil || requirer == nil {
		return nil, fmt.Errorf("wire: %w", ErrNilArgument)
	}
	return &Wire{
		requirement: req,
		capability:  c,
		provider:    provider,
		requirer:    requirer,
	}, nil
}

// WireFor builds a wire between the owners of req and c.
func WireFor(req *Requirement, c *Capability) (*Wire, error) {
	if req == nil || c == nil {
		return nil, fmt.Errorf("wire: %w", ErrNilArgument)
	}
	return NewWire(req, c, c.resource, req.resource)
}

func (w *Wire) Requirement() *Requirement {
	return w.requirement
}

func (w *Wire) Capability() *Capability {
	return w.capability
}

func (w *Wire) Provider() *Resource {
	return w.provider
}

func (w *Wire) Requirer() *Resource {
	return w.requirer
}

// ProviderWiring returns the provider's wiring this wire was recorded in.
func (w *Wire) ProviderWiring() *Wiring {
	return w.providerWiring.Load()
}

// RequirerWiring returns the requirer's wiring this wire was recorded in.
func (w *Wire) RequirerWiring() *Wiring {
	return w.requirerWiring.Load()
}

func (w *Wire) String() string {
	return fmt.Sprintf("%s -> %s", w.requirement, w.capability)
}
