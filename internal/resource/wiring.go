package resource

import (
	"fmt"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Wiring is the set of wires of one resolved resource. Required wires are
// fixed at creation; provided wires are append-only.
type Wiring struct {
	resource *Resource
	required []*Wire

	mu       sync.RWMutex
	provided []*Wire
}

// NewWiring creates a wiring for r with the given required wires, each of
// which must have r as requirer.
func NewWiring(r *Resource, required []*Wire) (*Wiring, error) {
	if r == nil {
		return nil, fmt.Errorf("wiring: %w", ErrNilArgument)
	}
	w := &Wiring{resource: r, required: make([]*Wire, 0, len(required))}
	for _, wire := range required {
		if wire == nil {
			return nil, fmt.Errorf("wiring %s: %w", r, ErrNilArgument)
		}
		if wire.requirer != r {
			return nil, fmt.Errorf("wiring %s: required wire %s: %w", r, wire, ErrWireMismatch)
		}
		w.required = append(w.required, wire)
	}
	for _, wire := range w.required {
		wire.requirerWiring.Store(w)
	}
	return w, nil
}

func (w *Wiring) Resource() *Resource {
	return w.resource
}

// RequiredWires returns required wires whose requirement is in namespace,
// or all of them when namespace is empty.
func (w *Wiring) RequiredWires(namespace string) []*Wire {
	out := make([]*Wire, 0, len(w.required))
	for _, wire := range w.required {
		if namespace == "" || wire.requirement.namespace == namespace {
			out = append(out, wire)
		}
	}
	return out
}

// ProvidedWires returns provided wires whose capability is in namespace,
// or all of them when namespace is empty.
func (w *Wiring) ProvidedWires(namespace string) []*Wire {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Wire, 0, len(w.provided))
	for _, wire := range w.provided {
		if namespace == "" || wire.capability.namespace == namespace {
			out = append(out, wire)
		}
	}
	return out
}

// AddProvidedWire appends wire, which must have this wiring's resource as
// provider. Only the Environment calls this, while applying a wire map.
func (w *Wiring) AddProvidedWire(wire *Wire) error {
	if wire == nil {
		return fmt.Errorf("wiring %s: %w", w.resource, ErrNilArgument)
	}
	if wire.provider != w.resource {
		return fmt.Errorf("wiring %s: provided wire %s: %w", w.resource, wire, ErrWireMismatch)
	}
	w.mu.Lock()
	w.provided = append(w.provided, wire)
	w.mu.Unlock()
	wire.providerWiring.Store(w)
	return nil
}

// IsCurrent reports whether w is its resource's current wiring.
func (w *Wiring) IsCurrent() bool {
	return w.resource.CurrentWiring() == w
}

// IsInUse reports whether w is current or still serves one that is: a
// fragment's wiring is in use while a host it is attached to is, and any
// other wiring is in use while the requirer of one of its provided wires is.
func (w *Wiring) IsInUse() bool {
	return w.inUse(sets.New[*Wiring]())
}

func (w *Wiring) inUse(visited sets.Set[*Wiring]) bool {
	if visited.Has(w) {
		return false
	}
	visited.Insert(w)
	if w.IsCurrent() {
		return true
	}
	if w.resource.IsFragment() {
		for _, wire := range w.RequiredWires(NamespaceHost) {
			if hw := wire.ProviderWiring(); hw != nil && hw.inUse(visited) {
				return true
			}
		}
		return false
	}
	for _, wire := range w.ProvidedWires("") {
		if rw := wire.RequirerWiring(); rw != nil && rw.inUse(visited) {
			return true
		}
	}
	return false
}

func (w *Wiring) String() string {
	return fmt.Sprintf("wiring(%s)", w.resource)
}
