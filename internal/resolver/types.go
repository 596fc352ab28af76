package resolver

import (
	"context"

	"github.com/anvil-platform/wiring/internal/resource"
)

// WireMap is a complete wire assignment: for each resource resolved in one
// attempt, exactly the wires it requires. A resolved resource without
// requirements maps to an empty slice.
type WireMap map[*resource.Resource][]*resource.Wire

// Environment is the view of the installed resources an Algorithm resolves
// against. *environment.Environment implements it.
type Environment interface {
	// FindProviders returns the capabilities matching req in preference
	// order, already filtered by the hook session carried on ctx.
	FindProviders(ctx context.Context, req *resource.Requirement) ([]*resource.Capability, error)
	IsEffective(req *resource.Requirement) bool
	Wiring(r *resource.Resource) *resource.Wiring
}

// Algorithm computes a complete wire assignment for the mandatory resources
// and as many optional resources as possible. It returns no wires when any
// mandatory resource cannot be resolved. Resources removed from the hook
// session's candidates (hooks.FromContext) must be treated as unresolvable.
type Algorithm interface {
	Resolve(ctx context.Context, mandatory, optional []*resource.Resource, env Environment) (WireMap, error)
}

// AlgorithmFunc adapts a function to Algorithm.
type AlgorithmFunc func(ctx context.Context, mandatory, optional []*resource.Resource, env Environment) (WireMap, error)

func (f AlgorithmFunc) Resolve(ctx context.Context, mandatory, optional []*resource.Resource, env Environment) (WireMap, error) {
	return f(ctx, mandatory, optional, env)
}

// Result is the outcome of a successful resolution attempt.
type Result struct {
	// Wires is the wire map the algorithm produced and the environment applied.
	Wires WireMap
	// Wirings holds every wiring created or extended by the attempt.
	Wirings     map[*resource.Resource]*resource.Wiring
	Diagnostics Diagnostics
}

// Diagnostics captures why requested resources were left unresolved.
//
// This is useful for logging and for the CLI report.
type Diagnostics struct {
	UnresolvedOptional []Unresolved
	// Dropped lists triggers that were uninstalled or removed by hooks
	// before resolution started.
	Dropped []Unresolved
}

type Unresolved struct {
	Resource *resource.Resource
	Reason   string
}

const (
	ReasonFilteredByHooks  = "filtered by resolver hooks"
	ReasonNotInstalled     = "not installed"
	ReasonNoConsistentWire = "no consistent wiring"
)
