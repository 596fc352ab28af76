// Package hooks implements the resolver hook protocol: ranked hook factories
// and the per-attempt Session that drives them through
// begin, filterResolvable, filterSingletonCollisions/filterMatches and end.
package hooks

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/anvil-platform/wiring/internal/resource"
)

// Hook is one resolution attempt's view of a policy module. Every callback
// receives remove-only collections and may shrink them.
type Hook interface {
	FilterResolvable(ctx context.Context, candidates *RemoveOnlySet[*resource.Resource]) error
	FilterSingletonCollisions(ctx context.Context, singleton *resource.Capability, collisions *RemoveOnlySet[*resource.Capability]) error
	FilterMatches(ctx context.Context, req *resource.Requirement, candidates *RemoveOnlySet[*resource.Capability]) error
	End(ctx context.Context) error
}

// Factory creates a Hook when a session begins. Returning a nil Hook opts
// out of the session.
type Factory interface {
	Begin(ctx context.Context, triggers *RemoveOnlySet[*resource.Resource]) (Hook, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, triggers *RemoveOnlySet[*resource.Resource]) (Hook, error)

func (f FactoryFunc) Begin(ctx context.Context, triggers *RemoveOnlySet[*resource.Resource]) (Hook, error) {
	return f(ctx, triggers)
}

// Base implements every Hook callback as a no-op; embed it to override
// only the callbacks a policy needs.
type Base struct{}

func (Base) FilterResolvable(context.Context, *RemoveOnlySet[*resource.Resource]) error {
	return nil
}

func (Base) FilterSingletonCollisions(context.Context, *resource.Capability, *RemoveOnlySet[*resource.Capability]) error {
	return nil
}

func (Base) FilterMatches(context.Context, *resource.Requirement, *RemoveOnlySet[*resource.Capability]) error {
	return nil
}

func (Base) End(context.Context) error {
	return nil
}

// Registration is a registered hook factory.
type Registration struct {
	name         string
	rank         int
	seq          int64
	factory      Factory
	unregistered atomic.Bool
}

func (r *Registration) Name() string {
	return r.name
}

func (r *Registration) Rank() int {
	return r.rank
}

// IsRegistered reports whether Unregister has not been called.
func (r *Registration) IsRegistered() bool {
	return !r.unregistered.Load()
}

// Registry holds hook factories ordered by descending rank, ties broken by
// registration order.
type Registry struct {
	mu   sync.Mutex
	seq  int64
	regs []*Registration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds f under name with the given rank.
func (r *Registry) Register(name string, rank int, f Factory) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	reg := &Registration{name: name, rank: rank, seq: r.seq, factory: f}
	r.regs = append(r.regs, reg)
	sort.SliceStable(r.regs, func(i, j int) bool {
		if r.regs[i].rank != r.regs[j].rank {
			return r.regs[i].rank > r.regs[j].rank
		}
		return r.regs[i].seq < r.regs[j].seq
	})
	return reg
}

// Unregister removes reg. Sessions that already captured it report
// ErrHookUnregistered on their next call into it.
func (r *Registry) Unregister(reg *Registration) {
	if reg == nil {
		return
	}
	reg.unregistered.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.regs {
		if existing == reg {
			r.regs = append(r.regs[:i], r.regs[i+1:]...)
			return
		}
	}
}

// Registrations returns the current registrations in invocation order.
func (r *Registry) Registrations() []*Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Registration(nil), r.regs...)
}
