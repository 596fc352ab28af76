package hooks

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/wiring/internal/resource"
	"github.com/anvil-platform/wiring/internal/semver"
)

// State is a session's lifecycle position.
type State int32

const (
	StateCreated State = iota
	StateBegun
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBegun:
		return "begun"
	default:
		return "ended"
	}
}

// CollisionLocator returns the singleton identity capabilities of other
// resources sharing identity's name.
type CollisionLocator func(identity *resource.Capability) []*resource.Capability

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithInstalled sets the predicate Begin uses to drop triggers whose
// resource was uninstalled after the caller picked them.
func WithInstalled(fn func(*resource.Resource) bool) SessionOption {
	return func(s *Session) {
		s.installed = fn
	}
}

type entry struct {
	reg  *Registration
	hook Hook
	err  error
}

// Session drives the registered hooks through one resolution attempt.
//
// It is created with the full unresolved set, begun once, filtered any
// number of times, and ended exactly once. A session is not safe for use
// from several goroutines; it lives on the resolving call chain.
type Session struct {
	id         string
	regs       []*Registration
	entries    []*entry
	candidates *RemoveOnlySet[*resource.Resource]
	triggers   *RemoveOnlySet[*resource.Resource]
	collisions map[*resource.Capability][]*resource.Capability
	installed  func(*resource.Resource) bool
	state      atomic.Int32
}

// NewSession snapshots unresolved as the candidate set and captures the
// current registrations in rank order.
func (r *Registry) NewSession(unresolved []*resource.Resource, opts ...SessionOption) *Session {
	s := &Session{
		id:         uuid.NewString(),
		regs:       r.Registrations(),
		candidates: NewRemoveOnlySet(unresolved),
		triggers:   NewRemoveOnlySet[*resource.Resource](nil),
		collisions: make(map[*resource.Capability][]*resource.Capability),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type sessionKey struct{}

// FromContext returns the session active on ctx's call chain, nil if none
// is active.
func FromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(sessionKey{}).(*Session)
	if s == nil || s.State() != StateBegun {
		return nil
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Candidates is the remove-only set of resources still eligible for this
// attempt.
func (s *Session) Candidates() *RemoveOnlySet[*resource.Resource] {
	return s.candidates
}

// Triggers is the remove-only set of resources this attempt was asked to resolve.
func (s *Session) Triggers() *RemoveOnlySet[*resource.Resource] {
	return s.triggers
}

// Collisions returns the singleton collisions left after hooks filtered
// them, keyed by the candidate's identity capability.
func (s *Session) Collisions() map[*resource.Capability][]*resource.Capability {
	out := make(map[*resource.Capability][]*resource.Capability, len(s.collisions))
	for k, v := range s.collisions {
		out[k] = slices.Clone(v)
	}
	return out
}

func (s *Session) logger(ctx context.Context) logr.Logger {
	return log.FromContext(ctx).WithValues("component", "hooks", "session", s.id)
}

// Begin computes the trigger set and gives every registered factory, in
// rank order, the chance to create a hook. The returned context carries the
// session; Begin fails with ErrReentrantResolve when ctx already carries an
// active one. End must be called whenever Begin returns a non-nil context.
func (s *Session) Begin(ctx context.Context, mandatory, optional []*resource.Resource) (context.Context, error) {
	if FromContext(ctx) != nil {
		return nil, fmt.Errorf("hooks: begin: %w", ErrReentrantResolve)
	}
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateBegun)) {
		return nil, fmt.Errorf("hooks: begin in state %s: %w", s.State(), ErrSessionState)
	}
	hookSessionsTotal.Inc()
	ctx = context.WithValue(ctx, sessionKey{}, s)
	logger := s.logger(ctx)

	triggers := make([]*resource.Resource, 0, len(mandatory)+len(optional))
	for _, r := range slices.Concat(mandatory, optional) {
		if r == nil {
			continue
		}
		if s.installed != nil && !s.installed(r) {
			logger.V(1).Info("dropping uninstalled trigger", "resource", r.String())
			continue
		}
		triggers = append(triggers, r)
	}
	s.triggers = NewRemoveOnlySet(triggers)

	var first error
	for _, reg := range s.regs {
		if !reg.IsRegistered() {
			continue
		}
		e := &entry{reg: reg}
		s.entries = append(s.entries, e)
		err := guard(func() error {
			hook, err := reg.factory.Begin(ctx, s.triggers)
			e.hook = hook
			return err
		})
		if err != nil {
			e.err = err
			if herr := s.fail(ctx, e, PhaseBegin, err); first == nil {
				first = herr
			}
		}
	}
	logger.V(1).Info("session begun", "triggers", s.triggers.Len(), "candidates", s.candidates.Len(), "hooks", len(s.entries))
	return ctx, first
}

func (s *Session) fail(ctx context.Context, e *entry, phase Phase, err error) error {
	hookFailuresTotal.WithLabelValues(string(phase)).Inc()
	s.logger(ctx).Error(err, "resolver hook failed", "hook", e.reg.name, "phase", phase)
	return &HookError{Hook: e.reg.name, Phase: phase, Err: err}
}

// each calls fn on every live hook in rank order. A failing hook is
// recorded and skipped for the rest of the session; the others still run
// and the first failure is returned.
func (s *Session) each(ctx context.Context, phase Phase, fn func(Hook) error) error {
	if st := s.State(); st != StateBegun {
		return fmt.Errorf("hooks: %s in state %s: %w", phase, st, ErrSessionState)
	}
	var first error
	for _, e := range s.entries {
		if e.err != nil || e.hook == nil {
			continue
		}
		err := ErrHookUnregistered
		if e.reg.IsRegistered() {
			err = guard(func() error { return fn(e.hook) })
		}
		if err == nil {
			continue
		}
		e.err = err
		if herr := s.fail(ctx, e, phase, err); first == nil {
			first = herr
		}
	}
	return first
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// FilterResolvable lets every hook shrink the candidate set.
func (s *Session) FilterResolvable(ctx context.Context) error {
	before := s.candidates.Items()
	err := s.each(ctx, PhaseFilterResolvable, func(h Hook) error {
		return h.FilterResolvable(ctx, s.candidates)
	})
	var removed []string
	for _, r := range before {
		if !s.candidates.Contains(r) {
			removed = append(removed, r.String())
		}
	}
	if len(removed) > 0 {
		hookCandidatesRemovedTotal.WithLabelValues("filterResolvable").Add(float64(len(removed)))
		s.logger(ctx).V(1).Info("hooks removed resolution candidates", "removed", removed)
	}
	return err
}

// FilterMatches lets every hook shrink the capabilities found for req.
func (s *Session) FilterMatches(ctx context.Context, req *resource.Requirement, candidates *RemoveOnlySet[*resource.Capability]) error {
	return s.each(ctx, PhaseFilterMatches, func(h Hook) error {
		return h.FilterMatches(ctx, req, candidates)
	})
}

// FilterSingletonCollisions removes singleton candidates that would coexist
// with another singleton of the same name.
//
// For each singleton candidate, locator finds same-named singletons;
// unresolved ones that are no longer candidates are dropped, and hooks may
// remove more. The candidate survives only if no collision is left and
// every resolved colliding singleton, asked the other way round, also has
// the candidate filtered out. Candidates are visited least preferred first
// (lower version, later in candidate order), so of two unresolved
// singletons the preferred one is kept.
func (s *Session) FilterSingletonCollisions(ctx context.Context, locator CollisionLocator) error {
	if st := s.State(); st != StateBegun {
		return fmt.Errorf("hooks: %s in state %s: %w", PhaseFilterSingletonCollisions, st, ErrSessionState)
	}
	if locator == nil {
		return fmt.Errorf("hooks: %s: %w", PhaseFilterSingletonCollisions, resource.ErrNilArgument)
	}
	logger := s.logger(ctx)

	var singletons []*resource.Resource
	for _, r := range s.candidates.Items() {
		if r.IsSingleton() {
			singletons = append(singletons, r)
		}
	}
	order := make(map[*resource.Resource]int, len(singletons))
	for i, r := range singletons {
		order[r] = i
	}
	slices.SortStableFunc(singletons, func(a, b *resource.Resource) int {
		if c := semver.Compare(a.Version(), b.Version()); c != 0 {
			return c
		}
		return order[b] - order[a]
	})

	for _, r := range singletons {
		if !s.candidates.Contains(r) {
			continue
		}
		identity := r.Identity()
		found := locator(identity)
		collisions := NewRemoveOnlySet(found)
		collisions.RemoveIf(func(c *resource.Capability) bool {
			owner := c.Resource()
			return owner.CurrentWiring() == nil && !s.candidates.Contains(owner)
		})
		if collisions.Len() > 0 {
			if err := s.each(ctx, PhaseFilterSingletonCollisions, func(h Hook) error {
				return h.FilterSingletonCollisions(ctx, identity, collisions)
			}); err != nil {
				return err
			}
		}
		s.collisions[identity] = collisions.Items()

		keep := collisions.Len() == 0
		for _, c := range found {
			if !keep {
				break
			}
			if c.Resource().CurrentWiring() == nil {
				continue
			}
			reverse := NewRemoveOnlySet([]*resource.Capability{identity})
			if err := s.each(ctx, PhaseFilterSingletonCollisions, func(h Hook) error {
				return h.FilterSingletonCollisions(ctx, c, reverse)
			}); err != nil {
				return err
			}
			keep = reverse.Len() == 0
		}
		if !keep {
			s.candidates.Remove(r)
			hookCandidatesRemovedTotal.WithLabelValues("singleton").Inc()
			logger.V(1).Info("singleton collision removed candidate", "resource", r.String(), "collisions", len(s.collisions[identity]))
		}
	}
	return nil
}

// End calls every hook's End callback, even those that failed earlier, and
// marks the session ended so it no longer appears on the call chain. Every
// End failure is collected; if any occurred End returns them, and a caller
// that already failed in an earlier phase should report End's error in
// preference to its own.
func (s *Session) End(ctx context.Context) error {
	prev := State(s.state.Swap(int32(StateEnded)))
	if prev == StateEnded {
		return fmt.Errorf("hooks: end: %w", ErrSessionState)
	}
	if prev == StateCreated {
		return nil
	}

	var errs []error
	for _, e := range s.entries {
		if e.hook == nil {
			continue
		}
		hook := e.hook
		if err := guard(func() error { return hook.End(ctx) }); err != nil {
			errs = append(errs, s.fail(ctx, e, PhaseEnd, err))
		}
	}
	s.logger(ctx).V(1).Info("session ended", "candidates", s.candidates.Len(), "endFailures", len(errs))
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return utilerrors.NewAggregate(errs)
	}
}
