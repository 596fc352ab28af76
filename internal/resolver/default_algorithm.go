package resolver

import (
	"context"
	"errors"
	"maps"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
)

// DefaultAlgorithm is a deterministic greedy resolver used when no external
// solver is plugged in.
//
// For each requirement it takes the first provider, in FindProviders order,
// whose owner resolves too; a provider that fails is rolled back and the
// next one is tried. Dynamic and ineffective requirements are skipped, and
// an optional requirement without a viable provider is left unwired. A
// resource that is already part of the current search is assumed to
// resolve, so dependency cycles terminate.
//
// It does not check package-space consistency (uses constraints).
type DefaultAlgorithm struct{}

func NewDefault() *DefaultAlgorithm {
	return &DefaultAlgorithm{}
}

type search struct {
	ctx     context.Context
	env     Environment
	session *hooks.Session

	wires     WireMap
	resolving map[*resource.Resource]bool
	failed    map[*resource.Resource]*ResolutionError
}

type snapshot struct {
	wires     WireMap
	resolving map[*resource.Resource]bool
}

func (s *search) snapshot() snapshot {
	return snapshot{wires: maps.Clone(s.wires), resolving: maps.Clone(s.resolving)}
}

func (s *search) restore(snap snapshot) {
	s.wires = snap.wires
	s.resolving = snap.resolving
}

func (a *DefaultAlgorithm) Resolve(ctx context.Context, mandatory, optional []*resource.Resource, env Environment) (WireMap, error) {
	logger := log.FromContext(ctx).WithValues("component", "resolver", "algorithm", "default")
	s := &search{
		ctx:       ctx,
		env:       env,
		session:   hooks.FromContext(ctx),
		wires:     make(WireMap),
		resolving: make(map[*resource.Resource]bool),
		failed:    make(map[*resource.Resource]*ResolutionError),
	}

	for _, r := range mandatory {
		if err := s.resolve(r); err != nil {
			logger.V(1).Info("mandatory resource failed to resolve", "resource", r.String(), "error", err.Error())
			return nil, err
		}
	}
	for _, r := range optional {
		snap := s.snapshot()
		if err := s.resolve(r); err != nil {
			if !isResolutionError(err) {
				return nil, err
			}
			logger.V(1).Info("optional resource left unresolved", "resource", r.String(), "reason", err.Error())
			s.restore(snap)
		}
	}

	return s.wires, nil
}

// resolve returns a *ResolutionError when r cannot be resolved, or any
// other error (hook failures) that must abort the attempt.
func (s *search) resolve(r *resource.Resource) error {
	if s.env.Wiring(r) != nil {
		return nil
	}
	if _, done := s.wires[r]; done || s.resolving[r] {
		return nil
	}
	if err := s.failed[r]; err != nil {
		return err
	}
	if s.session != nil && !s.session.Candidates().Contains(r) {
		return s.fail(&ResolutionError{Resource: r, Reason: ReasonFilteredByHooks})
	}

	s.resolving[r] = true
	var wires []*resource.Wire
	for _, req := range r.Requirements("") {
		if req.IsDynamic() || !s.env.IsEffective(req) {
			continue
		}
		wire, err := s.satisfy(req)
		if err != nil {
			if isResolutionError(err) && req.IsOptional() {
				log.FromContext(s.ctx).V(1).Info("optional requirement left unwired", "requirement", req.String())
				continue
			}
			delete(s.resolving, r)
			return err
		}
		wires = append(wires, wire)
	}
	delete(s.resolving, r)
	s.wires[r] = wires
	return nil
}

func (s *search) satisfy(req *resource.Requirement) (*resource.Wire, error) {
	candidates, err := s.env.FindProviders(s.ctx, req)
	if err != nil {
		return nil, err
	}
	var last error
	for _, c := range candidates {
		snap := s.snapshot()
		if err := s.resolve(c.Resource()); err != nil {
			if !isResolutionError(err) {
				return nil, err
			}
			s.restore(snap)
			last = err
			continue
		}
		return resource.WireFor(req, c)
	}
	reason := "no matching capability"
	if len(candidates) > 0 {
		reason = "no resolvable provider"
	}
	return nil, &ResolutionError{Resource: req.Resource(), Requirement: req, Reason: reason, Cause: last}
}

// fail caches failures that do not depend on the search path.
func (s *search) fail(err *ResolutionError) error {
	s.failed[err.Resource] = err
	return err
}

func isResolutionError(err error) bool {
	var rerr *ResolutionError
	return errors.As(err, &rerr)
}
