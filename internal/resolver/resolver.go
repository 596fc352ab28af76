// Package resolver runs resolution attempts against an Environment: it
// drives the resolver hook session around a pluggable Algorithm and applies
// the resulting wire map.
package resolver

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/wiring/internal/environment"
	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
)

var tracer = otel.Tracer("github.com/anvil-platform/wiring/internal/resolver")

// Option configures a Resolver.
type Option func(*Resolver)

// WithAlgorithm replaces the DefaultAlgorithm.
func WithAlgorithm(a Algorithm) Option {
	return func(r *Resolver) {
		r.algorithm = a
	}
}

// WithHooks sets the registry whose factories take part in every attempt.
func WithHooks(reg *hooks.Registry) Option {
	return func(r *Resolver) {
		r.hooks = reg
	}
}

// WithOptionalHostExpansion toggles adding every unwired bundle as an
// optional trigger when a trigger has an optional package import. It is on
// by default.
func WithOptionalHostExpansion(enabled bool) Option {
	return func(r *Resolver) {
		r.expandHosts = enabled
	}
}

// Resolver coordinates resolution attempts against one Environment.
type Resolver struct {
	env         *environment.Environment
	hooks       *hooks.Registry
	algorithm   Algorithm
	expandHosts bool
}

func New(env *environment.Environment, opts ...Option) *Resolver {
	r := &Resolver{
		env:         env,
		hooks:       hooks.NewRegistry(),
		algorithm:   NewDefault(),
		expandHosts: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Hooks returns the registry hooks are registered with.
func (r *Resolver) Hooks() *hooks.Registry {
	return r.hooks
}

// Resolve runs one attempt: it begins a hook session over the environment's
// unresolved resources, lets hooks filter candidates and singleton
// collisions, runs the algorithm, ends the session and only then applies the
// wire map. Either every wire is applied or none is.
//
// An error from a hook's End callback is returned in preference to any
// earlier failure of the attempt.
func (r *Resolver) Resolve(ctx context.Context, mandatory, optional []*resource.Resource) (*Result, error) {
	ctx, span := tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(
			attribute.Int("resolver.mandatory", len(mandatory)),
			attribute.Int("resolver.optional", len(optional)),
		),
	)
	defer span.End()

	logger := log.FromContext(ctx).WithValues("component", "resolver")
	start := time.Now()
	defer func() {
		resolutionDuration.Observe(time.Since(start).Seconds())
	}()

	mandatory, optional = compact(mandatory), compact(optional)
	if r.expandHosts && hasOptionalImport(mandatory, optional) {
		optional = r.expandOptionalHosts(mandatory, optional)
		span.SetAttributes(attribute.Int("resolver.optional_expanded", len(optional)))
	}

	session := r.hooks.NewSession(r.env.Unresolved(), hooks.WithInstalled(r.env.IsInstalled))
	sctx, err := session.Begin(ctx, mandatory, optional)
	if sctx == nil {
		return nil, r.failed(span, err)
	}
	logger = logger.WithValues("session", session.ID())

	var wires WireMap
	var result Result
	if err == nil {
		err = session.FilterResolvable(sctx)
	}
	if err == nil {
		err = session.FilterSingletonCollisions(sctx, r.env.SingletonCollisions)
	}
	if err == nil {
		mandatory, optional, result.Diagnostics.Dropped = r.triggered(session, mandatory, optional)
		wires, err = r.algorithm.Resolve(sctx, mandatory, optional, r.env)
	}
	if endErr := session.End(ctx); endErr != nil {
		if err != nil {
			logger.V(1).Info("end failure overrides earlier failure", "earlier", err.Error())
		}
		err = endErr
	}
	if err != nil {
		logger.Info("resolution failed", "error", err.Error())
		return nil, r.failed(span, err)
	}

	wirings, err := r.env.UpdateWiring(ctx, wires)
	if err != nil {
		return nil, r.failed(span, err)
	}
	result.Wires = wires
	result.Wirings = wirings

	created := 0
	for _, ws := range wires {
		created += len(ws)
	}
	for _, o := range optional {
		if o.CurrentWiring() != nil {
			continue
		}
		reason := ReasonNoConsistentWire
		if !session.Candidates().Contains(o) {
			reason = ReasonFilteredByHooks
		}
		result.Diagnostics.UnresolvedOptional = append(result.Diagnostics.UnresolvedOptional, Unresolved{Resource: o, Reason: reason})
	}

	resolutionsTotal.WithLabelValues(resultResolved).Inc()
	resolverWiresCreatedTotal.Add(float64(created))
	span.SetAttributes(attribute.Int("resolver.wires", created))
	span.SetStatus(codes.Ok, "")
	logger.Info("resolution completed",
		"resolved", len(wires),
		"wires", created,
		"unresolvedOptional", len(result.Diagnostics.UnresolvedOptional),
		"duration", time.Since(start).String(),
	)
	return &result, nil
}

func (r *Resolver) failed(span trace.Span, err error) error {
	label := resultFailed
	var herr *hooks.HookError
	if errors.As(err, &herr) {
		label = resultHookError
	}
	resolutionsTotal.WithLabelValues(label).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// triggered narrows the requested resources to those still in the session's
// trigger set, reporting the rest.
func (r *Resolver) triggered(s *hooks.Session, mandatory, optional []*resource.Resource) (m, o []*resource.Resource, dropped []Unresolved) {
	keep := func(in []*resource.Resource) []*resource.Resource {
		var out []*resource.Resource
		for _, res := range in {
			if s.Triggers().Contains(res) {
				out = append(out, res)
				continue
			}
			reason := ReasonFilteredByHooks
			if !r.env.IsInstalled(res) {
				reason = ReasonNotInstalled
			}
			dropped = append(dropped, Unresolved{Resource: res, Reason: reason})
		}
		return out
	}
	return keep(mandatory), keep(optional), dropped
}

// hasOptionalImport reports whether any trigger has an optional package
// requirement.
func hasOptionalImport(sets ...[]*resource.Resource) bool {
	for _, set := range sets {
		for _, r := range set {
			for _, req := range r.Requirements(resource.NamespacePackage) {
				if req.IsOptional() {
					return true
				}
			}
		}
	}
	return false
}

// expandOptionalHosts adds every unwired osgi.bundle resource to optional,
// so hosts that could receive fragments supplying optional imports take part.
func (r *Resolver) expandOptionalHosts(mandatory, optional []*resource.Resource) []*resource.Resource {
	seen := make(map[*resource.Resource]bool, len(mandatory)+len(optional))
	for _, res := range mandatory {
		seen[res] = true
	}
	for _, res := range optional {
		seen[res] = true
	}
	out := append([]*resource.Resource(nil), optional...)
	for _, res := range r.env.ResourcesOfType(resource.TypeBundle) {
		if seen[res] || r.env.Wiring(res) != nil {
			continue
		}
		seen[res] = true
		out = append(out, res)
	}
	return out
}

func compact(rs []*resource.Resource) []*resource.Resource {
	out := make([]*resource.Resource, 0, len(rs))
	seen := make(map[*resource.Resource]bool, len(rs))
	for _, r := range rs {
		if r == nil || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
