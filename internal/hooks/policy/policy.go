// Package policy provides a resolver hook driven by expression rules.
//
// Rules see resources and capabilities as plain maps:
//
//	resource    {name, version, type, singleton, fragment, trigger, attributes}
//	requirer    the requiring resource, same shape as resource
//	requirement {namespace, value, optional, attributes, directives}
//	capability  {namespace, value, version, attributes, directives, provider}
//	singleton   the singleton identity being checked, same shape as capability
//	collision   the colliding identity, same shape as capability
//
// A rule that evaluates to true removes the element under consideration.
package policy

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
	"github.com/anvil-platform/wiring/internal/semver"
)

// Option configures a Policy.
type Option func(*options)

type options struct {
	engine     Engine
	rank       int
	resolvable string
	matches    string
	singletons string
}

// WithEngine selects the expression language; expr is the default.
func WithEngine(e Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

func WithRank(rank int) Option {
	return func(o *options) {
		o.rank = rank
	}
}

// DenyResolvable removes every candidate resource for which expression holds.
func DenyResolvable(expression string) Option {
	return func(o *options) {
		o.resolvable = expression
	}
}

// DenyMatch removes every provider capability for which expression holds.
func DenyMatch(expression string) Option {
	return func(o *options) {
		o.matches = expression
	}
}

// AllowSingleton drops every collision for which expression holds, letting
// both singletons resolve.
func AllowSingleton(expression string) Option {
	return func(o *options) {
		o.singletons = expression
	}
}

// Policy is a hooks.Factory whose hooks apply compiled rules.
type Policy struct {
	name       string
	rank       int
	resolvable Rule
	matches    Rule
	singletons Rule
}

// New compiles the configured rules. A policy without rules is valid and
// never removes anything.
func New(name string, opts ...Option) (*Policy, error) {
	o := options{engine: EngineExpr}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	p := &Policy{name: name, rank: o.rank}
	for _, c := range []struct {
		expression string
		into       *Rule
	}{
		{o.resolvable, &p.resolvable},
		{o.matches, &p.matches},
		{o.singletons, &p.singletons},
	} {
		if c.expression == "" {
			continue
		}
		rule, err := Compile(o.engine, c.expression)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		*c.into = rule
	}
	return p, nil
}

func (p *Policy) Name() string {
	return p.name
}

func (p *Policy) Rank() int {
	return p.rank
}

// Register adds p to reg under its name and rank.
func (p *Policy) Register(reg *hooks.Registry) *hooks.Registration {
	return reg.Register(p.name, p.rank, p)
}

// Begin returns a hook bound to this attempt's triggers, or nil when the
// policy has no rules.
func (p *Policy) Begin(ctx context.Context, triggers *hooks.RemoveOnlySet[*resource.Resource]) (hooks.Hook, error) {
	if p.resolvable == nil && p.matches == nil && p.singletons == nil {
		return nil, nil
	}
	return &hook{policy: p, triggers: triggers}, nil
}

type hook struct {
	hooks.Base
	policy   *Policy
	triggers *hooks.RemoveOnlySet[*resource.Resource]
	removed  int
}

func (h *hook) FilterResolvable(ctx context.Context, candidates *hooks.RemoveOnlySet[*resource.Resource]) error {
	if h.policy.resolvable == nil {
		return nil
	}
	var err error
	removed := candidates.RemoveIf(func(r *resource.Resource) bool {
		if err != nil {
			return false
		}
		deny, evalErr := h.policy.resolvable.Eval(map[string]any{"resource": h.resourceVars(r)})
		if evalErr != nil {
			err = evalErr
			return false
		}
		return deny
	})
	h.record(ctx, "filterResolvable", len(removed))
	return err
}

func (h *hook) FilterMatches(ctx context.Context, req *resource.Requirement, candidates *hooks.RemoveOnlySet[*resource.Capability]) error {
	if h.policy.matches == nil || req == nil {
		return nil
	}
	reqVars := requirementVars(req)
	requirer := h.resourceVars(req.Resource())
	var err error
	removed := candidates.RemoveIf(func(c *resource.Capability) bool {
		if err != nil {
			return false
		}
		deny, evalErr := h.policy.matches.Eval(map[string]any{
			"requirement": reqVars,
			"requirer":    requirer,
			"capability":  h.capabilityVars(c),
		})
		if evalErr != nil {
			err = evalErr
			return false
		}
		return deny
	})
	h.record(ctx, "filterMatches", len(removed))
	return err
}

func (h *hook) FilterSingletonCollisions(ctx context.Context, singleton *resource.Capability, collisions *hooks.RemoveOnlySet[*resource.Capability]) error {
	if h.policy.singletons == nil {
		return nil
	}
	self := h.capabilityVars(singleton)
	var err error
	removed := collisions.RemoveIf(func(c *resource.Capability) bool {
		if err != nil {
			return false
		}
		allow, evalErr := h.policy.singletons.Eval(map[string]any{
			"singleton": self,
			"collision": h.capabilityVars(c),
		})
		if evalErr != nil {
			err = evalErr
			return false
		}
		return allow
	})
	h.record(ctx, "filterSingletonCollisions", len(removed))
	return err
}

func (h *hook) End(ctx context.Context) error {
	if h.removed > 0 {
		log.FromContext(ctx).V(1).Info("policy hook finished", "policy", h.policy.name, "removed", h.removed)
	}
	return nil
}

func (h *hook) record(ctx context.Context, phase string, n int) {
	if n == 0 {
		return
	}
	h.removed += n
	log.FromContext(ctx).V(1).Info("policy removed entries", "policy", h.policy.name, "phase", phase, "removed", n)
}

func (h *hook) resourceVars(r *resource.Resource) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	vars := map[string]any{
		"name":      r.SymbolicName(),
		"version":   r.Version().String(),
		"type":      r.Type(),
		"singleton": r.IsSingleton(),
		"fragment":  r.IsFragment(),
		"trigger":   h.triggers != nil && h.triggers.Contains(r),
	}
	if id := r.Identity(); id != nil {
		vars["attributes"] = plainMap(id.Attributes())
	} else {
		vars["attributes"] = map[string]any{}
	}
	return vars
}

func (h *hook) capabilityVars(c *resource.Capability) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return map[string]any{
		"namespace":  c.Namespace(),
		"value":      c.Value(),
		"version":    c.Version().String(),
		"attributes": plainMap(c.Attributes()),
		"directives": stringMap(c.Directives()),
		"provider":   h.resourceVars(c.Resource()),
	}
}

func requirementVars(req *resource.Requirement) map[string]any {
	return map[string]any{
		"namespace":  req.Namespace(),
		"value":      req.Value(),
		"optional":   req.IsOptional(),
		"attributes": plainMap(req.Attributes()),
		"directives": stringMap(req.Directives()),
	}
}

// plainMap converts typed attribute values to strings, int64s and lists of
// those, which both engines understand.
func plainMap(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch t := v.(type) {
		case semver.Version:
			out[k] = t.String()
		case []semver.Version:
			vs := make([]string, len(t))
			for i, e := range t {
				vs[i] = e.String()
			}
			out[k] = vs
		default:
			out[k] = v
		}
	}
	return out
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
