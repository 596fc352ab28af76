package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anvil-platform/wiring/internal/environment"
	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
)

// identity compares resources and wires by pointer.
var identity = cmp.Options{
	cmp.Comparer(func(a, b *resource.Resource) bool { return a == b }),
	cmp.Comparer(func(a, b *resource.Wire) bool { return a == b }),
}

func newEnv(t *testing.T, rs ...*resource.Resource) *environment.Environment {
	t.Helper()
	env := environment.New()
	if err := env.InstallResources(context.Background(), rs...); err != nil {
		t.Fatalf("InstallResources: %v", err)
	}
	return env
}

func TestResolve_ImportWiresToExporter(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	b := resource.NewBuilder().Bundle("b", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()
	env := newEnv(t, a, b)

	before := testutil.ToFloat64(resolutionsTotal.WithLabelValues(resultResolved))
	res, err := New(env).Resolve(context.Background(), []*resource.Resource{b}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	wires := res.Wires[b]
	if len(wires) != 1 {
		t.Fatalf("expected exactly one wire for b, got %d", len(wires))
	}
	if wires[0].Requirer() != b || wires[0].Provider() != a {
		t.Fatalf("expected b -> a, got %s", wires[0])
	}
	provided := a.CurrentWiring().ProvidedWires("")
	if len(provided) != 1 || provided[0].Requirer() != b {
		t.Fatalf("expected a to provide exactly one wire to b, got %v", provided)
	}
	if diff := cmp.Diff(wires, b.CurrentWiring().RequiredWires(""), identity); diff != "" {
		t.Fatalf("required wires differ from the wire map (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(resolutionsTotal.WithLabelValues(resultResolved)) - before; got != 1 {
		t.Fatalf("expected one resolved attempt counted, got %v", got)
	}
}

func TestResolve_RangeMissFailsWithoutWires(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").ImportPackage("p", "[2.0,3.0)", nil, nil).MustBuild()
	b := resource.NewBuilder().Bundle("b", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	env := newEnv(t, a, b)

	res, err := New(env).Resolve(context.Background(), []*resource.Resource{a}, nil)
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	var rerr *ResolutionError
	if !errors.As(err, &rerr) || !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if rerr.Resource != a || rerr.Requirement != a.Requirements(resource.NamespacePackage)[0] {
		t.Fatalf("expected failure on a's import, got %v", rerr)
	}
	if len(env.Wirings()) != 0 {
		t.Fatalf("expected zero wirings, got %d", len(env.Wirings()))
	}
}

func TestResolve_FailedProviderIsRolledBack(t *testing.T) {
	broken := resource.NewBuilder().Bundle("broken", "1.0.0").
		ExportPackage("p", "2.0.0", nil, nil).
		ImportPackage("missing", "", nil, nil).
		MustBuild()
	good := resource.NewBuilder().Bundle("good", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	user := resource.NewBuilder().Bundle("user", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()
	env := newEnv(t, broken, good, user)

	res, err := New(env).Resolve(context.Background(), []*resource.Resource{user}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := res.Wires[user]; len(got) != 1 || got[0].Provider() != good {
		t.Fatalf("expected fallback to good, got %v", got)
	}
	if _, ok := res.Wires[broken]; ok || broken.CurrentWiring() != nil {
		t.Fatalf("broken must not be wired")
	}
}

func TestResolve_OptionalImportsAndResources(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").OptionalImport("missing", "").MustBuild()
	b := resource.NewBuilder().Bundle("b", "1.0.0").ImportPackage("missing", "", nil, nil).MustBuild()
	env := newEnv(t, a, b)

	res, err := New(env).Resolve(context.Background(), []*resource.Resource{a}, []*resource.Resource{b})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.CurrentWiring() == nil || len(res.Wires[a]) != 0 {
		t.Fatalf("expected a resolved with no wires")
	}
	if b.CurrentWiring() != nil {
		t.Fatalf("expected optional b to stay unresolved")
	}
	want := []Unresolved{{Resource: b, Reason: ReasonNoConsistentWire}}
	if diff := cmp.Diff(want, res.Diagnostics.UnresolvedOptional, identity); diff != "" {
		t.Fatalf("unexpected diagnostics (-want +got):\n%s", diff)
	}
}

func TestResolve_DynamicImportsAreSkipped(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").DynamicImport("org.*").MustBuild()
	env := newEnv(t, a)

	if _, err := New(env).Resolve(context.Background(), []*resource.Resource{a}, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a.CurrentWiring() == nil {
		t.Fatalf("expected a to resolve despite an unsatisfied dynamic import")
	}
}

func TestResolve_CycleTerminates(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").ExportPackage("pa", "1.0.0", nil, nil).ImportPackage("pb", "", nil, nil).MustBuild()
	b := resource.NewBuilder().Bundle("b", "1.0.0").ExportPackage("pb", "1.0.0", nil, nil).ImportPackage("pa", "", nil, nil).MustBuild()
	env := newEnv(t, a, b)

	res, err := New(env).Resolve(context.Background(), []*resource.Resource{a}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Wires[a]) != 1 || len(res.Wires[b]) != 1 {
		t.Fatalf("expected one wire each, got %v", res.Wires)
	}
}

func TestResolve_FragmentAttachesToHost(t *testing.T) {
	host := resource.NewBuilder().Bundle("h", "1.0.0").MustBuild()
	frag := resource.NewBuilder().Fragment("f", "1.0.0", "h", "[1.0,2.0)").MustBuild()
	env := newEnv(t, host, frag)

	if _, err := New(env).Resolve(context.Background(), []*resource.Resource{frag}, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	hw := host.CurrentWiring()
	if hw == nil || len(hw.ProvidedWires(resource.NamespaceHost)) != 1 {
		t.Fatalf("expected host to provide one host wire")
	}
	if !frag.CurrentWiring().IsInUse() || !hw.IsInUse() {
		t.Fatalf("expected both wirings in use")
	}
}

func TestResolve_SingletonCollision(t *testing.T) {
	s1 := resource.NewBuilder().Singleton("s", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	s2 := resource.NewBuilder().Singleton("s", "2.0.0").ExportPackage("p", "2.0.0", nil, nil).MustBuild()
	env := newEnv(t, s1, s2)

	res, err := New(env).Resolve(context.Background(), nil, []*resource.Resource{s1, s2})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s2.CurrentWiring() == nil || s1.CurrentWiring() != nil {
		t.Fatalf("expected only s@2.0.0 to resolve")
	}
	for requirer, wires := range res.Wires {
		if requirer == s1 {
			t.Fatalf("removed singleton must not appear in the wire map")
		}
		for _, w := range wires {
			if w.Provider() == s1 {
				t.Fatalf("removed singleton must not provide wires")
			}
		}
	}
	want := []Unresolved{{Resource: s1, Reason: ReasonFilteredByHooks}}
	if diff := cmp.Diff(want, res.Diagnostics.UnresolvedOptional, identity); diff != "" {
		t.Fatalf("unexpected diagnostics (-want +got):\n%s", diff)
	}

	if _, err := New(env).Resolve(context.Background(), []*resource.Resource{s1}, nil); !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected s@1.0.0 blocked by the resolved singleton, got %v", err)
	}
}

type denyHook struct {
	hooks.Base
	deny *resource.Resource
	end  error
}

func (h *denyHook) FilterResolvable(_ context.Context, c *hooks.RemoveOnlySet[*resource.Resource]) error {
	c.Remove(h.deny)
	return nil
}

func (h *denyHook) End(context.Context) error {
	return h.end
}

func TestResolve_HookVetoSurfacesAsUnresolvable(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	b := resource.NewBuilder().Bundle("b", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()
	env := newEnv(t, a, b)

	r := New(env)
	r.Hooks().Register("deny-a", 0, hooks.FactoryFunc(func(context.Context, *hooks.RemoveOnlySet[*resource.Resource]) (hooks.Hook, error) {
		return &denyHook{deny: a}, nil
	}))

	_, err := r.Resolve(context.Background(), []*resource.Resource{b}, nil)
	var rerr *ResolutionError
	if !errors.As(err, &rerr) || rerr.Resource != b {
		t.Fatalf("expected b to fail once a is vetoed, got %v", err)
	}
	if a.CurrentWiring() != nil || b.CurrentWiring() != nil {
		t.Fatalf("expected no wirings after a failed attempt")
	}
}

func TestResolve_EndFailureOverridesEarlierFailure(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").ImportPackage("missing", "", nil, nil).MustBuild()
	env := newEnv(t, a)
	endErr := errors.New("end failed")

	r := New(env)
	r.Hooks().Register("ender", 0, hooks.FactoryFunc(func(context.Context, *hooks.RemoveOnlySet[*resource.Resource]) (hooks.Hook, error) {
		return &denyHook{end: endErr}, nil
	}))

	_, err := r.Resolve(context.Background(), []*resource.Resource{a}, nil)
	var herr *hooks.HookError
	if !errors.As(err, &herr) || herr.Phase != hooks.PhaseEnd || !errors.Is(err, endErr) {
		t.Fatalf("expected the end failure, got %v", err)
	}
	if errors.Is(err, ErrUnresolvable) {
		t.Fatalf("end failure must shadow the resolution failure")
	}
}

func TestResolve_RejectsReentrantResolve(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").MustBuild()
	env := newEnv(t, a)

	r := New(env)
	var inner error
	r.Hooks().Register("reenter", 0, hooks.FactoryFunc(func(ctx context.Context, _ *hooks.RemoveOnlySet[*resource.Resource]) (hooks.Hook, error) {
		_, inner = r.Resolve(ctx, []*resource.Resource{a}, nil)
		return nil, nil
	}))

	if _, err := r.Resolve(context.Background(), []*resource.Resource{a}, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !errors.Is(inner, hooks.ErrReentrantResolve) {
		t.Fatalf("expected nested resolve to be rejected, got %v", inner)
	}
}

func TestResolve_UninstalledTriggerIsDropped(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").MustBuild()
	gone := resource.NewBuilder().Bundle("gone", "1.0.0").MustBuild()
	env := newEnv(t, a)

	res, err := New(env).Resolve(context.Background(), []*resource.Resource{a, gone}, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := []Unresolved{{Resource: gone, Reason: ReasonNotInstalled}}
	if diff := cmp.Diff(want, res.Diagnostics.Dropped, identity); diff != "" {
		t.Fatalf("unexpected dropped (-want +got):\n%s", diff)
	}
}

func TestResolve_OptionalHostExpansion(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").OptionalImport("q", "").MustBuild()
	other := resource.NewBuilder().Bundle("other", "1.0.0").MustBuild()

	var seen []*resource.Resource
	spy := hooks.FactoryFunc(func(_ context.Context, triggers *hooks.RemoveOnlySet[*resource.Resource]) (hooks.Hook, error) {
		seen = triggers.Items()
		return nil, nil
	})

	env := newEnv(t, a, other)
	r := New(env)
	r.Hooks().Register("spy", 0, spy)
	if _, err := r.Resolve(context.Background(), []*resource.Resource{a}, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff([]*resource.Resource{a, other}, seen, identity); diff != "" {
		t.Fatalf("expected unwired bundles added as optional triggers (-want +got):\n%s", diff)
	}
	if other.CurrentWiring() == nil {
		t.Fatalf("expected the expanded bundle to resolve")
	}

	c := resource.NewBuilder().Bundle("c", "1.0.0").OptionalImport("q", "").MustBuild()
	d := resource.NewBuilder().Bundle("d", "1.0.0").MustBuild()
	env = newEnv(t, c, d)
	r = New(env, WithOptionalHostExpansion(false))
	r.Hooks().Register("spy", 0, spy)
	if _, err := r.Resolve(context.Background(), []*resource.Resource{c}, nil); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff([]*resource.Resource{c}, seen, identity); diff != "" {
		t.Fatalf("expected no expansion when disabled (-want +got):\n%s", diff)
	}
}

func TestResolve_PluggedAlgorithm(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").MustBuild()
	env := newEnv(t, a)
	boom := errors.New("solver gave up")

	r := New(env, WithAlgorithm(AlgorithmFunc(func(ctx context.Context, mandatory, optional []*resource.Resource, _ Environment) (WireMap, error) {
		if hooks.FromContext(ctx) == nil {
			t.Errorf("expected the session on the algorithm's context")
		}
		return nil, boom
	})))
	if _, err := r.Resolve(context.Background(), []*resource.Resource{a}, nil); !errors.Is(err, boom) {
		t.Fatalf("expected the algorithm failure unchanged, got %v", err)
	}
}
