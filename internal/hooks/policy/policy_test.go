package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
)

func begin(t *testing.T, p *Policy, candidates []*resource.Resource) (context.Context, *hooks.Session) {
	t.Helper()
	reg := hooks.NewRegistry()
	p.Register(reg)
	s := reg.NewSession(candidates)
	ctx, err := s.Begin(context.Background(), candidates, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.End(ctx) })
	return ctx, s
}

func TestCompile_Engines(t *testing.T) {
	vars := map[string]any{"resource": map[string]any{"name": "a", "singleton": true}}

	for _, engine := range []Engine{EngineExpr, EngineCEL} {
		t.Run(string(engine), func(t *testing.T) {
			rule, err := Compile(engine, `resource.name == "a" && resource.singleton`)
			require.NoError(t, err)
			ok, err := rule.Eval(vars)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = rule.Eval(map[string]any{"resource": map[string]any{"name": "b", "singleton": true}})
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(EngineExpr, "")
	require.Error(t, err)

	_, err = Compile("lua", "true")
	require.ErrorIs(t, err, ErrUnknownEngine)

	_, err = Compile(EngineExpr, "resource.name ==")
	require.Error(t, err)

	_, err = Compile(EngineCEL, "resource.name ==")
	require.Error(t, err)

	rule, err := Compile(EngineCEL, `resource.name`)
	require.NoError(t, err)
	_, err = rule.Eval(map[string]any{"resource": map[string]any{"name": "a"}})
	require.ErrorIs(t, err, ErrNotBool)
}

func TestParseEngine(t *testing.T) {
	e, err := ParseEngine("")
	require.NoError(t, err)
	require.Equal(t, EngineExpr, e)

	e, err = ParseEngine(" CEL ")
	require.NoError(t, err)
	require.Equal(t, EngineCEL, e)

	_, err = ParseEngine("js")
	require.ErrorIs(t, err, ErrUnknownEngine)
}

func TestPolicy_DenyResolvable(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").MustBuild()
	legacy := resource.NewBuilder().Bundle("legacy", "0.9.0").MustBuild()

	p, err := New("no-legacy", DenyResolvable(`resource.name == "legacy"`))
	require.NoError(t, err)
	ctx, s := begin(t, p, []*resource.Resource{a, legacy})

	require.NoError(t, s.FilterResolvable(ctx))
	require.Equal(t, []*resource.Resource{a}, s.Candidates().Items())
}

func TestPolicy_DenyMatchWithCEL(t *testing.T) {
	old := resource.NewBuilder().Bundle("old", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	cur := resource.NewBuilder().Bundle("cur", "1.0.0").ExportPackage("p", "2.0.0", nil, nil).MustBuild()
	user := resource.NewBuilder().Bundle("user", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()

	p, err := New("pin", WithEngine(EngineCEL), DenyMatch(`requirer.name == "user" && capability.provider.name != "old"`))
	require.NoError(t, err)
	ctx, s := begin(t, p, []*resource.Resource{user})

	matches := hooks.NewRemoveOnlySet([]*resource.Capability{
		cur.Capabilities(resource.NamespacePackage)[0],
		old.Capabilities(resource.NamespacePackage)[0],
	})
	require.NoError(t, s.FilterMatches(ctx, user.Requirements(resource.NamespacePackage)[0], matches))
	require.Len(t, matches.Items(), 1)
	require.Same(t, old, matches.Items()[0].Resource())
}

func TestPolicy_AllowSingleton(t *testing.T) {
	s1 := resource.NewBuilder().Singleton("s", "1.0.0").MustBuild()
	s2 := resource.NewBuilder().Singleton("s", "2.0.0").MustBuild()

	p, err := New("coexist", AllowSingleton(`singleton.value == collision.value`))
	require.NoError(t, err)
	ctx, s := begin(t, p, []*resource.Resource{s1, s2})

	locator := func(id *resource.Capability) []*resource.Capability {
		if id.Resource() == s1 {
			return []*resource.Capability{s2.Identity()}
		}
		return []*resource.Capability{s1.Identity()}
	}
	require.NoError(t, s.FilterSingletonCollisions(ctx, locator))
	require.True(t, s.Candidates().Contains(s1))
	require.True(t, s.Candidates().Contains(s2))
}

func TestPolicy_EvalErrorBecomesHookError(t *testing.T) {
	a := resource.NewBuilder().Bundle("a", "1.0.0").MustBuild()

	p, err := New("broken", WithRank(5), DenyResolvable(`resource.name`))
	require.NoError(t, err)
	require.Equal(t, 5, p.Rank())
	ctx, s := begin(t, p, []*resource.Resource{a})

	err = s.FilterResolvable(ctx)
	var herr *hooks.HookError
	require.True(t, errors.As(err, &herr))
	require.Equal(t, "broken", herr.Hook)
	require.True(t, s.Candidates().Contains(a))
}

func TestPolicy_WithoutRulesOptsOut(t *testing.T) {
	p, err := New("empty")
	require.NoError(t, err)
	h, err := p.Begin(context.Background(), hooks.NewRemoveOnlySet[*resource.Resource](nil))
	require.NoError(t, err)
	require.Nil(t, h)
}
