package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/wiring/internal/resource"
	"github.com/anvil-platform/wiring/internal/semver"
)

const sample = `
resources:
  - name: core
    version: 1.2.0
    singleton: true
    exports:
      - package: org.core.api
        version: 1.2.0
        attributes:
          vendor: acme
          "level:Long": "3"
        directives:
          mandatory: vendor
  - name: client
    version: 1.0.0
    imports:
      - package: org.core.api
        range: "[1.0,2.0)"
        attributes:
          vendor: acme
      - package: org.extra
        optional: true
    dynamicImports:
      - "org.plugins.*"
    requireBundles:
      - name: core
        range: "[1.0,2.0)"
    requirements:
      - namespace: osgi.ee
        directives:
          filter: "(&(osgi.ee=JavaSE)(version>=11))"
  - name: core.nls
    version: 1.0.0
    host:
      name: core
      range: "[1.0,2.0)"
  - name: jre
    version: 11.0.0
    type: osgi.ee.provider
    capabilities:
      - namespace: osgi.ee
        attributes:
          osgi.ee: JavaSE
          "version:Version": "11.0.0"
          "profiles:List<String>": "compact1, compact2"
`

func build(t *testing.T, src string) []*resource.Resource {
	t.Helper()
	m, err := Parse([]byte(src))
	require.NoError(t, err)
	rs, err := m.Build()
	require.NoError(t, err)
	return rs
}

func TestBuild_Sample(t *testing.T) {
	rs := build(t, sample)
	require.Len(t, rs, 4)
	core, client, nls, jre := rs[0], rs[1], rs[2], rs[3]

	require.Equal(t, "core", core.SymbolicName())
	require.True(t, core.IsSingleton())
	require.Len(t, core.Capabilities(resource.NamespaceHost), 1)
	require.Len(t, core.Capabilities(resource.NamespaceBundle), 1)

	export := core.Capabilities(resource.NamespacePackage)[0]
	level, ok := export.Attribute("level")
	require.True(t, ok)
	require.Equal(t, int64(3), level)
	require.Equal(t, []string{"vendor"}, export.Mandatory())

	imports := client.Requirements(resource.NamespacePackage)
	require.Len(t, imports, 3)
	require.True(t, imports[0].Matches(export))
	require.True(t, imports[1].IsOptional())
	require.True(t, imports[2].IsDynamic())
	require.True(t, client.Requirements(resource.NamespaceBundle)[0].Matches(core.Capabilities(resource.NamespaceBundle)[0]))

	require.True(t, nls.IsFragment())
	require.Empty(t, nls.Capabilities(resource.NamespaceHost))
	require.True(t, nls.Requirements(resource.NamespaceHost)[0].Matches(core.Capabilities(resource.NamespaceHost)[0]))

	ee := jre.Capabilities("osgi.ee")[0]
	v, _ := ee.Attribute("version")
	require.Equal(t, 0, semver.Compare(semver.MustParseVersion("11.0.0"), v.(semver.Version)))
	profiles, _ := ee.Attribute("profiles")
	require.Equal(t, []string{"compact1", "compact2"}, profiles)
	require.Empty(t, jre.Capabilities(resource.NamespaceHost))
	require.True(t, client.Requirements("osgi.ee")[0].Matches(ee))
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("  \n"))
	require.Error(t, err)

	_, err = Parse([]byte("resources:\n  - name: a\n    bogus: 1\n"))
	require.Error(t, err)
}

func TestBuild_ReportsEveryBadDescriptor(t *testing.T) {
	m, err := Parse([]byte(`
resources:
  - name: ""
  - name: b
    attributes:
      "n:Long": "x"
  - name: c
    imports:
      - package: p
        directives:
          filter: "(broken"
`))
	require.NoError(t, err)

	_, err = m.Build()
	require.Error(t, err)
	for _, want := range []string{"resources[0]", "resources[1] b", "resources[2] c"} {
		require.True(t, strings.Contains(err.Error(), want), "expected %q in %v", want, err)
	}
	require.ErrorIs(t, err, ErrInvalidAttribute)
	require.ErrorIs(t, err, resource.ErrInvalidDirective)
}

func TestTypedAttributes(t *testing.T) {
	got, err := typedAttributes(map[string]any{
		"s":                "x",
		"n":                7,
		"flag":             true,
		"ratio":            0.5,
		"v:Version":        "1.2.3",
		"ns:List<Long>":    []any{1, "2"},
		"vs:List<Version>": []any{"1.0.0", "2.0.0"},
		"plain":            []any{"a", "b"},
		"explicit:String":  12,
	})
	require.NoError(t, err)
	require.Equal(t, "x", got["s"])
	require.Equal(t, int64(7), got["n"])
	require.Equal(t, "true", got["flag"])
	require.Equal(t, "0.5", got["ratio"])
	require.Equal(t, "1.2.3", got["v"].(semver.Version).String())
	require.Equal(t, []int64{1, 2}, got["ns"])
	require.Len(t, got["vs"], 2)
	require.Equal(t, []string{"a", "b"}, got["plain"])
	require.Equal(t, "12", got["explicit"])

	_, err = typedAttributes(map[string]any{"x:Double": 1.5})
	require.ErrorIs(t, err, ErrInvalidAttribute)
	_, err = typedAttributes(map[string]any{"x:List<Long": "1"})
	require.ErrorIs(t, err, ErrInvalidAttribute)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	m, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, m.Resources, 4)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
