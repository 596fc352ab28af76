// Package manifest loads resource descriptors from YAML and builds the
// immutable resources an Environment installs.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/wiring/internal/resource"
)

// Manifest is a set of resource descriptors.
type Manifest struct {
	Resources []Descriptor `yaml:"resources"`
}

// Descriptor describes one resource.
type Descriptor struct {
	Name       string            `yaml:"name"`
	Version    string            `yaml:"version"`
	Type       string            `yaml:"type,omitempty"`
	Singleton  bool              `yaml:"singleton,omitempty"`
	Attributes map[string]any    `yaml:"attributes,omitempty"`
	Directives map[string]string `yaml:"directives,omitempty"`

	// Host makes the resource a fragment of the named host.
	Host *HostRef `yaml:"host,omitempty"`

	Exports        []Export     `yaml:"exports,omitempty"`
	Imports        []Import     `yaml:"imports,omitempty"`
	DynamicImports []string     `yaml:"dynamicImports,omitempty"`
	RequireBundles []BundleRef  `yaml:"requireBundles,omitempty"`
	Capabilities   []Capability `yaml:"capabilities,omitempty"`
	Requirements   []Capability `yaml:"requirements,omitempty"`
}

type HostRef struct {
	Name  string `yaml:"name"`
	Range string `yaml:"range,omitempty"`
}

type Export struct {
	Package    string            `yaml:"package"`
	Version    string            `yaml:"version,omitempty"`
	Attributes map[string]any    `yaml:"attributes,omitempty"`
	Directives map[string]string `yaml:"directives,omitempty"`
}

type Import struct {
	Package    string            `yaml:"package"`
	Range      string            `yaml:"range,omitempty"`
	Optional   bool              `yaml:"optional,omitempty"`
	Attributes map[string]any    `yaml:"attributes,omitempty"`
	Directives map[string]string `yaml:"directives,omitempty"`
}

type BundleRef struct {
	Name     string `yaml:"name"`
	Range    string `yaml:"range,omitempty"`
	Optional bool   `yaml:"optional,omitempty"`
}

// Capability is a generic capability or requirement in any namespace.
type Capability struct {
	Namespace  string            `yaml:"namespace"`
	Attributes map[string]any    `yaml:"attributes,omitempty"`
	Directives map[string]string `yaml:"directives,omitempty"`
}

// Parse decodes a manifest from YAML bytes.
func Parse(data []byte) (Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Manifest{}, fmt.Errorf("manifest: payload is empty")
	}
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	return m, nil
}

// LoadReader reads a manifest from r.
func LoadReader(r io.Reader) (Manifest, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read: %w", err)
	}
	return Parse(content)
}

// LoadFile reads a manifest from path.
func LoadFile(path string) (Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	m, err := Parse(content)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Build turns every descriptor into an immutable resource, in order. All
// descriptor errors are reported together.
func (m Manifest) Build() ([]*resource.Resource, error) {
	out := make([]*resource.Resource, 0, len(m.Resources))
	var errs []error
	for i, d := range m.Resources {
		r, err := d.Build()
		if err != nil {
			errs = append(errs, fmt.Errorf("resources[%d] %s: %w", i, d.Name, err))
			continue
		}
		out = append(out, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("manifest: %w", errors.Join(errs...))
	}
	return out, nil
}

// Build turns d into an immutable resource.
func (d Descriptor) Build() (*resource.Resource, error) {
	if strings.TrimSpace(d.Name) == "" {
		return nil, fmt.Errorf("%w %q", resource.ErrMissingAttribute, "name")
	}
	b := resource.NewBuilder()

	attrs, err := typedAttributes(d.Attributes)
	if err != nil {
		return nil, err
	}
	typ := d.Type
	if d.Host != nil {
		typ = resource.TypeFragment
	}
	directives := d.Directives
	if d.Singleton {
		directives = withDirective(directives, resource.DirectiveSingleton, "true")
	}
	b.Identity(d.Name, d.Version, typ, attrs, directives)

	if d.Host != nil {
		b.Require(resource.NamespaceHost, hostAttrs(d.Host), nil)
	} else if typ == "" || typ == resource.TypeBundle {
		b.Provide(resource.NamespaceHost, map[string]any{
			resource.NamespaceHost:     d.Name,
			resource.AttrBundleVersion: orZero(d.Version),
		}, nil)
		b.Provide(resource.NamespaceBundle, map[string]any{
			resource.NamespaceBundle:   d.Name,
			resource.AttrBundleVersion: orZero(d.Version),
		}, nil)
	}

	for _, e := range d.Exports {
		attrs, err := typedAttributes(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.Package, err)
		}
		b.ExportPackage(e.Package, e.Version, attrs, e.Directives)
	}
	for _, imp := range d.Imports {
		attrs, err := typedAttributes(imp.Attributes)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", imp.Package, err)
		}
		directives := imp.Directives
		if imp.Optional {
			directives = withDirective(directives, resource.DirectiveResolution, resource.ResolutionOptional)
		}
		b.ImportPackage(imp.Package, imp.Range, attrs, directives)
	}
	for _, pkg := range d.DynamicImports {
		b.DynamicImport(pkg)
	}
	for _, rb := range d.RequireBundles {
		var directives map[string]string
		if rb.Optional {
			directives = map[string]string{resource.DirectiveResolution: resource.ResolutionOptional}
		}
		b.RequireBundle(rb.Name, rb.Range, directives)
	}
	for _, c := range d.Capabilities {
		attrs, err := typedAttributes(c.Attributes)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", c.Namespace, err)
		}
		b.Provide(c.Namespace, attrs, c.Directives)
	}
	for _, c := range d.Requirements {
		attrs, err := typedAttributes(c.Attributes)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", c.Namespace, err)
		}
		b.Require(c.Namespace, attrs, c.Directives)
	}
	return b.Build()
}

func hostAttrs(h *HostRef) map[string]any {
	attrs := map[string]any{resource.NamespaceHost: h.Name}
	if h.Range != "" {
		attrs[resource.AttrBundleVersion] = h.Range
	}
	return attrs
}

func withDirective(dirs map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(dirs)+1)
	for k, v := range dirs {
		out[k] = v
	}
	out[key] = value
	return out
}

func orZero(version string) string {
	if strings.TrimSpace(version) == "" {
		return "0.0.0"
	}
	return version
}
