package resource

import (
	"fmt"
	"maps"
	"strings"

	"github.com/anvil-platform/wiring/internal/semver"
)

// Capability is a typed, named fact a resource provides.
//
// Capabilities are values once their owning resource is immutable. The
// namespace-specific fields (version, mandatory, singleton) are derived from
// attributes and directives at construction.
type Capability struct {
	namespace  string
	kind       Kind
	attrs      Attributes
	directives map[string]string
	resource   *Resource
	ordinal    int

	version   semver.Version
	mandatory []string
	singleton bool
}

// NewCapability builds a capability in namespace. Version attributes given as
// strings are parsed; the namespace's mandatory attributes must be present.
func NewCapability(namespace string, attrs map[string]any, directives map[string]string) (*Capability, error) {
	return newCapability(namespace, nil, attrs, directives)
}

func newCapability(namespace string, head []attr, attrs map[string]any, directives map[string]string) (*Capability, error) {
	if namespace == "" {
		return nil, fmt.Errorf("capability: %w", ErrEmptyNamespace)
	}
	c := &Capability{
		namespace:  namespace,
		kind:       KindOf(namespace),
		directives: maps.Clone(directives),
	}
	if c.directives == nil {
		c.directives = map[string]string{}
	}
	for _, a := range head {
		if err := c.attrs.Set(a.key, a.value); err != nil {
			return nil, fmt.Errorf("capability %s: %w", namespace, err)
		}
	}
	if err := c.attrs.setAll(attrs); err != nil {
		return nil, fmt.Errorf("capability %s: %w", namespace, err)
	}
	if err := c.derive(); err != nil {
		return nil, fmt.Errorf("capability %s: %w", namespace, err)
	}
	return c, nil
}

type attr struct {
	key   string
	value any
}

func (c *Capability) derive() error {
	if c.kind != KindGeneric {
		v, ok := c.attrs.Get(c.namespace)
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingAttribute, c.namespace)
		}
		if s, isString := v.(string); !isString || s == "" {
			return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidAttribute, c.namespace)
		}
	}

	c.version = semver.Zero
	if key := c.kind.versionKey(); key != "" {
		if raw, ok := c.attrs.Get(key); ok {
			v, err := asVersion(raw)
			if err != nil {
				return fmt.Errorf("%w: %q: %v", ErrInvalidAttribute, key, err)
			}
			c.version = v
			c.attrs.values[key] = v
		}
	}

	switch c.kind {
	case KindIdentity:
		if _, ok := c.attrs.Get(AttrType); !ok {
			_ = c.attrs.Set(AttrType, TypeBundle)
		}
		if _, isString := c.attrs.values[AttrType].(string); !isString {
			return fmt.Errorf("%w: %q must be a string", ErrInvalidAttribute, AttrType)
		}
		c.singleton = strings.EqualFold(strings.TrimSpace(c.directives[DirectiveSingleton]), "true")
	case KindPackage:
		for _, name := range strings.Split(c.directives[DirectiveMandatory], ",") {
			if name = strings.TrimSpace(name); name != "" {
				c.mandatory = append(c.mandatory, name)
			}
		}
	}
	return nil
}

// NewIdentityCapability builds the identity capability of a resource.
func NewIdentityCapability(name, version, typ string, attrs map[string]any, directives map[string]string) (*Capability, error) {
	if typ == "" {
		typ = TypeBundle
	}
	return newCapability(NamespaceIdentity, []attr{
		{NamespaceIdentity, name},
		{AttrVersion, orZero(version)},
		{AttrType, typ},
	}, attrs, directives)
}

// NewPackageCapability builds an exported package capability.
func NewPackageCapability(pkg, version string, attrs map[string]any, directives map[string]string) (*Capability, error) {
	return newCapability(NamespacePackage, []attr{
		{NamespacePackage, pkg},
		{AttrVersion, orZero(version)},
	}, attrs, directives)
}

// NewHostCapability builds the capability fragments attach to.
func NewHostCapability(name, version string, attrs map[string]any, directives map[string]string) (*Capability, error) {
	return newCapability(NamespaceHost, []attr{
		{NamespaceHost, name},
		{AttrBundleVersion, orZero(version)},
	}, attrs, directives)
}

// NewBundleCapability builds the capability require-bundle requirements match.
func NewBundleCapability(name, version string, attrs map[string]any, directives map[string]string) (*Capability, error) {
	return newCapability(NamespaceBundle, []attr{
		{NamespaceBundle, name},
		{AttrBundleVersion, orZero(version)},
	}, attrs, directives)
}

func orZero(version string) string {
	if strings.TrimSpace(version) == "" {
		return "0.0.0"
	}
	return version
}

func (c *Capability) Namespace() string {
	return c.namespace
}

func (c *Capability) Kind() Kind {
	return c.kind
}

// Resource returns the owning resource, nil until the capability is added to one.
func (c *Capability) Resource() *Resource {
	return c.resource
}

// Attribute returns the attribute stored under key.
func (c *Capability) Attribute(key string) (any, bool) {
	return c.attrs.Get(key)
}

// Attributes returns a copy of the attribute map.
func (c *Capability) Attributes() map[string]any {
	return c.attrs.Map()
}

// AttributeKeys returns attribute keys in declaration order.
func (c *Capability) AttributeKeys() []string {
	return c.attrs.Keys()
}

// Directives returns a copy of the directive map.
func (c *Capability) Directives() map[string]string {
	return maps.Clone(c.directives)
}

func (c *Capability) Directive(key string) string {
	return c.directives[key]
}

// Value returns the namespace-key attribute, e.g. the package name.
func (c *Capability) Value() string {
	s, _ := c.attrs.values[c.namespace].(string)
	return s
}

// Version returns the version this capability advertises, 0.0.0 if none.
func (c *Capability) Version() semver.Version {
	return c.version
}

// Singleton reports whether an identity capability is marked singleton.
func (c *Capability) Singleton() bool {
	return c.singleton
}

// Mandatory returns the attribute names a requirement must name to match.
func (c *Capability) Mandatory() []string {
	return append([]string(nil), c.mandatory...)
}

// Ordinal is the position of the capability within its resource.
func (c *Capability) Ordinal() int {
	return c.ordinal
}

func (c *Capability) String() string {
	owner := "<unowned>"
	if c.resource != nil {
		owner = c.resource.String()
	}
	if v := c.Value(); v != "" {
		return fmt.Sprintf("%s[%s=%s]@%s", owner, c.namespace, v, c.version)
	}
	return fmt.Sprintf("%s[%s]", owner, c.namespace)
}
