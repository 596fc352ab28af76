package resource

import (
	"fmt"
	"maps"
	"strings"

	"github.com/anvil-platform/wiring/internal/filter"
	"github.com/anvil-platform/wiring/internal/semver"
)

// Requirement is a typed, named constraint a resource needs satisfied.
//
// The version range of package, identity, host and bundle requirements is
// given as the namespace's version attribute in range syntax and parsed here;
// so is the filter directive. Both fail construction when malformed.
type Requirement struct {
	namespace  string
	kind       Kind
	attrs      Attributes
	directives map[string]string
	resource   *Resource

	filter      *filter.Filter
	versions    semver.Range
	hasVersions bool
	// package requirements only
	bundleVersions    semver.Range
	hasBundleVersions bool
	resolution        string
}

// NewRequirement builds a requirement in namespace. The result is ad-hoc
// (no owning resource) until added to a resource, and can be used as is for
// lookups.
func NewRequirement(namespace string, attrs map[string]any, directives map[string]string) (*Requirement, error) {
	return newRequirement(namespace, nil, attrs, directives)
}

func newRequirement(namespace string, head []attr, attrs map[string]any, directives map[string]string) (*Requirement, error) {
	if namespace == "" {
		return nil, fmt.Errorf("requirement: %w", ErrEmptyNamespace)
	}
	r := &Requirement{
		namespace:  namespace,
		kind:       KindOf(namespace),
		directives: maps.Clone(directives),
	}
	if r.directives == nil {
		r.directives = map[string]string{}
	}
	for _, a := range head {
		if err := r.attrs.Set(a.key, a.value); err != nil {
			return nil, fmt.Errorf("requirement %s: %w", namespace, err)
		}
	}
	if err := r.attrs.setAll(attrs); err != nil {
		return nil, fmt.Errorf("requirement %s: %w", namespace, err)
	}
	if err := r.derive(); err != nil {
		return nil, fmt.Errorf("requirement %s: %w", namespace, err)
	}
	return r, nil
}

func (r *Requirement) derive() error {
	if r.kind != KindGeneric {
		v, ok := r.attrs.Get(r.namespace)
		if !ok {
			return fmt.Errorf("%w %q", ErrMissingAttribute, r.namespace)
		}
		if s, isString := v.(string); !isString || s == "" {
			return fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidAttribute, r.namespace)
		}
	}

	if raw := strings.TrimSpace(r.directives[DirectiveFilter]); raw != "" {
		f, err := filter.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDirective, err)
		}
		r.filter = f
	}

	if key := r.kind.versionKey(); key != "" {
		rng, ok, err := rangeAttr(r.attrs, key)
		if err != nil {
			return err
		}
		r.versions, r.hasVersions = rng, ok
	}
	if r.kind == KindPackage {
		rng, ok, err := rangeAttr(r.attrs, AttrBundleVersion)
		if err != nil {
			return err
		}
		r.bundleVersions, r.hasBundleVersions = rng, ok
	}

	r.resolution = strings.TrimSpace(r.directives[DirectiveResolution])
	switch r.resolution {
	case "":
		r.resolution = ResolutionMandatory
	case ResolutionMandatory, ResolutionOptional:
	case ResolutionDynamic:
		if r.kind != KindPackage {
			return fmt.Errorf("%w: resolution:=dynamic applies to packages only", ErrInvalidDirective)
		}
	default:
		return fmt.Errorf("%w: unknown resolution %q", ErrInvalidDirective, r.resolution)
	}
	return nil
}

func rangeAttr(attrs Attributes, key string) (semver.Range, bool, error) {
	raw, ok := attrs.Get(key)
	if !ok {
		return semver.Range{}, false, nil
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case semver.Version:
		s = v.String()
	default:
		return semver.Range{}, false, fmt.Errorf("%w: %q must be a version range", ErrInvalidAttribute, key)
	}
	rng, err := semver.ParseRange(s)
	if err != nil {
		return semver.Range{}, false, fmt.Errorf("%w: %q: %v", ErrInvalidAttribute, key, err)
	}
	return rng, true, nil
}

// NewPackageRequirement builds a package import. versionRange may be empty.
func NewPackageRequirement(pkg, versionRange string, attrs map[string]any, directives map[string]string) (*Requirement, error) {
	head := []attr{{NamespacePackage, pkg}}
	if versionRange != "" {
		head = append(head, attr{AttrVersion, versionRange})
	}
	return newRequirement(NamespacePackage, head, attrs, directives)
}

// NewHostRequirement builds a fragment's requirement on its host.
func NewHostRequirement(host, versionRange string, directives map[string]string) (*Requirement, error) {
	head := []attr{{NamespaceHost, host}}
	if versionRange != "" {
		head = append(head, attr{AttrBundleVersion, versionRange})
	}
	return newRequirement(NamespaceHost, head, nil, directives)
}

// NewBundleRequirement builds a require-bundle requirement.
func NewBundleRequirement(name, versionRange string, directives map[string]string) (*Requirement, error) {
	head := []attr{{NamespaceBundle, name}}
	if versionRange != "" {
		head = append(head, attr{AttrBundleVersion, versionRange})
	}
	return newRequirement(NamespaceBundle, head, nil, directives)
}

// NewIdentityRequirement builds a requirement on another resource's identity.
func NewIdentityRequirement(name, versionRange string, directives map[string]string) (*Requirement, error) {
	head := []attr{{NamespaceIdentity, name}}
	if versionRange != "" {
		head = append(head, attr{AttrVersion, versionRange})
	}
	return newRequirement(NamespaceIdentity, head, nil, directives)
}

func (r *Requirement) Namespace() string {
	return r.namespace
}

func (r *Requirement) Kind() Kind {
	return r.kind
}

// Resource returns the owning resource, nil for ad-hoc requirements.
func (r *Requirement) Resource() *Resource {
	return r.resource
}

func (r *Requirement) Attribute(key string) (any, bool) {
	return r.attrs.Get(key)
}

// Attributes returns a copy of the attribute map.
func (r *Requirement) Attributes() map[string]any {
	return r.attrs.Map()
}

// Directives returns a copy of the directive map.
func (r *Requirement) Directives() map[string]string {
	return maps.Clone(r.directives)
}

func (r *Requirement) Directive(key string) string {
	return r.directives[key]
}

// Value returns the namespace-key attribute, e.g. the imported package name.
func (r *Requirement) Value() string {
	s, _ := r.attrs.values[r.namespace].(string)
	return s
}

// Filter returns the compiled filter directive, nil if absent.
func (r *Requirement) Filter() *filter.Filter {
	return r.filter
}

// VersionRange returns the declared version range and whether one was declared.
func (r *Requirement) VersionRange() (semver.Range, bool) {
	return r.versions, r.hasVersions
}

// Resolution returns the resolution directive, defaulting to mandatory.
func (r *Requirement) Resolution() string {
	return r.resolution
}

func (r *Requirement) IsOptional() bool {
	return r.resolution == ResolutionOptional
}

func (r *Requirement) IsDynamic() bool {
	return r.resolution == ResolutionDynamic
}

// Effective returns the effective directive, defaulting to resolve.
func (r *Requirement) Effective() string {
	if e := strings.TrimSpace(r.directives[DirectiveEffective]); e != "" {
		return e
	}
	return EffectiveResolve
}

// IsWildcard reports whether a package requirement names a package prefix
// ("com.example.*") or any package ("*").
func (r *Requirement) IsWildcard() bool {
	return r.kind == KindPackage && strings.HasSuffix(r.Value(), "*")
}

func (r *Requirement) String() string {
	owner := "<adhoc>"
	if r.resource != nil {
		owner = r.resource.String()
	}
	s := fmt.Sprintf("%s[%s", owner, r.namespace)
	if v := r.Value(); v != "" {
		s += "=" + v
	}
	if r.hasVersions {
		s += ";" + r.versions.String()
	}
	if r.filter != nil {
		s += ";filter:=" + r.filter.String()
	}
	return s + "]"
}
