package resource

import (
	"errors"
	"maps"
)

// Builder assembles a Resource with namespace-specific constructors. The
// first construction error is kept and returned by Build; later calls are
// still recorded so every problem is reported together.
type Builder struct {
	r    *Resource
	errs []error
}

func NewBuilder() *Builder {
	return &Builder{r: New()}
}

func (b *Builder) record(err error) *Builder {
	if err != nil {
		b.errs = append(b.errs, err)
	}
	return b
}

func (b *Builder) addCapability(c *Capability, err error) *Builder {
	if err != nil {
		return b.record(err)
	}
	return b.record(b.r.AddCapability(c))
}

func (b *Builder) addRequirement(req *Requirement, err error) *Builder {
	if err != nil {
		return b.record(err)
	}
	return b.record(b.r.AddRequirement(req))
}

// Identity adds the identity capability.
func (b *Builder) Identity(name, version, typ string, attrs map[string]any, directives map[string]string) *Builder {
	return b.addCapability(NewIdentityCapability(name, version, typ, attrs, directives))
}

// Bundle adds an osgi.bundle identity plus the host and bundle capabilities
// fragments and require-bundle requirements match against.
func (b *Builder) Bundle(name, version string) *Builder {
	b.Identity(name, version, TypeBundle, nil, nil)
	b.addCapability(NewHostCapability(name, version, nil, nil))
	return b.addCapability(NewBundleCapability(name, version, nil, nil))
}

// Singleton is Bundle with the identity marked singleton.
func (b *Builder) Singleton(name, version string) *Builder {
	b.Identity(name, version, TypeBundle, nil, map[string]string{DirectiveSingleton: "true"})
	b.addCapability(NewHostCapability(name, version, nil, nil))
	return b.addCapability(NewBundleCapability(name, version, nil, nil))
}

// Fragment adds an osgi.fragment identity and its host requirement.
func (b *Builder) Fragment(name, version, host, hostRange string) *Builder {
	b.Identity(name, version, TypeFragment, nil, nil)
	return b.addRequirement(NewHostRequirement(host, hostRange, nil))
}

func (b *Builder) ExportPackage(pkg, version string, attrs map[string]any, directives map[string]string) *Builder {
	return b.addCapability(NewPackageCapability(pkg, version, attrs, directives))
}

func (b *Builder) ImportPackage(pkg, versionRange string, attrs map[string]any, directives map[string]string) *Builder {
	return b.addRequirement(NewPackageRequirement(pkg, versionRange, attrs, directives))
}

// OptionalImport imports pkg with resolution:=optional.
func (b *Builder) OptionalImport(pkg, versionRange string) *Builder {
	return b.ImportPackage(pkg, versionRange, nil, map[string]string{DirectiveResolution: ResolutionOptional})
}

// DynamicImport adds a dynamic package requirement; pkg may be a wildcard.
func (b *Builder) DynamicImport(pkg string) *Builder {
	return b.ImportPackage(pkg, "", nil, map[string]string{DirectiveResolution: ResolutionDynamic})
}

func (b *Builder) RequireBundle(name, versionRange string, directives map[string]string) *Builder {
	return b.addRequirement(NewBundleRequirement(name, versionRange, directives))
}

func (b *Builder) RequireIdentity(name, versionRange string, directives map[string]string) *Builder {
	return b.addRequirement(NewIdentityRequirement(name, versionRange, directives))
}

// Provide adds a capability in an arbitrary namespace.
func (b *Builder) Provide(namespace string, attrs map[string]any, directives map[string]string) *Builder {
	return b.addCapability(NewCapability(namespace, maps.Clone(attrs), directives))
}

// Require adds a requirement in an arbitrary namespace.
func (b *Builder) Require(namespace string, attrs map[string]any, directives map[string]string) *Builder {
	return b.addRequirement(NewRequirement(namespace, maps.Clone(attrs), directives))
}

// Build seals and returns the resource.
func (b *Builder) Build() (*Resource, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if err := b.r.MakeImmutable(); err != nil {
		return nil, err
	}
	return b.r, nil
}

// MustBuild is Build for static fixtures; it panics on error.
func (b *Builder) MustBuild() *Resource {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}
