package resource

// Well-known namespaces.
const (
	NamespaceIdentity = "osgi.identity"
	NamespacePackage  = "osgi.wiring.package"
	NamespaceHost     = "osgi.wiring.host"
	NamespaceBundle   = "osgi.wiring.bundle"
)

// Attribute keys with special meaning.
const (
	AttrVersion            = "version"
	AttrBundleVersion      = "bundle-version"
	AttrBundleSymbolicName = "bundle-symbolic-name"
	AttrType               = "type"
)

// Identity types.
const (
	TypeBundle   = "osgi.bundle"
	TypeFragment = "osgi.fragment"
)

// Directive keys.
const (
	DirectiveFilter     = "filter"
	DirectiveResolution = "resolution"
	DirectiveEffective  = "effective"
	DirectiveMandatory  = "mandatory"
	DirectiveSingleton  = "singleton"
)

// Resolution directive values.
const (
	ResolutionMandatory = "mandatory"
	ResolutionOptional  = "optional"
	ResolutionDynamic   = "dynamic"
)

// EffectiveResolve is the default effective directive value.
const EffectiveResolve = "resolve"

// Kind selects the matching rule applied to a namespace.
type Kind int

const (
	KindGeneric Kind = iota
	KindIdentity
	KindPackage
	KindHost
	KindBundle
)

func (k Kind) String() string {
	switch k {
	case KindIdentity:
		return "identity"
	case KindPackage:
		return "package"
	case KindHost:
		return "host"
	case KindBundle:
		return "bundle"
	default:
		return "generic"
	}
}

// KindOf returns the matching kind for namespace.
func KindOf(namespace string) Kind {
	switch namespace {
	case NamespaceIdentity:
		return KindIdentity
	case NamespacePackage:
		return KindPackage
	case NamespaceHost:
		return KindHost
	case NamespaceBundle:
		return KindBundle
	default:
		return KindGeneric
	}
}

// versionKey is the attribute holding the version a capability of kind k
// advertises, and the range a requirement of kind k constrains.
func (k Kind) versionKey() string {
	switch k {
	case KindHost, KindBundle:
		return AttrBundleVersion
	case KindIdentity, KindPackage:
		return AttrVersion
	default:
		return ""
	}
}
