package resource

import "strings"

// Matches reports whether c satisfies r. It depends only on the declared
// state of both sides and mutates neither.
//
// Every namespace applies the base rule: equal namespaces, equal
// namespace-key attributes, and the filter directive (if any) holding over
// the capability's attributes. Package, host, identity and bundle
// namespaces add their own checks on top.
func (r *Requirement) Matches(c *Capability) bool {
	if c == nil || r.namespace != c.namespace {
		return false
	}
	if !r.matchesValue(c) {
		return false
	}
	if r.filter != nil && !r.filter.Matches(c.attrs.Map()) {
		return false
	}

	switch r.kind {
	case KindPackage:
		return r.matchesPackage(c)
	case KindHost:
		return r.inVersions(c)
	case KindIdentity, KindBundle:
		if r.resource != nil && r.resource == c.resource {
			return false
		}
		return r.inVersions(c)
	default:
		return true
	}
}

func (r *Requirement) matchesValue(c *Capability) bool {
	want, ok := r.attrs.Get(r.namespace)
	if !ok {
		return false
	}
	have, ok := c.attrs.Get(c.namespace)
	if !ok {
		return false
	}
	if r.kind == KindPackage {
		name, isString := want.(string)
		pkg, isPkg := have.(string)
		if !isString || !isPkg {
			return false
		}
		return packageNameMatches(name, pkg)
	}
	return valuesEqual(want, have)
}

func packageNameMatches(pattern, pkg string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(pkg, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == pkg
	}
}

func (r *Requirement) inVersions(c *Capability) bool {
	return !r.hasVersions || r.versions.Includes(c.version)
}

func (r *Requirement) matchesPackage(c *Capability) bool {
	if !r.inVersions(c) {
		return false
	}

	skip := map[string]bool{
		NamespacePackage:       true,
		AttrVersion:            true,
		AttrBundleSymbolicName: true,
		AttrBundleVersion:      true,
	}
	for _, name := range c.mandatory {
		want, ok := r.attrs.Get(name)
		if !ok {
			return false
		}
		have, ok := c.attrs.Get(name)
		if !ok || !valuesEqual(want, have) {
			return false
		}
		skip[name] = true
	}

	for _, key := range r.attrs.keys {
		if skip[key] {
			continue
		}
		have, ok := c.attrs.Get(key)
		if !ok || !valuesEqual(r.attrs.values[key], have) {
			return false
		}
	}

	_, wantsBSN := r.attrs.Get(AttrBundleSymbolicName)
	if !wantsBSN && !r.hasBundleVersions {
		return true
	}
	provider := c.resource
	if provider == nil || provider.identity == nil {
		return false
	}
	if wantsBSN && !valuesEqual(r.attrs.values[AttrBundleSymbolicName], provider.identity.Value()) {
		return false
	}
	if r.hasBundleVersions && !r.bundleVersions.Includes(provider.identity.version) {
		return false
	}
	return true
}
