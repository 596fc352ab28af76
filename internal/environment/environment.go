package environment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/resource"
	"github.com/anvil-platform/wiring/internal/semver"
)

var (
	// ErrAlreadyInstalled indicates a resource whose identity capability is already indexed.
	ErrAlreadyInstalled = errors.New("resource already installed")
	// ErrNotInstalled indicates a wire map naming a resource the environment does not hold.
	ErrNotInstalled = errors.New("resource not installed")
)

// Option configures an Environment.
type Option func(*Environment)

// WithEffectivePolicy overrides IsEffective.
func WithEffectivePolicy(fn func(*resource.Requirement) bool) Option {
	return func(e *Environment) {
		e.effective = fn
	}
}

// EffectiveResolveOnly accepts requirements whose effective directive is resolve.
func EffectiveResolveOnly(req *resource.Requirement) bool {
	return req.Effective() == resource.EffectiveResolve
}

// Environment is the indexed registry of installed resources and their
// wirings. All operations are serialized by one lock, so a resolve
// algorithm's repeated FindProviders calls observe a consistent index while
// other goroutines install or uninstall.
//
// The Environment indexes resources but does not own them; a resource's
// current-wiring slot is updated here but may be read without the lock.
type Environment struct {
	mu        sync.Mutex
	index     cache.Indexer
	installed map[*resource.Resource]uint64
	next      uint64
	wirings   map[*resource.Resource]*resource.Wiring
	effective func(*resource.Requirement) bool
}

func New(opts ...Option) *Environment {
	e := &Environment{
		index:     newCapabilityIndex(),
		installed: make(map[*resource.Resource]uint64),
		wirings:   make(map[*resource.Resource]*resource.Wiring),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// InstallResources indexes every capability of each resource and assigns it
// the next install-order index. The whole batch is validated before anything
// is indexed.
func (e *Environment) InstallResources(ctx context.Context, resources ...*resource.Resource) error {
	logger := log.FromContext(ctx).WithValues("component", "environment")

	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[*resource.Resource]struct{}, len(resources))
	for _, r := range resources {
		if r == nil {
			return fmt.Errorf("environment: install: %w", resource.ErrNilArgument)
		}
		if !r.IsImmutable() {
			return fmt.Errorf("environment: install %s: %w", r, resource.ErrNotBuilt)
		}
		if _, dup := seen[r]; dup || e.identityIndexed(r) {
			return fmt.Errorf("environment: install %s: %w", r, ErrAlreadyInstalled)
		}
		seen[r] = struct{}{}
	}

	for _, r := range resources {
		for _, c := range r.Capabilities("") {
			if err := e.index.Add(c); err != nil {
				e.removeLocked(r)
				return fmt.Errorf("environment: index %s: %w", c, err)
			}
		}
		e.next++
		e.installed[r] = e.next
		environmentInstalledResources.Inc()
		logger.V(1).Info("installed resource", "resource", r.String(), "installIndex", e.next, "type", r.Type())
	}
	return nil
}

func (e *Environment) identityIndexed(r *resource.Resource) bool {
	key, err := capabilityStoreKey(r.Identity())
	if err != nil {
		return false
	}
	_, exists, _ := e.index.GetByKey(key)
	return exists
}

// UninstallResources removes resources, their capabilities and their
// wirings, and drops the wires they required from their providers.
// Resources that are not installed are ignored.
func (e *Environment) UninstallResources(ctx context.Context, resources ...*resource.Resource) {
	logger := log.FromContext(ctx).WithValues("component", "environment")

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range resources {
		if r == nil {
			continue
		}
		if _, ok := e.installed[r]; !ok {
			continue
		}
		e.removeLocked(r)
		environmentInstalledResources.Dec()
		logger.V(1).Info("uninstalled resource", "resource", r.String())
	}
}

func (e *Environment) removeLocked(r *resource.Resource) {
	for _, c := range r.Capabilities("") {
		_ = e.index.Delete(c)
	}
	delete(e.installed, r)
	if w := e.wirings[r]; w != nil {
		e.detachLocked(r, w)
	}
	delete(e.wirings, r)
	r.SwapCurrentWiring(nil)
}

// detachLocked removes the wires r required through prev from its
// providers' current wirings. A provider that loses wires gets a rebuilt
// wiring, so earlier snapshots keep their wire lists.
func (e *Environment) detachLocked(r *resource.Resource, prev *resource.Wiring) {
	var providers []*resource.Resource
	seen := make(map[*resource.Resource]bool)
	for _, wire := range prev.RequiredWires("") {
		p := wire.Provider()
		if p == r || seen[p] {
			continue
		}
		seen[p] = true
		providers = append(providers, p)
	}
	for _, p := range providers {
		pw := e.wirings[p]
		if pw == nil {
			continue
		}
		all := pw.ProvidedWires("")
		keep := slices.DeleteFunc(slices.Clone(all), func(w *resource.Wire) bool {
			return w.Requirer() == r
		})
		if len(keep) == len(all) {
			continue
		}
		nw, err := rebuildWiring(p, pw.RequiredWires(""), keep)
		if err != nil {
			continue
		}
		e.wirings[p] = nw
		p.SwapCurrentWiring(nw)
	}
}

func rebuildWiring(r *resource.Resource, required, provided []*resource.Wire) (*resource.Wiring, error) {
	w, err := resource.NewWiring(r, required)
	if err != nil {
		return nil, err
	}
	for _, wire := range provided {
		if err := w.AddProvidedWire(wire); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// RefreshResources drops the cached wirings of resources, and the wires they
// required from their providers, so they resolve again; the resources stay
// installed.
func (e *Environment) RefreshResources(ctx context.Context, resources ...*resource.Resource) {
	logger := log.FromContext(ctx).WithValues("component", "environment")

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range resources {
		if r == nil {
			continue
		}
		w, ok := e.wirings[r]
		if !ok {
			continue
		}
		e.detachLocked(r, w)
		delete(e.wirings, r)
		r.SwapCurrentWiring(nil)
		logger.V(1).Info("refreshed resource", "resource", r.String())
	}
}

// IsInstalled reports whether r is installed.
func (e *Environment) IsInstalled(r *resource.Resource) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.installed[r]
	return ok
}

// InstallIndex returns the install-order index of r.
func (e *Environment) InstallIndex(r *resource.Resource) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.installed[r]
	return idx, ok
}

// Resources returns installed resources in install order.
func (e *Environment) Resources() []*resource.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*resource.Resource, 0, len(e.installed))
	for r := range e.installed {
		out = append(out, r)
	}
	e.sortByInstall(out)
	return out
}

// ResourcesOfType returns installed resources whose identity type is typ,
// in install order.
func (e *Environment) ResourcesOfType(typ string) []*resource.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	objs, err := e.index.ByIndex(indexType, typ)
	if err != nil {
		return nil
	}
	out := make([]*resource.Resource, 0, len(objs))
	for _, c := range capabilities(objs) {
		out = append(out, c.Resource())
	}
	e.sortByInstall(out)
	return out
}

// Unresolved returns installed resources without a wiring, in install order.
func (e *Environment) Unresolved() []*resource.Resource {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*resource.Resource, 0, len(e.installed))
	for r := range e.installed {
		if _, wired := e.wirings[r]; !wired {
			out = append(out, r)
		}
	}
	e.sortByInstall(out)
	return out
}

// Wiring returns r's wiring, nil when r is unresolved.
func (e *Environment) Wiring(r *resource.Resource) *resource.Wiring {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wirings[r]
}

// Wirings returns a snapshot of every wiring.
func (e *Environment) Wirings() map[*resource.Resource]*resource.Wiring {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[*resource.Resource]*resource.Wiring, len(e.wirings))
	for r, w := range e.wirings {
		out[r] = w
	}
	return out
}

// IsEffective reports whether req takes part in resolution. Every
// requirement does unless a policy was set with WithEffectivePolicy.
func (e *Environment) IsEffective(req *resource.Requirement) bool {
	if e.effective == nil {
		return true
	}
	return e.effective(req)
}

// FindProviders returns the capabilities matching req in preference order:
// wired providers first, then higher package versions, then earlier
// installs. When ctx carries an active hook session, its hooks may shrink
// the result.
func (e *Environment) FindProviders(ctx context.Context, req *resource.Requirement) ([]*resource.Capability, error) {
	if req == nil {
		return nil, fmt.Errorf("environment: find providers: %w", resource.ErrNilArgument)
	}
	environmentFindProvidersTotal.Inc()

	e.mu.Lock()
	found := e.findProvidersLocked(req)
	e.mu.Unlock()

	session := hooks.FromContext(ctx)
	if session == nil {
		return found, nil
	}
	matches := hooks.NewRemoveOnlySet(found)
	if err := session.FilterMatches(ctx, req, matches); err != nil {
		return nil, err
	}
	return matches.Items(), nil
}

func (e *Environment) findProvidersLocked(req *resource.Requirement) []*resource.Capability {
	var (
		objs []interface{}
		err  error
	)
	key, keyed := RequirementKey(req)
	if req.IsWildcard() || !keyed {
		objs, err = e.index.ByIndex(indexNamespace, req.Namespace())
	} else {
		objs, err = e.index.ByIndex(indexCacheKey, key.String())
	}
	if err != nil {
		return nil
	}

	out := make([]*resource.Capability, 0, len(objs))
	for _, c := range capabilities(objs) {
		if !req.Matches(c) {
			continue
		}
		owner := c.Resource()
		wiring := e.wirings[owner]
		if wiring != nil && c.Kind() == resource.KindPackage && substituted(wiring, c) {
			continue
		}
		if wiring == nil && owner.IsFragment() && !e.hostAvailableLocked(owner) {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, e.compareLocked)
	return out
}

// substituted reports whether the owner of c imports a package of the same
// name from another provider instead of using its own export.
func substituted(w *resource.Wiring, c *resource.Capability) bool {
	for _, wire := range w.RequiredWires(resource.NamespacePackage) {
		if wire.Provider() != c.Resource() && wire.Capability().Value() == c.Value() {
			return true
		}
	}
	return false
}

// hostAvailableLocked reports whether an unwired fragment can still attach:
// some host matching one of its host requirements is unresolved.
func (e *Environment) hostAvailableLocked(fragment *resource.Resource) bool {
	for _, hostReq := range fragment.Requirements(resource.NamespaceHost) {
		key, ok := RequirementKey(hostReq)
		if !ok {
			continue
		}
		objs, err := e.index.ByIndex(indexCacheKey, key.String())
		if err != nil {
			continue
		}
		for _, c := range capabilities(objs) {
			if !hostReq.Matches(c) {
				continue
			}
			if _, wired := e.wirings[c.Resource()]; !wired {
				return true
			}
		}
	}
	return false
}

func (e *Environment) compareLocked(a, b *resource.Capability) int {
	_, aWired := e.wirings[a.Resource()]
	_, bWired := e.wirings[b.Resource()]
	if aWired != bWired {
		if aWired {
			return -1
		}
		return 1
	}
	if a.Kind() == resource.KindPackage && b.Kind() == resource.KindPackage {
		if c := semver.Compare(b.Version(), a.Version()); c != 0 {
			return c
		}
	}
	ai, bi := e.installed[a.Resource()], e.installed[b.Resource()]
	switch {
	case ai < bi:
		return -1
	case ai > bi:
		return 1
	}
	return a.Ordinal() - b.Ordinal()
}

func (e *Environment) sortByInstall(rs []*resource.Resource) {
	sort.Slice(rs, func(i, j int) bool {
		return e.installed[rs[i]] < e.installed[rs[j]]
	})
}

// SingletonCollisions returns the singleton identity capabilities of other
// installed resources sharing identity's symbolic name, in install order.
func (e *Environment) SingletonCollisions(identity *resource.Capability) []*resource.Capability {
	if identity == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	objs, err := e.index.ByIndex(indexCacheKey, CapabilityKey(identity).String())
	if err != nil {
		return nil
	}
	var out []*resource.Capability
	for _, c := range capabilities(objs) {
		if c == identity || c.Resource() == identity.Resource() || !c.Singleton() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return e.installed[out[i].Resource()] < e.installed[out[j].Resource()]
	})
	return out
}

// UpdateWiring applies a wire map produced by a resolve algorithm. Each
// requirer gets a wiring with exactly its wires as required wires (keeping
// wires it already provided to others), its previous required wires are
// removed from their providers, and each new wire is appended to its
// provider's wiring. Every touched wiring becomes its resource's current wiring and is
// returned. The map is validated before anything changes.
func (e *Environment) UpdateWiring(ctx context.Context, wireMap map[*resource.Resource][]*resource.Wire) (map[*resource.Resource]*resource.Wiring, error) {
	logger := log.FromContext(ctx).WithValues("component", "environment")

	e.mu.Lock()
	defer e.mu.Unlock()

	requirers := make([]*resource.Resource, 0, len(wireMap))
	for r, wires := range wireMap {
		if _, ok := e.installed[r]; !ok {
			return nil, fmt.Errorf("environment: update wiring %s: %w", r, ErrNotInstalled)
		}
		for _, wire := range wires {
			if wire == nil {
				return nil, fmt.Errorf("environment: update wiring %s: %w", r, resource.ErrNilArgument)
			}
			if wire.Requirer() != r {
				return nil, fmt.Errorf("environment: update wiring %s: wire %s: %w", r, wire, resource.ErrWireMismatch)
			}
			if _, ok := e.installed[wire.Provider()]; !ok {
				return nil, fmt.Errorf("environment: update wiring %s: provider %s: %w", r, wire.Provider(), ErrNotInstalled)
			}
		}
		requirers = append(requirers, r)
	}
	e.sortByInstall(requirers)

	for _, r := range requirers {
		if prev := e.wirings[r]; prev != nil {
			e.detachLocked(r, prev)
		}
	}

	touched := make(map[*resource.Resource]*resource.Wiring, len(wireMap))
	for _, r := range requirers {
		w, err := resource.NewWiring(r, wireMap[r])
		if err != nil {
			return nil, fmt.Errorf("environment: update wiring: %w", err)
		}
		if prev := e.wirings[r]; prev != nil {
			for _, wire := range prev.ProvidedWires("") {
				if wire.Requirer() == r {
					continue
				}
				if err := w.AddProvidedWire(wire); err != nil {
					return nil, fmt.Errorf("environment: update wiring: %w", err)
				}
			}
		}
		touched[r] = w
	}

	for _, r := range requirers {
		for _, wire := range wireMap[r] {
			p := wire.Provider()
			pw := touched[p]
			if pw == nil {
				pw = e.wirings[p]
			}
			if pw == nil {
				var err error
				if pw, err = resource.NewWiring(p, nil); err != nil {
					return nil, fmt.Errorf("environment: update wiring: %w", err)
				}
			}
			touched[p] = pw
			if err := pw.AddProvidedWire(wire); err != nil {
				return nil, fmt.Errorf("environment: update wiring: %w", err)
			}
		}
	}

	for r, w := range touched {
		e.wirings[r] = w
		r.SwapCurrentWiring(w)
	}
	environmentWiringUpdatesTotal.Add(float64(len(touched)))
	logger.V(1).Info("updated wirings", "requirers", len(requirers), "touched", len(touched))

	out := make(map[*resource.Resource]*resource.Wiring, len(touched))
	for r, w := range touched {
		out[r] = w
	}
	return out, nil
}
