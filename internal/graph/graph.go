// Package graph models resolved wirings as a dependency graph between
// resources, for closure queries and rendering.
package graph

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/wiring/internal/resource"
)

// Edge is one wire: Requirer depends on Provider in Namespace.
type Edge struct {
	Requirer  *resource.Resource
	Provider  *resource.Resource
	Namespace string
	Value     string
}

// DependencyGraph holds the resources of a set of wirings and the wires
// between them.
type DependencyGraph struct {
	nodes []*resource.Resource
	edges []Edge

	requires map[*resource.Resource][]Edge
	provides map[*resource.Resource][]Edge
}

// FromWirings builds a graph over the required wires of wirings. Providers
// outside wirings are added as nodes too.
func FromWirings(wirings map[*resource.Resource]*resource.Wiring) *DependencyGraph {
	g := &DependencyGraph{
		requires: make(map[*resource.Resource][]Edge),
		provides: make(map[*resource.Resource][]Edge),
	}
	seen := sets.New[*resource.Resource]()
	add := func(r *resource.Resource) {
		if r != nil && !seen.Has(r) {
			seen.Insert(r)
			g.nodes = append(g.nodes, r)
		}
	}
	for r, w := range wirings {
		add(r)
		if w == nil {
			continue
		}
		for _, wire := range w.RequiredWires("") {
			e := Edge{
				Requirer:  wire.Requirer(),
				Provider:  wire.Provider(),
				Namespace: wire.Capability().Namespace(),
				Value:     wire.Capability().Value(),
			}
			add(e.Provider)
			g.edges = append(g.edges, e)
			g.requires[e.Requirer] = append(g.requires[e.Requirer], e)
			g.provides[e.Provider] = append(g.provides[e.Provider], e)
		}
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i].String() < g.nodes[j].String() })
	sort.SliceStable(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.Requirer != b.Requirer {
			return a.Requirer.String() < b.Requirer.String()
		}
		return a.Provider.String() < b.Provider.String()
	})
	return g
}

func (g *DependencyGraph) Nodes() []*resource.Resource {
	return append([]*resource.Resource(nil), g.nodes...)
}

func (g *DependencyGraph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Dependencies returns every resource reachable from roots over required
// wires, roots included.
func (g *DependencyGraph) Dependencies(roots ...*resource.Resource) []*resource.Resource {
	return g.closure(roots, func(r *resource.Resource) []*resource.Resource {
		out := make([]*resource.Resource, 0, len(g.requires[r]))
		for _, e := range g.requires[r] {
			out = append(out, e.Provider)
		}
		return out
	})
}

// Dependents returns every resource that transitively requires one of
// roots, roots included. This is the set a refresh of roots affects.
func (g *DependencyGraph) Dependents(roots ...*resource.Resource) []*resource.Resource {
	return g.closure(roots, func(r *resource.Resource) []*resource.Resource {
		out := make([]*resource.Resource, 0, len(g.provides[r]))
		for _, e := range g.provides[r] {
			out = append(out, e.Requirer)
		}
		return out
	})
}

func (g *DependencyGraph) closure(roots []*resource.Resource, next func(*resource.Resource) []*resource.Resource) []*resource.Resource {
	visited := sets.New[*resource.Resource]()
	var out []*resource.Resource
	queue := append([]*resource.Resource(nil), roots...)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if r == nil || visited.Has(r) {
			continue
		}
		visited.Insert(r)
		out = append(out, r)
		queue = append(queue, next(r)...)
	}
	return out
}

// Subgraph returns the graph restricted to keep and the edges between them.
func (g *DependencyGraph) Subgraph(keep []*resource.Resource) *DependencyGraph {
	in := sets.New(keep...)
	sub := &DependencyGraph{
		requires: make(map[*resource.Resource][]Edge),
		provides: make(map[*resource.Resource][]Edge),
	}
	for _, n := range g.nodes {
		if in.Has(n) {
			sub.nodes = append(sub.nodes, n)
		}
	}
	for _, e := range g.edges {
		if !in.Has(e.Requirer) || !in.Has(e.Provider) {
			continue
		}
		sub.edges = append(sub.edges, e)
		sub.requires[e.Requirer] = append(sub.requires[e.Requirer], e)
		sub.provides[e.Provider] = append(sub.provides[e.Provider], e)
	}
	return sub
}

// WriteDOT renders the graph in Graphviz dot syntax.
func (g *DependencyGraph) WriteDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph wiring {\n")
	for _, n := range g.nodes {
		shape := "box"
		if n.IsFragment() {
			shape = "note"
		}
		fmt.Fprintf(&b, "  %q [shape=%s];\n", n.String(), shape)
	}
	for _, e := range g.edges {
		label := e.Namespace
		if e.Value != "" {
			label += "\\n" + e.Value
		}
		fmt.Fprintf(&b, "  %q -> %q [label=\"%s\"];\n", e.Requirer.String(), e.Provider.String(), label)
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
