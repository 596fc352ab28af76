package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/wiring/internal/resolver"
	"github.com/anvil-platform/wiring/internal/resource"
	"github.com/anvil-platform/wiring/internal/semver"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

type wireReport struct {
	Namespace   string `yaml:"namespace"`
	Requirement string `yaml:"requirement"`
	Provider    string `yaml:"provider"`
	Capability  string `yaml:"capability"`
}

type wiringReport struct {
	Resource string       `yaml:"resource"`
	Wires    []wireReport `yaml:"wires"`
}

type unresolvedReport struct {
	Resource string `yaml:"resource"`
	Reason   string `yaml:"reason"`
}

type resolveReport struct {
	Resolved           []wiringReport     `yaml:"resolved"`
	UnresolvedOptional []unresolvedReport `yaml:"unresolvedOptional,omitempty"`
	Dropped            []unresolvedReport `yaml:"dropped,omitempty"`
}

type capabilityReport struct {
	Provider   string         `yaml:"provider"`
	Value      string         `yaml:"value,omitempty"`
	Version    string         `yaml:"version"`
	Attributes map[string]any `yaml:"attributes,omitempty"`
}

type providersReport struct {
	Requirement string             `yaml:"requirement"`
	Providers   []capabilityReport `yaml:"providers"`
}

func newResolveReport(result *resolver.Result) resolveReport {
	var rep resolveReport
	for r, wires := range result.Wires {
		wr := wiringReport{Resource: r.String(), Wires: []wireReport{}}
		for _, w := range wires {
			wr.Wires = append(wr.Wires, wireReport{
				Namespace:   w.Requirement().Namespace(),
				Requirement: w.Requirement().String(),
				Provider:    w.Provider().String(),
				Capability:  w.Capability().String(),
			})
		}
		rep.Resolved = append(rep.Resolved, wr)
	}
	sort.Slice(rep.Resolved, func(i, j int) bool {
		return rep.Resolved[i].Resource < rep.Resolved[j].Resource
	})
	for _, u := range result.Diagnostics.UnresolvedOptional {
		rep.UnresolvedOptional = append(rep.UnresolvedOptional, unresolvedReport{Resource: u.Resource.String(), Reason: u.Reason})
	}
	for _, u := range result.Diagnostics.Dropped {
		rep.Dropped = append(rep.Dropped, unresolvedReport{Resource: u.Resource.String(), Reason: u.Reason})
	}
	return rep
}

func newProvidersReport(req *resource.Requirement, caps []*resource.Capability) providersReport {
	rep := providersReport{Requirement: req.String(), Providers: []capabilityReport{}}
	for _, c := range caps {
		attrs := make(map[string]any, len(c.Attributes()))
		for k, v := range c.Attributes() {
			attrs[k] = plainValue(v)
		}
		rep.Providers = append(rep.Providers, capabilityReport{
			Provider:   c.Resource().String(),
			Value:      c.Value(),
			Version:    c.Version().String(),
			Attributes: attrs,
		})
	}
	return rep
}

// plainValue turns versions into strings so they encode readably.
func plainValue(v any) any {
	switch t := v.(type) {
	case semver.Version:
		return t.String()
	case []semver.Version:
		out := make([]string, len(t))
		for i, e := range t {
			out[i] = e.String()
		}
		return out
	}
	return v
}

func render(w io.Writer, format string, report any) error {
	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch rep := report.(type) {
	case resolveReport:
		fmt.Fprintln(tw, "RESOURCE\tNAMESPACE\tPROVIDER\tREQUIREMENT")
		for _, r := range rep.Resolved {
			if len(r.Wires) == 0 {
				fmt.Fprintf(tw, "%s\t-\t-\t-\n", r.Resource)
			}
			for _, wire := range r.Wires {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Resource, wire.Namespace, wire.Provider, wire.Requirement)
			}
		}
		for _, u := range rep.UnresolvedOptional {
			fmt.Fprintf(tw, "%s\tunresolved\t-\t%s\n", u.Resource, u.Reason)
		}
		for _, u := range rep.Dropped {
			fmt.Fprintf(tw, "%s\tdropped\t-\t%s\n", u.Resource, u.Reason)
		}
	case providersReport:
		fmt.Fprintf(tw, "# %s\n", rep.Requirement)
		fmt.Fprintln(tw, "RANK\tPROVIDER\tVALUE\tVERSION")
		for i, c := range rep.Providers {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, c.Provider, c.Value, c.Version)
		}
	default:
		return fmt.Errorf("cannot render %T", report)
	}
	return tw.Flush()
}
