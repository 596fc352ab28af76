package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-platform/wiring/internal/graph"
	"github.com/anvil-platform/wiring/internal/resolver"
	"github.com/anvil-platform/wiring/internal/resource"
)

// triggerFlags selects the resources an attempt resolves.
type triggerFlags struct {
	optional []string
	all      bool
}

func (f *triggerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.optional, "optional", nil, "Resources to resolve optionally")
	cmd.Flags().BoolVar(&f.all, "all", false, "Resolve every installed resource optionally")
}

// resolve loads the workspace and runs one attempt for args and f. Without
// arguments the configured triggers are used.
func (f *triggerFlags) resolve(ctx context.Context, root *rootOptions, args []string) (*workspace, *resolver.Result, error) {
	ws, err := root.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	mandatoryRefs, optionalRefs := args, f.optional
	if len(mandatoryRefs) == 0 && len(optionalRefs) == 0 && !f.all {
		mandatoryRefs, optionalRefs = ws.cfg.Triggers.Mandatory, ws.cfg.Triggers.Optional
	}
	mandatory, err := ws.lookup(mandatoryRefs)
	if err != nil {
		return nil, nil, err
	}
	optional, err := ws.lookup(optionalRefs)
	if err != nil {
		return nil, nil, err
	}
	if f.all {
		optional = append(optional, ws.env.Unresolved()...)
	}
	if len(mandatory) == 0 && len(optional) == 0 {
		return nil, nil, fmt.Errorf("nothing to resolve: name resources, use --all or configure triggers")
	}

	opts, err := ws.cfg.ResolverOptions()
	if err != nil {
		return nil, nil, err
	}
	result, err := resolver.New(ws.env, opts...).Resolve(ctx, mandatory, optional)
	if err != nil {
		var rerr *resolver.ResolutionError
		if errors.As(err, &rerr) {
			return nil, nil, fmt.Errorf("resolution failed: %w", err)
		}
		return nil, nil, err
	}
	return ws, result, nil
}

func newResolveCmd(root *rootOptions) *cobra.Command {
	var triggers triggerFlags

	cmd := &cobra.Command{
		Use:   "resolve [RESOURCE...]",
		Short: "Resolve resources and print the resulting wiring",
		Long: `Resolve installs the manifest and resolves the named resources as mandatory
triggers. Resources are named as NAME or NAME@VERSION. Without arguments the
triggers configured in the configuration file are used; --all resolves every
installed resource optionally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, result, err := triggers.resolve(cmd.Context(), root, args)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.output, newResolveReport(result))
		},
	}
	triggers.bind(cmd)
	return cmd
}

func newGraphCmd(root *rootOptions) *cobra.Command {
	var triggers triggerFlags
	var dependents, dependencies []string

	cmd := &cobra.Command{
		Use:   "graph [RESOURCE...]",
		Short: "Resolve resources and print the wiring as a Graphviz graph",
		Long: `Graph resolves like resolve and prints the applied wiring in dot syntax.
--dependents keeps only the named resources and everything that transitively
requires them, the set a refresh of those resources affects; --dependencies
keeps the named resources and everything they transitively require.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := triggers.resolve(cmd.Context(), root, args)
			if err != nil {
				return err
			}
			g := graph.FromWirings(ws.env.Wirings())
			if len(dependents) > 0 || len(dependencies) > 0 {
				var keep []*resource.Resource
				if len(dependents) > 0 {
					roots, err := ws.lookup(dependents)
					if err != nil {
						return err
					}
					keep = append(keep, g.Dependents(roots...)...)
				}
				if len(dependencies) > 0 {
					roots, err := ws.lookup(dependencies)
					if err != nil {
						return err
					}
					keep = append(keep, g.Dependencies(roots...)...)
				}
				g = g.Subgraph(keep)
			}
			return g.WriteDOT(cmd.OutOrStdout())
		},
	}
	triggers.bind(cmd)
	cmd.Flags().StringSliceVar(&dependents, "dependents", nil, "Limit the graph to these resources and their transitive dependents")
	cmd.Flags().StringSliceVar(&dependencies, "dependencies", nil, "Limit the graph to these resources and their transitive dependencies")
	return cmd
}
