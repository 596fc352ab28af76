package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anvil-platform/wiring/internal/resource"
)

func newProvidersCmd(root *rootOptions) *cobra.Command {
	var versionRange, filterExpr string

	cmd := &cobra.Command{
		Use:   "providers NAMESPACE [VALUE]",
		Short: "List matching capabilities in preference order",
		Long: `Providers builds an ad-hoc requirement and prints the capabilities that
satisfy it, most preferred first. VALUE names the package, bundle or identity
for the well-known namespaces and is omitted for generic ones, which are
matched by --filter alone.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := root.load(ctx)
			if err != nil {
				return err
			}
			req, err := adhocRequirement(args, versionRange, filterExpr)
			if err != nil {
				return err
			}
			caps, err := ws.env.FindProviders(ctx, req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.output, newProvidersReport(req, caps))
		},
	}
	cmd.Flags().StringVar(&versionRange, "range", "", "Version range the provider must fall in")
	cmd.Flags().StringVar(&filterExpr, "filter", "", "LDAP filter applied to capability attributes")
	return cmd
}

func adhocRequirement(args []string, versionRange, filterExpr string) (*resource.Requirement, error) {
	namespace := args[0]
	attrs := map[string]any{}
	if len(args) == 2 {
		attrs[namespace] = args[1]
	}
	if versionRange != "" {
		switch resource.KindOf(namespace) {
		case resource.KindHost, resource.KindBundle:
			attrs[resource.AttrBundleVersion] = versionRange
		case resource.KindGeneric:
			return nil, fmt.Errorf("--range does not apply to generic namespace %s; use --filter", namespace)
		default:
			attrs[resource.AttrVersion] = versionRange
		}
	}
	var directives map[string]string
	if filterExpr != "" {
		directives = map[string]string{resource.DirectiveFilter: filterExpr}
	}
	return resource.NewRequirement(namespace, attrs, directives)
}
