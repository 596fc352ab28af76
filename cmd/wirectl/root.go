package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/anvil-platform/wiring/internal/config"
	"github.com/anvil-platform/wiring/internal/environment"
	"github.com/anvil-platform/wiring/internal/manifest"
	"github.com/anvil-platform/wiring/internal/resource"
)

type rootOptions struct {
	manifestPath string
	configPath   string
	output       string
	zap          zap.Options
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:           "wirectl",
		Short:         "Resolve resource manifests and inspect their wiring",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case outputText, outputYAML:
			default:
				return fmt.Errorf("unknown output format %q (want %s or %s)", opts.output, outputText, outputYAML)
			}
			logger := zap.New(zap.UseFlagOptions(&opts.zap), zap.WriteTo(cmd.ErrOrStderr()))
			ctrl.SetLogger(logger)
			cmd.SetContext(log.IntoContext(cmd.Context(), logger))
			return nil
		},
	}

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(zapFlags)
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)
	cmd.PersistentFlags().StringVarP(&opts.manifestPath, "manifest", "m", "", "Resource manifest to install (required)")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "wirectl configuration file")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputText, "Output format: text or yaml")

	cmd.AddCommand(newResolveCmd(opts))
	cmd.AddCommand(newProvidersCmd(opts))
	cmd.AddCommand(newGraphCmd(opts))
	cmd.AddCommand(newConfigCmd())
	return cmd
}

// workspace is an environment populated from the manifest.
type workspace struct {
	cfg       config.Config
	env       *environment.Environment
	resources []*resource.Resource
}

func (o *rootOptions) load(ctx context.Context) (*workspace, error) {
	if o.manifestPath == "" {
		return nil, fmt.Errorf("--manifest is required")
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	m, err := manifest.LoadFile(o.manifestPath)
	if err != nil {
		return nil, err
	}
	resources, err := m.Build()
	if err != nil {
		return nil, err
	}
	env := environment.New(cfg.EnvironmentOptions()...)
	if err := env.InstallResources(ctx, resources...); err != nil {
		return nil, err
	}
	log.FromContext(ctx).V(1).Info("manifest installed", "path", o.manifestPath, "resources", len(resources))
	return &workspace{cfg: cfg, env: env, resources: resources}, nil
}

// lookup resolves "name" or "name@version" references against the installed
// resources. A bare name selects every version.
func (w *workspace) lookup(refs []string) ([]*resource.Resource, error) {
	var out []*resource.Resource
	for _, ref := range refs {
		name, version, pinned := strings.Cut(strings.TrimSpace(ref), "@")
		found := false
		for _, r := range w.resources {
			if r.SymbolicName() != name {
				continue
			}
			if pinned && r.Version().String() != version {
				continue
			}
			out = append(out, r)
			found = true
		}
		if !found {
			return nil, fmt.Errorf("no installed resource matches %q", ref)
		}
	}
	return out, nil
}
