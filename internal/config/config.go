// Package config loads the wirectl configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/anvil-platform/wiring/internal/environment"
	"github.com/anvil-platform/wiring/internal/hooks"
	"github.com/anvil-platform/wiring/internal/hooks/policy"
	"github.com/anvil-platform/wiring/internal/resolver"
)

const defaultConfigYAML = `# wirectl configuration
version: 1

resolver:
  # Add every unwired bundle as an optional trigger when a trigger has an
  # optional package import.
  optionalHostExpansion: true
  # Skip requirements whose effective directive is not "resolve".
  effectiveResolveOnly: false

# Resources resolved when no names are given on the command line.
triggers:
  mandatory: []
  optional: []

# Resolver hooks. Each rule is an expr (default) or cel expression; a rule
# that evaluates to true removes the element it is evaluated for.
policies: []
#  - name: no-legacy
#    rank: 10
#    engine: expr
#    denyResolvable: 'resource.name startsWith "legacy."'
#    denyMatch: 'capability.provider.name == "untrusted"'
#    allowSingleton: 'false'
`

// ResolverConfig tunes resolution attempts.
type ResolverConfig struct {
	OptionalHostExpansion *bool `yaml:"optionalHostExpansion,omitempty"`
	EffectiveResolveOnly  bool  `yaml:"effectiveResolveOnly,omitempty"`
}

// Triggers names the resources resolved by default, as "name" or
// "name@version".
type Triggers struct {
	Mandatory []string `yaml:"mandatory,omitempty"`
	Optional  []string `yaml:"optional,omitempty"`
}

// Policy configures one expression-driven resolver hook.
type Policy struct {
	Name           string `yaml:"name"`
	Rank           int    `yaml:"rank,omitempty"`
	Engine         string `yaml:"engine,omitempty"`
	DenyResolvable string `yaml:"denyResolvable,omitempty"`
	DenyMatch      string `yaml:"denyMatch,omitempty"`
	AllowSingleton string `yaml:"allowSingleton,omitempty"`
}

// Config models the wirectl configuration file.
type Config struct {
	Version  int            `yaml:"version"`
	Resolver ResolverConfig `yaml:"resolver"`
	Triggers Triggers       `yaml:"triggers"`
	Policies []Policy       `yaml:"policies"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		panic(fmt.Sprintf("config: default configuration is invalid: %v", err))
	}
	return cfg
}

// DefaultYAML returns the commented default configuration file.
func DefaultYAML() string {
	return defaultConfigYAML
}

// Parse decodes and validates a configuration, filling unset fields from
// the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads path, or returns the defaults when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks policy names and engines.
func (c Config) Validate() error {
	var errs []error
	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("unsupported version %d", c.Version))
	}
	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("policies[%d]: name is required", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Errorf("policies[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if _, err := policy.ParseEngine(p.Engine); err != nil {
			errs = append(errs, fmt.Errorf("policies[%d] %s: %w", i, name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// EnvironmentOptions returns the environment options the configuration
// selects.
func (c Config) EnvironmentOptions() []environment.Option {
	var opts []environment.Option
	if c.Resolver.EffectiveResolveOnly {
		opts = append(opts, environment.WithEffectivePolicy(environment.EffectiveResolveOnly))
	}
	return opts
}

// ResolverOptions compiles the configured policies into a hook registry
// and returns the resolver options that use it.
func (c Config) ResolverOptions() ([]resolver.Option, error) {
	reg := hooks.NewRegistry()
	for _, p := range c.Policies {
		engine, err := policy.ParseEngine(p.Engine)
		if err != nil {
			return nil, fmt.Errorf("config: policy %s: %w", p.Name, err)
		}
		compiled, err := policy.New(p.Name,
			policy.WithEngine(engine),
			policy.WithRank(p.Rank),
			policy.DenyResolvable(p.DenyResolvable),
			policy.DenyMatch(p.DenyMatch),
			policy.AllowSingleton(p.AllowSingleton),
		)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		compiled.Register(reg)
	}
	opts := []resolver.Option{resolver.WithHooks(reg)}
	if c.Resolver.OptionalHostExpansion != nil {
		opts = append(opts, resolver.WithOptionalHostExpansion(*c.Resolver.OptionalHostExpansion))
	}
	return opts, nil
}
