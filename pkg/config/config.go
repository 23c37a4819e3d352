// Package config defines the core's configuration surface: source/sink
// point sets, reconstruction depths, and input/output paths, loadable from
// an optional YAML file and layered under CLI flag overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/m-lab/latrace/pkg/journey"
	"github.com/m-lab/latrace/pkg/topology"
)

// Config is the full configuration surface consumed by the core pipeline.
type Config struct {
	SourcesDownlink []string `yaml:"sources_downlink"`
	SinksDownlink   []string `yaml:"sinks_downlink"`
	SourcesUplink   []string `yaml:"sources_uplink"`
	SinksUplink     []string `yaml:"sinks_uplink"`

	ForwardDepth int `yaml:"forward_depth"`
	ForkDepth    int `yaml:"fork_depth"`

	InputPath     string `yaml:"input_path"`
	OutputPath    string `yaml:"output_path"`
	JSON          bool   `yaml:"json"`
	CacheDir      string `yaml:"cache_dir"`
	CacheDisabled bool   `yaml:"cache_disabled"`
}

// Default returns the configuration with every field at its spec-defined
// default. Source/sink sets are left empty here; topology.Build supplies
// its own hard-coded defaults when a direction's set is empty, so an empty
// Config still produces a working topology.
func Default() Config {
	return Config{
		ForwardDepth: journey.DefaultForwardDepth,
		ForkDepth:    journey.DefaultForkDepth,
		CacheDir:     ".latrace-cache",
	}
}

// Topology extracts the subset of Config that topology.Build consumes.
func (c Config) Topology() topology.Config {
	return topology.Config{
		SourcesDownlink: c.SourcesDownlink,
		SinksDownlink:   c.SinksDownlink,
		SourcesUplink:   c.SourcesUplink,
		SinksUplink:     c.SinksUplink,
	}
}

// Journey extracts the subset of Config that journey.Reconstruct consumes.
func (c Config) Journey() journey.Config {
	return journey.Config{
		ForwardDepth: c.ForwardDepth,
		ForkDepth:    c.ForkDepth,
	}
}

// Load builds a Config by layering, lowest precedence first: built-in
// defaults, an optional YAML file at path (skipped entirely if path is
// empty), then overrides (as populated from CLI flags by the caller, one
// field at a time — zero-valued override fields leave the YAML/default
// value in place).
func Load(path string, overrides Config) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyOverrides(&cfg, overrides)

	return cfg, nil
}

// applyOverrides copies every non-zero-valued field of o onto cfg.
func applyOverrides(cfg *Config, o Config) {
	if len(o.SourcesDownlink) > 0 {
		cfg.SourcesDownlink = o.SourcesDownlink
	}
	if len(o.SinksDownlink) > 0 {
		cfg.SinksDownlink = o.SinksDownlink
	}
	if len(o.SourcesUplink) > 0 {
		cfg.SourcesUplink = o.SourcesUplink
	}
	if len(o.SinksUplink) > 0 {
		cfg.SinksUplink = o.SinksUplink
	}
	if o.ForwardDepth > 0 {
		cfg.ForwardDepth = o.ForwardDepth
	}
	if o.ForkDepth > 0 {
		cfg.ForkDepth = o.ForkDepth
	}
	if o.InputPath != "" {
		cfg.InputPath = o.InputPath
	}
	if o.OutputPath != "" {
		cfg.OutputPath = o.OutputPath
	}
	if o.JSON {
		cfg.JSON = o.JSON
	}
	if o.CacheDir != "" {
		cfg.CacheDir = o.CacheDir
	}
	if o.CacheDisabled {
		cfg.CacheDisabled = o.CacheDisabled
	}
}
