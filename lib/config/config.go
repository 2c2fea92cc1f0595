// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matrix-foundation/mcpb/lib/extract"
	"github.com/matrix-foundation/mcpb/lib/probe"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "MCPB_CONFIG"

// Config is the master configuration for mcpb.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Extract bounds archive extraction.
	Extract ExtractConfig `yaml:"extract"`

	// Probe configures health probing.
	Probe ProbeConfig `yaml:"probe"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// RunnersRoot is where installed runners live. A leading ~ is
	// expanded to the user's home directory.
	// Default: ~/.matrix/runners
	RunnersRoot string `yaml:"runners_root"`
}

// ExtractConfig bounds archive extraction. All values must be positive.
type ExtractConfig struct {
	// MaxEntryMB caps the decompressed size of one entry. Default: 128.
	MaxEntryMB int64 `yaml:"max_entry_mb"`

	// MaxTotalMB caps the decompressed size of an archive. Default: 512.
	MaxTotalMB int64 `yaml:"max_total_mb"`

	// MaxEntries caps the entry count. Default: 10000.
	MaxEntries int `yaml:"max_entries"`
}

// ProbeConfig configures health probing. Durations are integral
// milliseconds.
type ProbeConfig struct {
	// GraceWindowMs is how long a stdio child must survive to pass.
	// Default: 2000.
	GraceWindowMs int `yaml:"grace_window_ms"`

	// PollIntervalMs is the initial health-poll spacing. Default: 250.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// MaxPollIntervalMs caps the backoff. Default: 2000.
	MaxPollIntervalMs int `yaml:"max_poll_interval_ms"`

	// TerminateGraceMs is the SIGTERM-to-SIGKILL window. Default: 3000.
	TerminateGraceMs int `yaml:"terminate_grace_ms"`

	// TimeoutMs is the overall probe deadline. Default: 10000.
	TimeoutMs int `yaml:"timeout_ms"`
}

// Default returns the default configuration. These are full working
// values, not placeholders — mcpb runs without any config file.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			RunnersRoot: "~/.matrix/runners",
		},
		Extract: ExtractConfig{
			MaxEntryMB: 128,
			MaxTotalMB: 512,
			MaxEntries: 10000,
		},
		Probe: ProbeConfig{
			GraceWindowMs:     2000,
			PollIntervalMs:    250,
			MaxPollIntervalMs: 2000,
			TerminateGraceMs:  3000,
			TimeoutMs:         10000,
		},
	}
}

// Load resolves the configuration: the explicit path wins, then the
// MCPB_CONFIG environment variable, then built-in defaults. An empty
// resolved path is not an error — defaults apply.
func Load(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	// Unknown keys are almost always typos of known ones; reject them
	// instead of silently running on defaults.
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Paths.RunnersRoot == "" {
		return fmt.Errorf("paths.runners_root must not be empty")
	}
	if c.Extract.MaxEntryMB <= 0 || c.Extract.MaxTotalMB <= 0 || c.Extract.MaxEntries <= 0 {
		return fmt.Errorf("extract limits must all be positive: %+v", c.Extract)
	}
	if c.Extract.MaxEntryMB > c.Extract.MaxTotalMB {
		return fmt.Errorf("extract.max_entry_mb (%d) exceeds extract.max_total_mb (%d)",
			c.Extract.MaxEntryMB, c.Extract.MaxTotalMB)
	}
	if c.Probe.GraceWindowMs <= 0 || c.Probe.PollIntervalMs <= 0 ||
		c.Probe.MaxPollIntervalMs <= 0 || c.Probe.TerminateGraceMs <= 0 || c.Probe.TimeoutMs <= 0 {
		return fmt.Errorf("probe intervals must all be positive: %+v", c.Probe)
	}
	return nil
}

// RunnersRoot returns the runners root with ~ expanded to an absolute
// path.
func (c *Config) RunnersRoot() (string, error) {
	root := c.Paths.RunnersRoot
	if root == "~" || strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		root = filepath.Join(home, strings.TrimPrefix(root, "~"))
	}
	return filepath.Abs(root)
}

// ExtractLimits converts the configured extraction bounds.
func (c *Config) ExtractLimits() extract.Limits {
	return extract.Limits{
		MaxEntryBytes: c.Extract.MaxEntryMB << 20,
		MaxTotalBytes: c.Extract.MaxTotalMB << 20,
		MaxEntries:    c.Extract.MaxEntries,
	}
}

// ProbeTimeout returns the configured overall probe deadline.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMs) * time.Millisecond
}

// Prober builds a prober from the configured intervals.
func (c *Config) Prober() *probe.Prober {
	return &probe.Prober{
		GraceWindow:     time.Duration(c.Probe.GraceWindowMs) * time.Millisecond,
		PollInterval:    time.Duration(c.Probe.PollIntervalMs) * time.Millisecond,
		MaxPollInterval: time.Duration(c.Probe.MaxPollIntervalMs) * time.Millisecond,
		TerminateGrace:  time.Duration(c.Probe.TerminateGraceMs) * time.Millisecond,
	}
}
