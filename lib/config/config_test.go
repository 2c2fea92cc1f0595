// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Paths.RunnersRoot != "~/.matrix/runners" {
		t.Errorf("runners_root = %s, want ~/.matrix/runners", cfg.Paths.RunnersRoot)
	}
	if cfg.Extract.MaxEntryMB != 128 || cfg.Extract.MaxTotalMB != 512 || cfg.Extract.MaxEntries != 10000 {
		t.Errorf("unexpected extract defaults: %+v", cfg.Extract)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadWithoutPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Probe.TimeoutMs != 10000 {
		t.Errorf("timeout_ms = %d, want default 10000", cfg.Probe.TimeoutMs)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpb.yaml")
	content := `
paths:
  runners_root: /srv/runners
extract:
  max_entry_mb: 64
  max_total_mb: 256
  max_entries: 500
probe:
  grace_window_ms: 1000
  poll_interval_ms: 100
  max_poll_interval_ms: 800
  terminate_grace_ms: 2000
  timeout_ms: 5000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	root, err := cfg.RunnersRoot()
	if err != nil {
		t.Fatal(err)
	}
	if root != "/srv/runners" {
		t.Errorf("RunnersRoot() = %s, want /srv/runners", root)
	}

	limits := cfg.ExtractLimits()
	if limits.MaxEntryBytes != 64<<20 || limits.MaxTotalBytes != 256<<20 || limits.MaxEntries != 500 {
		t.Errorf("unexpected limits: %+v", limits)
	}
	if cfg.ProbeTimeout() != 5*time.Second {
		t.Errorf("ProbeTimeout() = %v, want 5s", cfg.ProbeTimeout())
	}

	prober := cfg.Prober()
	if prober.GraceWindow != time.Second {
		t.Errorf("GraceWindow = %v, want 1s", prober.GraceWindow)
	}
	if prober.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", prober.PollInterval)
	}
}

func TestLoadEnvVariable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpb.yaml")
	if err := os.WriteFile(path, []byte("paths:\n  runners_root: /from/env\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Paths.RunnersRoot != "/from/env" {
		t.Errorf("runners_root = %s, want /from/env", cfg.Paths.RunnersRoot)
	}
	// Unset sections keep their defaults.
	if cfg.Extract.MaxEntries != 10000 {
		t.Errorf("max_entries = %d, want default 10000", cfg.Extract.MaxEntries)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpb.yaml")
	if err := os.WriteFile(path, []byte("paths:\n  runers_root: /typo\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a config with an unknown key")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty root", func(c *Config) { c.Paths.RunnersRoot = "" }},
		{"zero entry cap", func(c *Config) { c.Extract.MaxEntryMB = 0 }},
		{"entry cap above total", func(c *Config) { c.Extract.MaxEntryMB = 1024 }},
		{"negative poll interval", func(c *Config) { c.Probe.PollIntervalMs = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted a bad config")
			}
		})
	}
}

func TestRunnersRootExpandsTilde(t *testing.T) {
	cfg := Default()
	root, err := cfg.RunnersRoot()
	if err != nil {
		t.Fatal(err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(root, home) {
		t.Errorf("RunnersRoot() = %s, want it under %s", root, home)
	}
	if strings.Contains(root, "~") {
		t.Errorf("RunnersRoot() = %s still contains ~", root)
	}
}
