// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `{
	// server identity
	"schemaVersion": "1.0",
	"name": "hello",
	"version": "0.1.0",
	"transports": [
		{"type": "sse", "url": "http://127.0.0.1:8000/messages/", "health": "/health"}
	],
	"tools": ["echo", {"name": "reverse"}],
	"limits": {"timeoutMs": 15000, "maxInputKB": 128, "maxOutputKB": 256},
	"security": {"readOnlyDefault": true},
	"build": {"lang": "python", "runner": "uvicorn"},
}`

func TestParseManifest(t *testing.T) {
	doc, err := Parse([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Name != "hello" {
		t.Errorf("Name = %q, want hello", doc.Name)
	}
	if doc.Version != "0.1.0" {
		t.Errorf("Version = %q, want 0.1.0", doc.Version)
	}
	if len(doc.Transports) != 1 || doc.Transports[0].Type != TransportSSE {
		t.Errorf("Transports = %+v, want one sse transport", doc.Transports)
	}
	if len(doc.Tools) != 2 || doc.Tools[0].Name != "echo" || doc.Tools[1].Name != "reverse" {
		t.Errorf("Tools = %+v, want echo and reverse", doc.Tools)
	}
	if !bytes.Equal(doc.Raw, []byte(sampleManifest)) {
		t.Error("Raw does not preserve the original bytes")
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), ManifestFileName))
	if !errors.Is(err, ErrMissing) {
		t.Errorf("error = %v, want ErrMissing", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func TestLoadManifestInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), ManifestFileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want *ParseError", err)
	}
	if parseErr.Path != path {
		t.Errorf("ParseError.Path = %q, want %q", parseErr.Path, path)
	}
}

func TestEffectiveVersionDefaulting(t *testing.T) {
	tests := []struct {
		version string
		want    string
	}{
		{"0.1.0", "0.1.0"},
		{"12.0.3", "12.0.3"},
		{"", DefaultVersion},
		{"latest", DefaultVersion},
		{"1.0", DefaultVersion},
		{"1.0.0-rc1", DefaultVersion},
		{"v1.0.0", DefaultVersion},
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	for _, tt := range tests {
		doc := &Document{Name: "x", Version: tt.version}
		if got := doc.EffectiveVersion(logger); got != tt.want {
			t.Errorf("EffectiveVersion(%q) = %q, want %q", tt.version, got, tt.want)
		}
	}
}

func TestRunnerSpecArgv(t *testing.T) {
	spec, err := ParseRunnerSpec([]byte(`{
		"type": "stdio",
		"command": ["python", "server.py"],
		"args": ["--quiet"],
		"env": {"LOG_LEVEL": "info"},
	}`))
	if err != nil {
		t.Fatalf("ParseRunnerSpec failed: %v", err)
	}

	argv, err := spec.Argv()
	if err != nil {
		t.Fatalf("Argv failed: %v", err)
	}
	want := []string{"python", "server.py", "--quiet"}
	if len(argv) != len(want) {
		t.Fatalf("argv = %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Errorf("argv[%d] = %q, want %q", i, argv[i], want[i])
		}
	}
}

func TestRunnerSpecEmptyCommand(t *testing.T) {
	spec := &RunnerSpec{}
	if _, err := spec.Argv(); err == nil {
		t.Error("Argv with empty command succeeded, want error")
	}
}

func TestPrimaryTransportNoneDeclared(t *testing.T) {
	doc := &Document{Name: "bare"}
	if _, err := doc.PrimaryTransport(); err == nil {
		t.Error("PrimaryTransport with no transports succeeded, want error")
	}
}
