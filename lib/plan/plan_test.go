// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/matrix-foundation/mcpb/lib/bundle"
	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/manifest"
)

func buildTestBundle(t *testing.T, version string) *bundle.Result {
	t.Helper()
	manifestJSON := `{
		"schemaVersion": "1.0",
		"name": "demo",
		"version": "` + version + `",
		"transports": [{"type": "stdio", "command": ["python", "server.py"]}]
	}`
	if version == "" {
		manifestJSON = `{
			"schemaVersion": "1.0",
			"name": "demo",
			"transports": [{"type": "stdio", "command": ["python", "server.py"]}]
		}`
	}
	doc, err := manifest.Parse([]byte(manifestJSON))
	if err != nil {
		t.Fatal(err)
	}
	runner, err := manifest.ParseRunnerSpec([]byte(`{"type": "stdio", "command": ["python", "server.py"]}`))
	if err != nil {
		t.Fatal(err)
	}

	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "server.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := bundle.Build(source, doc, runner, bundle.Options{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestEmitFromArchive(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")

	p, err := Emit(result.Path, "demo", true, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	if p.Alias != "demo" {
		t.Errorf("Alias = %q, want demo", p.Alias)
	}
	if p.Version != "1.2.3" {
		t.Errorf("Version = %q, want 1.2.3", p.Version)
	}
	if p.Source.Kind != SourceZip {
		t.Errorf("Source.Kind = %q, want %q", p.Source.Kind, SourceZip)
	}
	if p.Digest != result.Digest {
		t.Errorf("Digest = %s, want sidecar digest %s", p.Digest, result.Digest)
	}
	if p.Transport != manifest.TransportStdio {
		t.Errorf("Transport = %q, want stdio", p.Transport)
	}
	want := []Step{StepVerify, StepExtract, StepWriteManifest, StepProbe}
	if !reflect.DeepEqual(p.Steps, want) {
		t.Errorf("Steps = %v, want %v", p.Steps, want)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("emitted plan does not validate: %v", err)
	}
}

func TestEmitWithoutProbe(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")

	p, err := Emit(result.Path, "demo", false, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	want := []Step{StepVerify, StepExtract, StepWriteManifest}
	if !reflect.DeepEqual(p.Steps, want) {
		t.Errorf("Steps = %v, want %v", p.Steps, want)
	}
	if p.WantsProbe() {
		t.Error("WantsProbe() = true for a probe-less plan")
	}
}

func TestEmitVersionDefault(t *testing.T) {
	result := buildTestBundle(t, "")

	p, err := Emit(result.Path, "demo", false, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if p.Version != manifest.DefaultVersion {
		t.Errorf("Version = %q, want default %q", p.Version, manifest.DefaultVersion)
	}
}

func TestEmitSidecarPrecedence(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")

	// Overwrite the sidecar with a different digest; it must win over
	// both the archive bytes and anything embedded.
	planted := integrity.DigestBytes([]byte("not the archive"))
	if err := integrity.WriteSidecar(result.Path, planted); err != nil {
		t.Fatal(err)
	}

	p, err := Emit(result.Path, "demo", false, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if p.Digest != planted {
		t.Errorf("Digest = %s, want sidecar digest %s", p.Digest, planted)
	}
}

func TestEmitArchiveWithoutSidecar(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")
	if err := os.Remove(integrity.SidecarPath(result.Path)); err != nil {
		t.Fatal(err)
	}

	p, err := Emit(result.Path, "demo", false, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if p.Digest != result.Digest {
		t.Errorf("Digest = %s, want computed %s", p.Digest, result.Digest)
	}
}

func TestEmitFromDirectory(t *testing.T) {
	source := t.TempDir()
	files := map[string]string{
		manifest.ManifestFileName: `{
			"name": "demo",
			"version": "0.2.0",
			"transports": [{"type": "stdio", "command": ["./run"]}]
		}`,
		manifest.RunnerSpecFileName: `{"command": ["./run"]}`,
		"run":                       "#!/bin/sh\n",
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(source, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	p, err := Emit(source, "demo", false, nil)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if p.Source.Kind != SourceDir {
		t.Errorf("Source.Kind = %q, want %q", p.Source.Kind, SourceDir)
	}
	if p.Version != "0.2.0" {
		t.Errorf("Version = %q, want 0.2.0", p.Version)
	}

	want, err := integrity.DigestDirectory(source)
	if err != nil {
		t.Fatal(err)
	}
	if p.Digest != want {
		t.Errorf("Digest = %s, want directory digest %s", p.Digest, want)
	}
}

func TestEmitDirectoryWithoutManifest(t *testing.T) {
	source := t.TempDir()
	if err := os.WriteFile(filepath.Join(source, "run"), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := Emit(source, "demo", false, nil)
	if !errors.Is(err, manifest.ErrMissing) {
		t.Errorf("error = %v, want manifest.ErrMissing", err)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")
	p, err := Emit(result.Path, "demo", true, nil)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "plan.json")
	if err := p.Write(path); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, p)
	}
}

func TestValidateRejectsBadPlans(t *testing.T) {
	result := buildTestBundle(t, "1.2.3")
	good, err := Emit(result.Path, "demo", false, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(p *InstallPlan)
	}{
		{"no alias", func(p *InstallPlan) { p.Alias = "" }},
		{"no version", func(p *InstallPlan) { p.Version = "" }},
		{"bad source kind", func(p *InstallPlan) { p.Source.Kind = "tar" }},
		{"no locator", func(p *InstallPlan) { p.Source.Locator = "" }},
		{"bad digest", func(p *InstallPlan) { p.Digest = "sha256:nope" }},
		{"missing steps", func(p *InstallPlan) { p.Steps = []Step{StepVerify} }},
		{"reordered steps", func(p *InstallPlan) {
			p.Steps = []Step{StepExtract, StepVerify, StepWriteManifest}
		}},
		{"unknown trailing step", func(p *InstallPlan) {
			p.Steps = append(p.Steps[:3:3], Step("mystery"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := *good
			p.Steps = append([]Step(nil), good.Steps...)
			tt.mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Validate accepted a bad plan")
			}
		})
	}
}
