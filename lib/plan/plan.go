// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/manifest"
)

// Source kinds a plan may reference.
const (
	SourceZip = "zip"
	SourceDir = "dir"
)

// Step is one installer action. Steps execute in plan order.
type Step string

const (
	StepVerify        Step = "verify"
	StepExtract       Step = "extract"
	StepWriteManifest Step = "write-manifest"
	StepProbe         Step = "probe"
)

// Source locates the bundle a plan installs from.
type Source struct {
	// Kind is SourceZip or SourceDir.
	Kind string `json:"kind"`

	// Locator is the filesystem path of the archive or directory.
	Locator string `json:"locator"`
}

// InstallPlan is the declarative input to the installer.
type InstallPlan struct {
	Alias   string           `json:"alias"`
	Version string           `json:"version"`
	Source  Source           `json:"source"`
	Digest  integrity.Digest `json:"digest"`

	// Transport is the primary transport type, carried along so the
	// probe step does not have to re-open the bundle.
	Transport string `json:"transport,omitempty"`

	Steps []Step `json:"steps"`
}

// Emit derives a plan for installing the bundle at bundleLocator under
// the given alias. The locator may be an archive or a raw directory.
//
// The digest is resolved in precedence order: sidecar file, manifest
// digest field, fresh computation. The version comes from the embedded
// manifest, defaulting with a warning when missing or unparsable.
// withProbe appends the probe step.
func Emit(bundleLocator, alias string, withProbe bool, logger *slog.Logger) (*InstallPlan, error) {
	if alias == "" {
		return nil, fmt.Errorf("install alias is required")
	}
	info, err := os.Stat(bundleLocator)
	if err != nil {
		return nil, fmt.Errorf("inspecting bundle %s: %w", bundleLocator, err)
	}

	locator, err := filepath.Abs(bundleLocator)
	if err != nil {
		return nil, fmt.Errorf("resolving bundle path: %w", err)
	}

	var (
		kind   string
		doc    *manifest.Document
		digest integrity.Digest
	)
	if info.IsDir() {
		kind = SourceDir
		doc, err = manifest.Load(filepath.Join(locator, manifest.ManifestFileName))
		if err != nil {
			return nil, err
		}
		// Directory sources have no archive bytes to address; the
		// canonical directory digest is the content address.
		digest, err = integrity.DigestDirectory(locator)
		if err != nil {
			return nil, err
		}
	} else {
		kind = SourceZip
		doc, err = readEmbeddedManifest(locator)
		if err != nil {
			return nil, err
		}
		digest, err = resolveArchiveDigest(locator, doc)
		if err != nil {
			return nil, err
		}
	}

	steps := []Step{StepVerify, StepExtract, StepWriteManifest}
	if withProbe {
		steps = append(steps, StepProbe)
	}

	p := &InstallPlan{
		Alias:   alias,
		Version: doc.EffectiveVersion(logger),
		Source:  Source{Kind: kind, Locator: locator},
		Digest:  digest,
		Steps:   steps,
	}
	if transport, err := doc.PrimaryTransport(); err == nil {
		p.Transport = transport.Type
	}
	return p, nil
}

// resolveArchiveDigest picks the expected digest for an archive: the
// sidecar wins over the manifest field, and absent both the digest is
// computed from the archive bytes.
func resolveArchiveDigest(archivePath string, doc *manifest.Document) (integrity.Digest, error) {
	digest, err := integrity.ReadSidecar(archivePath)
	switch {
	case err == nil:
		return digest, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	if doc.Digest != nil && doc.Digest.Value != "" {
		digest, err := integrity.ParseDigest(doc.Digest.Value)
		if err != nil {
			return "", fmt.Errorf("manifest digest field: %w", err)
		}
		return digest, nil
	}

	return integrity.DigestFile(archivePath)
}

// readEmbeddedManifest parses the manifest entry inside an archive.
func readEmbeddedManifest(archivePath string) (*manifest.Document, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening bundle %s: %w", archivePath, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if entry.Name != manifest.ManifestFileName {
			continue
		}
		content, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("opening embedded manifest: %w", err)
		}
		data, readErr := io.ReadAll(content)
		content.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading embedded manifest: %w", readErr)
		}
		doc, err := manifest.Parse(data)
		if err != nil {
			return nil, &manifest.ParseError{Path: archivePath + "!" + entry.Name, Err: err}
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%s!%s: %w", archivePath, manifest.ManifestFileName, manifest.ErrMissing)
}

// Validate checks a plan's internal consistency before execution.
func (p *InstallPlan) Validate() error {
	if p.Alias == "" {
		return fmt.Errorf("plan has no alias")
	}
	if p.Version == "" {
		return fmt.Errorf("plan has no version")
	}
	if p.Source.Kind != SourceZip && p.Source.Kind != SourceDir {
		return fmt.Errorf("plan has unknown source kind %q", p.Source.Kind)
	}
	if p.Source.Locator == "" {
		return fmt.Errorf("plan has no source locator")
	}
	if _, err := integrity.ParseDigest(string(p.Digest)); err != nil {
		return fmt.Errorf("plan digest: %w", err)
	}
	if len(p.Steps) < 3 ||
		p.Steps[0] != StepVerify || p.Steps[1] != StepExtract || p.Steps[2] != StepWriteManifest {
		return fmt.Errorf("plan steps must begin with [%s %s %s], got %v",
			StepVerify, StepExtract, StepWriteManifest, p.Steps)
	}
	for _, step := range p.Steps[3:] {
		if step != StepProbe {
			return fmt.Errorf("plan has unknown step %q", step)
		}
	}
	return nil
}

// WantsProbe reports whether the plan ends with a probe step.
func (p *InstallPlan) WantsProbe() bool {
	return len(p.Steps) > 0 && p.Steps[len(p.Steps)-1] == StepProbe
}

// Load reads a plan file.
func Load(path string) (*InstallPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	var p InstallPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &p, nil
}

// Write writes a plan file as indented JSON.
func (p *InstallPlan) Write(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing plan: %w", err)
	}
	return nil
}
