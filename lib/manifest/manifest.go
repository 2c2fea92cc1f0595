// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Well-known file names inside a bundle and an installed runner
// directory.
const (
	ManifestFileName   = "mcp.server.json"
	RunnerSpecFileName = "runner.json"
	LockFileName       = "runner.lock.json"
)

// DefaultVersion is used when a manifest omits its version or carries
// one that is not a plain semantic version. The defaulting is a
// compatibility convention; callers log a warning when it kicks in.
const DefaultVersion = "0.0.0"

// Transport types a manifest may declare.
const (
	TransportStdio     = "stdio"
	TransportSSE       = "sse"
	TransportWebsocket = "websocket"
)

// ErrMissing is wrapped by load functions when a metadata document is
// absent. Also wraps os.ErrNotExist so errors.Is works with either.
var ErrMissing = errors.New("metadata document missing")

// ParseError reports a document that exists but cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Transport is one declared transport of a server.
type Transport struct {
	Type string `json:"type"`

	// Command is the launch argv for stdio transports.
	Command []string `json:"command,omitempty"`

	// URL and Health describe the endpoint for sse/websocket
	// transports. Health is a path resolved against URL, or a full
	// URL of its own.
	URL    string `json:"url,omitempty"`
	Health string `json:"health,omitempty"`
}

// Limits carries the declared resource limits. Enforcement is a host
// concern; the pipeline only transports the values.
type Limits struct {
	MaxInputKB  int `json:"maxInputKB,omitempty"`
	MaxOutputKB int `json:"maxOutputKB,omitempty"`
	TimeoutMs   int `json:"timeoutMs,omitempty"`
}

// Security carries the declared security posture.
type Security struct {
	ReadOnlyDefault bool     `json:"readOnlyDefault,omitempty"`
	FSAllowlist     []string `json:"fsAllowlist,omitempty"`
	EgressAllowlist []string `json:"egressAllowlist,omitempty"`
}

// Build records how the bundle was produced.
type Build struct {
	Lang      string   `json:"lang,omitempty"`
	Runner    string   `json:"runner,omitempty"`
	Lockfiles []string `json:"lockfiles,omitempty"`
}

// DigestRef is the digest recorded in a manifest after packaging.
type DigestRef struct {
	Algo  string `json:"algo"`
	Value string `json:"value"`
}

// Tool is a declared tool reference. Manifests carry either a bare
// name string or an object with a "name" field; the contract itself is
// validated elsewhere.
type Tool struct {
	Name string
}

// UnmarshalJSON accepts both the string and the object encoding.
func (t *Tool) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		t.Name = name
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("tool entry is neither a name nor an object: %w", err)
	}
	t.Name = obj.Name
	return nil
}

// MarshalJSON writes the compact string encoding.
func (t Tool) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name)
}

// Document is a parsed server manifest. Raw holds the exact bytes the
// document was parsed from; the packager embeds those bytes verbatim
// so the manifest inside a bundle is byte-identical to its source.
type Document struct {
	SchemaVersion json.RawMessage `json:"schemaVersion,omitempty"`
	Name          string          `json:"name"`
	Version       string          `json:"version,omitempty"`
	Transports    []Transport     `json:"transports"`
	Tools         []Tool          `json:"tools,omitempty"`
	Limits        Limits          `json:"limits,omitempty"`
	Security      Security        `json:"security,omitempty"`
	Build         Build           `json:"build,omitempty"`
	Digest        *DigestRef      `json:"digest,omitempty"`

	Raw []byte `json:"-"`
}

// Parse decodes a manifest document, tolerating JSONC extensions. The
// original bytes are retained in Raw.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	doc.Raw = data
	return &doc, nil
}

// Load reads and parses a manifest file. A missing file returns an
// error wrapping both ErrMissing and os.ErrNotExist.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w (%w)", path, ErrMissing, err)
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return doc, nil
}

// EffectiveVersion returns the manifest's version, falling back to
// DefaultVersion when the field is absent or not a plain semantic
// version. The fallback is logged as a warning — it usually means the
// build skipped metadata it should have produced.
func (d *Document) EffectiveVersion(logger *slog.Logger) string {
	if IsSemanticVersion(d.Version) {
		return d.Version
	}
	if logger != nil {
		logger.Warn("manifest version missing or unparsable, defaulting",
			"name", d.Name, "version", d.Version, "default", DefaultVersion)
	}
	return DefaultVersion
}

// PrimaryTransport returns the first declared transport, which is the
// one the prober exercises.
func (d *Document) PrimaryTransport() (*Transport, error) {
	if len(d.Transports) == 0 {
		return nil, fmt.Errorf("manifest %q declares no transports", d.Name)
	}
	return &d.Transports[0], nil
}

// IsSemanticVersion reports whether s is a plain MAJOR.MINOR.PATCH
// version. Pre-release and build suffixes are not accepted — install
// paths embed the version as a directory name and stay deliberately
// conservative.
func IsSemanticVersion(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := strconv.ParseUint(part, 10, 32); err != nil {
			return false
		}
	}
	return true
}
