// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"fmt"
	"os"
	"strings"
)

// SidecarSuffix is appended to a bundle path to form its sidecar
// digest file path.
const SidecarSuffix = ".sha256"

// SidecarPath returns the sidecar digest file path for a bundle.
func SidecarPath(bundlePath string) string {
	return bundlePath + SidecarSuffix
}

// ReadSidecar reads and parses the sidecar digest file next to a
// bundle. The file holds a single line containing either bare hex or
// the "sha256:<hex>" form. A missing sidecar returns an error wrapping
// os.ErrNotExist so callers can treat it as optional.
func ReadSidecar(bundlePath string) (Digest, error) {
	data, err := os.ReadFile(SidecarPath(bundlePath))
	if err != nil {
		return "", fmt.Errorf("reading sidecar digest: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	digest, err := ParseDigest(line)
	if err != nil {
		return "", fmt.Errorf("sidecar %s: %w", SidecarPath(bundlePath), err)
	}
	return digest, nil
}

// WriteSidecar writes a bundle's sidecar digest file. The bare hex
// form is written for compatibility with tooling that expects
// sha256sum-style content.
func WriteSidecar(bundlePath string, digest Digest) error {
	content := digest.Hex() + "\n"
	if err := os.WriteFile(SidecarPath(bundlePath), []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing sidecar digest: %w", err)
	}
	return nil
}
