// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/zip"
	"fmt"

	"github.com/matrix-foundation/mcpb/lib/integrity"
)

// VerifySidecar checks an archive against its sidecar digest file.
func VerifySidecar(archivePath string) error {
	want, err := integrity.ReadSidecar(archivePath)
	if err != nil {
		return err
	}
	return integrity.VerifyFile(archivePath, string(want))
}

// EntryNames returns the entry names of an archive in stored order.
// Useful for inspection and tests; a deterministic archive stores them
// sorted.
func EntryNames(archivePath string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	names := make([]string, 0, len(reader.File))
	for _, entry := range reader.File {
		names = append(names, entry.Name)
	}
	return names, nil
}
