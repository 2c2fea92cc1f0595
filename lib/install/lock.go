// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package install

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/manifest"
	"github.com/matrix-foundation/mcpb/lib/plan"
)

// FileEntry records one installed file for deep verification.
type FileEntry struct {
	// Path is slash-separated, relative to the install directory.
	Path string `json:"path"`

	// Mode is the octal permission string, e.g. "0644".
	Mode string `json:"mode"`

	Size int64 `json:"size"`

	// BLAKE3 is the keyed file hash, hex-encoded.
	BLAKE3 string `json:"blake3"`
}

// LockRecord is the state file written into every install directory.
// Its digest is the content address the install was verified against;
// the file index supports verifying the tree long after install.
type LockRecord struct {
	Alias       string           `json:"alias"`
	Version     string           `json:"version"`
	Digest      integrity.Digest `json:"digest"`
	InstalledAt time.Time        `json:"installedAt"`
	Source      plan.Source      `json:"source"`
	Files       []FileEntry      `json:"files"`
}

// buildFileIndex walks an install tree and hashes every regular file.
// The lock record itself is excluded — it does not exist yet when the
// index is built.
func buildFileIndex(root string) ([]FileEntry, error) {
	var entries []FileEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if relSlash == manifest.LockFileName {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := integrity.HashFileBLAKE3(path)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{
			Path:   relSlash,
			Mode:   fmt.Sprintf("%#o", info.Mode().Perm()),
			Size:   info.Size(),
			BLAKE3: hash,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("indexing install tree: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// writeLockRecord writes the record atomically: temporary file in the
// same directory, fsync, rename, parent directory sync. A reader never
// sees a partial record.
func writeLockRecord(dir string, record *LockRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding lock record: %w", err)
	}
	data = append(data, '\n')

	path := filepath.Join(dir, manifest.LockFileName)
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating temporary lock record: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary lock record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary lock record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary lock record: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming lock record into place: %w", err)
	}
	syncDir(dir)
	return nil
}

// ReadLockRecord reads the lock record of an installed directory. A
// missing record returns an error wrapping os.ErrNotExist.
func ReadLockRecord(dir string) (*LockRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifest.LockFileName))
	if err != nil {
		return nil, fmt.Errorf("reading lock record: %w", err)
	}
	var record LockRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding lock record in %s: %w", dir, err)
	}
	return &record, nil
}

// VerifyInstalled deep-checks an install directory against its lock
// record: every indexed file must exist with the recorded size and
// hash, and no unindexed file may have appeared.
func VerifyInstalled(dir string) error {
	record, err := ReadLockRecord(dir)
	if err != nil {
		return err
	}

	current, err := buildFileIndex(dir)
	if err != nil {
		return err
	}
	indexed := make(map[string]FileEntry, len(record.Files))
	for _, entry := range record.Files {
		indexed[entry.Path] = entry
	}

	for _, got := range current {
		want, ok := indexed[got.Path]
		if !ok {
			return fmt.Errorf("install %s: unexpected file %s", dir, got.Path)
		}
		if got.Size != want.Size {
			return fmt.Errorf("install %s: file %s is %d bytes, recorded %d", dir, got.Path, got.Size, want.Size)
		}
		if got.BLAKE3 != want.BLAKE3 {
			return fmt.Errorf("install %s: file %s content does not match its recorded hash", dir, got.Path)
		}
		delete(indexed, got.Path)
	}
	for path := range indexed {
		return fmt.Errorf("install %s: recorded file %s is missing", dir, path)
	}
	return nil
}

// syncDir fsyncs a directory so a just-completed rename survives power
// loss. Best-effort: some filesystems reject directory fsync.
func syncDir(dir string) {
	handle, err := os.Open(dir)
	if err != nil {
		return
	}
	handle.Sync()
	handle.Close()
}
