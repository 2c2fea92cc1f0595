// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// MirrorDirectory copies a local source tree into targetRoot under the
// same limits and containment rules as archive extraction. Directory
// sources are untrusted too: symlinks are rejected outright rather
// than resolved, since a link inside the tree can point anywhere on
// the host.
//
// On any failure the target root is removed.
func MirrorDirectory(sourceDir, targetRoot string, limits Limits) (err error) {
	if err := limits.validate(); err != nil {
		return err
	}

	source, err := filepath.Abs(sourceDir)
	if err != nil {
		return fmt.Errorf("resolving source directory: %w", err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("inspecting source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", source)
	}

	root, err := prepareTargetRoot(targetRoot)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(root)
		}
	}()

	var entryCount int
	var totalWritten int64

	return filepath.WalkDir(source, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == source {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		entryCount++
		if entryCount > limits.MaxEntries {
			return &TooManyEntriesError{Count: entryCount, Limit: limits.MaxEntries}
		}

		if d.Type()&os.ModeSymlink != 0 {
			target, _ := os.Readlink(path)
			return &SymlinkEscapeError{Entry: relSlash, Target: target}
		}

		dest, err := securePath(root, relSlash)
		if err != nil {
			return err
		}

		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("entry %q has unsupported file type %v", relSlash, info.Mode().Type())
		}
		if info.Size() > limits.MaxEntryBytes {
			return &EntryTooLargeError{Entry: relSlash, Size: info.Size(), Limit: limits.MaxEntryBytes}
		}

		written, err := copyFileCapped(path, dest, info.Mode().Perm(), limits.MaxEntryBytes, limits.MaxTotalBytes-totalWritten, relSlash, totalWritten)
		totalWritten += written
		return err
	})
}

// copyFileCapped copies src to dest, enforcing caps against actual
// bytes copied — the stat size is as untrusted as an archive header
// when the source can change underneath the walk.
func copyFileCapped(src, dest string, perm os.FileMode, entryCap, remainingTotal int64, entryName string, totalWritten int64) (int64, error) {
	allowed := entryCap
	if remainingTotal < allowed {
		allowed = remainingTotal
	}
	if allowed <= 0 {
		return 0, &BombDetectedError{Entry: entryName, Written: totalWritten, Limit: totalWritten + remainingTotal}
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent for %q: %w", entryName, err)
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return 0, fmt.Errorf("creating file for %q: %w", entryName, err)
	}

	written, err := io.Copy(out, io.LimitReader(in, allowed+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("copying %q: %w", entryName, err)
	}
	if written > allowed {
		limit := entryCap
		if allowed < entryCap {
			limit = totalWritten + remainingTotal
		}
		return written, &BombDetectedError{Entry: entryName, Written: totalWritten + written, Limit: limit}
	}
	return written, nil
}
