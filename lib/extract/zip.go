// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"archive/zip"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
)

// Limits bounds what an extraction may write. The zero value is not
// usable; call DefaultLimits or fill every field.
type Limits struct {
	// MaxEntryBytes caps the decompressed size of a single entry.
	MaxEntryBytes int64

	// MaxTotalBytes caps the decompressed size of the whole archive.
	MaxTotalBytes int64

	// MaxEntries caps the number of archive entries.
	MaxEntries int
}

// DefaultLimits returns the standard extraction bounds: 128 MiB per
// entry, 512 MiB total, 10000 entries.
func DefaultLimits() Limits {
	return Limits{
		MaxEntryBytes: 128 << 20,
		MaxTotalBytes: 512 << 20,
		MaxEntries:    10000,
	}
}

func (l Limits) validate() error {
	if l.MaxEntryBytes <= 0 || l.MaxTotalBytes <= 0 || l.MaxEntries <= 0 {
		return fmt.Errorf("extraction limits must all be positive: %+v", l)
	}
	return nil
}

// ExtractZip extracts an archive into targetRoot under the given
// limits. targetRoot must not exist yet, or must be an empty staging
// directory — extraction never runs in place over existing content.
//
// On any failure the target root is removed; the caller never sees
// partial output.
func ExtractZip(archivePath, targetRoot string, limits Limits) (err error) {
	if err := limits.validate(); err != nil {
		return err
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

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer reader.Close()

	// The packager writes deflate streams with the klauspost encoder;
	// decode with the matching implementation.
	reader.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return flate.NewReader(in)
	})

	if len(reader.File) > limits.MaxEntries {
		return &TooManyEntriesError{Count: len(reader.File), Limit: limits.MaxEntries}
	}

	var totalWritten int64
	for _, entry := range reader.File {
		written, err := extractEntry(root, entry, limits, totalWritten)
		if err != nil {
			return err
		}
		totalWritten += written
	}
	return nil
}

// extractEntry validates and writes a single archive entry, returning
// the number of content bytes written.
func extractEntry(root string, entry *zip.File, limits Limits, totalWritten int64) (int64, error) {
	dest, err := securePath(root, entry.Name)
	if err != nil {
		return 0, err
	}

	mode := entry.Mode()
	switch {
	case mode.IsDir():
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return 0, fmt.Errorf("creating directory for entry %q: %w", entry.Name, err)
		}
		return 0, nil

	case mode&os.ModeSymlink != 0:
		target, err := readLinkTarget(entry)
		if err != nil {
			return 0, err
		}
		if err := secureLinkTarget(root, entry.Name, target); err != nil {
			return 0, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return 0, fmt.Errorf("creating parent for entry %q: %w", entry.Name, err)
		}
		if err := os.Symlink(filepath.FromSlash(target), dest); err != nil {
			return 0, fmt.Errorf("creating symlink for entry %q: %w", entry.Name, err)
		}
		return 0, nil

	case !mode.IsRegular():
		// Devices, sockets, FIFOs: never materialized from archives.
		return 0, fmt.Errorf("entry %q has unsupported file type %v", entry.Name, mode.Type())
	}

	// Fast-fail on the declared size. The header is untrusted, so the
	// real cap is enforced against bytes written below.
	if declared := int64(entry.UncompressedSize64); declared > limits.MaxEntryBytes {
		return 0, &EntryTooLargeError{Entry: entry.Name, Size: declared, Limit: limits.MaxEntryBytes}
	}

	allowed := limits.MaxEntryBytes
	if remaining := limits.MaxTotalBytes - totalWritten; remaining < allowed {
		allowed = remaining
	}
	if allowed <= 0 {
		return 0, &BombDetectedError{Entry: entry.Name, Written: totalWritten, Limit: limits.MaxTotalBytes}
	}

	content, closeContent, err := openEntryContent(entry)
	if err != nil {
		return 0, err
	}
	defer closeContent()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("creating parent for entry %q: %w", entry.Name, err)
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm)
	if err != nil {
		return 0, fmt.Errorf("creating file for entry %q: %w", entry.Name, err)
	}

	// Copy one byte past the allowance: landing there proves the entry
	// decompressed past the cap, however small its declared size was.
	hasher := crc32.NewIEEE()
	written, err := io.Copy(io.MultiWriter(out, hasher), io.LimitReader(content, allowed+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return written, fmt.Errorf("writing entry %q: %w", entry.Name, err)
	}
	if written > allowed {
		limit := limits.MaxEntryBytes
		if allowed < limits.MaxEntryBytes {
			limit = limits.MaxTotalBytes
		}
		return written, &BombDetectedError{Entry: entry.Name, Written: totalWritten + written, Limit: limit}
	}
	if uint64(written) != entry.UncompressedSize64 || hasher.Sum32() != entry.CRC32 {
		return written, fmt.Errorf("entry %q content does not match its declared size or checksum", entry.Name)
	}
	return written, nil
}

// openEntryContent returns the decompressed content stream of a
// regular-file entry, decoding the raw compressed stream directly. The
// stdlib's checked reader stops at the header's declared size, which is
// exactly the field a decompression bomb lies about; decoding the raw
// stream lets the caps above bound what actually comes out, with the
// size and checksum fields verified after the fact.
func openEntryContent(entry *zip.File) (io.Reader, func() error, error) {
	raw, err := entry.OpenRaw()
	if err != nil {
		return nil, nil, fmt.Errorf("opening entry %q: %w", entry.Name, err)
	}
	switch entry.Method {
	case zip.Store:
		return raw, func() error { return nil }, nil
	case zip.Deflate:
		decoder := flate.NewReader(raw)
		return decoder, decoder.Close, nil
	default:
		return nil, nil, fmt.Errorf("entry %q uses unsupported compression method %d", entry.Name, entry.Method)
	}
}

// readLinkTarget reads a symlink entry's target path. Targets are
// short; anything over 4 KiB is hostile by definition.
func readLinkTarget(entry *zip.File) (string, error) {
	content, err := entry.Open()
	if err != nil {
		return "", fmt.Errorf("opening symlink entry %q: %w", entry.Name, err)
	}
	defer content.Close()

	data, err := io.ReadAll(io.LimitReader(content, 4096+1))
	if err != nil {
		return "", fmt.Errorf("reading symlink entry %q: %w", entry.Name, err)
	}
	if len(data) > 4096 {
		return "", &SymlinkEscapeError{Entry: entry.Name, Target: "(oversized target)"}
	}
	return string(data), nil
}

// prepareTargetRoot resolves the target root to an absolute path and
// ensures it is either absent or an existing empty directory.
func prepareTargetRoot(targetRoot string) (string, error) {
	root, err := filepath.Abs(targetRoot)
	if err != nil {
		return "", fmt.Errorf("resolving target root: %w", err)
	}
	root = filepath.Clean(root)

	entries, err := os.ReadDir(root)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", fmt.Errorf("creating target root: %w", err)
		}
	case err != nil:
		return "", fmt.Errorf("inspecting target root: %w", err)
	case len(entries) > 0:
		return "", fmt.Errorf("target root %s is not empty", root)
	}
	return root, nil
}
