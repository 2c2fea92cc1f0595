// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/matrix-foundation/mcpb/lib/integrity"
	"github.com/matrix-foundation/mcpb/lib/manifest"
)

// ErrEmptyBundle is returned when no files survive exclusion — an
// empty archive is always a packaging mistake, never a valid bundle.
var ErrEmptyBundle = errors.New("no files to package after exclusion")

// packEpoch is the fixed modification time written into every archive
// entry. The zip format cannot represent times before 1980, so the
// deterministic epoch is the format's own floor.
var packEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// defaultExcludedDirs are directory names skipped entirely during
// enumeration: version control, dependency caches, build output.
var defaultExcludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
}

// defaultExcludedFiles are file names skipped during enumeration.
var defaultExcludedFiles = map[string]bool{
	".DS_Store": true,
}

// Options configures a build.
type Options struct {
	// OutputDir receives the archive and its sidecar digest file.
	// Created if missing.
	OutputDir string

	// Name is the archive base name (without extension). Defaults to
	// "bundle".
	Name string

	// Entrypoints lists archive paths that keep the executable bit
	// (mode 0755). Every other entry is normalized to 0644.
	Entrypoints []string

	// Exclude, when non-nil, is consulted for every enumerated entry
	// (slash-separated path relative to the source root) in addition
	// to the built-in denylist. Returning true skips the entry; for
	// directories, the whole subtree.
	Exclude func(relPath string, d fs.DirEntry) bool
}

// Result describes a built bundle.
type Result struct {
	// Path is the archive location. The sidecar digest file sits at
	// Path + ".sha256".
	Path string

	// Digest is the content address of the archive bytes.
	Digest integrity.Digest

	// FileCount is the number of source files packaged, excluding the
	// two embedded metadata entries.
	FileCount int
}

// Build packages sourceDir plus the given manifest and runner spec
// into a deterministic archive, writes it and its sidecar digest file
// into opts.OutputDir, and returns the result. Those two files are the
// only side effects.
func Build(sourceDir string, doc *manifest.Document, runner *manifest.RunnerSpec, opts Options) (*Result, error) {
	if doc == nil || runner == nil {
		return nil, fmt.Errorf("manifest and runner spec are required for packaging")
	}

	entries, sawMetadata, err := enumerate(sourceDir, opts)
	if err != nil {
		return nil, err
	}
	// A tree holding only the two metadata documents is a legitimate
	// (if minimal) bundle; a tree with neither content nor metadata is
	// not.
	if len(entries) == 0 && !sawMetadata {
		return nil, ErrEmptyBundle
	}

	manifestBytes, err := documentBytes(doc.Raw, doc)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	runnerBytes, err := documentBytes(runner.Raw, runner)
	if err != nil {
		return nil, fmt.Errorf("encoding runner spec: %w", err)
	}
	entries = append(entries,
		packEntry{relPath: manifest.ManifestFileName, content: manifestBytes},
		packEntry{relPath: manifest.RunnerSpecFileName, content: runnerBytes},
	)

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].relPath < entries[j].relPath
	})

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	name := opts.Name
	if name == "" {
		name = "bundle"
	}
	archivePath := filepath.Join(opts.OutputDir, name+".zip")

	if err := writeArchive(archivePath, entries, entrypointSet(opts.Entrypoints)); err != nil {
		return nil, err
	}

	digest, err := integrity.DigestFile(archivePath)
	if err != nil {
		return nil, err
	}
	if err := integrity.WriteSidecar(archivePath, digest); err != nil {
		return nil, err
	}

	return &Result{
		Path:      archivePath,
		Digest:    digest,
		FileCount: len(entries) - 2,
	}, nil
}

// packEntry is one archive entry: either a source file (sourcePath
// set) or embedded bytes (content set).
type packEntry struct {
	relPath    string
	sourcePath string
	content    []byte
}

// enumerate walks the source tree, applies the exclusion rules, and
// returns the surviving files. Source copies of the two metadata file
// names at the archive root are skipped — the canonical documents are
// embedded separately and supersede them.
func enumerate(sourceDir string, opts Options) ([]packEntry, bool, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return nil, false, fmt.Errorf("inspecting source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, false, fmt.Errorf("source %s is not a directory", sourceDir)
	}

	var entries []packEntry
	var sawMetadata bool
	err = filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == sourceDir {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)

		if d.IsDir() {
			if defaultExcludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if opts.Exclude != nil && opts.Exclude(relSlash, d) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if defaultExcludedFiles[d.Name()] {
			return nil
		}
		if relSlash == manifest.ManifestFileName || relSlash == manifest.RunnerSpecFileName {
			sawMetadata = true
			return nil
		}
		if opts.Exclude != nil && opts.Exclude(relSlash, d) {
			return nil
		}

		entries = append(entries, packEntry{relPath: relSlash, sourcePath: path})
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("enumerating %s: %w", sourceDir, err)
	}
	return entries, sawMetadata, nil
}

// writeArchive writes the sorted entries into a zip at archivePath via
// a temporary file and rename, so a failed build never leaves a
// half-written archive at the destination.
func writeArchive(archivePath string, entries []packEntry, entrypoints map[string]bool) (err error) {
	tmpFile, err := os.CreateTemp(filepath.Dir(archivePath), ".bundle-*.zip")
	if err != nil {
		return fmt.Errorf("creating temporary archive: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	writer := zip.NewWriter(tmpFile)
	writer.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	for _, entry := range entries {
		mode := os.FileMode(0o644)
		if entrypoints[entry.relPath] {
			mode = 0o755
		}
		header := &zip.FileHeader{
			Name:     entry.relPath,
			Method:   zip.Deflate,
			Modified: packEpoch,
		}
		header.SetMode(mode)

		w, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("creating archive entry %q: %w", entry.relPath, err)
		}
		if entry.sourcePath != "" {
			file, err := os.Open(entry.sourcePath)
			if err != nil {
				return fmt.Errorf("opening %s: %w", entry.sourcePath, err)
			}
			_, err = io.Copy(w, file)
			file.Close()
			if err != nil {
				return fmt.Errorf("packaging entry %q: %w", entry.relPath, err)
			}
		} else if _, err := w.Write(entry.content); err != nil {
			return fmt.Errorf("packaging entry %q: %w", entry.relPath, err)
		}
	}

	if err := writer.Close(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("finalizing archive: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		return fmt.Errorf("renaming archive into place: %w", err)
	}
	return nil
}

// documentBytes returns the raw bytes a document was loaded from, or a
// stable indented encoding when the document was built in memory.
func documentBytes(raw []byte, v any) ([]byte, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func entrypointSet(entrypoints []string) map[string]bool {
	set := make(map[string]bool, len(entrypoints))
	for _, e := range entrypoints {
		set[filepath.ToSlash(e)] = true
	}
	return set
}
