// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"path"
	"path/filepath"
	"strings"
)

// securePath validates an archive entry name against the target root
// and returns the absolute filesystem path the entry may be written
// to. It is a pure function of (root, name) — no filesystem state is
// consulted — so it can be tested exhaustively against adversarial
// names.
//
// root must be an absolute, cleaned path. Containment is decided on
// the normalized joined path via filepath.Rel, never by string prefix
// comparison, so separator and case tricks cannot slip past it.
func securePath(root, name string) (string, error) {
	if name == "" {
		return "", &PathTraversalError{Entry: name}
	}

	// Archive entry names use forward slashes. A backslash is either a
	// separator smuggled past slash-based checks or a filename that
	// cannot be represented portably; reject both.
	if strings.ContainsRune(name, '\\') {
		return "", &PathTraversalError{Entry: name}
	}

	if path.IsAbs(name) || filepath.IsAbs(name) {
		return "", &PathTraversalError{Entry: name}
	}

	cleaned := path.Clean(name)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", &PathTraversalError{Entry: name}
	}

	joined := filepath.Join(root, filepath.FromSlash(cleaned))
	if !contained(root, joined) {
		return "", &PathTraversalError{Entry: name}
	}
	return joined, nil
}

// secureLinkTarget validates a symlink entry's target. The target is
// resolved relative to the entry's own directory and must stay inside
// the root. Absolute targets are always rejected.
func secureLinkTarget(root, entryName, target string) error {
	if target == "" || strings.ContainsRune(target, '\\') {
		return &SymlinkEscapeError{Entry: entryName, Target: target}
	}
	if path.IsAbs(target) || filepath.IsAbs(target) {
		return &SymlinkEscapeError{Entry: entryName, Target: target}
	}

	resolved := path.Join(path.Dir(path.Clean(entryName)), target)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return &SymlinkEscapeError{Entry: entryName, Target: target}
	}

	joined := filepath.Join(root, filepath.FromSlash(resolved))
	if !contained(root, joined) {
		return &SymlinkEscapeError{Entry: entryName, Target: target}
	}
	return nil
}

// contained reports whether candidate is root itself or lies beneath
// it, comparing normalized paths.
func contained(root, candidate string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(candidate))
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
