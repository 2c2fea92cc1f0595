// Copyright 2026 The Matrix Foundation Authors
// SPDX-License-Identifier: Apache-2.0

package extract

import (
	"path/filepath"
	"testing"
)

func TestSecurePathAdversarialNames(t *testing.T) {
	root := filepath.FromSlash("/install/staging")

	rejected := []string{
		"",
		".",
		"..",
		"../escape",
		"../../etc/passwd",
		"/etc/passwd",
		"//etc/passwd",
		"a/../../b",
		"a/b/../../../c",
		"..\\escape",
		"a\\..\\..\\b",
		"dir/../../../../../../tmp/x",
		"./../x",
	}
	for _, name := range rejected {
		if _, err := securePath(root, name); err == nil {
			t.Errorf("securePath(%q) succeeded, want rejection", name)
		}
	}

	accepted := map[string]string{
		"file.txt":        "file.txt",
		"./file.txt":      "file.txt",
		"a/b/c.txt":       "a/b/c.txt",
		"a/./b":           "a/b",
		"a/b/../c":        "a/c",
		"..hidden":        "..hidden",
		"dir/..twodots":   "dir/..twodots",
		"name with space": "name with space",
	}
	for name, wantRel := range accepted {
		got, err := securePath(root, name)
		if err != nil {
			t.Errorf("securePath(%q) failed: %v", name, err)
			continue
		}
		want := filepath.Join(root, filepath.FromSlash(wantRel))
		if got != want {
			t.Errorf("securePath(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestSecureLinkTarget(t *testing.T) {
	root := filepath.FromSlash("/install/staging")

	tests := []struct {
		entry  string
		target string
		ok     bool
	}{
		{"link", "file.txt", true},
		{"a/b/link", "../sibling", true},
		{"a/b/link", "c/d", true},
		{"link", "/etc", false},
		{"link", "../outside", false},
		{"a/link", "../../outside", false},
		{"link", "", false},
		{"link", "..\\outside", false},
		{"deep/link", "../../", false},
	}
	for _, tt := range tests {
		err := secureLinkTarget(root, tt.entry, tt.target)
		if tt.ok && err != nil {
			t.Errorf("secureLinkTarget(%q -> %q) failed: %v", tt.entry, tt.target, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("secureLinkTarget(%q -> %q) succeeded, want rejection", tt.entry, tt.target)
		}
	}
}
