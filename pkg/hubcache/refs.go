// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"os"
	"path/filepath"
	"strings"
)

// ReadRef returns the commit hash recorded for a symbolic ref, or "" when the
// ref file does not exist or cannot be read. Contents are whitespace-trimmed.
func (c *Cache) ReadRef(kind RepoKind, repo Repo, ref string) string {
	data, err := os.ReadFile(c.RefPath(kind, repo, ref))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteRef records commit as the target of a symbolic ref. The write is
// atomic: a sibling temp file is renamed into place. Parent directories are
// created as needed, so nested refs like "refs/pr/5" work.
func (c *Cache) WriteRef(kind RepoKind, repo Repo, ref, commit string) error {
	path := c.RefPath(kind, repo, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &FSError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return &FSError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(commit); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FSError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FSError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &FSError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// ResolveRevision maps a revision to a commit hash using the local cache.
// A 40-hex revision resolves to itself; anything else is looked up under
// refs/. Returns "" when the revision cannot be resolved locally.
func (c *Cache) ResolveRevision(kind RepoKind, repo Repo, revision string) string {
	if IsCommitHash(revision) {
		return revision
	}
	return c.ReadRef(kind, repo, revision)
}
