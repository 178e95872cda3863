// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"io"
	"os"
	"path/filepath"
)

// LinkSnapshot installs the snapshot entry for (commit, filename) pointing at
// the blob for etag. The entry is a relative symlink into blobs/; on
// filesystems that refuse symlinks the blob bytes are copied instead. Any
// existing entry is removed first, so relinking is idempotent.
func (c *Cache) LinkSnapshot(kind RepoKind, repo Repo, commit, filename, etag string) (string, error) {
	normalized, err := NormalizeEtag(etag)
	if err != nil {
		return "", err
	}
	snapPath := c.SnapshotPath(kind, repo, commit, filename)
	if err := os.MkdirAll(filepath.Dir(snapPath), 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: filepath.Dir(snapPath), Err: err}
	}
	if err := os.Remove(snapPath); err != nil && !os.IsNotExist(err) {
		return "", &FSError{Op: "remove", Path: snapPath, Err: err}
	}
	target := filepath.FromSlash(RelativeBlobTarget(filename, normalized))
	if err := os.Symlink(target, snapPath); err == nil {
		return snapPath, nil
	}
	// Symlinks unavailable (privilege or filesystem); degrade to a full copy.
	blobPath, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	if err := copyFile(blobPath, snapPath); err != nil {
		return "", err
	}
	return snapPath, nil
}

// copyFile copies src to dst through a temp file in dst's directory.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &FSError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return &FSError{Op: "create", Path: dst, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FSError{Op: "copy", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FSError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return &FSError{Op: "rename", Path: dst, Err: err}
	}
	return nil
}

// exportSnapshotEntry copies the (possibly symlinked) snapshot entry to a
// destination outside the cache, dereferencing links so the destination holds
// real bytes. Parent directories are created on demand.
func exportSnapshotEntry(snapPath, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return &FSError{Op: "mkdir", Path: filepath.Dir(destination), Err: err}
	}
	resolved, err := filepath.EvalSymlinks(snapPath)
	if err != nil {
		return &FSError{Op: "resolve", Path: snapPath, Err: err}
	}
	return copyFile(resolved, destination)
}
