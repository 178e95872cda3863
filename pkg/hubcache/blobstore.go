// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"io"
	"os"
	"path/filepath"

	"github.com/hubget/hubget/internal/filelock"
)

// HasBlob reports whether the blob for etag is installed.
func (c *Cache) HasBlob(kind RepoKind, repo Repo, etag string) bool {
	path, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// InstallBlobFromPath promotes a fully-written staging file into the blob
// store under the blob's lockfile. If the blob already exists the staging
// file is discarded; otherwise it is renamed into place, falling back to a
// copy+sync when rename crosses devices. Blobs are immutable once installed.
func (c *Cache) InstallBlobFromPath(kind RepoKind, repo Repo, etag, staging string) (string, error) {
	blobPath, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: filepath.Dir(blobPath), Err: err}
	}
	lockPath, err := c.LockPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return "", &FSError{Op: "lock", Path: lockPath, Err: err}
	}
	defer lock.Release()

	return c.installBlobLocked(kind, repo, etag, staging)
}

// installBlobLocked performs the promote step. The caller must hold the
// blob's lockfile.
func (c *Cache) installBlobLocked(kind RepoKind, repo Repo, etag, staging string) (string, error) {
	blobPath, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(blobPath); err == nil {
		// Another writer won the race; the bytes are identical by construction.
		os.Remove(staging)
		return blobPath, nil
	}
	if err := installFile(staging, blobPath); err != nil {
		return "", err
	}
	return blobPath, nil
}

// InstallBlobFromBytes installs raw bytes as the blob for etag, writing
// through a temp file and renaming under the blob's lock.
func (c *Cache) InstallBlobFromBytes(kind RepoKind, repo Repo, etag string, data []byte) (string, error) {
	blobsDir := c.BlobsDir(kind, repo)
	if err := os.MkdirAll(blobsDir, 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: blobsDir, Err: err}
	}
	tmp, err := os.CreateTemp(blobsDir, ".blob-*")
	if err != nil {
		return "", &FSError{Op: "create", Path: blobsDir, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", &FSError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", &FSError{Op: "close", Path: tmpName, Err: err}
	}
	path, err := c.InstallBlobFromPath(kind, repo, etag, tmpName)
	if err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return path, nil
}

// installFile moves src to dst, preferring rename and degrading to
// copy+sync+remove when the two live on different devices.
func installFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return &FSError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return &FSError{Op: "create", Path: tmp, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return &FSError{Op: "copy", Path: tmp, Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return &FSError{Op: "sync", Path: tmp, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return &FSError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return &FSError{Op: "rename", Path: dst, Err: err}
	}
	os.Remove(src)
	return nil
}
