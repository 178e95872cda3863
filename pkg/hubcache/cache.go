// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"path/filepath"
	"strings"
)

// Cache computes and manages paths under a hub cache root.
//
// The on-disk layout is shared with every other hub client on the machine:
//
//	<root>/<kind_plural>--<namespace>--<name>/
//	    blobs/<normalized_etag>
//	    refs/<ref_name>
//	    snapshots/<commit>/<filename>
//
// Cache itself performs pure path computation; the blob store, reference
// resolver, and snapshot linker build on it.
type Cache struct {
	dir string
}

// OpenCache returns a Cache rooted at dir, resolving the standard location
// when dir is empty. The directory is not created.
func OpenCache(dir string) *Cache {
	return &Cache{dir: ResolveCacheDir(dir)}
}

// Dir returns the cache root directory.
func (c *Cache) Dir() string {
	return c.dir
}

// RepoDir returns the directory holding all cached data for one repository.
func (c *Cache) RepoDir(kind RepoKind, repo Repo) string {
	return filepath.Join(c.dir, repo.FolderName(kind))
}

// BlobsDir returns the blobs directory for a repository.
func (c *Cache) BlobsDir(kind RepoKind, repo Repo) string {
	return filepath.Join(c.RepoDir(kind, repo), "blobs")
}

// RefsDir returns the refs directory for a repository.
func (c *Cache) RefsDir(kind RepoKind, repo Repo) string {
	return filepath.Join(c.RepoDir(kind, repo), "refs")
}

// SnapshotsDir returns the snapshots directory for a repository.
func (c *Cache) SnapshotsDir(kind RepoKind, repo Repo) string {
	return filepath.Join(c.RepoDir(kind, repo), "snapshots")
}

// BlobPath returns the path of the blob for etag, normalizing it first.
func (c *Cache) BlobPath(kind RepoKind, repo Repo, etag string) (string, error) {
	n, err := NormalizeEtag(etag)
	if err != nil {
		return "", err
	}
	return filepath.Join(c.BlobsDir(kind, repo), n), nil
}

// IncompletePath returns the staging path for an in-progress download of etag.
func (c *Cache) IncompletePath(kind RepoKind, repo Repo, etag string) (string, error) {
	p, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	return p + ".incomplete", nil
}

// LockPath returns the lockfile path guarding installation of etag.
func (c *Cache) LockPath(kind RepoKind, repo Repo, etag string) (string, error) {
	p, err := c.BlobPath(kind, repo, etag)
	if err != nil {
		return "", err
	}
	return p + ".lock", nil
}

// SnapshotPath returns the snapshot entry path for (commit, filename).
// Filename may contain slashes; they become nested directories.
func (c *Cache) SnapshotPath(kind RepoKind, repo Repo, commit, filename string) string {
	return filepath.Join(c.SnapshotsDir(kind, repo), commit, filepath.FromSlash(filename))
}

// RefPath returns the file holding the commit hash for a symbolic ref.
// Nested refs like "refs/pr/5" map to nested directories.
func (c *Cache) RefPath(kind RepoKind, repo Repo, ref string) string {
	return filepath.Join(c.RefsDir(kind, repo), filepath.FromSlash(ref))
}

// NormalizeEtag strips one leading weak-validator prefix ("W/") and all
// leading and trailing double quotes. The result is the blob filename.
func NormalizeEtag(etag string) (string, error) {
	n := strings.TrimPrefix(etag, "W/")
	n = strings.Trim(n, `"`)
	if n == "" || strings.ContainsRune(n, '/') {
		return "", &EtagError{Etag: etag}
	}
	return n, nil
}

// RelativeBlobTarget computes the relative symlink target from a snapshot
// entry back to its blob. For a filename with d slash-separated components
// the target starts with d+1 "../" segments: one for each directory of the
// filename, one for the commit directory, and one for snapshots/.
func RelativeBlobTarget(filename, normalizedEtag string) string {
	depth := len(strings.Split(strings.Trim(filename, "/"), "/"))
	return strings.Repeat("../", depth+1) + "blobs/" + normalizedEtag
}
