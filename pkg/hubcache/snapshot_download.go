// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"time"
)

// MatchAnyGlob reports whether p matches one of the POSIX filename-match
// globs. Matching applies to the entire path string, so "*.safetensors" does
// not match files in subdirectories. An empty glob list matches everything.
func MatchAnyGlob(globs []string, p string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, err := path.Match(g, p); err == nil && ok {
			return true
		}
	}
	return false
}

// DownloadSnapshot downloads every file of a revision whose path matches the
// request globs, materializing the tree under req.Destination. Files are
// fetched sequentially so the outer progress advances in path order; each
// file contributes its size pro rata. Cancellation mid-list stops early and
// returns the paths downloaded so far without error.
func (cl *Client) DownloadSnapshot(ctx context.Context, req SnapshotRequest) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Repo.Namespace == "" || req.Repo.Name == "" {
		return nil, ErrInvalidRepo
	}
	if req.Destination == "" {
		return nil, errors.New("missing destination")
	}
	if req.Revision == "" {
		req.Revision = DefaultRevision
	}
	if req.Progress == nil {
		req.Progress = NewProgress()
	}

	emit := func(ev ProgressEvent) {
		if req.OnProgress != nil {
			if ev.Time.IsZero() {
				ev.Time = time.Now()
			}
			if ev.Repo == "" {
				ev.Repo = req.Repo.String()
			}
			if ev.Revision == "" {
				ev.Revision = req.Revision
			}
			req.OnProgress(ev)
		}
	}

	emit(ProgressEvent{Event: "scan_start", Message: "listing revision tree"})
	entries, err := cl.ListTree(ctx, req.Kind, req.Repo, req.Revision)
	if err != nil {
		return nil, err
	}

	var selected []TreeEntry
	var totalBytes int64
	for _, e := range entries {
		if !MatchAnyGlob(req.Globs, e.Path) {
			continue
		}
		selected = append(selected, e)
		totalBytes += entrySize(e)
		emit(ProgressEvent{Event: "plan_item", Path: e.Path, Total: entrySize(e), IsLFS: e.LFS != nil})
	}
	req.Progress.Set(0, totalBytes)

	var done []string
	var completedBefore int64
	for _, e := range selected {
		if ctx.Err() != nil {
			return done, nil
		}

		inner := NewProgress()
		before := completedBefore
		onInner := func(ev ProgressEvent) {
			if ev.Event == "file_progress" {
				req.Progress.Set(before+ev.Downloaded, totalBytes)
				if ev.Throughput > 0 {
					req.Progress.SetUserInfo("throughput", ev.Throughput)
				}
			}
			emit(ev)
		}

		dest := filepath.Join(req.Destination, filepath.FromSlash(e.Path))
		_, err := cl.DownloadFile(ctx, DownloadRequest{
			Kind:        req.Kind,
			Repo:        req.Repo,
			Revision:    req.Revision,
			Filename:    e.Path,
			Destination: dest,
			Force:       req.Force,
			Progress:    inner,
			OnProgress:  onInner,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return done, nil
			}
			return done, err
		}

		if e.LFS != nil {
			if sha := lfsSha256(e); sha != "" {
				if err := verifySHA256(dest, sha); err != nil {
					return done, err
				}
			}
		}

		completedBefore += entrySize(e)
		req.Progress.Set(completedBefore, totalBytes)
		done = append(done, e.Path)
	}

	emit(ProgressEvent{Event: "done", Message: "snapshot complete"})
	return done, nil
}

// entrySize prefers the LFS size: for LFS files the tree's plain size field
// describes the pointer file, not the payload.
func entrySize(e TreeEntry) int64 {
	if e.LFS != nil && e.LFS.Size > 0 {
		return e.LFS.Size
	}
	return e.Size
}

// lfsSha256 extracts the payload hash from a tree entry, accepting both the
// bare-hex and "sha256:..." oid forms.
func lfsSha256(e TreeEntry) string {
	oid := ""
	if e.LFS != nil {
		oid = e.LFS.Oid
	}
	if oid == "" {
		oid = e.Oid
	}
	if len(oid) == 71 && oid[:7] == "sha256:" {
		return oid[7:]
	}
	if len(oid) == 64 {
		return oid
	}
	return ""
}
