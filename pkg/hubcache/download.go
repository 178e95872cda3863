// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid"

	"github.com/hubget/hubget/internal/filelock"
)

// downloadChunkSize is the buffered write granularity for streaming bodies.
const downloadChunkSize = 64 * 1024

// DownloadFile downloads one file into the cache and delivers its bytes to
// req.Destination, returning the destination path.
//
// Unless req.Force is set, a revision that resolves locally to a commit with
// an existing snapshot entry short-circuits without touching the network.
// Otherwise the engine probes the file, takes the blob's cross-process lock,
// streams the body into a per-etag ".incomplete" staging file (resuming from
// a previous offset when one exists), verifies the byte count, promotes the
// staging file into the blob store, links the snapshot entry, and records
// the ref. The lock is held from the first staging write through promotion,
// so concurrent downloads of the same blob serialize rather than corrupt
// each other's staging bytes.
//
// Transient failures are retried up to Settings.MaxRetries with
// Settings.RetryDelay between attempts. Cancellation aborts immediately and
// leaves the staging file in place for a future resume.
func (cl *Client) DownloadFile(ctx context.Context, req DownloadRequest) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Repo.Namespace == "" || req.Repo.Name == "" {
		return "", ErrInvalidRepo
	}
	if req.Filename == "" {
		return "", errors.New("missing filename")
	}
	if req.Destination == "" {
		return "", errors.New("missing destination")
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

	// Cache hit path: a locally resolvable commit with an existing snapshot
	// entry is served without any network traffic.
	if !req.Force {
		if commit := cl.cache.ResolveRevision(req.Kind, req.Repo, req.Revision); commit != "" {
			snapPath := cl.cache.SnapshotPath(req.Kind, req.Repo, commit, req.Filename)
			if fi, err := os.Stat(snapPath); err == nil && !fi.IsDir() {
				if err := exportSnapshotEntry(snapPath, req.Destination); err != nil {
					return "", err
				}
				req.Progress.Set(fi.Size(), fi.Size())
				emit(ProgressEvent{Event: "file_done", Path: req.Filename, Message: "cached", Total: fi.Size()})
				return req.Destination, nil
			}
		}
	}

	emit(ProgressEvent{Event: "file_start", Path: req.Filename})

	var lastErr error
	for attempt := 1; attempt <= cl.settings.MaxRetries; attempt++ {
		dest, err := cl.downloadOnce(ctx, req, emit)
		if err == nil {
			emit(ProgressEvent{Event: "file_done", Path: req.Filename})
			return dest, nil
		}
		lastErr = err
		if isTerminal(err) {
			break
		}
		if attempt < cl.settings.MaxRetries {
			emit(ProgressEvent{Event: "retry", Path: req.Filename, Attempt: attempt, Message: err.Error()})
			if !sleepCtx(ctx, cl.settings.RetryDelay) {
				lastErr = ctx.Err()
				break
			}
		}
	}
	emit(ProgressEvent{Level: "error", Event: "error", Path: req.Filename, Message: lastErr.Error()})
	return "", lastErr
}

// isTerminal reports whether err must propagate without further attempts.
func isTerminal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var etagErr *EtagError
	if errors.As(err, &etagErr) {
		return true
	}
	var sizeErr *SizeMismatchError
	if errors.As(err, &sizeErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.IsRetryable()
	}
	return false
}

// downloadOnce performs a single probe+fetch+promote attempt.
func (cl *Client) downloadOnce(ctx context.Context, req DownloadRequest, emit func(ProgressEvent)) (string, error) {
	rec, err := cl.FileMetadata(ctx, req.Kind, req.Repo, req.Revision, req.Filename)
	if err != nil {
		return "", err
	}
	if !rec.Exists {
		return "", fmt.Errorf("%w: %s@%s/%s", ErrNotFound, req.Repo, req.Revision, req.Filename)
	}

	etag := rec.Etag
	if etag == "" {
		// No etag from the server; stage and store under a fresh unique token.
		etag = newStagingToken()
	}
	commit := rec.Commit
	if commit == "" && IsCommitHash(req.Revision) {
		commit = req.Revision
	}
	if commit == "" {
		return "", fmt.Errorf("server did not advertise a commit for %s@%s", req.Repo, req.Revision)
	}

	staging, err := cl.cache.IncompletePath(req.Kind, req.Repo, etag)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(staging), 0o755); err != nil {
		return "", &FSError{Op: "mkdir", Path: filepath.Dir(staging), Err: err}
	}

	// The blob's lockfile serializes every writer of this staging file, in
	// this process and in others, from the first byte through promotion.
	// Without it two concurrent fetches of the same etag would truncate and
	// interleave writes on the shared ".incomplete" inode.
	lockPath, err := cl.cache.LockPath(req.Kind, req.Repo, etag)
	if err != nil {
		return "", err
	}
	lock, err := filelock.Acquire(lockPath)
	if err != nil {
		return "", &FSError{Op: "lock", Path: lockPath, Err: err}
	}
	defer lock.Release()

	// A writer that held the lock before us may have installed the blob
	// already; its bytes are identical, so skip the fetch.
	if req.Force || !cl.cache.HasBlob(req.Kind, req.Repo, etag) {
		written, err := cl.fetchToStaging(ctx, req, rec, staging, emit)
		if err != nil {
			return "", err
		}
		if rec.Size > 0 && written != rec.Size {
			return "", &SizeMismatchError{Path: req.Filename, Expected: rec.Size, Actual: written}
		}
	}

	// Promote. Failures past this point are soft: the fetched bytes are
	// always delivered, and the cache is left resumable for a later call.
	blobPath, installErr := cl.cache.installBlobLocked(req.Kind, req.Repo, etag, staging)
	if installErr != nil {
		if err := deliverBytes(staging, req.Destination); err != nil {
			return "", err
		}
		emit(ProgressEvent{Level: "warn", Event: "error", Path: req.Filename, Message: "cache install failed: " + installErr.Error()})
		return req.Destination, nil
	}

	snapPath, linkErr := cl.cache.LinkSnapshot(req.Kind, req.Repo, commit, req.Filename, etag)
	if linkErr != nil {
		if err := deliverBytes(blobPath, req.Destination); err != nil {
			return "", err
		}
		emit(ProgressEvent{Level: "warn", Event: "error", Path: req.Filename, Message: "snapshot link failed: " + linkErr.Error()})
		return req.Destination, nil
	}

	if req.Revision != commit && !IsCommitHash(req.Revision) {
		if err := cl.cache.WriteRef(req.Kind, req.Repo, req.Revision, commit); err != nil {
			emit(ProgressEvent{Level: "warn", Event: "error", Path: req.Filename, Message: "ref update failed: " + err.Error()})
		}
	}

	if err := exportSnapshotEntry(snapPath, req.Destination); err != nil {
		return "", err
	}
	return req.Destination, nil
}

// fetchToStaging streams the remote file into the staging path, resuming
// from a previous partial write when the server honors Range. Returns the
// total byte count present in the staging file afterward.
func (cl *Client) fetchToStaging(ctx context.Context, req DownloadRequest, rec FileRecord, staging string, emit func(ProgressEvent)) (int64, error) {
	var resumeOffset int64
	if fi, err := os.Stat(staging); err == nil {
		if fi.Size() > 0 && rec.Size > 0 && fi.Size() < rec.Size {
			resumeOffset = fi.Size()
		}
	}

	urlStr := cl.resolveURL(req.Kind, req.Repo, req.Revision, req.Filename)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, err
	}
	cl.addAuth(httpReq)
	if resumeOffset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeOffset))
	}

	resp, err := cl.httpc.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Appending to the existing partial write.
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Full content (server may have ignored the range); restart from zero.
		resumeOffset = 0
	default:
		io.Copy(io.Discard, resp.Body)
		return 0, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: urlStr}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if resumeOffset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(staging, flags, 0o644)
	if err != nil {
		return 0, &FSError{Op: "open", Path: staging, Err: err}
	}
	defer out.Close()

	tracker := newProgressTracker(req.Filename, rec.Size, resumeOffset, req.Progress, emit)
	written := resumeOffset
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return written, &FSError{Op: "write", Path: staging, Err: werr}
			}
			written += int64(n)
			tracker.advance(int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, rerr
		}
	}
	if err := out.Sync(); err != nil {
		return written, &FSError{Op: "sync", Path: staging, Err: err}
	}
	tracker.finish()
	return written, nil
}

// deliverBytes copies a file's bytes to the destination, creating parents.
func deliverBytes(src, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return &FSError{Op: "mkdir", Path: filepath.Dir(destination), Err: err}
	}
	return copyFile(src, destination)
}

// newStagingToken generates a unique token used in place of a missing etag.
func newStagingToken() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
