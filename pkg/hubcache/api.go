// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// FileMetadata probes a single file with a HEAD request carrying
// "Range: bytes=0-0". Status 200 or 206 means the file exists; 404 yields a
// record with Exists=false. The record carries the raw etag, the commit from
// X-Repo-Commit, and LFS hints from X-Linked-Size / Link headers.
func (cl *Client) FileMetadata(ctx context.Context, kind RepoKind, repo Repo, revision, filename string) (FileRecord, error) {
	urlStr := cl.resolveURL(kind, repo, revision, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return FileRecord{}, err
	}
	cl.addAuth(req)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := cl.httpc.Do(req)
	if err != nil {
		return FileRecord{}, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusNotFound:
		return FileRecord{}, nil
	default:
		return FileRecord{}, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: urlStr}
	}

	rec := FileRecord{
		Exists: true,
		Etag:   resp.Header.Get("ETag"),
		Commit: resp.Header.Get(headerRepoCommit),
		IsLFS:  isLFSResponse(resp.Header),
	}
	rec.Size = probeSize(resp)
	return rec, nil
}

// probeSize extracts the total file size from a probe response. A 206 answer
// to a one-byte range reports the range length in Content-Length, so the
// total must come from Content-Range; when that is absent the size stays
// unknown and the subsequent GET determines the byte count.
func probeSize(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if total := contentRangeTotal(resp.Header.Get("Content-Range")); total > 0 {
			return total
		}
		return 0
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n >= 0 {
			return n
		}
	}
	return 0
}

// contentRangeTotal parses the total length out of "bytes 0-0/1234".
func contentRangeTotal(v string) int64 {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v[i+1:]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// isLFSResponse reports whether the response advertises large-file storage.
func isLFSResponse(h http.Header) bool {
	if h.Get(headerLinkedSize) != "" {
		return true
	}
	return strings.Contains(strings.ToLower(h.Get("Link")), "lfs")
}

// parseNextLink extracts the rel="next" URL from a Link header. Both double
// and single quoted rel forms are accepted; a missing or malformed header
// means there is no next page.
func parseNextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		ref := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(ref, "<") || !strings.HasSuffix(ref, ">") {
			continue
		}
		for _, attr := range segs[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` || attr == `rel='next'` || attr == "rel=next" {
				return strings.TrimSuffix(strings.TrimPrefix(ref, "<"), ">")
			}
		}
	}
	return ""
}

// ListTree enumerates every file in a revision, walking directories
// recursively and following rel="next" pagination on each level.
func (cl *Client) ListTree(ctx context.Context, kind RepoKind, repo Repo, revision string) ([]TreeEntry, error) {
	var files []TreeEntry
	err := cl.walkTree(ctx, kind, repo, revision, "", func(e TreeEntry) {
		files = append(files, e)
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (cl *Client) walkTree(ctx context.Context, kind RepoKind, repo Repo, revision, prefix string, fn func(TreeEntry)) error {
	next := cl.treeURL(kind, repo, revision, prefix)
	for next != "" {
		entries, nextPage, err := cl.treePage(ctx, next)
		if err != nil {
			return err
		}
		for _, e := range entries {
			switch e.Type {
			case "directory", "tree":
				if err := cl.walkTree(ctx, kind, repo, revision, e.Path, fn); err != nil {
					return err
				}
			default:
				fn(e)
			}
		}
		next = nextPage
	}
	return nil
}

func (cl *Client) treePage(ctx context.Context, urlStr string) ([]TreeEntry, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, "", err
	}
	cl.addAuth(req)
	resp, err := cl.httpc.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: urlStr}
	}

	var entries []TreeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, "", fmt.Errorf("decode tree listing: %w", err)
	}
	return entries, parseNextLink(resp.Header.Get("Link")), nil
}

// CreateCommit posts a commit request against a revision and returns the
// decoded response body as raw JSON. Used by snapshot coordinators that push
// back to the hub; the cache core never calls it.
func (cl *Client) CreateCommit(ctx context.Context, kind RepoKind, repo Repo, revision string, commit CommitRequest) (json.RawMessage, error) {
	body, err := json.Marshal(commit)
	if err != nil {
		return nil, err
	}
	urlStr := cl.commitURL(kind, repo, revision)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	cl.addAuth(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := cl.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: urlStr}
	}
	return json.RawMessage(data), nil
}
