// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hubStub serves the probe and resolve endpoints for a single file.
type hubStub struct {
	mu       sync.Mutex
	content  []byte
	etag     string
	commit   string
	lieSize  int64 // when >0, the probe advertises this instead of the real size
	failGets int   // number of GETs to answer with 500 before succeeding

	headCount int
	getCount  int
	lastRange string
}

func (h *hubStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()

		if !strings.Contains(r.URL.Path, "/resolve/") || !strings.HasSuffix(r.URL.Path, "/config.json") {
			if r.Method == http.MethodHead {
				h.headCount++
			}
			w.WriteHeader(http.StatusNotFound)
			return
		}

		size := int64(len(h.content))
		if h.lieSize > 0 {
			size = h.lieSize
		}

		switch r.Method {
		case http.MethodHead:
			h.headCount++
			w.Header().Set("ETag", h.etag)
			w.Header().Set(headerRepoCommit, h.commit)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", size))
			w.WriteHeader(http.StatusPartialContent)
		case http.MethodGet:
			h.getCount++
			if h.failGets > 0 {
				h.failGets--
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			h.lastRange = r.Header.Get("Range")
			if h.lastRange != "" {
				off, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(h.lastRange, "bytes="), "-"), 10, 64)
				if err != nil || off < 0 || off >= int64(len(h.content)) {
					w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
					return
				}
				w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", off, len(h.content)-1, len(h.content)))
				w.WriteHeader(http.StatusPartialContent)
				w.Write(h.content[off:])
				return
			}
			w.Write(h.content)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (h *hubStub) counts() (heads, gets int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.headCount, h.getCount
}

func newHubFixture(t *testing.T, content []byte) (*hubStub, *Client) {
	t.Helper()
	stub := &hubStub{
		content: content,
		etag:    `"abcdef123456"`,
		commit:  strings.Repeat("1", 40),
	}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	cl := NewClient(Settings{
		Endpoint:   srv.URL,
		Token:      "test-token",
		CacheDir:   t.TempDir(),
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	return stub, cl
}

func TestDownloadFile(t *testing.T) {
	repo := Repo{Namespace: "ns", Name: "n"}
	content := bytes.Repeat([]byte("0123456789"), 100)

	t.Run("cold download populates cache and writes ref", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		dest := filepath.Join(t.TempDir(), "out", "config.json")

		got, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest,
		})
		require.NoError(t, err)
		assert.Equal(t, dest, got)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, data)

		assert.True(t, cl.Cache().HasBlob(KindModel, repo, stub.etag))
		assert.Equal(t, stub.commit, cl.Cache().ReadRef(KindModel, repo, "main"))

		snap := cl.Cache().SnapshotPath(KindModel, repo, stub.commit, "config.json")
		snapData, err := os.ReadFile(snap)
		require.NoError(t, err)
		assert.Equal(t, content, snapData)
	})

	t.Run("download by commit hash writes no ref", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		dest := filepath.Join(t.TempDir(), "config.json")

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: stub.commit,
			Filename: "config.json", Destination: dest,
		})
		require.NoError(t, err)

		entries, err := os.ReadDir(cl.Cache().RefsDir(KindModel, repo))
		if err == nil {
			assert.Empty(t, entries)
		} else {
			assert.True(t, os.IsNotExist(err))
		}
	})

	t.Run("second download is served from cache", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		dest1 := filepath.Join(t.TempDir(), "a.json")
		dest2 := filepath.Join(t.TempDir(), "b.json")

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest1,
		})
		require.NoError(t, err)
		heads, gets := stub.counts()

		var events []ProgressEvent
		_, err = cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest2,
			OnProgress: func(ev ProgressEvent) { events = append(events, ev) },
		})
		require.NoError(t, err)

		heads2, gets2 := stub.counts()
		assert.Equal(t, heads, heads2, "no probe on cache hit")
		assert.Equal(t, gets, gets2, "no fetch on cache hit")

		data, err := os.ReadFile(dest2)
		require.NoError(t, err)
		assert.Equal(t, content, data)

		require.NotEmpty(t, events)
		assert.Equal(t, "file_done", events[len(events)-1].Event)
		assert.Equal(t, "cached", events[len(events)-1].Message)
	})

	t.Run("force bypasses the cache", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		dest := filepath.Join(t.TempDir(), "config.json")
		req := DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest,
		}

		_, err := cl.DownloadFile(context.Background(), req)
		require.NoError(t, err)
		_, gets := stub.counts()

		req.Force = true
		_, err = cl.DownloadFile(context.Background(), req)
		require.NoError(t, err)

		_, gets2 := stub.counts()
		assert.Equal(t, gets+1, gets2, "force re-fetches")
	})

	t.Run("resume continues from the partial offset", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)

		staging, err := cl.Cache().IncompletePath(KindModel, repo, stub.etag)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(filepath.Dir(staging), 0o755))
		require.NoError(t, os.WriteFile(staging, content[:400], 0o644))

		dest := filepath.Join(t.TempDir(), "config.json")
		_, err = cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest,
		})
		require.NoError(t, err)

		stub.mu.Lock()
		lastRange := stub.lastRange
		stub.mu.Unlock()
		assert.Equal(t, "bytes=400-", lastRange)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, data)

		assert.NoFileExists(t, staging, "staging promoted into blob store")
	})

	t.Run("concurrent downloads of one file serialize on the blob lock", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		outDir := t.TempDir()

		const workers = 4
		dests := make([]string, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				dests[i] = filepath.Join(outDir, fmt.Sprintf("copy-%d.json", i))
				_, errs[i] = cl.DownloadFile(context.Background(), DownloadRequest{
					Kind: KindModel, Repo: repo, Revision: "main",
					Filename: "config.json", Destination: dests[i],
				})
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i], "worker %d", i)
			data, err := os.ReadFile(dests[i])
			require.NoError(t, err)
			assert.Equal(t, content, data, "worker %d", i)
		}

		_, gets := stub.counts()
		assert.Equal(t, 1, gets, "only the lock holder fetches; the rest reuse the blob")

		blobPath, err := cl.Cache().BlobPath(KindModel, repo, stub.etag)
		require.NoError(t, err)
		blobData, err := os.ReadFile(blobPath)
		require.NoError(t, err)
		assert.Equal(t, content, blobData)
	})

	t.Run("missing file is terminal", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		dest := filepath.Join(t.TempDir(), "nope")

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "nope", Destination: dest,
		})
		assert.ErrorIs(t, err, ErrNotFound)

		heads, gets := stub.counts()
		assert.Equal(t, 1, heads, "probed once, no retry")
		assert.Equal(t, 0, gets)
		assert.NoFileExists(t, dest)
	})

	t.Run("size mismatch is terminal and keeps staging", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		stub.lieSize = int64(len(content)) + 5
		dest := filepath.Join(t.TempDir(), "config.json")

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest,
		})
		var sizeErr *SizeMismatchError
		require.ErrorAs(t, err, &sizeErr)
		assert.Equal(t, int64(len(content))+5, sizeErr.Expected)
		assert.Equal(t, int64(len(content)), sizeErr.Actual)

		_, gets := stub.counts()
		assert.Equal(t, 1, gets, "no retry on size mismatch")

		assert.False(t, cl.Cache().HasBlob(KindModel, repo, stub.etag))
		staging, err := cl.Cache().IncompletePath(KindModel, repo, stub.etag)
		require.NoError(t, err)
		assert.FileExists(t, staging, "staging kept for a later resume")
	})

	t.Run("transient server errors are retried", func(t *testing.T) {
		stub, cl := newHubFixture(t, content)
		stub.failGets = 1
		dest := filepath.Join(t.TempDir(), "config.json")

		var retries int
		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: dest,
			OnProgress: func(ev ProgressEvent) {
				if ev.Event == "retry" {
					retries++
				}
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, retries)

		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("canceled context aborts without retrying", func(t *testing.T) {
		_, cl := newHubFixture(t, content)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := cl.DownloadFile(ctx, DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: filepath.Join(t.TempDir(), "x"),
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("progress reports totals", func(t *testing.T) {
		_, cl := newHubFixture(t, content)
		pro := NewProgress()

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Revision: "main",
			Filename: "config.json", Destination: filepath.Join(t.TempDir(), "config.json"),
			Progress: pro,
		})
		require.NoError(t, err)

		complete, total := pro.Totals()
		assert.Equal(t, int64(len(content)), total)
		assert.Equal(t, complete, total)
	})

	t.Run("request validation", func(t *testing.T) {
		_, cl := newHubFixture(t, content)

		_, err := cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: Repo{}, Filename: "f", Destination: "d",
		})
		assert.ErrorIs(t, err, ErrInvalidRepo)

		_, err = cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Destination: "d",
		})
		assert.Error(t, err)

		_, err = cl.DownloadFile(context.Background(), DownloadRequest{
			Kind: KindModel, Repo: repo, Filename: "f",
		})
		assert.Error(t, err)
	})
}
