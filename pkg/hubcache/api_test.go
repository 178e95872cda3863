// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Settings{
		Endpoint: srv.URL,
		Token:    "test-token",
		CacheDir: t.TempDir(),
	})
}

func TestParseNextLink(t *testing.T) {
	next := "https://hub/api/models/ns/n/tree/main?cursor=abc"

	t.Run("double quoted rel", func(t *testing.T) {
		assert.Equal(t, next, parseNextLink(fmt.Sprintf(`<%s>; rel="next"`, next)))
	})

	t.Run("single quoted rel", func(t *testing.T) {
		assert.Equal(t, next, parseNextLink(fmt.Sprintf(`<%s>; rel='next'`, next)))
	})

	t.Run("unquoted rel", func(t *testing.T) {
		assert.Equal(t, next, parseNextLink(fmt.Sprintf(`<%s>; rel=next`, next)))
	})

	t.Run("picks next among multiple links", func(t *testing.T) {
		header := fmt.Sprintf(`<https://hub/prev>; rel="prev", <%s>; rel="next"`, next)
		assert.Equal(t, next, parseNextLink(header))
	})

	t.Run("no next relation", func(t *testing.T) {
		assert.Equal(t, "", parseNextLink(`<https://hub/prev>; rel="prev"`))
		assert.Equal(t, "", parseNextLink(""))
		assert.Equal(t, "", parseNextLink("garbage"))
	})
}

func TestContentRangeTotal(t *testing.T) {
	assert.Equal(t, int64(1234), contentRangeTotal("bytes 0-0/1234"))
	assert.Equal(t, int64(0), contentRangeTotal("bytes 0-0/*"))
	assert.Equal(t, int64(0), contentRangeTotal(""))
}

func TestFileMetadata(t *testing.T) {
	repo := Repo{Namespace: "ns", Name: "n"}
	commit := strings.Repeat("1", 40)

	t.Run("partial content probe", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodHead, r.Method)
			assert.Equal(t, "/ns/n/resolve/main/config.json", r.URL.Path)
			assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			w.Header().Set("ETag", `"abc123"`)
			w.Header().Set("Content-Range", "bytes 0-0/917")
			w.Header().Set(headerRepoCommit, commit)
			w.WriteHeader(http.StatusPartialContent)
		}))
		defer srv.Close()

		rec, err := newTestClient(t, srv).FileMetadata(context.Background(), KindModel, repo, "main", "config.json")
		require.NoError(t, err)
		assert.True(t, rec.Exists)
		assert.Equal(t, `"abc123"`, rec.Etag)
		assert.Equal(t, int64(917), rec.Size)
		assert.Equal(t, commit, rec.Commit)
		assert.False(t, rec.IsLFS)
	})

	t.Run("full response probe uses content length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", "plain")
			w.Header().Set("Content-Length", "55")
			w.Header().Set(headerRepoCommit, commit)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec, err := newTestClient(t, srv).FileMetadata(context.Background(), KindModel, repo, "main", "f")
		require.NoError(t, err)
		assert.True(t, rec.Exists)
		assert.Equal(t, int64(55), rec.Size)
	})

	t.Run("linked size marks LFS", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("ETag", `"lfsblob"`)
			w.Header().Set("Content-Range", "bytes 0-0/5000000")
			w.Header().Set(headerLinkedSize, "5000000")
			w.WriteHeader(http.StatusPartialContent)
		}))
		defer srv.Close()

		rec, err := newTestClient(t, srv).FileMetadata(context.Background(), KindModel, repo, "main", "model.bin")
		require.NoError(t, err)
		assert.True(t, rec.IsLFS)
		assert.Equal(t, int64(5000000), rec.Size)
	})

	t.Run("missing file is not an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		rec, err := newTestClient(t, srv).FileMetadata(context.Background(), KindModel, repo, "main", "nope")
		require.NoError(t, err)
		assert.False(t, rec.Exists)
	})

	t.Run("server error surfaces status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).FileMetadata(context.Background(), KindModel, repo, "main", "f")
		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
		assert.True(t, httpErr.IsRetryable())
	})

	t.Run("dataset URLs carry the datasets prefix", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).FileMetadata(context.Background(), KindDataset, repo, "main", "data.csv")
		require.NoError(t, err)
		assert.Equal(t, "/datasets/ns/n/resolve/main/data.csv", gotPath)
	})
}

func TestListTree(t *testing.T) {
	repo := Repo{Namespace: "ns", Name: "n"}

	t.Run("follows pagination and recurses into directories", func(t *testing.T) {
		var srv *httptest.Server
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/api/models/ns/n/tree/main" && r.URL.RawQuery == "":
				w.Header().Set("Link", fmt.Sprintf(`<%s/api/models/ns/n/tree/main?cursor=2>; rel="next"`, srv.URL))
				fmt.Fprint(w, `[{"type":"file","path":"config.json","size":10,"oid":"aa"},{"type":"directory","path":"sub"}]`)
			case r.URL.Path == "/api/models/ns/n/tree/main" && r.URL.RawQuery == "cursor=2":
				fmt.Fprint(w, `[{"type":"file","path":"tokenizer.json","size":20,"oid":"bb"}]`)
			case r.URL.Path == "/api/models/ns/n/tree/main/sub":
				fmt.Fprint(w, `[{"type":"file","path":"sub/weights.bin","size":500,"oid":"cc","lfs":{"oid":"sha256:dd","size":500}}]`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer srv.Close()

		entries, err := newTestClient(t, srv).ListTree(context.Background(), KindModel, repo, "main")
		require.NoError(t, err)

		var paths []string
		for _, e := range entries {
			paths = append(paths, e.Path)
		}
		assert.ElementsMatch(t, []string{"config.json", "sub/weights.bin", "tokenizer.json"}, paths)

		for _, e := range entries {
			if e.Path == "sub/weights.bin" {
				require.NotNil(t, e.LFS)
				assert.Equal(t, "sha256:dd", e.LFS.Oid)
				assert.Equal(t, int64(500), e.LFS.Size)
			}
		}
	})

	t.Run("missing revision is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv).ListTree(context.Background(), KindModel, repo, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateCommit(t *testing.T) {
	repo := Repo{Namespace: "ns", Name: "n"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/models/ns/n/commit/main", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		fmt.Fprint(w, `{"commitOid":"deadbeef"}`)
	}))
	defer srv.Close()

	raw, err := newTestClient(t, srv).CreateCommit(context.Background(), KindModel, repo, "main", CommitRequest{
		Title:      "remove stale file",
		Operations: []CommitOperation{{Op: "delete", Path: "old.bin"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"commitOid":"deadbeef"}`, string(raw))
}
