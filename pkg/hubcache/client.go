// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultEndpoint is the public hub URL. Override via Settings.Endpoint or
// the HF_ENDPOINT environment variable for mirrors and enterprise deployments.
const DefaultEndpoint = "https://huggingface.co"

// Response headers the engine consumes.
const (
	headerRepoCommit = "X-Repo-Commit"
	headerLinkedSize = "X-Linked-Size"
)

// Client downloads hub files into the shared local cache.
type Client struct {
	settings Settings
	cache    *Cache
	httpc    *http.Client
	endpoint string
	token    string
}

// NewClient builds a Client from settings, resolving the endpoint, token, and
// cache directory from the environment where the settings leave them empty.
func NewClient(settings Settings) *Client {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 3
	}
	if settings.RetryDelay <= 0 {
		settings.RetryDelay = time.Second
	}
	endpoint := settings.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv(EnvEndpoint)
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	token := settings.Token
	if token == "" {
		token = ResolveToken()
	}
	return &Client{
		settings: settings,
		cache:    OpenCache(settings.CacheDir),
		httpc:    buildHTTPClient(),
		endpoint: strings.TrimSuffix(endpoint, "/"),
		token:    token,
	}
}

// Cache returns the cache the client reads and writes.
func (cl *Client) Cache() *Cache {
	return cl.cache
}

// buildHTTPClient creates an HTTP client with sensible transport defaults.
func buildHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

// addAuth adds authentication and user-agent headers to a request.
func (cl *Client) addAuth(req *http.Request) {
	if cl.token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.token)
	}
	ua := cl.settings.UserAgent
	if ua == "" {
		ua = "hubget/1"
	}
	req.Header.Set("User-Agent", ua)
}

// URL builders. Repo IDs contain "/" which must stay literal; each path
// segment of filenames is escaped individually.

func (cl *Client) resolveURL(kind RepoKind, repo Repo, revision, filename string) string {
	prefix := cl.endpoint
	switch kind {
	case KindDataset:
		prefix += "/datasets"
	case KindSpace:
		prefix += "/spaces"
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", prefix, repo, url.PathEscape(revision), pathEscapeAll(filename))
}

func (cl *Client) treeURL(kind RepoKind, repo Repo, revision, prefix string) string {
	base := fmt.Sprintf("%s/api/%s/%s/tree/%s", cl.endpoint, kind.Plural(), repo, url.PathEscape(revision))
	if prefix == "" {
		return base
	}
	return base + "/" + pathEscapeAll(prefix)
}

func (cl *Client) commitURL(kind RepoKind, repo Repo, revision string) string {
	return fmt.Sprintf("%s/api/%s/%s/commit/%s", cl.endpoint, kind.Plural(), repo, url.PathEscape(revision))
}

func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// backoff implements exponential backoff with jitter.
type backoff struct {
	next   time.Duration
	max    time.Duration
	mult   float64
	jitter time.Duration
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{next: base, max: 10 * time.Second, mult: 1.6, jitter: 120 * time.Millisecond}
}

// Next returns the next backoff duration.
func (b *backoff) Next() time.Duration {
	d := b.next + time.Duration(int64(b.jitter)*int64(time.Now().UnixNano()%3)/2)
	b.next = time.Duration(float64(b.next) * b.mult)
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// sleepCtx waits for d or returns false if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
