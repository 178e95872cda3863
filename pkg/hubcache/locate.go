// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consumed by the cache and client.
const (
	EnvHubCache = "HF_HUB_CACHE"
	EnvHome     = "HF_HOME"
	EnvEndpoint = "HF_ENDPOINT"
)

// ResolveCacheDir determines the cache root directory.
//
// Precedence: the explicit argument, then HF_HUB_CACHE, then HF_HOME joined
// with "hub", then ~/.cache/huggingface/hub. The resolver only reports the
// path; nothing is created.
func ResolveCacheDir(explicit string) string {
	if explicit != "" {
		return expandHome(explicit)
	}
	if v := os.Getenv(EnvHubCache); v != "" {
		return expandHome(v)
	}
	if v := os.Getenv(EnvHome); v != "" {
		return filepath.Join(expandHome(v), "hub")
	}
	return filepath.Join(userHome(), ".cache", "huggingface", "hub")
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) string {
	if p == "~" {
		return userHome()
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		return filepath.Join(userHome(), p[2:])
	}
	return p
}

// userHome returns the home directory, or "~" when it cannot be determined
// so that path construction still yields a literal fallback.
func userHome() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	return "~"
}
