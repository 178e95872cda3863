// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variables consulted for credentials.
const (
	EnvToken       = "HF_TOKEN"
	EnvTokenLegacy = "HUGGING_FACE_HUB_TOKEN"
	EnvTokenPath   = "HF_TOKEN_PATH"
)

// ResolveToken finds a bearer token for the hub.
//
// Search order: HF_TOKEN, HUGGING_FACE_HUB_TOKEN, the file named by
// HF_TOKEN_PATH, $HF_HOME/token, ~/.cache/huggingface/token, and
// ~/.huggingface/token. The first hit wins; values are whitespace-trimmed.
// An empty string means no token was found.
func ResolveToken() string {
	if t := strings.TrimSpace(os.Getenv(EnvToken)); t != "" {
		return t
	}
	if t := strings.TrimSpace(os.Getenv(EnvTokenLegacy)); t != "" {
		return t
	}
	for _, p := range tokenFilePaths() {
		if p == "" {
			continue
		}
		if t := readTokenFile(p); t != "" {
			return t
		}
	}
	return ""
}

func tokenFilePaths() []string {
	paths := make([]string, 0, 4)
	if p := os.Getenv(EnvTokenPath); p != "" {
		paths = append(paths, expandHome(p))
	}
	if h := os.Getenv(EnvHome); h != "" {
		paths = append(paths, filepath.Join(expandHome(h), "token"))
	}
	home := userHome()
	paths = append(paths,
		filepath.Join(home, ".cache", "huggingface", "token"),
		filepath.Join(home, ".huggingface", "token"),
	)
	return paths
}

func readTokenFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
