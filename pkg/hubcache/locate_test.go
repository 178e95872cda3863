// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCacheDir(t *testing.T) {
	t.Run("explicit dir wins", func(t *testing.T) {
		t.Setenv(EnvHubCache, "/env/cache")
		t.Setenv(EnvHome, "/env/home")
		assert.Equal(t, "/explicit", ResolveCacheDir("/explicit"))
	})

	t.Run("HF_HUB_CACHE beats HF_HOME", func(t *testing.T) {
		t.Setenv(EnvHubCache, "/env/cache")
		t.Setenv(EnvHome, "/env/home")
		assert.Equal(t, "/env/cache", ResolveCacheDir(""))
	})

	t.Run("HF_HOME joined with hub", func(t *testing.T) {
		t.Setenv(EnvHubCache, "")
		t.Setenv(EnvHome, "/env/home")
		assert.Equal(t, filepath.Join("/env/home", "hub"), ResolveCacheDir(""))
	})

	t.Run("default under home cache", func(t *testing.T) {
		t.Setenv(EnvHubCache, "")
		t.Setenv(EnvHome, "")
		got := ResolveCacheDir("")
		assert.True(t, filepath.IsAbs(got) || got[0] == '~')
		assert.Equal(t, filepath.Join("huggingface", "hub"), filepath.Join(filepath.Base(filepath.Dir(got)), filepath.Base(got)))
	})

	t.Run("tilde expansion", func(t *testing.T) {
		got := ResolveCacheDir("~/mycache")
		assert.Equal(t, "mycache", filepath.Base(got))
		assert.NotEqual(t, "~/mycache", got)
	})
}
