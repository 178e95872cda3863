// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli wires the hubget commands together.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubget/hubget/pkg/hubcache"
)

// RootOpts holds global CLI options shared by every command.
type RootOpts struct {
	Token    string
	Endpoint string
	CacheDir string
	JSONOut  bool
	Quiet    bool
	Config   string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "hubget",
		Short:         "Resumable, cache-aware downloader for hub models, datasets, and spaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().StringVarP(&ro.Token, "token", "t", "", "Access token (also reads HF_TOKEN env)")
	root.PersistentFlags().StringVar(&ro.Endpoint, "endpoint", "", "Hub endpoint override (also reads HF_ENDPOINT env)")
	root.PersistentFlags().StringVar(&ro.CacheDir, "cache-dir", "", "Cache directory (also reads HF_HUB_CACHE / HF_HOME env)")
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal output)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (YAML or JSON)")

	getCmd := newGetCmd(ctx, ro)
	root.AddCommand(getCmd)
	root.AddCommand(newSnapshotCmd(ctx, ro))
	root.AddCommand(newScanCmd(ctx, ro))
	root.AddCommand(newCacheCmd(ro))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newVersionCmd(version))

	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// settings merges config-file values, environment, and flags into the
// client settings. Flags win over the config file.
func (ro *RootOpts) settings(cmd *cobra.Command) (hubcache.Settings, error) {
	s := hubcache.DefaultSettings()

	cfg, err := loadConfigFile(ro.Config)
	if err != nil {
		return s, err
	}
	applyConfig := func(key string, flagName string, set func(string)) {
		if cmd != nil && cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[key]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}

	s.Token = strings.TrimSpace(ro.Token)
	s.Endpoint = ro.Endpoint
	s.CacheDir = ro.CacheDir
	applyConfig("token", "token", func(v string) {
		if s.Token == "" && os.Getenv(hubcache.EnvToken) == "" {
			s.Token = strings.TrimSpace(v)
		}
	})
	applyConfig("endpoint", "endpoint", func(v string) {
		if s.Endpoint == "" {
			s.Endpoint = v
		}
	})
	applyConfig("cache-dir", "cache-dir", func(v string) {
		if s.CacheDir == "" {
			s.CacheDir = v
		}
	})
	if v, ok := cfg["retries"]; ok && v != nil {
		var n int
		fmt.Sscan(fmt.Sprint(v), &n)
		if n > 0 {
			s.MaxRetries = n
		}
	}
	if v, ok := cfg["retry-delay"]; ok && v != nil {
		if d, err := time.ParseDuration(fmt.Sprint(v)); err == nil && d > 0 {
			s.RetryDelay = d
		}
	}
	return s, nil
}

// parseTarget resolves the REPO positional plus --kind into parsed values.
func parseTarget(repoArg, kindFlag string) (hubcache.RepoKind, hubcache.Repo, error) {
	kind, err := hubcache.ParseKind(kindFlag)
	if err != nil {
		return "", hubcache.Repo{}, err
	}
	repo, err := hubcache.ParseRepo(repoArg)
	if err != nil {
		return "", hubcache.Repo{}, err
	}
	return kind, repo, nil
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) hubcache.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev hubcache.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}

// textProgress returns a plain line-per-event handler for quiet terminals.
func textProgress() hubcache.ProgressFunc {
	return func(ev hubcache.ProgressEvent) {
		switch ev.Event {
		case "scan_start":
			fmt.Printf("scanning %s@%s ...\n", ev.Repo, ev.Revision)
		case "retry":
			fmt.Printf("retry %s (attempt %d): %s\n", ev.Path, ev.Attempt, ev.Message)
		case "file_done":
			if ev.Message == "cached" {
				fmt.Printf("cached: %s\n", ev.Path)
			} else {
				fmt.Printf("done: %s\n", ev.Path)
			}
		case "error":
			if ev.Level == "error" {
				fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
			}
		case "done":
			fmt.Println(ev.Message)
		}
	}
}
