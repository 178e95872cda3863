// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/hubget/hubget/pkg/hubcache"
)

func newGetCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		kindFlag string
		revision string
		output   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "get REPO FILE",
		Short: "Download a single file into the cache and copy it out",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, repo, err := parseTarget(args[0], kindFlag)
			if err != nil {
				return err
			}
			filename := args[1]

			settings, err := ro.settings(cmd)
			if err != nil {
				return err
			}
			cl := hubcache.NewClient(settings)

			dest := output
			if dest == "" {
				dest = filepath.Base(filepath.FromSlash(filename))
			} else if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
				dest = filepath.Join(dest, filepath.Base(filepath.FromSlash(filename)))
			}

			var progress hubcache.ProgressFunc
			var finish func()
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = textProgress()
			default:
				progress, finish = barProgress()
			}

			path, err := cl.DownloadFile(ctx, hubcache.DownloadRequest{
				Kind:        kind,
				Repo:        repo,
				Revision:    revision,
				Filename:    filename,
				Destination: dest,
				Force:       force,
				OnProgress:  progress,
			})
			if finish != nil {
				finish()
			}
			if err != nil {
				return err
			}
			if !ro.Quiet && !ro.JSONOut {
				fmt.Println(path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "model", "Repository kind: model|dataset|space")
	cmd.Flags().StringVarP(&revision, "revision", "b", "main", "Branch, tag, PR ref, or commit hash")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file or directory (default: file name in cwd)")
	cmd.Flags().BoolVar(&force, "force", false, "Re-fetch even when the file is cached")

	return cmd
}

// barProgress renders a single-file byte progress bar.
func barProgress() (hubcache.ProgressFunc, func()) {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	started := false

	handler := func(ev hubcache.ProgressEvent) {
		switch ev.Event {
		case "file_progress":
			if !started {
				bar.Start()
				started = true
			}
			if ev.Total > 0 {
				bar.SetTotal(ev.Total)
			}
			bar.SetCurrent(ev.Downloaded)
		case "file_done":
			if ev.Message == "cached" {
				fmt.Printf("cached: %s\n", ev.Path)
			}
		case "retry":
			fmt.Fprintf(os.Stderr, "retry (attempt %d): %s\n", ev.Attempt, ev.Message)
		}
	}
	finish := func() {
		if started {
			bar.Finish()
		}
	}
	return handler, finish
}
