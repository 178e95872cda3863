// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hubget/hubget/internal/tui"
	"github.com/hubget/hubget/pkg/hubcache"
)

func newSnapshotCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		kindFlag string
		revision string
		output   string
		globs    []string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot REPO",
		Short: "Download a whole revision tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, repo, err := parseTarget(args[0], kindFlag)
			if err != nil {
				return err
			}

			settings, err := ro.settings(cmd)
			if err != nil {
				return err
			}
			cl := hubcache.NewClient(settings)

			dest := output
			if dest == "" {
				dest = filepath.FromSlash(strings.ReplaceAll(repo.String(), "/", "--"))
			}

			var progress hubcache.ProgressFunc
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = textProgress()
			default:
				ui := tui.NewLiveRenderer(kind, repo, revision, cl.Cache().Dir())
				defer ui.Close()
				progress = ui.Handler()
			}

			done, err := cl.DownloadSnapshot(ctx, hubcache.SnapshotRequest{
				Kind:        kind,
				Repo:        repo,
				Revision:    revision,
				Destination: dest,
				Globs:       globs,
				Force:       force,
				OnProgress:  progress,
			})
			if err != nil {
				return err
			}
			if !ro.JSONOut {
				fmt.Printf("%d files in %s\n", len(done), dest)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "model", "Repository kind: model|dataset|space")
	cmd.Flags().StringVarP(&revision, "revision", "b", "main", "Branch, tag, PR ref, or commit hash")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination directory (default: owner--name in cwd)")
	cmd.Flags().StringSliceVarP(&globs, "glob", "g", nil, "Only download paths matching these globs")
	cmd.Flags().BoolVar(&force, "force", false, "Re-fetch files even when cached")

	return cmd
}
