// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hubget/hubget/pkg/hubcache"
)

func newScanCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	var (
		kindFlag string
		revision string
		globs    []string
	)

	cmd := &cobra.Command{
		Use:   "scan REPO",
		Short: "List the files of a revision without downloading",
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

			rev := revision
			if rev == "" {
				rev = hubcache.DefaultRevision
			}
			entries, err := cl.ListTree(ctx, kind, repo, rev)
			if err != nil {
				return err
			}

			var selected []hubcache.TreeEntry
			var totalSize int64
			for _, e := range entries {
				if !hubcache.MatchAnyGlob(globs, e.Path) {
					continue
				}
				selected = append(selected, e)
				if e.LFS != nil && e.LFS.Size > 0 {
					totalSize += e.LFS.Size
				} else {
					totalSize += e.Size
				}
			}

			if ro.JSONOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"repo":       repo.String(),
					"revision":   rev,
					"files":      selected,
					"totalFiles": len(selected),
					"totalSize":  totalSize,
				})
			}

			fmt.Printf("%s@%s (%d files, %d bytes):\n", repo, rev, len(selected), totalSize)
			for _, e := range selected {
				size := e.Size
				lfs := false
				if e.LFS != nil {
					lfs = true
					if e.LFS.Size > 0 {
						size = e.LFS.Size
					}
				}
				fmt.Printf("  %-60s %12d  lfs=%t\n", e.Path, size, lfs)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kindFlag, "kind", "model", "Repository kind: model|dataset|space")
	cmd.Flags().StringVarP(&revision, "revision", "b", "main", "Branch, tag, PR ref, or commit hash")
	cmd.Flags().StringSliceVarP(&globs, "glob", "g", nil, "Only list paths matching these globs")

	return cmd
}
