// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hubget/hubget/pkg/hubcache"
)

func newCacheCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local hub cache",
	}
	cmd.AddCommand(newCacheDirCmd(ro))
	return cmd
}

func newCacheDirCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the resolved cache directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ro.settings(cmd)
			if err != nil {
				return err
			}
			fmt.Println(hubcache.ResolveCacheDir(settings.CacheDir))
			return nil
		},
	}
}
