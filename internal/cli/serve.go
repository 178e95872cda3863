// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hubget/hubget/internal/server"
)

func newServeCmd(ro *RootOpts) *cobra.Command {
	var (
		addr       string
		port       int
		exportsDir string
		active     int
		historyDB  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP download server",
		Long: `Start an HTTP server that provides:
  - REST API for snapshot download jobs
  - WebSocket for live progress updates

Export paths are configured server-side only (not via API) for security.

Example:
  hubget serve
  hubget serve --port 3000
  hubget serve --exports-dir ./exports --max-active 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ro.settings(cmd)
			if err != nil {
				return err
			}

			cfg := server.Config{
				Addr:       addr,
				Port:       port,
				ExportsDir: exportsDir,
				MaxActive:  active,
				HistoryDB:  historyDB,
				Settings:   settings,
			}

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			fmt.Printf("hubget server listening on %s:%d\n", addr, port)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "0.0.0.0", "Address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&exportsDir, "exports-dir", "./exports", "Directory where snapshot trees are materialized")
	cmd.Flags().IntVar(&active, "max-active", 3, "Max concurrent snapshot jobs")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "SQLite file for job history (default: <cache-dir>/jobs.db)")

	return cmd
}
