// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the HTTP server for the REST API and WebSocket feed.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hubget/hubget/pkg/hubcache"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	ExportsDir     string   // Directory where snapshot trees are materialized (not configurable via API)
	MaxActive      int      // Max concurrent snapshot jobs
	HistoryDB      string   // SQLite file for job history; empty means <cache-dir>/jobs.db
	AllowedOrigins []string // CORS origins

	// Settings is the hub client configuration shared by all jobs.
	Settings hubcache.Settings
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       "0.0.0.0",
		Port:       8080,
		ExportsDir: "./exports",
		MaxActive:  3,
	}
}

// Server is the HTTP server for hubget.
type Server struct {
	config     Config
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
	history    *HistoryStore
}

// New creates a new server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.MaxActive <= 0 {
		cfg.MaxActive = 3
	}
	if cfg.ExportsDir == "" {
		cfg.ExportsDir = "./exports"
	}

	dbPath := cfg.HistoryDB
	if dbPath == "" {
		dbPath = filepath.Join(hubcache.ResolveCacheDir(cfg.Settings.CacheDir), "jobs.db")
	}
	history, err := OpenHistoryStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open job history: %w", err)
	}

	wsHub := NewWSHub()
	s := &Server{
		config:  cfg,
		wsHub:   wsHub,
		history: history,
	}
	s.jobs = NewJobManager(cfg, wsHub, history)
	return s, nil
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.wsHub.Run()

	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("server listening on http://%s", addr)
	log.Printf("  API: http://localhost:%d/api", s.config.Port)

	err := s.httpServer.ListenAndServe()
	s.history.Close()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/download", s.handleStartDownload)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	mux.HandleFunc("GET /api/history", s.handleHistory)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("POST /api/plan", s.handlePlan)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			allowed := false
			if len(s.config.AllowedOrigins) == 0 {
				allowed = true
			} else {
				for _, o := range s.config.AllowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
