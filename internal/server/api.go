// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hubget/hubget/pkg/hubcache"
)

// DownloadRequest is the request body for starting a snapshot job.
// Note: the destination path is NOT configurable via the API; the server
// materializes trees under its configured exports directory.
type DownloadRequest struct {
	Repo     string   `json:"repo"`
	Revision string   `json:"revision,omitempty"`
	Kind     string   `json:"kind,omitempty"` // model (default), dataset, space
	Globs    []string `json:"globs,omitempty"`
	Force    bool     `json:"force,omitempty"`
	DryRun   bool     `json:"dryRun,omitempty"`
}

// PlanResponse is the response for a dry-run/plan request.
type PlanResponse struct {
	Repo       string     `json:"repo"`
	Revision   string     `json:"revision"`
	Files      []PlanFile `json:"files"`
	TotalSize  int64      `json:"totalSize"`
	TotalFiles int        `json:"totalFiles"`
}

// PlanFile represents a file in the plan.
type PlanFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	LFS  bool   `json:"lfs"`
}

// SettingsResponse represents current settings.
type SettingsResponse struct {
	Token      string `json:"token,omitempty"`
	CacheDir   string `json:"cacheDir"`
	ExportsDir string `json:"exportsDir"`
	MaxActive  int    `json:"maxActive"`
	Retries    int    `json:"retries"`
	Endpoint   string `json:"endpoint,omitempty"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse represents a simple success message.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// --- Handlers ---

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStartDownload starts a new snapshot job.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}

	if req.DryRun {
		s.handlePlanInternal(w, r, req)
		return
	}

	job, wasExisting, err := s.jobs.CreateJob(req)
	if err != nil {
		if errors.Is(err, hubcache.ErrInvalidRepo) {
			writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to create job", err.Error())
		return
	}

	if wasExisting {
		writeJSON(w, http.StatusOK, map[string]any{
			"job":     job,
			"message": "Download already in progress",
		})
	} else {
		writeJSON(w, http.StatusAccepted, job)
	}
}

// handlePlan returns a download plan without starting the download.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	s.handlePlanInternal(w, r, req)
}

func (s *Server) handlePlanInternal(w http.ResponseWriter, r *http.Request, req DownloadRequest) {
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}

	kind, err := hubcache.ParseKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid repo kind", err.Error())
		return
	}
	repo, err := hubcache.ParseRepo(req.Repo)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}

	revision := req.Revision
	if revision == "" {
		revision = hubcache.DefaultRevision
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	cl := hubcache.NewClient(s.config.Settings)
	entries, err := cl.ListTree(ctx, kind, repo, revision)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hubcache.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, "Failed to scan repository", err.Error())
		return
	}

	var files []PlanFile
	var totalSize int64
	for _, e := range entries {
		if !hubcache.MatchAnyGlob(req.Globs, e.Path) {
			continue
		}
		size := e.Size
		lfs := false
		if e.LFS != nil {
			lfs = true
			if e.LFS.Size > 0 {
				size = e.LFS.Size
			}
		}
		files = append(files, PlanFile{Path: e.Path, Size: size, LFS: lfs})
		totalSize += size
	}

	writeJSON(w, http.StatusOK, PlanResponse{
		Repo:       repo.String(),
		Revision:   revision,
		Files:      files,
		TotalSize:  totalSize,
		TotalFiles: len(files),
	})
}

// handleListJobs returns all jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// handleGetJob returns a specific job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	job, ok := s.jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found", "")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a job.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing job ID", "")
		return
	}

	if s.jobs.CancelJob(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{
			Success: true,
			Message: "Job cancelled",
		})
	} else {
		writeError(w, http.StatusNotFound, "Job not found or already completed", "")
	}
}

// handleHistory returns persisted job history, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.List(0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read history", err.Error())
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"history": entries,
		"count":   len(entries),
	})
}

// handleGetSettings returns current settings.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	// Don't expose the full token, just the tail.
	tokenStatus := ""
	if t := s.config.Settings.Token; t != "" {
		tokenStatus = "********" + t[max(0, len(t)-4):]
	}

	writeJSON(w, http.StatusOK, SettingsResponse{
		Token:      tokenStatus,
		CacheDir:   hubcache.ResolveCacheDir(s.config.Settings.CacheDir),
		ExportsDir: s.config.ExportsDir,
		MaxActive:  s.config.MaxActive,
		Retries:    s.config.Settings.MaxRetries,
		Endpoint:   s.config.Settings.Endpoint,
	})
}

// handleUpdateSettings updates settings.
// Note: the exports directory cannot be changed via the API.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    *string `json:"token,omitempty"`
		Endpoint *string `json:"endpoint,omitempty"`
		Retries  *int    `json:"retries,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.Token != nil {
		s.config.Settings.Token = *req.Token
	}
	if req.Endpoint != nil {
		s.config.Settings.Endpoint = *req.Endpoint
	}
	if req.Retries != nil && *req.Retries > 0 {
		s.config.Settings.MaxRetries = *req.Retries
	}

	// Jobs created after this point pick up the new client settings.
	s.jobs.config = s.config

	writeJSON(w, http.StatusOK, SuccessResponse{
		Success: true,
		Message: "Settings updated",
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Details: details,
	})
}
