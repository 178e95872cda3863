// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryStore persists finished jobs to a local SQLite database so the job
// record survives server restarts. Only terminal states are written.
type HistoryStore struct {
	db *sql.DB
}

const historySchema = `
CREATE TABLE IF NOT EXISTS job_history (
	id          TEXT PRIMARY KEY,
	repo        TEXT NOT NULL,
	revision    TEXT NOT NULL,
	kind        TEXT NOT NULL,
	globs       TEXT NOT NULL DEFAULT '[]',
	destination TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	total_files INTEGER NOT NULL DEFAULT 0,
	total_bytes INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_history_repo ON job_history(repo);
`

// OpenHistoryStore opens (creating if needed) the history database at path.
func OpenHistoryStore(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The sqlite driver is file-based; a single writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Record writes a terminal job state. Failures are logged, not returned;
// history is best effort and must never fail a download.
func (h *HistoryStore) Record(job *Job) {
	globs, _ := json.Marshal(job.Globs)
	if job.Globs == nil {
		globs = []byte("[]")
	}
	ended := time.Now()
	if job.EndedAt != nil {
		ended = *job.EndedAt
	}

	_, err := h.db.Exec(`
		INSERT OR REPLACE INTO job_history
			(id, repo, revision, kind, globs, destination, status, error,
			 total_files, total_bytes, created_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Repo, job.Revision, job.Kind, string(globs),
		job.Destination, string(job.Status), job.Error,
		job.Progress.TotalFiles, job.Progress.TotalBytes,
		job.CreatedAt.UTC().Format(time.RFC3339),
		ended.UTC().Format(time.RFC3339),
	)
	if err != nil {
		log.Printf("history: record job %s: %v", job.ID, err)
	}
}

// HistoryEntry is one persisted job record.
type HistoryEntry struct {
	ID          string    `json:"id"`
	Repo        string    `json:"repo"`
	Revision    string    `json:"revision"`
	Kind        string    `json:"kind"`
	Globs       []string  `json:"globs,omitempty"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	TotalFiles  int       `json:"totalFiles"`
	TotalBytes  int64     `json:"totalBytes"`
	CreatedAt   time.Time `json:"createdAt"`
	EndedAt     time.Time `json:"endedAt"`
}

// List returns the most recent entries, newest first.
func (h *HistoryStore) List(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.Query(`
		SELECT id, repo, revision, kind, globs, destination, status, error,
		       total_files, total_bytes, created_at, ended_at
		FROM job_history
		ORDER BY ended_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var globs, created, ended string
		if err := rows.Scan(&e.ID, &e.Repo, &e.Revision, &e.Kind, &globs,
			&e.Destination, &e.Status, &e.Error,
			&e.TotalFiles, &e.TotalBytes, &created, &ended); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(globs), &e.Globs)
		e.CreatedAt, _ = time.Parse(time.RFC3339, created)
		e.EndedAt, _ = time.Parse(time.RFC3339, ended)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}
