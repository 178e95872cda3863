// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/hubget/hubget/pkg/hubcache"
)

// JobStatus represents the state of a snapshot job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents a snapshot download job.
type Job struct {
	ID          string            `json:"id"`
	Repo        string            `json:"repo"`
	Revision    string            `json:"revision"`
	Kind        string            `json:"kind"`
	Globs       []string          `json:"globs,omitempty"`
	Destination string            `json:"destination"`
	Status      JobStatus         `json:"status"`
	Progress    JobProgress       `json:"progress"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Files       []JobFileProgress `json:"files,omitempty"`

	cancel context.CancelFunc `json:"-"`
}

// JobProgress holds aggregate progress info.
type JobProgress struct {
	TotalFiles      int   `json:"totalFiles"`
	CompletedFiles  int   `json:"completedFiles"`
	TotalBytes      int64 `json:"totalBytes"`
	DownloadedBytes int64 `json:"downloadedBytes"`
	BytesPerSecond  int64 `json:"bytesPerSecond"`
}

// JobFileProgress holds per-file progress.
type JobFileProgress struct {
	Path       string `json:"path"`
	TotalBytes int64  `json:"totalBytes"`
	Downloaded int64  `json:"downloaded"`
	LFS        bool   `json:"lfs,omitempty"`
	Status     string `json:"status"` // pending, active, complete, cached, error
}

// JobManager manages snapshot jobs. Concurrency is bounded by a weighted
// semaphore sized to MaxActive; queued jobs hold their goroutine until a
// slot frees up.
type JobManager struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	config     Config
	slots      *semaphore.Weighted
	listeners  []chan *Job
	listenerMu sync.RWMutex
	wsHub      *WSHub
	history    *HistoryStore
}

// NewJobManager creates a new job manager.
func NewJobManager(cfg Config, wsHub *WSHub, history *HistoryStore) *JobManager {
	active := cfg.MaxActive
	if active <= 0 {
		active = 3
	}
	return &JobManager{
		jobs:    make(map[string]*Job),
		config:  cfg,
		slots:   semaphore.NewWeighted(int64(active)),
		wsHub:   wsHub,
		history: history,
	}
}

// CreateJob creates a new snapshot job.
// Returns the existing job if the same kind+repo+revision is already active.
func (m *JobManager) CreateJob(req DownloadRequest) (*Job, bool, error) {
	kind, err := hubcache.ParseKind(req.Kind)
	if err != nil {
		return nil, false, err
	}
	repo, err := hubcache.ParseRepo(req.Repo)
	if err != nil {
		return nil, false, err
	}

	revision := req.Revision
	if revision == "" {
		revision = hubcache.DefaultRevision
	}

	m.mu.Lock()
	for _, existing := range m.jobs {
		if existing.Repo == repo.String() &&
			existing.Revision == revision &&
			existing.Kind == string(kind) &&
			(existing.Status == JobStatusQueued || existing.Status == JobStatusRunning) {
			m.mu.Unlock()
			return existing, true, nil
		}
	}

	job := &Job{
		ID:       uuid.NewString(),
		Repo:     repo.String(),
		Revision: revision,
		Kind:     string(kind),
		Globs:    req.Globs,
		// Destination is server-controlled, never taken from the request.
		Destination: filepath.Join(m.config.ExportsDir, repo.FolderName(kind)),
		Status:      JobStatusQueued,
		CreatedAt:   time.Now(),
		Progress:    JobProgress{},
	}

	m.jobs[job.ID] = job
	m.mu.Unlock()

	go m.runJob(job, kind, repo, req.Force)

	return job, false, nil
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// CancelJob cancels a running or queued job.
func (m *JobManager) CancelJob(id string) bool {
	m.mu.Lock()

	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	if job.Status == JobStatusQueued || job.Status == JobStatusRunning {
		if job.cancel != nil {
			job.cancel()
		}
		job.Status = JobStatusCancelled
		now := time.Now()
		job.EndedAt = &now
		m.mu.Unlock()
		m.notifyListeners(job)
		return true
	}

	m.mu.Unlock()
	return false
}

// Subscribe adds a listener for job updates.
func (m *JobManager) Subscribe() chan *Job {
	ch := make(chan *Job, 100)
	m.listenerMu.Lock()
	m.listeners = append(m.listeners, ch)
	m.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes a listener.
func (m *JobManager) Unsubscribe(ch chan *Job) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *JobManager) notifyListeners(job *Job) {
	m.listenerMu.RLock()
	for _, ch := range m.listeners {
		select {
		case ch <- job:
		default:
			// Listener is slow, skip
		}
	}
	m.listenerMu.RUnlock()

	if m.wsHub != nil {
		m.wsHub.BroadcastJob(job)
	}
}

// runJob waits for a concurrency slot, then executes the snapshot download.
func (m *JobManager) runJob(job *Job, kind hubcache.RepoKind, repo hubcache.Repo, force bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.mu.Lock()
	job.cancel = cancel
	m.mu.Unlock()

	if err := m.slots.Acquire(ctx, 1); err != nil {
		// Cancelled while queued. CancelJob already set the final state.
		return
	}
	defer m.slots.Release(1)

	m.mu.Lock()
	if job.Status != JobStatusQueued {
		m.mu.Unlock()
		return
	}
	job.Status = JobStatusRunning
	now := time.Now()
	job.StartedAt = &now
	m.mu.Unlock()
	m.notifyListeners(job)

	cl := hubcache.NewClient(m.config.Settings)

	// Progress callback. Must not hold the lock when calling notifyListeners.
	progressFunc := func(evt hubcache.ProgressEvent) {
		m.mu.Lock()

		switch evt.Event {
		case "plan_item":
			job.Progress.TotalFiles++
			job.Progress.TotalBytes += evt.Total
			job.Files = append(job.Files, JobFileProgress{
				Path:       evt.Path,
				TotalBytes: evt.Total,
				LFS:        evt.IsLFS,
				Status:     "pending",
			})

		case "file_start":
			for i := range job.Files {
				if job.Files[i].Path == evt.Path {
					job.Files[i].Status = "active"
					break
				}
			}

		case "file_progress":
			for i := range job.Files {
				if job.Files[i].Path == evt.Path {
					job.Files[i].Downloaded = evt.Downloaded
					break
				}
			}
			if evt.Throughput > 0 {
				job.Progress.BytesPerSecond = int64(evt.Throughput)
			}
			var total int64
			for _, f := range job.Files {
				total += f.Downloaded
			}
			job.Progress.DownloadedBytes = total

		case "file_done":
			for i := range job.Files {
				if job.Files[i].Path == evt.Path {
					if evt.Message == "cached" {
						job.Files[i].Status = "cached"
					} else {
						job.Files[i].Status = "complete"
					}
					job.Files[i].Downloaded = job.Files[i].TotalBytes
					break
				}
			}
			job.Progress.CompletedFiles++
			var total int64
			for _, f := range job.Files {
				total += f.Downloaded
			}
			job.Progress.DownloadedBytes = total

		case "error":
			for i := range job.Files {
				if job.Files[i].Path == evt.Path {
					job.Files[i].Status = "error"
					break
				}
			}
		}

		m.mu.Unlock()
		m.notifyListeners(job)
	}

	_, err := cl.DownloadSnapshot(ctx, hubcache.SnapshotRequest{
		Kind:        kind,
		Repo:        repo,
		Revision:    job.Revision,
		Destination: job.Destination,
		Globs:       job.Globs,
		Force:       force,
		OnProgress:  progressFunc,
	})

	m.mu.Lock()
	endTime := time.Now()
	job.EndedAt = &endTime
	if ctx.Err() != nil {
		job.Status = JobStatusCancelled
	} else if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
	} else {
		job.Status = JobStatusCompleted
	}
	m.mu.Unlock()

	m.notifyListeners(job)

	if m.history != nil {
		m.history.Record(job)
	}
}
