// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package hubcache

import (
	"sync"
	"time"
)

// Progress is a small value object the engine mutates in place during a
// transfer. Callers keep a reference and read it at their own cadence.
// Instantaneous throughput in bytes/second is published under
// UserInfo["throughput"].
type Progress struct {
	mu       sync.Mutex
	total    int64
	complete int64
	userInfo map[string]any
}

// NewProgress returns an empty Progress.
func NewProgress() *Progress {
	return &Progress{userInfo: make(map[string]any)}
}

// Set records the current totals. Completed never moves backward while the
// total stays the same (one transfer); callers observing concurrent
// snapshots see monotone values.
func (p *Progress) Set(completed, total int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if total == p.total && completed < p.complete {
		completed = p.complete
	}
	p.complete = completed
	p.total = total
	p.mu.Unlock()
}

// Add advances the completed counter by n.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.complete += n
	p.mu.Unlock()
}

// Totals returns (completed, total).
func (p *Progress) Totals() (int64, int64) {
	if p == nil {
		return 0, 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete, p.total
}

// SetUserInfo stores an auxiliary key such as "throughput".
func (p *Progress) SetUserInfo(key string, value any) {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.userInfo == nil {
		p.userInfo = make(map[string]any)
	}
	p.userInfo[key] = value
	p.mu.Unlock()
}

// UserInfo returns the value stored under key, if any.
func (p *Progress) UserInfo(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.userInfo[key]
	return v, ok
}

// ProgressEvent is a progress update emitted during downloads.
//
// Event values:
//   - "scan_start": tree listing has begun
//   - "plan_item": a file was selected for download
//   - "file_start": download of a file has started
//   - "file_progress": periodic update during a transfer
//   - "file_done": file complete (Message may say "cached")
//   - "retry": an attempt failed and will be retried
//   - "error": an error occurred
//   - "done": the whole operation finished
type ProgressEvent struct {
	Time       time.Time `json:"time"`
	Level      string    `json:"level,omitempty"`
	Event      string    `json:"event"`
	Repo       string    `json:"repo,omitempty"`
	Revision   string    `json:"revision,omitempty"`
	Path       string    `json:"path,omitempty"`
	Total      int64     `json:"total,omitempty"`
	Downloaded int64     `json:"downloaded,omitempty"`
	Throughput float64   `json:"throughput,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Message    string    `json:"message,omitempty"`
	IsLFS      bool      `json:"isLfs,omitempty"`
}

// ProgressFunc receives progress events. It may be invoked from multiple
// goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// progressTracker throttles per-chunk updates and derives throughput.
type progressTracker struct {
	path       string
	total      int64
	written    int64
	progress   *Progress
	emit       func(ProgressEvent)
	lastUpdate time.Time
	lastBytes  int64
	interval   time.Duration
}

func newProgressTracker(path string, total, initial int64, progress *Progress, emit func(ProgressEvent)) *progressTracker {
	t := &progressTracker{
		path:     path,
		total:    total,
		written:  initial,
		progress: progress,
		emit:     emit,
		interval: 100 * time.Millisecond,
	}
	progress.Set(initial, total)
	return t
}

// advance records n freshly written bytes. Throughput is recomputed at most
// once per interval from the byte delta since the previous sample.
func (t *progressTracker) advance(n int64) {
	t.written += n
	t.progress.Set(t.written, t.total)

	now := time.Now()
	if t.lastUpdate.IsZero() {
		t.lastUpdate = now
		t.lastBytes = t.written
		return
	}
	elapsed := now.Sub(t.lastUpdate)
	if elapsed < t.interval {
		return
	}
	speed := float64(t.written-t.lastBytes) / elapsed.Seconds()
	t.progress.SetUserInfo("throughput", speed)
	if t.emit != nil {
		t.emit(ProgressEvent{
			Event:      "file_progress",
			Path:       t.path,
			Downloaded: t.written,
			Total:      t.total,
			Throughput: speed,
		})
	}
	t.lastUpdate = now
	t.lastBytes = t.written
}

// finish reports the terminal state of the transfer.
func (t *progressTracker) finish() {
	t.progress.Set(t.written, t.total)
	if t.emit != nil {
		t.emit(ProgressEvent{
			Event:      "file_progress",
			Path:       t.path,
			Downloaded: t.written,
			Total:      t.total,
		})
	}
}
