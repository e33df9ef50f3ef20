package ocr

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageQueued           Stage = "queued"
	StageFullText         Stage = "full-text"
	StageROI              Stage = "roi"
	StageDigits           Stage = "digits"
	StageFallbackAdaptive Stage = "fallback-adaptive"
	StageFallbackContrast Stage = "fallback-contrast"
	StageFuse             Stage = "fuse"
	StageDone             Stage = "done"
)

type Progress struct {
	Stage   Stage `json:"stage"`
	Percent int   `json:"percent"`
}

type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskDone     TaskStatus = "done"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// Task is a scan running off the caller's goroutine.
type Task struct {
	ID        string
	StartedAt time.Time

	cancel   context.CancelFunc
	progress chan Progress
	done     chan struct{}

	mu       sync.RWMutex
	status   TaskStatus
	last     Progress
	result   *ScanResult
	err      error
	finished time.Time
}

// TaskSnapshot is a point-in-time view of a task.
type TaskSnapshot struct {
	ID       string      `json:"id"`
	Status   TaskStatus  `json:"status"`
	Progress Progress    `json:"progress"`
	Result   *ScanResult `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// StartTask runs s.Scan in the background. Progress updates are delivered
// on a buffered channel that drops updates nobody reads, and is closed when
// the scan ends.
func StartTask(ctx context.Context, s *Scanner, img image.Image, opts ScanOptions) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		cancel:    cancel,
		progress:  make(chan Progress, 16),
		done:      make(chan struct{}),
		status:    TaskRunning,
		last:      Progress{Stage: StageQueued},
	}
	user := opts.Progress
	opts.Progress = func(p Progress) {
		t.mu.Lock()
		t.last = p
		t.mu.Unlock()
		select {
		case t.progress <- p:
		default:
		}
		if user != nil {
			user(p)
		}
	}
	go func() {
		defer cancel()
		res, err := s.Scan(ctx, img, opts)
		t.mu.Lock()
		t.result, t.err = res, err
		t.finished = time.Now()
		switch {
		case errors.Is(err, context.Canceled):
			t.status = TaskCanceled
		case err != nil:
			t.status = TaskFailed
		default:
			t.status = TaskDone
		}
		t.mu.Unlock()
		close(t.progress)
		close(t.done)
	}()
	return t
}

func (t *Task) Progress() <-chan Progress {
	return t.progress
}

// Cancel stops the scan. Passes already inside the engine finish first.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the scan ends.
func (t *Task) Wait() (*ScanResult, error) {
	<-t.done
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result, t.err
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := TaskSnapshot{ID: t.ID, Status: t.status, Progress: t.last, Result: t.result}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	return snap
}

// Tasks keeps running and recently finished tasks by id.
type Tasks struct {
	mu    sync.Mutex
	tasks map[string]*Task
	ttl   time.Duration
}

// NewTasks returns a registry that forgets finished tasks after ttl.
func NewTasks(ttl time.Duration) *Tasks {
	return &Tasks{tasks: map[string]*Task{}, ttl: ttl}
}

func (r *Tasks) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gc(time.Now())
	r.tasks[t.ID] = t
}

func (r *Tasks) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

func (r *Tasks) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// gc drops finished tasks older than ttl. Callers hold r.mu.
func (r *Tasks) gc(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for id, t := range r.tasks {
		t.mu.RLock()
		expired := !t.finished.IsZero() && now.Sub(t.finished) > r.ttl
		t.mu.RUnlock()
		if expired {
			delete(r.tasks, id)
		}
	}
}
