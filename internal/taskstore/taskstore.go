// Package taskstore is the in-memory table of generation tasks. Each task is
// written by exactly one background worker; the mutex only guards the map and
// read-modify-write sequences from status pollers racing that worker.
package taskstore

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/types"
)

var ErrNotFound = errors.New("taskstore: task not found")

type Store struct {
	mu    sync.RWMutex
	tasks map[string]*types.Task
}

func New() *Store {
	return &Store{tasks: map[string]*types.Task{}}
}

// Create registers a new pending task and returns a copy of it.
func (s *Store) Create() types.Task {
	t := &types.Task{
		ID:        uuid.NewString(),
		Status:    types.StatusPending,
		Progress:  "queued",
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return *t
}

// Get returns a copy of the task, so callers never hold a reference into the
// table.
func (s *Store) Get(id string) (types.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return types.Task{}, ErrNotFound
	}
	return *t, nil
}

// Update applies fn to the task under the lock.
func (s *Store) Update(id string, fn func(*types.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	return nil
}

// Progress records a human-readable progress line for a running task. Unknown
// ids are ignored: a worker may report progress for a task that was evicted.
func (s *Store) Progress(id, message string) {
	_ = s.Update(id, func(t *types.Task) {
		t.Progress = message
	})
}

// Complete marks the task completed with its output file.
func (s *Store) Complete(id, outputFile string) {
	_ = s.Update(id, func(t *types.Task) {
		now := time.Now()
		t.Status = types.StatusCompleted
		t.Progress = "done"
		t.OutputFile = outputFile
		t.CompletedAt = &now
	})
}

// Fail marks the task failed with a human-readable error.
func (s *Store) Fail(id, errMsg string) {
	_ = s.Update(id, func(t *types.Task) {
		now := time.Now()
		t.Status = types.StatusFailed
		t.Error = errMsg
		t.CompletedAt = &now
	})
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// Active counts tasks that are pending or processing.
func (s *Store) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if t.Status == types.StatusPending || t.Status == types.StatusProcessing {
			n++
		}
	}
	return n
}
