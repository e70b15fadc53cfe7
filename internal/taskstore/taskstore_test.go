package taskstore

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"reelforge/internal/types"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	s := New()
	created := s.Create()
	if created.ID == "" || created.Status != types.StatusPending {
		t.Fatalf("unexpected new task: %+v", created)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != created.ID || got.Progress != "queued" {
		t.Fatalf("unexpected task: %+v", got)
	}

	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	task := s.Create()

	got, _ := s.Get(task.ID)
	got.Status = types.StatusFailed

	again, _ := s.Get(task.ID)
	if again.Status != types.StatusPending {
		t.Fatalf("mutating a returned task leaked into the store: %+v", again)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	s := New()
	task := s.Create()

	s.Progress(task.ID, "compiling timeline")
	got, _ := s.Get(task.ID)
	if got.Progress != "compiling timeline" {
		t.Fatalf("progress not recorded: %+v", got)
	}

	s.Complete(task.ID, "/out/video.mp4")
	got, _ = s.Get(task.ID)
	if got.Status != types.StatusCompleted || got.OutputFile != "/out/video.mp4" || got.CompletedAt == nil {
		t.Fatalf("unexpected completed task: %+v", got)
	}

	failed := s.Create()
	s.Fail(failed.ID, "no segments produced")
	got, _ = s.Get(failed.ID)
	if got.Status != types.StatusFailed || got.Error != "no segments produced" {
		t.Fatalf("unexpected failed task: %+v", got)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	t.Parallel()

	s := New()
	if err := s.Update("missing", func(*types.Task) {}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Convenience mutators swallow unknown ids.
	s.Progress("missing", "x")
	s.Fail("missing", "x")
}

func TestActiveAndDelete(t *testing.T) {
	t.Parallel()

	s := New()
	a := s.Create()
	b := s.Create()
	s.Complete(b.ID, "out.mp4")

	if got := s.Active(); got != 1 {
		t.Fatalf("Active = %d, want 1", got)
	}
	s.Delete(a.ID)
	if got := s.Active(); got != 0 {
		t.Fatalf("Active after delete = %d, want 0", got)
	}
	if _, err := s.Get(a.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted task still present")
	}
}

func TestConcurrentWorkers(t *testing.T) {
	t.Parallel()

	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := s.Create()
			for j := 0; j < 50; j++ {
				s.Progress(task.ID, fmt.Sprintf("step %d", j))
				if _, err := s.Get(task.ID); err != nil {
					t.Errorf("Get during updates: %v", err)
					return
				}
			}
			s.Complete(task.ID, "out.mp4")
		}(i)
	}
	wg.Wait()

	if got := s.Active(); got != 0 {
		t.Fatalf("all workers finished but Active = %d", got)
	}
}
