package memq

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgeq/internal/domain"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(opts ...Option) *Store {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(append([]Option{WithClock(clock.Now)}, opts...)...)
}

func submit(t *testing.T, s *Store, bridge string, priority int) *domain.Task {
	t.Helper()
	task, err := s.Submit(context.Background(), domain.SubmitRequest{Team: "ops", Bridge: bridge, Function: domain.FuncHello, Priority: priority})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return task
}

func TestNextForClaimsByPriorityThenAge(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	low := submit(t, s, "b1", 4)
	firstUrgent := submit(t, s, "b1", 1)
	secondUrgent := submit(t, s, "b1", 1)
	submit(t, s, "b2", 1)

	for _, want := range []string{firstUrgent.ID, secondUrgent.ID, low.ID} {
		got, err := s.NextFor(ctx, "b1")
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("expected %s, got %+v", want, got)
		}
		if got.Status != domain.StatusProcessing || got.PickedAt == nil {
			t.Fatalf("task not claimed: %+v", got)
		}
	}
	if got, err := s.NextFor(ctx, "b1"); err != nil || got != nil {
		t.Fatalf("expected empty queue, got %+v, %v", got, err)
	}
}

func TestSubmitAppliesPriorityFloorAndResolvesBridge(t *testing.T) {
	s := newTestStore(WithPriorityFloor(3))
	ctx := context.Background()
	if _, err := s.CreateMachine(ctx, domain.Machine{Team: "ops", Name: "m1", Bridge: "b7"}); err != nil {
		t.Fatal(err)
	}

	task, err := s.Submit(ctx, domain.SubmitRequest{Team: "ops", Machine: "m1", Function: domain.FuncHello, Priority: 1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.Priority != 3 || task.Bridge != "b7" {
		t.Fatalf("unexpected task %+v", task)
	}

	_, err = s.Submit(ctx, domain.SubmitRequest{Team: "ops", Machine: "ghost", Function: domain.FuncHello, Priority: 3})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for unknown machine, got %v", err)
	}
}

func TestListNewestFirstWithCeiling(t *testing.T) {
	s := newTestStore(WithListCeiling(2))
	submit(t, s, "b1", 3)
	b := submit(t, s, "b1", 3)
	c := submit(t, s, "b1", 3)

	got, err := s.List(context.Background(), domain.ListFilter{Limit: 50})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != c.ID || got[1].ID != b.ID {
		t.Fatalf("unexpected list %+v", got)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	task := submit(t, s, "b1", 3)

	first, err := s.UpdateResponse(ctx, task.ID, domain.Payload{"step": "1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateResponse(ctx, task.ID, domain.Payload{"step": "2"}); err != nil {
		t.Fatal(err)
	}
	if first.ResponsePayload.String("step") != "1" {
		t.Fatalf("earlier snapshot mutated: %v", first.ResponsePayload)
	}

	first.Status = domain.StatusCompleted
	again, _ := s.Fetch(ctx, task.ID)
	if again.Status != domain.StatusPending {
		t.Fatal("caller mutation leaked into the store")
	}
}

func TestRejectedTransitionLeavesTaskUntouched(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	task := submit(t, s, "b1", 3)
	if _, err := s.Complete(ctx, task.ID, domain.Payload{"ok": true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Cancel(ctx, task.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	got, _ := s.Fetch(ctx, task.ID)
	if got.Status != domain.StatusCompleted || got.CancelledAt != nil {
		t.Fatalf("task changed: %+v", got)
	}
}

func TestRemove(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	task := submit(t, s, "b1", 3)
	if err := s.Remove(ctx, task.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fetch(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.Remove(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEntities(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	if _, err := s.CreateStorage(ctx, domain.Storage{Team: "ops", Name: "s3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateStorage(ctx, domain.Storage{Team: "ops", Name: "s3"}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.GetStorage(ctx, "dev", "s3"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("storages must be scoped per team, got %v", err)
	}
	if _, err := s.CreateMachine(ctx, domain.Machine{Team: "ops", Name: "m1"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("machine without bridge accepted: %v", err)
	}
}
