package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/infra/memq"
	"bridgeq/internal/ports"
	"bridgeq/internal/testsupport"
	"bridgeq/internal/usecase"
)

func testConfig() Config {
	return Config{Interval: time.Second, BaseBackoff: time.Second, MaxBackoff: 4 * time.Second}
}

func TestWatchReportsTransitions(t *testing.T) {
	clock := testsupport.NewFakeClock()
	store := memq.New(memq.WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	task, err := store.Submit(ctx, domain.SubmitRequest{Team: "ops", Bridge: "b1", Function: domain.FuncHello, Priority: 3})
	if err != nil {
		t.Fatal(err)
	}

	var changes []Change
	w := Watcher{Tasks: usecase.TaskClient{Q: store}, Clock: clock, Cfg: testConfig()}
	err = w.Run(ctx, func(c Change) {
		changes = append(changes, c)
		switch c.Task.Status {
		case domain.StatusPending:
			if _, err := store.NextFor(ctx, "b1"); err != nil {
				t.Errorf("claim: %v", err)
			}
		case domain.StatusProcessing:
			if _, err := store.Complete(ctx, task.ID, nil); err != nil {
				t.Errorf("complete: %v", err)
			}
		case domain.StatusCompleted:
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	want := []struct{ from, to domain.TaskStatus }{
		{"", domain.StatusPending},
		{domain.StatusPending, domain.StatusProcessing},
		{domain.StatusProcessing, domain.StatusCompleted},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d changes, got %+v", len(want), changes)
	}
	for i, c := range changes {
		if c.From != want[i].from || c.Task.Status != want[i].to {
			t.Fatalf("change %d: got %s -> %s", i, c.From, c.Task.Status)
		}
	}
}

type flakyQueue struct {
	ports.Queue
	failures int
	calls    int
}

func (q *flakyQueue) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	q.calls++
	if q.calls <= q.failures {
		return nil, errors.New("connection reset")
	}
	return q.Queue.List(ctx, f)
}

func TestWatchBacksOffOnListErrors(t *testing.T) {
	clock := testsupport.NewFakeClock()
	store := memq.New(memq.WithClock(clock.Now))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := store.Submit(ctx, domain.SubmitRequest{Team: "ops", Bridge: "b1", Function: domain.FuncHello, Priority: 3}); err != nil {
		t.Fatal(err)
	}

	q := &flakyQueue{Queue: store, failures: 3}
	start := clock.Now()
	w := Watcher{Tasks: usecase.TaskClient{Q: q}, Clock: clock, Cfg: testConfig()}
	if err := w.Run(ctx, func(Change) { cancel() }); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if q.calls != 4 {
		t.Fatalf("expected recovery on the fourth list, got %d calls", q.calls)
	}
	// 1s, 2s and 4s of backoff (+/-20% jitter) plus the interval armed after recovery
	if waited := clock.Now().Sub(start); waited < 6600*time.Millisecond || waited > 9400*time.Millisecond {
		t.Fatalf("unexpected total backoff %s", waited)
	}
}

func TestWatchStopsOnPermissionDenied(t *testing.T) {
	denied := &domain.RemoteError{Status: 403, Code: domain.CodePermissionDenied, Message: "team not visible"}
	q := deniedQueue{Queue: memq.New(), err: denied}
	w := Watcher{Tasks: usecase.TaskClient{Q: q}, Clock: testsupport.NewFakeClock(), Cfg: testConfig()}
	if err := w.Run(context.Background(), func(Change) {}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

type deniedQueue struct {
	ports.Queue
	err error
}

func (q deniedQueue) List(context.Context, domain.ListFilter) ([]domain.Task, error) { return nil, q.err }
