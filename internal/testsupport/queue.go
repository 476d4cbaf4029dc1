package testsupport

import (
	"context"
	"sync"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/infra/memq"
)

type nower interface {
	Now() time.Time
}

// Script describes how the simulated bridge progresses a task of one
// function, measured from submission on the queue's clock.
type Script struct {
	// PickAfter is when the task moves to PROCESSING.
	PickAfter time.Duration
	// FinishAfter is when the task reaches Final. Ignored when Never is set.
	FinishAfter time.Duration
	Final       domain.TaskStatus
	Response    domain.Payload
	// Never keeps the task in PROCESSING forever.
	Never bool
}

// ScriptedQueue is an in-memory backend whose tasks advance on their own
// according to per-function (or per-machine) scripts whenever they are
// fetched. It counts every call so tests can assert what reached the queue.
type ScriptedQueue struct {
	*memq.Store

	mu               sync.Mutex
	scripts          map[domain.Function]Script
	machineScripts   map[string]Script
	submits          map[domain.Function]int
	calls            int
	createMachineErr error
	createStorageErr error
}

func NewScriptedQueue(clock nower) *ScriptedQueue {
	return &ScriptedQueue{
		Store:          memq.New(memq.WithClock(clock.Now)),
		scripts:        make(map[domain.Function]Script),
		machineScripts: make(map[string]Script),
		submits:        make(map[domain.Function]int),
	}
}

func (q *ScriptedQueue) Script(f domain.Function, s Script) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scripts[f] = s
}

// ScriptMachine overrides the function scripts for tasks targeting machine.
func (q *ScriptedQueue) ScriptMachine(machine string, s Script) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.machineScripts[machine] = s
}

func (q *ScriptedQueue) FailCreateMachine(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.createMachineErr = err
}

func (q *ScriptedQueue) FailCreateStorage(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.createStorageErr = err
}

// Submits returns how many tasks of f reached the queue.
func (q *ScriptedQueue) Submits(f domain.Function) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submits[f]
}

// Calls returns the number of queue and inventory calls made so far.
func (q *ScriptedQueue) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (q *ScriptedQueue) count() {
	q.mu.Lock()
	q.calls++
	q.mu.Unlock()
}

// AddMachine registers a machine directly, bypassing call counting.
func (q *ScriptedQueue) AddMachine(team, name, bridge string) {
	if _, err := q.Store.CreateMachine(context.Background(), domain.Machine{Team: team, Name: name, Bridge: bridge}); err != nil {
		panic(err)
	}
}

func (q *ScriptedQueue) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Task, error) {
	q.mu.Lock()
	q.calls++
	q.submits[req.Function]++
	q.mu.Unlock()
	return q.Store.Submit(ctx, req)
}

func (q *ScriptedQueue) Fetch(ctx context.Context, id string) (*domain.Task, error) {
	q.count()
	t, err := q.Store.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	script, ok := q.scriptFor(t)
	if !ok || t.Status.Terminal() {
		return t, nil
	}

	return q.Store.Update(ctx, id, func(t *domain.Task, now time.Time) error {
		since := t.CreatedAt
		if t.RetriedAt != nil {
			since = *t.RetriedAt
		}
		elapsed := now.Sub(since)
		if t.Status == domain.StatusPending && elapsed >= script.PickAfter {
			if err := t.Claim(now); err != nil {
				return err
			}
		}
		if script.Never || elapsed < script.FinishAfter {
			return nil
		}
		switch script.Final {
		case domain.StatusFailed:
			return t.Fail(now, script.Response)
		case domain.StatusCancelled:
			return t.Cancel(now)
		default:
			return t.Complete(now, script.Response)
		}
	})
}

func (q *ScriptedQueue) scriptFor(t *domain.Task) (Script, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.machineScripts[t.Machine]; ok {
		return s, true
	}
	s, ok := q.scripts[t.Function]
	return s, ok
}

func (q *ScriptedQueue) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	q.count()
	return q.Store.List(ctx, f)
}

func (q *ScriptedQueue) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	q.count()
	return q.Store.Cancel(ctx, id)
}

func (q *ScriptedQueue) GetMachine(ctx context.Context, team, name string) (*domain.Machine, error) {
	q.count()
	return q.Store.GetMachine(ctx, team, name)
}

func (q *ScriptedQueue) CreateMachine(ctx context.Context, m domain.Machine) (*domain.Machine, error) {
	q.mu.Lock()
	q.calls++
	err := q.createMachineErr
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return q.Store.CreateMachine(ctx, m)
}

func (q *ScriptedQueue) GetStorage(ctx context.Context, team, name string) (*domain.Storage, error) {
	q.count()
	return q.Store.GetStorage(ctx, team, name)
}

func (q *ScriptedQueue) CreateStorage(ctx context.Context, s domain.Storage) (*domain.Storage, error) {
	q.mu.Lock()
	q.calls++
	err := q.createStorageErr
	q.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return q.Store.CreateStorage(ctx, s)
}
