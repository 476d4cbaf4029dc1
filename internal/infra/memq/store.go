package memq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"

	"github.com/google/uuid"
)

var _ ports.Backend = (*Store)(nil)

// Store keeps tasks and entities in process memory.
type Store struct {
	mu       sync.RWMutex
	tasks    map[string]*domain.Task
	machines map[string]domain.Machine
	storages map[string]domain.Storage

	now           func() time.Time
	priorityFloor int
	listCeiling   int
}

type Option func(*Store)

// WithClock sets the time source used for task timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPriorityFloor raises priorities above the given floor (numerically
// below it) to the floor, as a tier limit would.
func WithPriorityFloor(floor int) Option {
	return func(s *Store) { s.priorityFloor = floor }
}

func WithListCeiling(n int) Option {
	return func(s *Store) { s.listCeiling = n }
}

func New(opts ...Option) *Store {
	s := &Store{
		tasks:         make(map[string]*domain.Task),
		machines:      make(map[string]domain.Machine),
		storages:      make(map[string]domain.Storage),
		now:           time.Now,
		priorityFloor: domain.MinPriority,
		listCeiling:   domain.ListCeiling,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ==================== Tasks ====================

func (s *Store) Submit(_ context.Context, req domain.SubmitRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Bridge == "" {
		m, ok := s.machines[entityKey(req.Team, req.Machine)]
		if !ok {
			return nil, fmt.Errorf("machine %s/%s: %w", req.Team, req.Machine, domain.ErrNotFound)
		}
		req.Bridge = m.Bridge
	}
	if req.Priority < s.priorityFloor {
		req.Priority = s.priorityFloor
	}

	t := domain.NewTask(uuid.NewString(), req, s.now())
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *Store) Fetch(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (s *Store) List(_ context.Context, f domain.ListFilter) ([]domain.Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	out := make([]domain.Task, 0)
	for _, t := range s.tasks {
		if f.Match(t, now) {
			out = append(out, *t)
		}
	}
	domain.SortNewestFirst(out)
	if limit := domain.ClampLimit(f.Limit, s.listCeiling); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Update applies fn to a task under the store lock and returns a copy of
// the result. fn's error aborts without changes.
func (s *Store) Update(_ context.Context, id string, fn func(t *domain.Task, now time.Time) error) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	next := *t
	if err := fn(&next, s.now()); err != nil {
		return nil, err
	}
	s.tasks[id] = &next
	cp := next
	return &cp, nil
}

func (s *Store) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	return s.Update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Cancel(now) })
}

func (s *Store) Complete(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return s.Update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Complete(now, payload) })
}

func (s *Store) Fail(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return s.Update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Fail(now, payload) })
}

func (s *Store) UpdateResponse(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return s.Update(ctx, id, func(t *domain.Task, now time.Time) error {
		// copy so the previous snapshot keeps its own map
		merged := make(domain.Payload, len(t.ResponsePayload)+len(payload))
		for k, v := range t.ResponsePayload {
			merged[k] = v
		}
		t.ResponsePayload = merged
		return t.UpdateResponse(now, payload)
	})
}

func (s *Store) Retry(ctx context.Context, id string) (*domain.Task, error) {
	return s.Update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Retry(now) })
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	delete(s.tasks, id)
	return nil
}

func (s *Store) NextFor(_ context.Context, bridge string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *domain.Task
	for _, t := range s.tasks {
		if t.Bridge != bridge || t.Status != domain.StatusPending {
			continue
		}
		if next == nil || claimsBefore(t, next) {
			next = t
		}
	}
	if next == nil {
		return nil, nil
	}
	if err := next.Claim(s.now()); err != nil {
		return nil, err
	}
	cp := *next
	return &cp, nil
}

func claimsBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ==================== Entities ====================

func (s *Store) GetMachine(_ context.Context, team, name string) (*domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.machines[entityKey(team, name)]
	if !ok {
		return nil, fmt.Errorf("machine %s/%s: %w", team, name, domain.ErrNotFound)
	}
	return &m, nil
}

func (s *Store) CreateMachine(_ context.Context, m domain.Machine) (*domain.Machine, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(m.Team, m.Name)
	if _, ok := s.machines[key]; ok {
		return nil, fmt.Errorf("machine %s/%s: %w", m.Team, m.Name, domain.ErrConflict)
	}
	s.machines[key] = m
	return &m, nil
}

func (s *Store) GetStorage(_ context.Context, team, name string) (*domain.Storage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.storages[entityKey(team, name)]
	if !ok {
		return nil, fmt.Errorf("storage %s/%s: %w", team, name, domain.ErrNotFound)
	}
	return &st, nil
}

func (s *Store) CreateStorage(_ context.Context, st domain.Storage) (*domain.Storage, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(st.Team, st.Name)
	if _, ok := s.storages[key]; ok {
		return nil, fmt.Errorf("storage %s/%s: %w", st.Team, st.Name, domain.ErrConflict)
	}
	s.storages[key] = st
	return &st, nil
}

func entityKey(team, name string) string { return team + "/" + name }
