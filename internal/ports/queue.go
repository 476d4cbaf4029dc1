package ports

import (
	"context"

	"bridgeq/internal/domain"
)

// Queue is the remote task queue. Implementations hold no task state
// between calls; every method is a single request/response pair.
type Queue interface {
	Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Task, error)
	Fetch(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error)
	Cancel(ctx context.Context, id string) (*domain.Task, error)
	Complete(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error)
	Fail(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error)
	UpdateResponse(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error)
	Retry(ctx context.Context, id string) (*domain.Task, error)
	Remove(ctx context.Context, id string) error
	// NextFor claims the highest-priority pending task of a bridge.
	// It returns nil, nil when nothing is pending.
	NextFor(ctx context.Context, bridge string) (*domain.Task, error)
}

// Inventory is the CRUD boundary for the entities workflows depend on.
// Lookups return domain.ErrNotFound for missing entities.
type Inventory interface {
	GetMachine(ctx context.Context, team, name string) (*domain.Machine, error)
	CreateMachine(ctx context.Context, m domain.Machine) (*domain.Machine, error)
	GetStorage(ctx context.Context, team, name string) (*domain.Storage, error)
	CreateStorage(ctx context.Context, s domain.Storage) (*domain.Storage, error)
}

// Backend is a queue service together with its entity store.
type Backend interface {
	Queue
	Inventory
}
