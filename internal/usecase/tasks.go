package usecase

import (
	"context"
	"strings"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"

	"github.com/rs/zerolog/log"
)

// TaskClient is the request layer over the queue. Validation happens here,
// before anything reaches the queue; everything else passes through.
type TaskClient struct {
	Q ports.Queue
}

func (c TaskClient) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Task, error) {
	req.Team = strings.TrimSpace(req.Team)
	req.Machine = strings.TrimSpace(req.Machine)
	req.Bridge = strings.TrimSpace(req.Bridge)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	t, err := c.Q.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := log.Ctx(ctx)
	logger.Info().
		Str("task_id", t.ID).
		Str("function", string(t.Function)).
		Str("team", t.Team).
		Str("machine", t.Machine).
		Str("bridge", t.Bridge).
		Int("priority", t.Priority).
		Msg("task submitted")
	if t.Priority != req.Priority {
		logger.Warn().
			Str("task_id", t.ID).
			Int("requested", req.Priority).
			Int("assigned", t.Priority).
			Msg("queue normalized the requested priority")
	}
	return t, nil
}

func (c TaskClient) Fetch(ctx context.Context, id string) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.Q.Fetch(ctx, id)
}

func (c TaskClient) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Limit = domain.ClampLimit(f.Limit, domain.ListCeiling)
	return c.Q.List(ctx, f)
}

func (c TaskClient) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.Q.Cancel(ctx, id)
}

func (c TaskClient) Complete(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.Q.Complete(ctx, id, payload)
}

func (c TaskClient) Fail(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.Q.Fail(ctx, id, payload)
}

func (c TaskClient) UpdateResponse(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, &domain.ValidationError{Field: "payload", Message: "is required"}
	}
	return c.Q.UpdateResponse(ctx, id, payload)
}

func (c TaskClient) Retry(ctx context.Context, id string) (*domain.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	return c.Q.Retry(ctx, id)
}

func (c TaskClient) Remove(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return c.Q.Remove(ctx, id)
}

func (c TaskClient) NextFor(ctx context.Context, bridge string) (*domain.Task, error) {
	if strings.TrimSpace(bridge) == "" {
		return nil, &domain.ValidationError{Field: "bridge", Message: "is required"}
	}
	return c.Q.NextFor(ctx, bridge)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &domain.ValidationError{Field: "task id", Message: "is required"}
	}
	return nil
}
