package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var _ ports.Backend = (*Client)(nil)

const maxTxRetries = 8

func (c *Client) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Bridge == "" {
		m, err := c.GetMachine(ctx, req.Team, req.Machine)
		if err != nil {
			return nil, err
		}
		req.Bridge = m.Bridge
	}
	if req.Priority < c.priorityFloor {
		log.Ctx(ctx).Debug().Int("requested", req.Priority).Int("floor", c.priorityFloor).Msg("priority normalized")
		req.Priority = c.priorityFloor
	}

	t := domain.NewTask(uuid.NewString(), req, c.now())
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	_, err = c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.taskKey(t.ID), map[string]any{
			"task":   b,
			"status": string(t.Status),
			"bridge": t.Bridge,
		})
		pipe.ZAdd(ctx, c.tasksKey(), redis.Z{Score: float64(t.CreatedAt.UnixMilli()), Member: t.ID})
		pipe.ZAdd(ctx, c.pendingKey(t.Bridge), redis.Z{Score: pendingScore(t), Member: t.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store task: %w", err)
	}
	return t, nil
}

func (c *Client) Fetch(ctx context.Context, id string) (*domain.Task, error) {
	return c.load(ctx, c.Rdb, id)
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func (c *Client) load(ctx context.Context, rdb hashGetter, id string) (*domain.Task, error) {
	raw, err := rdb.HGet(ctx, c.taskKey(id), "task").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var t domain.Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

func (c *Client) List(ctx context.Context, f domain.ListFilter) ([]domain.Task, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	ids, err := c.Rdb.ZRevRange(ctx, c.tasksKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Task{}, nil
	}

	cmds := make([]*redis.StringCmd, len(ids))
	_, err = c.Rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, c.taskKey(id), "task")
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	now := c.now()
	out := make([]domain.Task, 0)
	for _, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			continue
		}
		if f.Match(&t, now) {
			out = append(out, t)
		}
	}
	domain.SortNewestFirst(out)
	if limit := domain.ClampLimit(f.Limit, c.listCeiling); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update runs fn against the stored task inside a WATCH transaction and
// keeps the bridge's pending set in step with the new status.
func (c *Client) update(ctx context.Context, id string, fn func(t *domain.Task, now time.Time) error) (*domain.Task, error) {
	key := c.taskKey(id)
	var out *domain.Task

	txf := func(tx *redis.Tx) error {
		t, err := c.load(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := t.Status
		if err := fn(t, c.now()); err != nil {
			return err
		}
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "task", b, "status", string(t.Status))
			switch {
			case prev == domain.StatusPending && t.Status != domain.StatusPending:
				pipe.ZRem(ctx, c.pendingKey(t.Bridge), t.ID)
			case prev != domain.StatusPending && t.Status == domain.StatusPending:
				pipe.ZAdd(ctx, c.pendingKey(t.Bridge), redis.Z{Score: pendingScore(t), Member: t.ID})
			}
			return nil
		})
		out = t
		return err
	}

	for range maxTxRetries {
		err := c.Rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("task %s: too much contention", id)
}

func (c *Client) Cancel(ctx context.Context, id string) (*domain.Task, error) {
	return c.update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Cancel(now) })
}

func (c *Client) Complete(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Complete(now, payload) })
}

func (c *Client) Fail(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Fail(now, payload) })
}

func (c *Client) UpdateResponse(ctx context.Context, id string, payload domain.Payload) (*domain.Task, error) {
	return c.update(ctx, id, func(t *domain.Task, now time.Time) error { return t.UpdateResponse(now, payload) })
}

func (c *Client) Retry(ctx context.Context, id string) (*domain.Task, error) {
	return c.update(ctx, id, func(t *domain.Task, now time.Time) error { return t.Retry(now) })
}

func (c *Client) Remove(ctx context.Context, id string) error {
	t, err := c.Fetch(ctx, id)
	if err != nil {
		return err
	}
	_, err = c.Rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.taskKey(id))
		pipe.ZRem(ctx, c.tasksKey(), id)
		pipe.ZRem(ctx, c.pendingKey(t.Bridge), id)
		return nil
	})
	return err
}

// NextFor claims the head of the bridge's pending set. The head is read and
// claimed in one WATCH transaction, so the index entry is only dropped
// together with the claim or when it no longer points at a pending task.
func (c *Client) NextFor(ctx context.Context, bridge string) (*domain.Task, error) {
	pending := c.pendingKey(bridge)
	var (
		claimed *domain.Task
		stale   bool
	)

	txf := func(tx *redis.Tx) error {
		claimed, stale = nil, false
		ids, err := tx.ZRange(ctx, pending, 0, 0).Result()
		if err != nil || len(ids) == 0 {
			return err
		}
		id := ids[0]
		key := c.taskKey(id)
		if err := tx.Watch(ctx, key).Err(); err != nil {
			return err
		}

		t, err := c.load(ctx, tx, id)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			stale = true
		case err != nil:
			return err
		default:
			err = t.Claim(c.now())
			if errors.Is(err, domain.ErrInvalidTransition) {
				stale = true
			} else if err != nil {
				return err
			}
		}

		var b []byte
		if !stale {
			if b, err = json.Marshal(t); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, pending, id)
			if !stale {
				pipe.HSet(ctx, key, "task", b, "status", string(t.Status))
			}
			return nil
		})
		if err == nil && !stale {
			claimed = t
		}
		return err
	}

	conflicts := 0
	for {
		err := c.Rdb.Watch(ctx, txf, pending)
		switch {
		case errors.Is(err, redis.TxFailedErr):
			if conflicts++; conflicts >= maxTxRetries {
				return nil, fmt.Errorf("bridge %s: too much contention", bridge)
			}
		case err != nil:
			return nil, err
		case stale:
			log.Ctx(ctx).Debug().Str("bridge", bridge).Msg("dropped stale pending entry")
		default:
			return claimed, nil
		}
	}
}
