package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"bridgeq/internal/domain"

	"github.com/redis/go-redis/v9"
)

func (c *Client) GetMachine(ctx context.Context, team, name string) (*domain.Machine, error) {
	var m domain.Machine
	if err := c.getEntity(ctx, c.machinesKey(team), name, &m); err != nil {
		return nil, fmt.Errorf("machine %s/%s: %w", team, name, err)
	}
	return &m, nil
}

func (c *Client) CreateMachine(ctx context.Context, m domain.Machine) (*domain.Machine, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := c.createEntity(ctx, c.machinesKey(m.Team), m.Name, m); err != nil {
		return nil, fmt.Errorf("machine %s/%s: %w", m.Team, m.Name, err)
	}
	return &m, nil
}

func (c *Client) GetStorage(ctx context.Context, team, name string) (*domain.Storage, error) {
	var s domain.Storage
	if err := c.getEntity(ctx, c.storagesKey(team), name, &s); err != nil {
		return nil, fmt.Errorf("storage %s/%s: %w", team, name, err)
	}
	return &s, nil
}

func (c *Client) CreateStorage(ctx context.Context, s domain.Storage) (*domain.Storage, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := c.createEntity(ctx, c.storagesKey(s.Team), s.Name, s); err != nil {
		return nil, fmt.Errorf("storage %s/%s: %w", s.Team, s.Name, err)
	}
	return &s, nil
}

func (c *Client) getEntity(ctx context.Context, key, name string, v any) error {
	raw, err := c.Rdb.HGet(ctx, key, name).Result()
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

func (c *Client) createEntity(ctx context.Context, key, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	created, err := c.Rdb.HSetNX(ctx, key, name, b).Result()
	if err != nil {
		return err
	}
	if !created {
		return domain.ErrConflict
	}
	return nil
}
