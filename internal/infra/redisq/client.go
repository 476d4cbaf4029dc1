package redisq

import (
	"context"
	"fmt"
	"time"

	"bridgeq/internal/config"
	"bridgeq/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Client struct {
	Cfg config.Redis
	Rdb *redis.Client

	priorityFloor int
	listCeiling   int
	now           func() time.Time
}

type Option func(*Client)

func WithPriorityFloor(floor int) Option {
	return func(c *Client) { c.priorityFloor = floor }
}

func WithListCeiling(n int) Option {
	return func(c *Client) { c.listCeiling = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(cfg config.Redis, opts ...Option) *Client {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c := &Client{
		Cfg:           cfg,
		Rdb:           rdb,
		priorityFloor: domain.MinPriority,
		listCeiling:   domain.ListCeiling,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Cfg.KeyPrefix == "" {
		c.Cfg.KeyPrefix = "bridgeq"
	}
	return c
}

// Connect verifies the server answers before any command is issued.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Str("prefix", c.Cfg.KeyPrefix).Msg("connected to redis")
	return nil
}

func (c *Client) Close() error { return c.Rdb.Close() }

func (c *Client) taskKey(id string) string { return c.Cfg.KeyPrefix + ":task:" + id }

// tasksKey indexes every task id by creation time.
func (c *Client) tasksKey() string { return c.Cfg.KeyPrefix + ":tasks" }

// pendingKey orders a bridge's pending tasks by priority, then age.
func (c *Client) pendingKey(bridge string) string { return c.Cfg.KeyPrefix + ":pending:" + bridge }

func (c *Client) machinesKey(team string) string { return c.Cfg.KeyPrefix + ":machines:" + team }

func (c *Client) storagesKey(team string) string { return c.Cfg.KeyPrefix + ":storages:" + team }

// pendingScore sorts by priority first; creation time in ms breaks ties.
func pendingScore(t *domain.Task) float64 {
	return float64(t.Priority)*1e13 + float64(t.CreatedAt.UnixMilli())
}
