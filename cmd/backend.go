package cmd

import (
	"context"

	"bridgeq/internal/config"
	"bridgeq/internal/infra/httpapi"
	"bridgeq/internal/infra/memq"
	"bridgeq/internal/infra/redisq"
	"bridgeq/internal/ports"
)

func noClose() error { return nil }

// openBackend returns the queue the configuration points at: the remote
// service over HTTP, a Redis instance directly, or process memory.
func openBackend(ctx context.Context, cfg *config.Config) (ports.Backend, func() error, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		cli := redisq.New(cfg.Redis,
			redisq.WithPriorityFloor(cfg.Server.PriorityFloor),
			redisq.WithListCeiling(cfg.Server.ListCeiling),
		)
		if err := cli.Connect(ctx); err != nil {
			_ = cli.Close()
			return nil, nil, err
		}
		return cli, cli.Close, nil
	case config.BackendMemory:
		return memq.New(
			memq.WithPriorityFloor(cfg.Server.PriorityFloor),
			memq.WithListCeiling(cfg.Server.ListCeiling),
		), noClose, nil
	default:
		return httpapi.New(cfg.API), noClose, nil
	}
}
