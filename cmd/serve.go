package cmd

import (
	"context"
	"fmt"

	"bridgeq/internal/api"
	"bridgeq/internal/config"
	"bridgeq/internal/ports"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var (
		port    int
		backend string
	)
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Run a self-hosted queue service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch backend {
			case config.BackendRedis, config.BackendMemory:
			default:
				return fmt.Errorf("serve: backend must be redis or memory, got %q", backend)
			}
			cfg := *a.cfg
			cfg.Backend = backend
			a.cfg = &cfg

			log.Info().Msgf("queue server using %s backend, priority floor %d, list ceiling %d",
				backend, cfg.Server.PriorityFloor, cfg.Server.ListCeiling)
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				return api.NewServer(b, cfg.API.Token).Run(ctx, port)
			})
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 7111, "Port to run the server on")
	command.Flags().StringVar(&backend, "backend", config.BackendRedis, "Storage backend: redis or memory")
	return command
}
