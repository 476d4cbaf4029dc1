package cmd

import (
	"context"
	"fmt"
	"time"

	"bridgeq/internal/ports"
	"bridgeq/internal/usecase"
	"bridgeq/internal/watcher"

	"github.com/spf13/cobra"
)

func watchCmd(a *app) *cobra.Command {
	var (
		flags       listFlags
		interval    time.Duration
		baseBackoff time.Duration
		maxBackoff  time.Duration
	)
	var command = &cobra.Command{
		Use:   "watch",
		Short: "Follow tasks and print every status change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			if interval == 0 {
				interval = a.cfg.Poll.Interval
			}
			w := watcher.Watcher{
				Clock: a.clock,
				Cfg: watcher.Config{
					Filter:      f,
					Interval:    interval,
					BaseBackoff: baseBackoff,
					MaxBackoff:  maxBackoff,
				},
			}
			if err := w.Cfg.Validate(); err != nil {
				return err
			}

			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				w.Tasks = usecase.TaskClient{Q: b}
				return w.Run(ctx, func(c watcher.Change) { a.printChange(cmd, c) })
			})
		},
	}

	flags.register(command)
	command.Flags().DurationVar(&interval, "interval", 0, "Time between listings (default BRIDGEQ_POLL_INTERVAL)")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 500*time.Millisecond, "Base backoff after a failed listing")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 30*time.Second, "Max backoff after repeated failures")
	return command
}

func (a *app) printChange(cmd *cobra.Command, c watcher.Change) {
	if a.output == outputJSON {
		_ = writeJSON(cmd, c)
		return
	}
	from := "new"
	if c.From != "" {
		from = string(c.From)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s/%s  %s  %s -> %s\n",
		c.Task.UpdatedAt.Local().Format(time.TimeOnly), c.Task.ID, c.Task.Team, orDash(c.Task.Machine),
		c.Task.Function, from, c.Task.Status)
}
