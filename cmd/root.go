package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"bridgeq/internal/config"
	"bridgeq/internal/ports"
	"bridgeq/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// app carries what every command needs. Tests replace open and clock.
type app struct {
	cfg *config.Config

	output    string
	logLevel  string
	logFormat string

	open  func(ctx context.Context, cfg *config.Config) (ports.Backend, func() error, error)
	clock usecase.Clock
}

func newApp() *app {
	return &app{open: openBackend, clock: usecase.RealClock{}}
}

func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal().Msgf("failed to execute command, err: %v", err.Error())
	}
}

func newRootCmd(a *app) *cobra.Command {
	var command = &cobra.Command{
		Use:           "bridgeq",
		Short:         "Submit, track and compose tasks on the bridge queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	command.PersistentFlags().StringVarP(&a.output, "output", "o", outputTable, "Output format: table or json")
	command.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error (default from BRIDGEQ_LOG_LEVEL)")
	command.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: console or json (default from BRIDGEQ_LOG_FORMAT)")

	command.AddCommand(queueCmd(a))
	command.AddCommand(workflowCmd(a))
	command.AddCommand(serveCmd(a))
	command.AddCommand(watchCmd(a))
	return command
}

func (a *app) setup(cmd *cobra.Command) error {
	switch a.output {
	case outputTable, outputJSON:
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Log.Level
	if _, fromEnv := os.LookupEnv("BRIDGEQ_LOG_LEVEL"); !fromEnv && cmd.Name() == "serve" {
		level = zerolog.LevelInfoValue
	}
	if a.logLevel != "" {
		level = a.logLevel
	}
	format := cfg.Log.Format
	if a.logFormat != "" {
		format = a.logFormat
	}

	logger, err := newLogger(cmd.ErrOrStderr(), level, format)
	if err != nil {
		return err
	}
	log.Logger = logger
	cmd.SetContext(logger.WithContext(cmd.Context()))
	return nil
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", format)
	}
	return zerolog.New(w).With().Timestamp().Logger(), nil
}

// withBackend opens the configured backend for the duration of fn.
func (a *app) withBackend(cmd *cobra.Command, fn func(ctx context.Context, b ports.Backend) error) error {
	ctx := cmd.Context()
	b, closeFn, err := a.open(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("closing backend")
		}
	}()
	return fn(ctx, b)
}
