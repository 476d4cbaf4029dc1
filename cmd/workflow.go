package cmd

import (
	"context"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"
	"bridgeq/internal/usecase"

	"github.com/spf13/cobra"
)

type waitFlags struct {
	enabled           bool
	interval          int
	timeout           int
	trace             bool
	priority          int
	cancelOnInterrupt bool
}

func (f *waitFlags) register(cmd *cobra.Command, timeoutSeconds int) {
	cmd.Flags().BoolVar(&f.enabled, "wait", false, "Wait for submitted tasks to reach a final status")
	cmd.Flags().IntVar(&f.interval, "poll-interval", 0, "Seconds between status checks (default BRIDGEQ_POLL_INTERVAL, 2s)")
	cmd.Flags().IntVar(&f.timeout, "wait-timeout", timeoutSeconds, "Seconds to wait before giving up on a task")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Print the trace of every submitted task")
	cmd.Flags().IntVar(&f.priority, "priority", domain.DefaultPriority, "Task priority, 1 (most urgent) to 5")
	cmd.Flags().BoolVar(&f.cancelOnInterrupt, "cancel-on-interrupt", false, "Cancel the awaited task when interrupted instead of leaving it running")
}

func (f waitFlags) spec(a *app) (usecase.PollSpec, error) {
	spec := usecase.PollSpec{
		Interval: a.cfg.Poll.Interval,
		Timeout:  time.Duration(f.timeout) * time.Second,
	}
	if f.interval != 0 {
		spec.Interval = time.Duration(f.interval) * time.Second
	}
	return spec, spec.Validate()
}

// wait validates every flag that can be checked locally.
func (f waitFlags) wait(a *app) (usecase.Wait, error) {
	if err := domain.ValidatePriority(f.priority); err != nil {
		return usecase.Wait{}, err
	}
	w := usecase.Wait{Enabled: f.enabled, Trace: f.trace}
	if !f.enabled {
		return w, nil
	}
	spec, err := f.spec(a)
	if err != nil {
		return w, err
	}
	w.Spec = spec
	return w, nil
}

func (a *app) engine(b ports.Backend, f waitFlags) *usecase.Engine {
	e := usecase.NewEngine(b, a.clock)
	e.Priority = f.priority
	e.CancelOnInterrupt = f.cancelOnInterrupt
	return e
}

// finish renders whatever stages ran and turns a failed report into an
// error so the process exits non-zero.
func (a *app) finish(cmd *cobra.Command, r usecase.Report, err error) error {
	if len(r.Stages) == 0 && err != nil {
		return err
	}
	if perr := a.printReport(cmd, r); perr != nil {
		return perr
	}
	if err != nil {
		return err
	}
	return r.Err()
}

// runWorkflow validates the wait flags, opens the backend and renders the
// report produced by run.
func (a *app) runWorkflow(cmd *cobra.Command, f waitFlags, run func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error)) error {
	w, err := f.wait(a)
	if err != nil {
		return err
	}
	return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
		report, err := run(ctx, a.engine(b, f), w)
		return a.finish(cmd, report, err)
	})
}

func workflowCmd(a *app) *cobra.Command {
	var command = &cobra.Command{
		Use:   "workflow",
		Short: "Multi-step operations built from queue tasks",
	}

	command.AddCommand(repoCreateCmd(a))
	command.AddCommand(repoPushCmd(a))
	command.AddCommand(connectivityTestCmd(a))
	command.AddCommand(helloTestCmd(a))
	command.AddCommand(sshTestCmd(a))
	command.AddCommand(machineSetupCmd(a))
	command.AddCommand(addMachineCmd(a))
	return command
}

func repoCreateCmd(a *app) *cobra.Command {
	var (
		in    usecase.RepoCreateInput
		vault string
		wf    waitFlags
	)
	var command = &cobra.Command{
		Use:   "repo-create",
		Short: "Create a repository on a machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parsePayload("vault", vault)
			if err != nil {
				return err
			}
			in.Vault = v
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.RepoCreate(ctx, in, w)
			})
		},
	}
	command.Flags().StringVar(&in.Team, "team", "", "Team name")
	command.Flags().StringVar(&in.Name, "name", "", "Repository name")
	command.Flags().StringVar(&in.Machine, "machine", "", "Machine to create the repository on")
	command.Flags().StringVar(&in.Size, "size", "", "Repository size, for example 10G")
	command.Flags().StringVar(&in.Parent, "parent", "", "Parent repository")
	command.Flags().StringVar(&vault, "vault", "", "Repository vault as a JSON object")
	wf.register(command, 300)
	return command
}

func repoPushCmd(a *app) *cobra.Command {
	var (
		in usecase.RepoPushInput
		wf waitFlags
	)
	var command = &cobra.Command{
		Use:   "repo-push",
		Short: "Push a repository to a machine or storage, creating the destination if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.RepoPush(ctx, in, w)
			})
		},
	}
	command.Flags().StringVar(&in.SourceTeam, "source-team", "", "Team owning the source machine")
	command.Flags().StringVar(&in.SourceMachine, "source-machine", "", "Machine holding the repository")
	command.Flags().StringVar(&in.SourceRepo, "source-repo", "", "Repository to push")
	command.Flags().StringVar(&in.SourcePath, "source-path", "/", "Path inside the repository")
	command.Flags().StringVar(&in.DestTeam, "dest-team", "", "Team owning the destination")
	command.Flags().StringVar(&in.DestRepo, "dest-repo", "", "Repository name at the destination")
	command.Flags().StringVar(&in.DestType, "dest-type", usecase.DestMachine, "Destination kind: machine or storage")
	command.Flags().StringVar(&in.DestMachine, "dest-machine", "", "Destination machine")
	command.Flags().StringVar(&in.DestStorage, "dest-storage", "", "Destination storage")
	command.Flags().StringVar(&in.DestBridge, "dest-bridge", "", "Bridge for a destination machine that does not exist yet (default: the source bridge)")
	wf.register(command, 300)
	return command
}

func connectivityTestCmd(a *app) *cobra.Command {
	var (
		team     string
		machines []string
		wf       waitFlags
	)
	var command = &cobra.Command{
		Use:   "connectivity-test",
		Short: "Send hello to several machines at once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.ConnectivityTest(ctx, team, machines, w)
			})
		},
	}
	command.Flags().StringVar(&team, "team", "", "Team name")
	command.Flags().StringSliceVar(&machines, "machines", nil, "Comma separated machine names")
	wf.register(command, 30)
	return command
}

func helloTestCmd(a *app) *cobra.Command {
	var (
		team, machine string
		wf            waitFlags
	)
	var command = &cobra.Command{
		Use:   "hello-test",
		Short: "Send hello to one machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.HelloTest(ctx, team, machine, w)
			})
		},
	}
	command.Flags().StringVar(&team, "team", "", "Team name")
	command.Flags().StringVar(&machine, "machine", "", "Machine name")
	wf.register(command, 30)
	return command
}

func sshTestCmd(a *app) *cobra.Command {
	var (
		in usecase.SSHTestInput
		wf waitFlags
	)
	var command = &cobra.Command{
		Use:   "ssh-test",
		Short: "Check that a bridge can reach a host over SSH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.SSHTest(ctx, in, w)
			})
		},
	}
	command.Flags().StringVar(&in.Team, "team", "", "Team name")
	command.Flags().StringVar(&in.Bridge, "bridge", "", "Bridge that runs the test")
	command.Flags().StringVar(&in.Host, "host", "", "Host to reach")
	command.Flags().StringVar(&in.User, "user", "", "SSH user")
	command.Flags().StringVar(&in.Password, "password", "", "SSH password")
	command.Flags().IntVar(&in.Port, "port", 0, "SSH port (default 22)")
	wf.register(command, 30)
	return command
}

func machineSetupCmd(a *app) *cobra.Command {
	var (
		team, machine, size string
		wf                  waitFlags
	)
	var command = &cobra.Command{
		Use:   "machine-setup",
		Short: "Run os_setup on an existing machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.MachineSetup(ctx, team, machine, size, w)
			})
		},
	}
	command.Flags().StringVar(&team, "team", "", "Team name")
	command.Flags().StringVar(&machine, "machine", "", "Machine name")
	command.Flags().StringVar(&size, "datastore-size", usecase.DefaultDatastoreSize, "Datastore size")
	wf.register(command, 300)
	return command
}

func addMachineCmd(a *app) *cobra.Command {
	var (
		in    usecase.AddMachineInput
		vault string
		wf    waitFlags
	)
	var command = &cobra.Command{
		Use:   "add-machine",
		Short: "Register a machine, test SSH through its bridge and optionally set it up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parsePayload("vault", vault)
			if err != nil {
				return err
			}
			in.Vault = v
			// the ssh probe is always awaited, with the same bounds as --wait
			if in.Probe, err = wf.spec(a); err != nil {
				return err
			}
			return a.runWorkflow(cmd, wf, func(ctx context.Context, e *usecase.Engine, w usecase.Wait) (usecase.Report, error) {
				return e.AddMachine(ctx, in, w)
			})
		},
	}
	command.Flags().StringVar(&in.Team, "team", "", "Team name")
	command.Flags().StringVar(&in.Name, "name", "", "Machine name")
	command.Flags().StringVar(&in.Bridge, "bridge", "", "Bridge serving the machine")
	command.Flags().StringVar(&vault, "vault", "", `Connection details as JSON, e.g. {"ip":"10.0.0.5","user":"root"}`)
	command.Flags().BoolVar(&in.NoTest, "no-test", false, "Skip the SSH test")
	command.Flags().BoolVar(&in.AutoSetup, "auto-setup", false, "Run os_setup when the SSH test completes")
	command.Flags().StringVar(&in.DatastoreSize, "datastore-size", usecase.DefaultDatastoreSize, "Datastore size for os_setup")
	wf.register(command, 30)
	return command
}
