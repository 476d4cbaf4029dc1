package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"
	"bridgeq/internal/usecase"

	"github.com/spf13/cobra"
)

func queueCmd(a *app) *cobra.Command {
	var command = &cobra.Command{
		Use:   "queue",
		Short: "Single task operations on the queue",
	}

	command.AddCommand(queueListCmd(a))
	command.AddCommand(queueAddCmd(a))
	command.AddCommand(queueShowCmd(a))
	command.AddCommand(queueActionCmd(a, "cancel", "Cancel a pending or processing task", func(c usecase.TaskClient, ctx context.Context, id string, _ domain.Payload) (*domain.Task, error) {
		return c.Cancel(ctx, id)
	}))
	command.AddCommand(queueActionCmd(a, "complete", "Mark a task completed", usecase.TaskClient.Complete))
	command.AddCommand(queueActionCmd(a, "fail", "Mark a task failed", usecase.TaskClient.Fail))
	command.AddCommand(queueActionCmd(a, "update-response", "Merge a payload into a running task's response", usecase.TaskClient.UpdateResponse))
	command.AddCommand(queueActionCmd(a, "retry", "Requeue a failed task under the same id", func(c usecase.TaskClient, ctx context.Context, id string, _ domain.Payload) (*domain.Task, error) {
		return c.Retry(ctx, id)
	}))
	command.AddCommand(queueRemoveCmd(a))
	command.AddCommand(queueTraceCmd(a))
	command.AddCommand(queueNextCmd(a))
	command.AddCommand(queueFunctionsCmd(a))
	return command
}

type listFlags struct {
	teams            []string
	statuses         []string
	machine          string
	bridge           string
	taskID           string
	priority         int
	minPriority      int
	maxPriority      int
	createdAfter     string
	createdBefore    string
	excludeCompleted bool
	excludeCancelled bool
	stale            bool
	staleMinutes     int
	limit            int
}

func (f *listFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.teams, "team", nil, "Team name (repeatable)")
	cmd.Flags().StringSliceVar(&f.statuses, "status", nil, "Status: PENDING, PROCESSING, COMPLETED, FAILED, CANCELLED (repeatable)")
	cmd.Flags().StringVar(&f.machine, "machine", "", "Machine name")
	cmd.Flags().StringVar(&f.bridge, "bridge", "", "Bridge name")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "Task id substring")
	cmd.Flags().IntVar(&f.priority, "priority", 0, "Exact priority")
	cmd.Flags().IntVar(&f.minPriority, "min-priority", 0, "Lowest priority number to include")
	cmd.Flags().IntVar(&f.maxPriority, "max-priority", 0, "Highest priority number to include")
	cmd.Flags().StringVar(&f.createdAfter, "created-after", "", "Only tasks created at or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.createdBefore, "created-before", "", "Only tasks created at or before this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&f.excludeCompleted, "exclude-completed", false, "Hide completed tasks")
	cmd.Flags().BoolVar(&f.excludeCancelled, "exclude-cancelled", false, "Hide cancelled tasks")
	cmd.Flags().BoolVar(&f.stale, "stale", false, "Only tasks that have been processing longer than --stale-minutes")
	cmd.Flags().IntVar(&f.staleMinutes, "stale-minutes", domain.DefaultStaleMinutes, "Minutes since a task was picked up before it counts as stale")
	cmd.Flags().IntVar(&f.limit, "limit", domain.DefaultListLimit, fmt.Sprintf("Maximum tasks returned (capped at %d)", domain.ListCeiling))
}

func (f listFlags) filter() (domain.ListFilter, error) {
	out := domain.ListFilter{
		Teams:            f.teams,
		Machine:          f.machine,
		Bridge:           f.bridge,
		TaskIDContains:   f.taskID,
		Priority:         f.priority,
		MinPriority:      f.minPriority,
		MaxPriority:      f.maxPriority,
		ExcludeCompleted: f.excludeCompleted,
		ExcludeCancelled: f.excludeCancelled,
		StaleOnly:        f.stale,
		StaleAfter:       time.Duration(f.staleMinutes) * time.Minute,
		Limit:            f.limit,
	}
	for _, raw := range f.statuses {
		s, err := domain.ParseStatus(raw)
		if err != nil {
			return out, err
		}
		out.Statuses = append(out.Statuses, s)
	}
	var err error
	if out.CreatedAfter, err = parseDate("created-after", f.createdAfter, false); err != nil {
		return out, err
	}
	if out.CreatedBefore, err = parseDate("created-before", f.createdBefore, true); err != nil {
		return out, err
	}
	return out, out.Validate()
}

// parseDate accepts a calendar day or a full timestamp. A bare day used as
// an upper bound covers the whole day.
func parseDate(flag, raw string, endOfDay bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, time.Local)
	if err != nil {
		return time.Time{}, &domain.ValidationError{Field: flag, Message: fmt.Sprintf("expected YYYY-MM-DD or RFC3339, got %q", raw)}
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func parsePayload(flag, raw string) (domain.Payload, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var p domain.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, &domain.ValidationError{Field: flag, Message: "must be a JSON object: " + err.Error()}
	}
	return p, nil
}

func queueListCmd(a *app) *cobra.Command {
	var flags listFlags
	var command = &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.filter()
			if err != nil {
				return err
			}
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				tasks, err := usecase.TaskClient{Q: b}.List(ctx, f)
				if err != nil {
					return err
				}
				return a.printTasks(cmd, tasks)
			})
		},
	}
	flags.register(command)
	return command
}

func queueAddCmd(a *app) *cobra.Command {
	var (
		req     domain.SubmitRequest
		fn      string
		payload string
		wf      waitFlags
	)
	var command = &cobra.Command{
		Use:   "add",
		Short: "Submit a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload("payload", payload)
			if err != nil {
				return err
			}
			req.Function = domain.Function(fn)
			req.Payload = p
			req.Priority = wf.priority
			if err := req.Validate(); err != nil {
				return err
			}
			w, err := wf.wait(a)
			if err != nil {
				return err
			}

			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				if !w.Enabled && !w.Trace {
					t, err := usecase.TaskClient{Q: b}.Submit(ctx, req)
					if err != nil {
						return err
					}
					return a.printTask(cmd, t)
				}
				report, err := a.engine(b, wf).Submit(ctx, req, w)
				return a.finish(cmd, report, err)
			})
		},
	}
	command.Flags().StringVar(&req.Team, "team", "", "Team name")
	command.Flags().StringVar(&req.Machine, "machine", "", "Target machine (resolves the bridge when --bridge is empty)")
	command.Flags().StringVar(&req.Bridge, "bridge", "", "Target bridge")
	command.Flags().StringVar(&fn, "function", "", "Function name, see list-functions")
	command.Flags().StringVar(&payload, "payload", "", "Request payload as a JSON object")
	wf.register(command, 30)
	_ = command.MarkFlagRequired("team")
	_ = command.MarkFlagRequired("function")
	return command
}

func queueShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				t, err := usecase.TaskClient{Q: b}.Fetch(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printTask(cmd, t)
			})
		},
	}
}

type taskAction func(c usecase.TaskClient, ctx context.Context, id string, payload domain.Payload) (*domain.Task, error)

func queueActionCmd(a *app, name, short string, action taskAction) *cobra.Command {
	var payload string
	var command = &cobra.Command{
		Use:   name + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parsePayload("payload", payload)
			if err != nil {
				return err
			}
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				t, err := action(usecase.TaskClient{Q: b}, ctx, args[0], p)
				if err != nil {
					return err
				}
				return a.printTask(cmd, t)
			})
		},
	}
	switch name {
	case "complete", "fail", "update-response":
		command.Flags().StringVar(&payload, "payload", "", "Response payload as a JSON object")
	}
	if name == "update-response" {
		_ = command.MarkFlagRequired("payload")
	}
	return command
}

func queueRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task-id>",
		Short: "Delete a task from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				if err := (usecase.TaskClient{Q: b}).Remove(ctx, args[0]); err != nil {
					return err
				}
				if a.output == outputJSON {
					return writeJSON(cmd, map[string]string{"task_id": args[0], "removed": "true"})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
				return nil
			})
		},
	}
}

func queueTraceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <task-id>",
		Short: "Show a task's payloads and lifecycle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				rec, err := usecase.Tracer{Q: b}.Trace(ctx, args[0])
				if err != nil {
					return err
				}
				return a.printTrace(cmd, rec)
			})
		},
	}
}

func queueNextCmd(a *app) *cobra.Command {
	var bridge string
	var command = &cobra.Command{
		Use:   "get-next",
		Short: "Claim the next pending task for a bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				t, err := usecase.TaskClient{Q: b}.NextFor(ctx, bridge)
				if err != nil {
					return err
				}
				if t == nil {
					if a.output == outputJSON {
						return writeJSON(cmd, nil)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "No pending tasks for %s\n", bridge)
					return nil
				}
				return a.printTask(cmd, t)
			})
		},
	}
	command.Flags().StringVar(&bridge, "bridge", "", "Bridge name")
	_ = command.MarkFlagRequired("bridge")
	return command
}

// functionLister is implemented by backends that advertise their own table.
type functionLister interface {
	Functions(ctx context.Context) ([]domain.FunctionSpec, error)
}

func queueFunctionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-functions",
		Short: "List the functions a task can run and their payload keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withBackend(cmd, func(ctx context.Context, b ports.Backend) error {
				specs := domain.Functions()
				if fl, ok := b.(functionLister); ok {
					remote, err := fl.Functions(ctx)
					if err != nil {
						return err
					}
					specs = remote
				}
				return a.printFunctions(cmd, specs)
			})
		},
	}
}
