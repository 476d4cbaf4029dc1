package usecase

import (
	"context"
	"strings"

	"bridgeq/internal/domain"
)

// HelloTest sends a single hello probe to a machine.
func (e *Engine) HelloTest(ctx context.Context, team, machine string, w Wait) (Report, error) {
	r := Report{Workflow: "hello-test"}
	if err := required(map[string]string{"team": team, "machine": machine}); err != nil {
		return r, err
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	bridge, err := e.resolveBridge(ctx, team, machine)
	if err != nil {
		r.add(Stage{Name: "hello", Target: machine, State: StateFailed, Err: err})
		return r, err
	}
	s, err := e.runTask(ctx, "hello", domain.SubmitRequest{
		Team:     team,
		Machine:  machine,
		Bridge:   bridge,
		Function: domain.FuncHello,
	}, w)
	r.add(s)
	return r, err
}

type SSHTestInput struct {
	Team     string
	Bridge   string
	Host     string
	User     string
	Password string
	Port     int
}

func (in SSHTestInput) payload() domain.Payload {
	p := domain.Payload{"host": in.Host, "user": in.User}
	if in.Password != "" {
		p["password"] = in.Password
	}
	if in.Port > 0 {
		p["port"] = in.Port
	}
	return p
}

// SSHTest asks a bridge to reach a host that is not necessarily
// registered as a machine yet.
func (e *Engine) SSHTest(ctx context.Context, in SSHTestInput, w Wait) (Report, error) {
	r := Report{Workflow: "ssh-test"}
	if err := required(map[string]string{"team": in.Team, "bridge": in.Bridge, "host": in.Host, "user": in.User}); err != nil {
		return r, err
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	s, err := e.runTask(ctx, "ssh-test", domain.SubmitRequest{
		Team:     in.Team,
		Bridge:   in.Bridge,
		Function: domain.FuncSSHTest,
		Payload:  in.payload(),
	}, w)
	s.Target = in.User + "@" + in.Host
	r.add(s)
	return r, err
}

// ConnectivityTest probes every machine with hello. All probes are
// submitted before any is polled; each then waits on its own clock.
// A machine that cannot be resolved fails on its own without affecting
// the others.
func (e *Engine) ConnectivityTest(ctx context.Context, team string, machines []string, w Wait) (Report, error) {
	r := Report{Workflow: "connectivity-test"}
	machines = uniqueNonEmpty(machines)
	if err := required(map[string]string{"team": team}); err != nil {
		return r, err
	}
	if len(machines) == 0 {
		return r, &domain.ValidationError{Field: "machines", Message: "at least one machine is required"}
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	targets := make([]Target, 0, len(machines))
	for _, machine := range machines {
		targets = append(targets, Target{
			Key: machine,
			Submit: func(ctx context.Context) (*domain.Task, error) {
				bridge, err := e.resolveBridge(ctx, team, machine)
				if err != nil {
					return nil, err
				}
				return e.Tasks.Submit(ctx, domain.SubmitRequest{
					Team:     team,
					Machine:  machine,
					Bridge:   bridge,
					Function: domain.FuncHello,
					Priority: e.Priority,
				})
			},
		})
	}

	var spec *PollSpec
	if w.Enabled {
		spec = &w.Spec
	}
	results := e.fanOut().Run(ctx, "hello", targets, spec)
	for _, machine := range machines {
		s := results[machine]
		if w.Trace && s.TaskID != "" {
			s.Trace = e.trace(ctx, s.TaskID)
		}
		r.add(s)
	}
	return r, nil
}

func uniqueNonEmpty(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
