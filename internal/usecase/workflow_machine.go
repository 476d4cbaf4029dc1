package usecase

import (
	"context"
	"fmt"
	"strconv"

	"bridgeq/internal/domain"
)

const DefaultDatastoreSize = "95%"

// MachineSetup submits os_setup for an existing machine.
func (e *Engine) MachineSetup(ctx context.Context, team, machine, datastoreSize string, w Wait) (Report, error) {
	r := Report{Workflow: "machine-setup"}
	if datastoreSize == "" {
		datastoreSize = DefaultDatastoreSize
	}
	if err := required(map[string]string{"team": team, "machine": machine}); err != nil {
		return r, err
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	bridge, err := e.resolveBridge(ctx, team, machine)
	if err != nil {
		r.add(Stage{Name: "setup", Target: machine, State: StateFailed, Err: err})
		return r, err
	}
	s, err := e.runTask(ctx, "setup", domain.SubmitRequest{
		Team:     team,
		Machine:  machine,
		Bridge:   bridge,
		Function: domain.FuncOSSetup,
		Payload:  domain.Payload{"datastore_size": datastoreSize},
	}, w)
	r.add(s)
	return r, err
}

type AddMachineInput struct {
	Team   string
	Name   string
	Bridge string
	// Vault carries the connection details: ip (or host), user and
	// optionally ssh_password (or password) and port.
	Vault         domain.Payload
	NoTest        bool
	AutoSetup     bool
	DatastoreSize string
	// Probe bounds the ssh test, which is always awaited.
	Probe PollSpec
}

func (in AddMachineInput) sshTarget() (SSHTestInput, error) {
	host := in.Vault.String("ip")
	if host == "" {
		host = in.Vault.String("host")
	}
	user := in.Vault.String("user")
	if host == "" || user == "" {
		return SSHTestInput{}, &domain.ValidationError{Field: "vault", Message: "ip and user are required to test the machine"}
	}
	password := in.Vault.String("ssh_password")
	if password == "" {
		password = in.Vault.String("password")
	}
	port, err := vaultPort(in.Vault["port"])
	if err != nil {
		return SSHTestInput{}, err
	}
	return SSHTestInput{Team: in.Team, Bridge: in.Bridge, Host: host, User: user, Password: password, Port: port}, nil
}

func vaultPort(v any) (int, error) {
	switch p := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int(p), nil
	case int:
		return p, nil
	case string:
		if p == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, &domain.ValidationError{Field: "vault port", Message: fmt.Sprintf("not a number: %q", p)}
		}
		return n, nil
	}
	return 0, &domain.ValidationError{Field: "vault port", Message: fmt.Sprintf("unsupported value %v", v)}
}

// AddMachine registers a machine, probes it over SSH through its bridge
// and, only when the probe completed, runs os_setup. Each of the three
// stages is reported on its own. setup waits according to w.
func (e *Engine) AddMachine(ctx context.Context, in AddMachineInput, w Wait) (Report, error) {
	r := Report{Workflow: "add-machine"}
	if in.DatastoreSize == "" {
		in.DatastoreSize = DefaultDatastoreSize
	}
	if err := required(map[string]string{"team": in.Team, "name": in.Name, "bridge": in.Bridge}); err != nil {
		return r, err
	}
	if in.NoTest && in.AutoSetup {
		return r, &domain.ValidationError{Field: "auto-setup", Message: "needs the ssh test; drop --no-test"}
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	var probe SSHTestInput
	if !in.NoTest {
		var err error
		if probe, err = in.sshTarget(); err != nil {
			return r, err
		}
		if err := in.Probe.Validate(); err != nil {
			return r, err
		}
	}

	stored, created, err := e.ensureMachine(ctx, domain.Machine{Team: in.Team, Name: in.Name, Bridge: in.Bridge, Vault: in.Vault})
	if err == nil && stored.Bridge != "" && stored.Bridge != in.Bridge {
		err = &domain.ValidationError{
			Field:   "bridge",
			Message: fmt.Sprintf("machine %s is already served by bridge %s, not %s", in.Name, stored.Bridge, in.Bridge),
		}
	}
	r.add(entityStage("machine", in.Name, created, err))
	if err != nil {
		r.add(Stage{Name: "ssh-test", Target: in.Name, State: StateSkipped, Message: "machine unavailable"})
		r.add(Stage{Name: "setup", Target: in.Name, State: StateSkipped, Message: "machine unavailable"})
		return r, err
	}

	if in.NoTest {
		r.add(Stage{Name: "ssh-test", Target: in.Name, State: StateSkipped, Message: "disabled"})
		r.add(Stage{Name: "setup", Target: in.Name, State: StateSkipped, Message: "not requested"})
		return r, nil
	}

	probeStage, err := e.runTask(ctx, "ssh-test", domain.SubmitRequest{
		Team:     in.Team,
		Machine:  in.Name,
		Bridge:   in.Bridge,
		Function: domain.FuncSSHTest,
		Payload:  probe.payload(),
	}, Wait{Enabled: true, Spec: in.Probe, Trace: w.Trace})
	r.add(probeStage)
	if err != nil {
		r.add(Stage{Name: "setup", Target: in.Name, State: StateSkipped, Message: "ssh test failed"})
		return r, err
	}

	switch {
	case !in.AutoSetup:
		r.add(Stage{Name: "setup", Target: in.Name, State: StateSkipped, Message: "not requested"})
		return r, nil
	case probeStage.Status != domain.StatusCompleted:
		r.add(Stage{
			Name:    "setup",
			Target:  in.Name,
			State:   StateSkipped,
			Message: fmt.Sprintf("ssh test did not complete (%s)", probeStage.State),
		})
		return r, nil
	}

	setup, err := e.runTask(ctx, "setup", domain.SubmitRequest{
		Team:     in.Team,
		Machine:  in.Name,
		Bridge:   in.Bridge,
		Function: domain.FuncOSSetup,
		Payload:  domain.Payload{"datastore_size": in.DatastoreSize},
	}, w)
	r.add(setup)
	return r, err
}
