package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/testsupport"
	"bridgeq/internal/usecase"
)

type workflowEnv struct {
	clock  *testsupport.FakeClock
	q      *testsupport.ScriptedQueue
	engine *usecase.Engine
}

func newWorkflowEnv(t *testing.T) *workflowEnv {
	t.Helper()
	clock := testsupport.NewFakeClock()
	q := testsupport.NewScriptedQueue(clock)
	q.AddMachine("ops", "src", "bridge-1")
	return &workflowEnv{clock: clock, q: q, engine: usecase.NewEngine(q, clock)}
}

func wait(interval, timeout time.Duration) usecase.Wait {
	return usecase.Wait{Enabled: true, Spec: usecase.PollSpec{Interval: interval, Timeout: timeout}}
}

func requireStage(t *testing.T, r usecase.Report, name string, want usecase.StageState) usecase.Stage {
	t.Helper()
	s, ok := r.Stage(name)
	if !ok {
		t.Fatalf("report has no %q stage: %+v", name, r.Stages)
	}
	if s.State != want {
		t.Fatalf("stage %q: expected %s, got %s (%s)", name, want, s.State, s.Message)
	}
	return s
}

func addMachineInput() usecase.AddMachineInput {
	return usecase.AddMachineInput{
		Team:      "ops",
		Name:      "m1",
		Bridge:    "bridge-1",
		Vault:     domain.Payload{"ip": "10.0.0.9", "user": "root"},
		AutoSetup: true,
		Probe:     usecase.PollSpec{Interval: 2 * time.Second, Timeout: 5 * time.Second},
	}
}

func TestAddMachineHappyPath(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncSSHTest, testsupport.Script{FinishAfter: 2 * time.Second})
	env.q.Script(domain.FuncOSSetup, testsupport.Script{FinishAfter: 3 * time.Second})

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), wait(2*time.Second, 5*time.Second))
	if err != nil {
		t.Fatalf("add-machine: %v", err)
	}
	if report.Failed() {
		t.Fatalf("expected success, got %v", report.Err())
	}
	if len(report.Stages) != 3 {
		t.Fatalf("expected three stages, got %d", len(report.Stages))
	}
	if s := requireStage(t, report, "machine", usecase.StateOK); s.Message != "created" {
		t.Fatalf("expected machine created, got %q", s.Message)
	}
	requireStage(t, report, "ssh-test", usecase.StateOK)
	requireStage(t, report, "setup", usecase.StateOK)

	if _, err := env.q.GetMachine(context.Background(), "ops", "m1"); err != nil {
		t.Fatalf("machine not registered: %v", err)
	}
}

func TestAddMachineProbeTimeoutSkipsSetup(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncSSHTest, testsupport.Script{Never: true})
	start := env.clock.Now()

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), wait(2*time.Second, 5*time.Second))
	if err != nil {
		t.Fatalf("add-machine: %v", err)
	}
	if !report.Failed() || !errors.Is(report.Err(), usecase.ErrWorkflowFailed) {
		t.Fatal("expected failed report")
	}
	probe := requireStage(t, report, "ssh-test", usecase.StateTimeout)
	if !strings.Contains(probe.Message, "in flight") {
		t.Fatalf("timeout should be flagged as possibly in flight: %q", probe.Message)
	}
	requireStage(t, report, "setup", usecase.StateSkipped)
	if env.q.Submits(domain.FuncOSSetup) != 0 {
		t.Fatal("os_setup submitted after probe timeout")
	}
	if took := env.clock.Now().Sub(start); took != 5*time.Second {
		t.Fatalf("expected to give up after 5s, took %s", took)
	}
}

func TestAddMachineProbeFailureBlocksSetup(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncSSHTest, testsupport.Script{FinishAfter: time.Second, Final: domain.StatusFailed, Response: domain.Payload{"error": "auth refused"}})

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), wait(time.Second, 5*time.Second))
	if err != nil {
		t.Fatalf("add-machine: %v", err)
	}
	probe := requireStage(t, report, "ssh-test", usecase.StateFailed)
	if !strings.Contains(probe.Message, "auth refused") {
		t.Fatalf("executor diagnostic missing: %q", probe.Message)
	}
	requireStage(t, report, "setup", usecase.StateSkipped)
	if env.q.Submits(domain.FuncOSSetup) != 0 {
		t.Fatal("os_setup submitted after failed probe")
	}
}

func TestAddMachineCreationFailureAborts(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.FailCreateMachine(&domain.RemoteError{Status: 403, Code: domain.CodePermissionDenied, Message: "no access"})

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), usecase.Wait{})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	requireStage(t, report, "machine", usecase.StateFailed)
	requireStage(t, report, "ssh-test", usecase.StateSkipped)
	if env.q.Submits(domain.FuncSSHTest) != 0 {
		t.Fatal("probe submitted without a machine")
	}
}

func TestAddMachineExistingMachineOnOtherBridge(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.AddMachine("ops", "m1", "bridge-2")

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), wait(2*time.Second, 5*time.Second))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	requireStage(t, report, "machine", usecase.StateFailed)
	requireStage(t, report, "ssh-test", usecase.StateSkipped)
	if env.q.Submits(domain.FuncSSHTest) != 0 {
		t.Fatal("ssh_test sent to a bridge that does not serve the machine")
	}
}

func TestAddMachineExistingMachineSameBridge(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.AddMachine("ops", "m1", "bridge-1")
	env.q.Script(domain.FuncSSHTest, testsupport.Script{FinishAfter: 2 * time.Second})
	env.q.Script(domain.FuncOSSetup, testsupport.Script{FinishAfter: 2 * time.Second})

	report, err := env.engine.AddMachine(context.Background(), addMachineInput(), wait(2*time.Second, 5*time.Second))
	if err != nil {
		t.Fatalf("add-machine: %v", err)
	}
	if s := requireStage(t, report, "machine", usecase.StateOK); s.Message != "already exists" {
		t.Fatalf("expected existing machine, got %q", s.Message)
	}
	requireStage(t, report, "setup", usecase.StateOK)
}

func TestAddMachineValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*usecase.AddMachineInput)
	}{
		{name: "missing bridge", mutate: func(in *usecase.AddMachineInput) { in.Bridge = "" }},
		{name: "vault without ip", mutate: func(in *usecase.AddMachineInput) { in.Vault = domain.Payload{"user": "root"} }},
		{name: "auto setup without test", mutate: func(in *usecase.AddMachineInput) { in.NoTest = true }},
		{name: "bad probe spec", mutate: func(in *usecase.AddMachineInput) { in.Probe.Timeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newWorkflowEnv(t)
			in := addMachineInput()
			tt.mutate(&in)
			if _, err := env.engine.AddMachine(context.Background(), in, usecase.Wait{}); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if env.q.Calls() != 0 {
				t.Fatalf("expected no remote calls, got %d", env.q.Calls())
			}
		})
	}
}

func TestAddMachineNoTest(t *testing.T) {
	env := newWorkflowEnv(t)
	in := addMachineInput()
	in.NoTest = true
	in.AutoSetup = false
	in.Vault = nil

	report, err := env.engine.AddMachine(context.Background(), in, usecase.Wait{})
	if err != nil {
		t.Fatalf("add-machine: %v", err)
	}
	if report.Failed() {
		t.Fatalf("unexpected failure: %v", report.Err())
	}
	requireStage(t, report, "ssh-test", usecase.StateSkipped)
	if env.q.Submits(domain.FuncSSHTest) != 0 {
		t.Fatal("probe submitted with --no-test")
	}
}

func TestRepoPushDestinationFailureSubmitsNothing(t *testing.T) {
	for _, destType := range []string{usecase.DestMachine, usecase.DestStorage} {
		t.Run(destType, func(t *testing.T) {
			env := newWorkflowEnv(t)
			denied := &domain.RemoteError{Status: 403, Code: domain.CodePermissionDenied, Message: "quota exceeded"}
			env.q.FailCreateMachine(denied)
			env.q.FailCreateStorage(denied)

			report, err := env.engine.RepoPush(context.Background(), usecase.RepoPushInput{
				SourceTeam:    "ops",
				SourceMachine: "src",
				SourceRepo:    "db",
				DestTeam:      "backup",
				DestRepo:      "db-copy",
				DestType:      destType,
				DestMachine:   "dst",
				DestStorage:   "s3",
			}, usecase.Wait{})
			if err == nil {
				t.Fatal("expected error")
			}
			requireStage(t, report, "destination", usecase.StateFailed)
			requireStage(t, report, "push", usecase.StateSkipped)
			if n := env.q.Submits(domain.FuncRepoPush); n != 0 {
				t.Fatalf("expected no repo_push submissions, got %d", n)
			}
		})
	}
}

func TestRepoPushKeepsCreatedDestinationOnFailure(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncRepoPush, testsupport.Script{FinishAfter: time.Second, Final: domain.StatusFailed, Response: domain.Payload{"error": "rsync exited 23"}})

	report, err := env.engine.RepoPush(context.Background(), usecase.RepoPushInput{
		SourceTeam:    "ops",
		SourceMachine: "src",
		SourceRepo:    "db",
		DestTeam:      "backup",
		DestRepo:      "db-copy",
		DestType:      usecase.DestStorage,
		DestStorage:   "s3",
	}, wait(time.Second, 10*time.Second))
	if err != nil {
		t.Fatalf("repo-push: %v", err)
	}
	if s := requireStage(t, report, "destination", usecase.StateOK); s.Message != "created" {
		t.Fatalf("expected storage created, got %q", s.Message)
	}
	requireStage(t, report, "push", usecase.StateFailed)
	if _, err := env.q.GetStorage(context.Background(), "backup", "s3"); err != nil {
		t.Fatalf("created destination was rolled back: %v", err)
	}
}

func TestRepoPushUsesExistingMachine(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.AddMachine("backup", "dst", "bridge-2")

	report, err := env.engine.RepoPush(context.Background(), usecase.RepoPushInput{
		SourceTeam:    "ops",
		SourceMachine: "src",
		SourceRepo:    "db",
		DestTeam:      "backup",
		DestRepo:      "db-copy",
		DestMachine:   "dst",
	}, usecase.Wait{})
	if err != nil {
		t.Fatalf("repo-push: %v", err)
	}
	if s := requireStage(t, report, "destination", usecase.StateOK); s.Message != "already exists" {
		t.Fatalf("expected existing destination, got %q", s.Message)
	}
	push := requireStage(t, report, "push", usecase.StateSubmitted)

	task, err := env.q.Fetch(context.Background(), push.TaskID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.Bridge != "bridge-1" || task.RequestPayload.String("destination") != "dst" || task.RequestPayload.String("source_path") != "/" {
		t.Fatalf("unexpected push task: %+v", task)
	}
}

func TestRepoPushRejectsMissingDestinationName(t *testing.T) {
	env := newWorkflowEnv(t)
	_, err := env.engine.RepoPush(context.Background(), usecase.RepoPushInput{
		SourceTeam:    "ops",
		SourceMachine: "src",
		SourceRepo:    "db",
		DestTeam:      "backup",
		DestRepo:      "db-copy",
		DestType:      usecase.DestStorage,
	}, usecase.Wait{})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if env.q.Calls() != 0 {
		t.Fatal("validation error reached the queue")
	}
}

func TestRepoCreateWaitAndTrace(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncRepoNew, testsupport.Script{PickAfter: time.Second, FinishAfter: 4 * time.Second, Response: domain.Payload{"path": "/mnt/db"}})

	w := wait(2*time.Second, 300*time.Second)
	w.Trace = true
	report, err := env.engine.RepoCreate(context.Background(), usecase.RepoCreateInput{
		Team:    "ops",
		Machine: "src",
		Name:    "db",
		Size:    "10G",
	}, w)
	if err != nil {
		t.Fatalf("repo-create: %v", err)
	}
	s := requireStage(t, report, "create", usecase.StateOK)
	if s.Trace == nil || len(s.Trace.Timeline) != 3 {
		t.Fatalf("expected trace with three events, got %+v", s.Trace)
	}
	if s.Trace.Request.String("repo") != "db" || s.Response.String("path") != "/mnt/db" {
		t.Fatalf("payloads not reported: %+v", s)
	}
}

func TestRepoCreateUnknownMachine(t *testing.T) {
	env := newWorkflowEnv(t)
	report, err := env.engine.RepoCreate(context.Background(), usecase.RepoCreateInput{
		Team:    "ops",
		Machine: "ghost",
		Name:    "db",
		Size:    "10G",
	}, usecase.Wait{})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !report.Failed() {
		t.Fatal("report should be failed")
	}
	if env.q.Submits(domain.FuncRepoNew) != 0 {
		t.Fatal("repo_new submitted for unknown machine")
	}
}

func TestMachineSetupWithoutWait(t *testing.T) {
	env := newWorkflowEnv(t)
	report, err := env.engine.MachineSetup(context.Background(), "ops", "src", "", usecase.Wait{})
	if err != nil {
		t.Fatalf("machine-setup: %v", err)
	}
	s := requireStage(t, report, "setup", usecase.StateSubmitted)
	task, err := env.q.Fetch(context.Background(), s.TaskID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if task.RequestPayload.String("datastore_size") != usecase.DefaultDatastoreSize {
		t.Fatalf("unexpected payload %v", task.RequestPayload)
	}
}

func TestSSHTestTargetsBridge(t *testing.T) {
	env := newWorkflowEnv(t)
	env.q.Script(domain.FuncSSHTest, testsupport.Script{FinishAfter: time.Second})

	report, err := env.engine.SSHTest(context.Background(), usecase.SSHTestInput{
		Team:   "ops",
		Bridge: "bridge-1",
		Host:   "10.0.0.7",
		User:   "admin",
	}, wait(time.Second, 30*time.Second))
	if err != nil {
		t.Fatalf("ssh-test: %v", err)
	}
	s := requireStage(t, report, "ssh-test", usecase.StateOK)
	if s.Target != "admin@10.0.0.7" {
		t.Fatalf("unexpected target %q", s.Target)
	}
}

func TestCancelOnInterrupt(t *testing.T) {
	for _, cancelRemote := range []bool{false, true} {
		env := newWorkflowEnv(t)
		env.q.Script(domain.FuncHello, testsupport.Script{Never: true})
		env.engine.CancelOnInterrupt = cancelRemote

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		report, err := env.engine.HelloTest(ctx, "ops", "src", wait(time.Second, time.Minute))
		if err != nil {
			t.Fatalf("hello-test: %v", err)
		}
		s, _ := report.Stage("hello")
		task, ferr := env.q.Store.Fetch(context.Background(), s.TaskID)
		if ferr != nil {
			t.Fatalf("fetch: %v", ferr)
		}

		if cancelRemote {
			if s.State != usecase.StateCancelled || task.Status != domain.StatusCancelled {
				t.Fatalf("expected remote cancel, got stage %s task %s", s.State, task.Status)
			}
			continue
		}
		if s.State != usecase.StateInterrupted || task.Status.Terminal() {
			t.Fatalf("expected task left running, got stage %s task %s", s.State, task.Status)
		}
	}
}

func TestConnectivityTestPollsConcurrently(t *testing.T) {
	clock := usecase.RealClock{}
	q := testsupport.NewScriptedQueue(clock)
	for _, m := range []string{"a", "b", "slow1", "slow2"} {
		q.AddMachine("ops", m, "bridge-1")
	}
	q.Script(domain.FuncHello, testsupport.Script{})
	q.ScriptMachine("slow1", testsupport.Script{Never: true})
	q.ScriptMachine("slow2", testsupport.Script{Never: true})
	engine := usecase.NewEngine(q, clock)

	const timeout = 300 * time.Millisecond
	start := time.Now()
	report, err := engine.ConnectivityTest(context.Background(), "ops", []string{"a", "slow1", "ghost", "slow2", "b", "a"}, wait(20*time.Millisecond, timeout))
	if err != nil {
		t.Fatalf("connectivity-test: %v", err)
	}
	took := time.Since(start)
	if took >= 2*timeout-50*time.Millisecond {
		t.Fatalf("stuck machines were polled one after another: %s", took)
	}

	var got []string
	for _, s := range report.Stages {
		got = append(got, s.Target+"="+string(s.State))
	}
	want := "a=ok slow1=timeout ghost=failed slow2=timeout b=ok"
	if strings.Join(got, " ") != want {
		t.Fatalf("stages %v, want %s", got, want)
	}
	if q.Submits(domain.FuncHello) != 4 {
		t.Fatalf("expected 4 hello submissions, got %d", q.Submits(domain.FuncHello))
	}
	if !errors.Is(report.Err(), usecase.ErrWorkflowFailed) {
		t.Fatal("timeouts should fail the invocation")
	}
}

func TestConnectivityTestWithoutWait(t *testing.T) {
	env := newWorkflowEnv(t)
	report, err := env.engine.ConnectivityTest(context.Background(), "ops", []string{"src"}, usecase.Wait{})
	if err != nil {
		t.Fatalf("connectivity-test: %v", err)
	}
	requireStage(t, report, "hello", usecase.StateSubmitted)
	if report.Failed() {
		t.Fatal("submitted stages are not failures")
	}
}
