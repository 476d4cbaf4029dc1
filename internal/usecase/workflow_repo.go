package usecase

import (
	"context"

	"bridgeq/internal/domain"
)

const (
	DestMachine = "machine"
	DestStorage = "storage"
)

type RepoCreateInput struct {
	Team    string
	Machine string
	Name    string
	Size    string
	Parent  string
	Vault   domain.Payload
}

// RepoCreate submits repo_new on the machine's bridge.
func (e *Engine) RepoCreate(ctx context.Context, in RepoCreateInput, w Wait) (Report, error) {
	r := Report{Workflow: "repo-create"}
	if err := required(map[string]string{"team": in.Team, "machine": in.Machine, "name": in.Name, "size": in.Size}); err != nil {
		return r, err
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	bridge, err := e.resolveBridge(ctx, in.Team, in.Machine)
	if err != nil {
		r.add(Stage{Name: "resolve", Target: in.Machine, State: StateFailed, Err: err})
		return r, err
	}

	payload := domain.Payload{"repo": in.Name, "size": in.Size}
	if in.Parent != "" {
		payload["parent"] = in.Parent
	}
	if len(in.Vault) > 0 {
		payload["vault"] = in.Vault
	}

	s, err := e.runTask(ctx, "create", domain.SubmitRequest{
		Team:     in.Team,
		Machine:  in.Machine,
		Bridge:   bridge,
		Function: domain.FuncRepoNew,
		Payload:  payload,
	}, w)
	r.add(s)
	return r, err
}

type RepoPushInput struct {
	SourceTeam    string
	SourceMachine string
	SourceRepo    string
	SourcePath    string
	DestTeam      string
	DestRepo      string
	DestType      string
	DestMachine   string
	DestStorage   string
	// DestBridge serves a destination machine created by the push. It
	// defaults to the source machine's bridge.
	DestBridge string
}

func (in RepoPushInput) validate() error {
	if err := required(map[string]string{
		"source team":    in.SourceTeam,
		"source machine": in.SourceMachine,
		"source repo":    in.SourceRepo,
		"dest team":      in.DestTeam,
		"dest repo":      in.DestRepo,
	}); err != nil {
		return err
	}
	switch in.DestType {
	case DestMachine:
		return required(map[string]string{"dest machine": in.DestMachine})
	case DestStorage:
		return required(map[string]string{"dest storage": in.DestStorage})
	}
	return &domain.ValidationError{Field: "dest type", Message: "must be machine or storage, got " + in.DestType}
}

// RepoPush makes sure the destination exists, creating it when absent,
// and only then submits repo_push. A destination created here is kept
// even when the push itself fails.
func (e *Engine) RepoPush(ctx context.Context, in RepoPushInput, w Wait) (Report, error) {
	r := Report{Workflow: "repo-push"}
	if in.DestType == "" {
		in.DestType = DestMachine
	}
	if in.SourcePath == "" {
		in.SourcePath = "/"
	}
	if err := in.validate(); err != nil {
		return r, err
	}
	if err := checkWait(w); err != nil {
		return r, err
	}

	bridge, err := e.resolveBridge(ctx, in.SourceTeam, in.SourceMachine)
	if err != nil {
		r.add(Stage{Name: "resolve", Target: in.SourceMachine, State: StateFailed, Err: err})
		return r, err
	}

	var (
		destination string
		created     bool
	)
	switch in.DestType {
	case DestMachine:
		destination = in.DestMachine
		destBridge := in.DestBridge
		if destBridge == "" {
			destBridge = bridge
		}
		_, created, err = e.ensureMachine(ctx, domain.Machine{Team: in.DestTeam, Name: in.DestMachine, Bridge: destBridge})
	case DestStorage:
		destination = in.DestStorage
		created, err = e.ensureStorage(ctx, domain.Storage{Team: in.DestTeam, Name: in.DestStorage})
	}
	r.add(entityStage("destination", in.DestTeam+"/"+destination, created, err))
	if err != nil {
		r.add(Stage{Name: "push", Target: in.SourceMachine, State: StateSkipped, Message: "destination unavailable"})
		return r, err
	}

	s, err := e.runTask(ctx, "push", domain.SubmitRequest{
		Team:     in.SourceTeam,
		Machine:  in.SourceMachine,
		Bridge:   bridge,
		Function: domain.FuncRepoPush,
		Payload: domain.Payload{
			"repo":        in.SourceRepo,
			"source_path": in.SourcePath,
			"dest_type":   in.DestType,
			"dest_team":   in.DestTeam,
			"dest_repo":   in.DestRepo,
			"destination": destination,
		},
	}, w)
	r.add(s)
	return r, err
}
