package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"

	"github.com/rs/zerolog/log"
)

// Wait describes whether and how a workflow blocks on the tasks it submits.
type Wait struct {
	Enabled bool
	Spec    PollSpec
	Trace   bool
}

// Engine composes task submissions and entity assurance into workflows.
// It keeps no state between invocations.
type Engine struct {
	Tasks     TaskClient
	Inventory ports.Inventory
	Poller    Poller
	Tracer    Tracer

	// Priority applies to every submission that leaves it unset.
	Priority int
	// CancelOnInterrupt issues a remote cancel for a task whose wait is
	// interrupted. Off by default: the task keeps running remotely.
	CancelOnInterrupt bool
}

func NewEngine(b ports.Backend, clock Clock) *Engine {
	return &Engine{
		Tasks:     TaskClient{Q: b},
		Inventory: b,
		Poller:    Poller{Q: b, Clock: clock},
		Tracer:    Tracer{Q: b},
		Priority:  domain.DefaultPriority,
	}
}

func (e *Engine) fanOut() FanOut {
	return FanOut{Poller: e.Poller, Await: e.await}
}

// runTask submits one task and, when asked, waits for it. The returned
// error is set only for hard failures (the submission or a status fetch
// was rejected); outcomes such as FAILED or a timeout live in the stage.
func (e *Engine) runTask(ctx context.Context, name string, req domain.SubmitRequest, w Wait) (Stage, error) {
	s := Stage{Name: name, Target: req.Machine}
	if s.Target == "" {
		s.Target = req.Bridge
	}
	if req.Priority == 0 {
		req.Priority = e.Priority
	}

	t, err := e.Tasks.Submit(ctx, req)
	if err != nil {
		s.State = StateFailed
		s.Err = err
		return s, err
	}
	s.TaskID = t.ID
	s.Status = t.Status
	s.Priority = t.Priority
	s.State = StateSubmitted

	if w.Enabled {
		s = e.await(ctx, s, w.Spec)
		if s.State == StateFailed && s.Err != nil {
			return s, s.Err
		}
	}
	if w.Trace {
		s.Trace = e.trace(ctx, s.TaskID)
	}
	return s, nil
}

// Submit runs one arbitrary task as a single-stage report.
func (e *Engine) Submit(ctx context.Context, req domain.SubmitRequest, w Wait) (Report, error) {
	r := Report{Workflow: "submit"}
	if err := checkWait(w); err != nil {
		return r, err
	}
	s, err := e.runTask(ctx, string(req.Function), req, w)
	r.add(s)
	return r, err
}

// await polls a submitted stage to an outcome. An interrupted wait is
// reported as such; with CancelOnInterrupt the task is also cancelled.
func (e *Engine) await(ctx context.Context, s Stage, spec PollSpec) Stage {
	out, err := e.Poller.Await(ctx, s.TaskID, spec)
	if err == nil {
		return stageFromOutcome(s, out)
	}
	if out.Task != nil {
		s.Status = out.Task.Status
	}
	s.Elapsed = out.Elapsed

	if ctx.Err() == nil {
		s.State = StateFailed
		s.Err = err
		s.Message = err.Error()
		return s
	}

	s.State = StateInterrupted
	s.Message = "interrupted; task may still be in flight"
	if e.CancelOnInterrupt {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if t, cerr := e.Tasks.Cancel(cctx, s.TaskID); cerr != nil {
			s.Message = fmt.Sprintf("interrupted; remote cancel failed: %v", cerr)
		} else {
			s.State = StateCancelled
			s.Status = t.Status
			s.Message = "interrupted; remote cancel requested"
		}
	}
	return s
}

func (e *Engine) trace(ctx context.Context, id string) *TraceRecord {
	rec, err := e.Tracer.Trace(ctx, id)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("task_id", id).Msg("trace unavailable")
		return nil
	}
	return rec
}

// resolveBridge confirms a machine exists and returns the bridge serving it.
func (e *Engine) resolveBridge(ctx context.Context, team, machine string) (string, error) {
	m, err := e.Inventory.GetMachine(ctx, team, machine)
	if err != nil {
		return "", fmt.Errorf("look up machine %s/%s: %w", team, machine, err)
	}
	if m.Bridge == "" {
		return "", fmt.Errorf("machine %s/%s has no bridge assigned", team, machine)
	}
	return m.Bridge, nil
}

// ensureMachine creates the machine unless it exists and returns the stored
// record. created reports whether this call created it.
func (e *Engine) ensureMachine(ctx context.Context, m domain.Machine) (*domain.Machine, bool, error) {
	stored, err := e.Inventory.GetMachine(ctx, m.Team, m.Name)
	if err == nil {
		return stored, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	if stored, err = e.Inventory.CreateMachine(ctx, m); err != nil {
		return nil, false, err
	}
	log.Ctx(ctx).Info().Str("team", m.Team).Str("machine", m.Name).Msg("machine created")
	return stored, true, nil
}

func (e *Engine) ensureStorage(ctx context.Context, st domain.Storage) (bool, error) {
	_, err := e.Inventory.GetStorage(ctx, st.Team, st.Name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if _, err := e.Inventory.CreateStorage(ctx, st); err != nil {
		return false, err
	}
	log.Ctx(ctx).Info().Str("team", st.Team).Str("storage", st.Name).Msg("storage created")
	return true, nil
}

func entityStage(name, target string, created bool, err error) Stage {
	s := Stage{Name: name, Target: target}
	switch {
	case err != nil:
		s.State = StateFailed
		s.Err = err
	case created:
		s.State = StateOK
		s.Message = "created"
	default:
		s.State = StateOK
		s.Message = "already exists"
	}
	return s
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &domain.ValidationError{Field: strings.Join(missing, ", "), Message: "is required"}
}

func checkWait(w Wait) error {
	if !w.Enabled {
		return nil
	}
	return w.Spec.Validate()
}
