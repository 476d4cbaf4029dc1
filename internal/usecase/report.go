package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bridgeq/internal/domain"
)

var ErrWorkflowFailed = errors.New("workflow failed")

type StageState string

const (
	StateOK          StageState = "ok"
	StateSubmitted   StageState = "submitted"
	StateFailed      StageState = "failed"
	StateTimeout     StageState = "timeout"
	StateCancelled   StageState = "cancelled"
	StateInterrupted StageState = "interrupted"
	StateSkipped     StageState = "skipped"
)

// Failure reports whether a stage in this state makes the invocation fail.
func (s StageState) Failure() bool {
	switch s {
	case StateFailed, StateTimeout, StateCancelled, StateInterrupted:
		return true
	}
	return false
}

const inFlightNote = "stopped waiting; task may still be in flight"

type Stage struct {
	Name     string            `json:"name"`
	Target   string            `json:"target,omitempty"`
	State    StageState        `json:"state"`
	TaskID   string            `json:"task_id,omitempty"`
	Status   domain.TaskStatus `json:"status,omitempty"`
	Priority int               `json:"priority,omitempty"`
	Elapsed  time.Duration     `json:"elapsed,omitempty"`
	Message  string            `json:"message,omitempty"`
	Response domain.Payload    `json:"response_payload,omitempty"`
	Trace    *TraceRecord      `json:"trace,omitempty"`
	Err      error             `json:"-"`
}

type Report struct {
	Workflow string  `json:"workflow"`
	Stages   []Stage `json:"stages"`
}

func (r *Report) add(s Stage) {
	if s.Err != nil && s.Message == "" {
		s.Message = s.Err.Error()
	}
	r.Stages = append(r.Stages, s)
}

func (r Report) Failed() bool {
	for _, s := range r.Stages {
		if s.State.Failure() {
			return true
		}
	}
	return false
}

// Err summarizes failed stages as an ErrWorkflowFailed, or nil on success.
func (r Report) Err() error {
	var failed []string
	for _, s := range r.Stages {
		if !s.State.Failure() {
			continue
		}
		name := s.Name
		if s.Target != "" {
			name += " " + s.Target
		}
		failed = append(failed, fmt.Sprintf("%s (%s)", name, s.State))
	}
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrWorkflowFailed, r.Workflow, strings.Join(failed, ", "))
}

// Stage returns the first stage with the given name.
func (r Report) Stage(name string) (Stage, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// stageFromOutcome maps a poll outcome onto a stage. A timeout is never
// reported as a failure of the task itself.
func stageFromOutcome(s Stage, out Outcome) Stage {
	s.Elapsed = out.Elapsed
	if out.Task != nil {
		s.Status = out.Task.Status
		s.Priority = out.Task.Priority
		s.Response = out.Task.ResponsePayload
	}
	switch out.Kind {
	case OutcomeCompleted:
		s.State = StateOK
	case OutcomeFailed:
		s.State = StateFailed
		s.Message = failureMessage(out.Task)
	case OutcomeCancelled:
		s.State = StateCancelled
		s.Message = "task was cancelled"
	case OutcomeTimeout:
		s.State = StateTimeout
		s.Message = fmt.Sprintf("%s (last status %s)", inFlightNote, s.Status)
	}
	return s
}

func failureMessage(t *domain.Task) string {
	if t == nil {
		return "task failed"
	}
	for _, key := range []string{"error", "message", "stderr"} {
		if msg := t.ResponsePayload.String(key); msg != "" {
			return "task failed: " + msg
		}
	}
	return "task failed"
}
