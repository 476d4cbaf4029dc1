package domain

import (
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "PENDING"
	StatusProcessing TaskStatus = "PROCESSING"
	StatusCompleted  TaskStatus = "COMPLETED"
	StatusFailed     TaskStatus = "FAILED"
	StatusCancelled  TaskStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled}

// Terminal reports whether no further transition happens without an explicit retry.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func ParseStatus(s string) (TaskStatus, error) {
	v := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllStatuses {
		if v == known {
			return v, nil
		}
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

const (
	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

func ValidatePriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return &ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("must be between %d and %d, got %d", MinPriority, MaxPriority, p),
		}
	}
	return nil
}

// Payload is structured data interpreted by the remote executor.
type Payload map[string]any

// String returns the value at key when it is a non-empty string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

type Task struct {
	ID              string     `json:"task_id"`
	Team            string     `json:"team"`
	Machine         string     `json:"machine,omitempty"`
	Bridge          string     `json:"bridge"`
	Function        Function   `json:"function"`
	Priority        int        `json:"priority"`
	Status          TaskStatus `json:"status"`
	RequestPayload  Payload    `json:"request_payload,omitempty"`
	ResponsePayload Payload    `json:"response_payload,omitempty"`
	RetryCount      int        `json:"retry_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PickedAt        *time.Time `json:"picked_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	FailedAt        *time.Time `json:"failed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	RetriedAt       *time.Time `json:"retried_at,omitempty"`
}

// SubmitRequest carries everything needed to create a Task.
type SubmitRequest struct {
	Team     string   `json:"team"`
	Machine  string   `json:"machine,omitempty"`
	Bridge   string   `json:"bridge"`
	Function Function `json:"function"`
	Payload  Payload  `json:"payload,omitempty"`
	Priority int      `json:"priority"`
}

func (r SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Team) == "" {
		return &ValidationError{Field: "team", Message: "is required"}
	}
	if strings.TrimSpace(r.Bridge) == "" && strings.TrimSpace(r.Machine) == "" {
		return &ValidationError{Field: "bridge", Message: "a bridge or machine is required"}
	}
	if err := ValidatePriority(r.Priority); err != nil {
		return err
	}
	if _, err := ParseFunction(string(r.Function)); err != nil {
		return err
	}
	return r.Function.ValidatePayload(r.Payload)
}

// NewTask builds a PENDING task from a validated request.
func NewTask(id string, req SubmitRequest, now time.Time) *Task {
	return &Task{
		ID:             id,
		Team:           req.Team,
		Machine:        req.Machine,
		Bridge:         req.Bridge,
		Function:       req.Function,
		Priority:       req.Priority,
		Status:         StatusPending,
		RequestPayload: req.Payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (t *Task) transition(to TaskStatus, allowed ...TaskStatus) error {
	for _, from := range allowed {
		if t.Status == from {
			return nil
		}
	}
	return fmt.Errorf("%w: task %s is %s, cannot move to %s", ErrInvalidTransition, t.ID, t.Status, to)
}

// Claim hands a pending task to its bridge.
func (t *Task) Claim(now time.Time) error {
	if err := t.transition(StatusProcessing, StatusPending); err != nil {
		return err
	}
	t.Status = StatusProcessing
	t.PickedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *Task) Complete(now time.Time, payload Payload) error {
	if err := t.transition(StatusCompleted, StatusPending, StatusProcessing); err != nil {
		return err
	}
	t.Status = StatusCompleted
	if payload != nil {
		t.ResponsePayload = payload
	}
	t.CompletedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *Task) Fail(now time.Time, payload Payload) error {
	if err := t.transition(StatusFailed, StatusPending, StatusProcessing); err != nil {
		return err
	}
	t.Status = StatusFailed
	if payload != nil {
		t.ResponsePayload = payload
	}
	t.FailedAt = &now
	t.UpdatedAt = now
	return nil
}

func (t *Task) Cancel(now time.Time) error {
	if err := t.transition(StatusCancelled, StatusPending, StatusProcessing); err != nil {
		return err
	}
	t.Status = StatusCancelled
	t.CancelledAt = &now
	t.UpdatedAt = now
	return nil
}

// Retry re-arms a failed task. The identifier and request payload are kept.
func (t *Task) Retry(now time.Time) error {
	if err := t.transition(StatusPending, StatusFailed); err != nil {
		return err
	}
	t.Status = StatusPending
	t.RetryCount++
	t.RetriedAt = &now
	t.PickedAt = nil
	t.FailedAt = nil
	t.UpdatedAt = now
	return nil
}

// UpdateResponse merges a partial response into a live task.
func (t *Task) UpdateResponse(now time.Time, payload Payload) error {
	if t.Status.Terminal() {
		return fmt.Errorf("%w: task %s is %s, response is final", ErrInvalidTransition, t.ID, t.Status)
	}
	if t.ResponsePayload == nil {
		t.ResponsePayload = Payload{}
	}
	for k, v := range payload {
		t.ResponsePayload[k] = v
	}
	t.UpdatedAt = now
	return nil
}
