package usecase

import (
	"context"
	"sort"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"
)

type TaskSummary struct {
	ID         string            `json:"task_id"`
	Team       string            `json:"team"`
	Machine    string            `json:"machine,omitempty"`
	Bridge     string            `json:"bridge"`
	Function   domain.Function   `json:"function"`
	Priority   int               `json:"priority"`
	Status     domain.TaskStatus `json:"status"`
	RetryCount int               `json:"retry_count"`
}

type TimelineEvent struct {
	At     time.Time         `json:"at"`
	Event  string            `json:"event"`
	Status domain.TaskStatus `json:"status,omitempty"`
}

// TraceRecord is a read-only view of a task's lifecycle. It holds nothing
// derived from the local clock, so tracing an unchanged task twice gives
// the same record.
type TraceRecord struct {
	Task     TaskSummary     `json:"task"`
	Request  domain.Payload  `json:"request_payload"`
	Response domain.Payload  `json:"response_payload"`
	Timeline []TimelineEvent `json:"timeline"`
}

type Tracer struct {
	Q ports.Queue
}

func (tr Tracer) Trace(ctx context.Context, id string) (*TraceRecord, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	t, err := tr.Q.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return BuildTrace(t), nil
}

func BuildTrace(t *domain.Task) *TraceRecord {
	return &TraceRecord{
		Task: TaskSummary{
			ID:         t.ID,
			Team:       t.Team,
			Machine:    t.Machine,
			Bridge:     t.Bridge,
			Function:   t.Function,
			Priority:   t.Priority,
			Status:     t.Status,
			RetryCount: t.RetryCount,
		},
		Request:  t.RequestPayload,
		Response: t.ResponsePayload,
		Timeline: timeline(t),
	}
}

func timeline(t *domain.Task) []TimelineEvent {
	events := []TimelineEvent{{At: t.CreatedAt, Event: "created", Status: domain.StatusPending}}
	add := func(at *time.Time, event string, status domain.TaskStatus) {
		if at != nil && !at.IsZero() {
			events = append(events, TimelineEvent{At: *at, Event: event, Status: status})
		}
	}
	add(t.RetriedAt, "retried", domain.StatusPending)
	add(t.PickedAt, "picked up by bridge", domain.StatusProcessing)
	add(t.CompletedAt, "completed", domain.StatusCompleted)
	add(t.FailedAt, "failed", domain.StatusFailed)
	add(t.CancelledAt, "cancelled", domain.StatusCancelled)

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	last := events[len(events)-1].At
	if t.UpdatedAt.After(last) {
		events = append(events, TimelineEvent{At: t.UpdatedAt, Event: "last update"})
	}
	return events
}
