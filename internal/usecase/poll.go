package usecase

import (
	"context"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/ports"

	"github.com/rs/zerolog/log"
)

type PollSpec struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (s PollSpec) Validate() error {
	if s.Interval <= 0 {
		return &domain.ValidationError{Field: "poll interval", Message: "must be positive"}
	}
	if s.Timeout <= 0 {
		return &domain.ValidationError{Field: "wait timeout", Message: "must be positive"}
	}
	return nil
}

type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeCancelled OutcomeKind = "cancelled"
	// OutcomeTimeout means the client stopped waiting. The task may still
	// finish remotely; its final state is unknown.
	OutcomeTimeout OutcomeKind = "timeout"
)

type Outcome struct {
	Kind OutcomeKind
	// Task is the last observed snapshot.
	Task    *domain.Task
	Elapsed time.Duration
	Polls   int
}

func kindOf(s domain.TaskStatus) OutcomeKind {
	switch s {
	case domain.StatusCompleted:
		return OutcomeCompleted
	case domain.StatusFailed:
		return OutcomeFailed
	case domain.StatusCancelled:
		return OutcomeCancelled
	}
	return OutcomeTimeout
}

type Poller struct {
	Q     ports.Queue
	Clock Clock
}

// Await fetches the task every spec.Interval until it reaches a terminal
// status or spec.Timeout has elapsed. The last sleep is shortened so the
// final check lands on the deadline. Fetch errors and context cancellation
// are returned as errors, never as an outcome.
func (p Poller) Await(ctx context.Context, id string, spec PollSpec) (Outcome, error) {
	if err := spec.Validate(); err != nil {
		return Outcome{}, err
	}
	clock := p.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := log.Ctx(ctx).With().Str("task_id", id).Logger()

	start := clock.Now()
	var out Outcome
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		t, err := p.Q.Fetch(ctx, id)
		if err != nil {
			return out, err
		}
		out.Polls++
		out.Task = t
		out.Elapsed = clock.Now().Sub(start)

		if t.Status.Terminal() {
			out.Kind = kindOf(t.Status)
			logger.Debug().Str("status", string(t.Status)).Dur("elapsed", out.Elapsed).Msg("task reached terminal status")
			return out, nil
		}
		if out.Elapsed >= spec.Timeout {
			out.Kind = OutcomeTimeout
			logger.Debug().Str("status", string(t.Status)).Dur("elapsed", out.Elapsed).Msg("gave up waiting")
			return out, nil
		}
		logger.Debug().Str("status", string(t.Status)).Int("poll", out.Polls).Msg("waiting")

		wait := min(spec.Interval, spec.Timeout-out.Elapsed)
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-clock.After(wait):
		}
	}
}
