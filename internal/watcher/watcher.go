// Package watcher follows a filtered slice of the queue and reports every
// status change it observes. It never mutates tasks.
package watcher

import (
	"context"
	"errors"
	"time"

	"bridgeq/internal/domain"
	"bridgeq/internal/usecase"
	"bridgeq/pkg/backoff"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Filter      domain.ListFilter
	Interval    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return &domain.ValidationError{Field: "watch interval", Message: "must be positive"}
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return &domain.ValidationError{Field: "watch backoff", Message: "base must be positive and not above max"}
	}
	return c.Filter.Validate()
}

// Change is one observed transition. From is empty the first time a task
// is seen.
type Change struct {
	Task domain.Task       `json:"task"`
	From domain.TaskStatus `json:"from,omitempty"`
}

type Watcher struct {
	Tasks usecase.TaskClient
	Clock usecase.Clock
	Cfg   Config
}

// Run lists the filter every Cfg.Interval until ctx is done, calling emit
// for each task whose status differs from the previous round. Tasks that
// drop out of the listing are forgotten. Consecutive list errors back off
// exponentially instead of failing the watch.
func (w Watcher) Run(ctx context.Context, emit func(Change)) error {
	if err := w.Cfg.Validate(); err != nil {
		return err
	}
	clock := w.Clock
	if clock == nil {
		clock = usecase.RealClock{}
	}
	logger := log.Ctx(ctx)

	seen := make(map[string]domain.TaskStatus)
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		delay := w.Cfg.Interval
		tasks, err := w.Tasks.List(ctx, w.Cfg.Filter)
		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPermissionDenied):
			return err
		case err != nil:
			failures++
			delay = backoff.ExponentialJitter(w.Cfg.BaseBackoff, w.Cfg.MaxBackoff, failures)
			logger.Warn().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("list failed")
		default:
			failures = 0
			seen = diff(seen, tasks, emit)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-clock.After(delay):
		}
	}
}

func diff(prev map[string]domain.TaskStatus, tasks []domain.Task, emit func(Change)) map[string]domain.TaskStatus {
	next := make(map[string]domain.TaskStatus, len(tasks))
	for i := len(tasks) - 1; i >= 0; i-- {
		t := tasks[i]
		next[t.ID] = t.Status
		if from, ok := prev[t.ID]; ok && from == t.Status {
			continue
		}
		emit(Change{Task: t, From: prev[t.ID]})
	}
	return next
}
