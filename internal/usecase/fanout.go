package usecase

import (
	"context"
	"sync"

	"bridgeq/internal/domain"

	"github.com/rs/zerolog/log"
)

// Target is one independent unit of a fan-out.
type Target struct {
	Key    string
	Submit func(ctx context.Context) (*domain.Task, error)
}

type FanOut struct {
	Poller Poller
	// Await handles context cancellation of a single poll; nil means the
	// stage is reported as interrupted.
	Await func(ctx context.Context, s Stage, spec PollSpec) Stage
}

// Run admits every target before polling any of them, then polls each
// submitted task concurrently with its own timeout clock. Results are
// returned keyed by target, assembled only after every poll has finished.
func (f FanOut) Run(ctx context.Context, name string, targets []Target, spec *PollSpec) map[string]Stage {
	stages := make([]Stage, len(targets))
	for i, target := range targets {
		s := Stage{Name: name, Target: target.Key}
		t, err := target.Submit(ctx)
		if err != nil {
			s.State = StateFailed
			s.Err = err
			s.Message = err.Error()
			stages[i] = s
			continue
		}
		s.TaskID = t.ID
		s.Status = t.Status
		s.Priority = t.Priority
		s.State = StateSubmitted
		stages[i] = s
	}

	if spec != nil {
		var wg sync.WaitGroup
		for i := range stages {
			if stages[i].State != StateSubmitted {
				continue
			}
			wg.Add(1)
			go func(i int, s Stage) {
				defer wg.Done()
				stages[i] = f.await(ctx, s, *spec)
			}(i, stages[i])
		}
		wg.Wait()
	}

	out := make(map[string]Stage, len(stages))
	for _, s := range stages {
		out[s.Target] = s
	}
	log.Ctx(ctx).Info().Str("stage", name).Int("targets", len(targets)).Msg("fan-out finished")
	return out
}

func (f FanOut) await(ctx context.Context, s Stage, spec PollSpec) Stage {
	if f.Await != nil {
		return f.Await(ctx, s, spec)
	}
	out, err := f.Poller.Await(ctx, s.TaskID, spec)
	if err != nil {
		s.Err = err
		s.Message = err.Error()
		s.State = StateFailed
		if ctx.Err() != nil {
			s.State = StateInterrupted
		}
		return s
	}
	return stageFromOutcome(s, out)
}
