package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/renderdeck/api/internal/model"
	"github.com/renderdeck/api/internal/store"
)

// TransitionError reports an attempted move outside the lifecycle table.
type TransitionError struct {
	From, To model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Lifecycle is the only mutation path for a job's status. It validates the
// edge against the transition table and persists the updated record through
// the store before returning.
type Lifecycle struct {
	store *store.Store
	log   zerolog.Logger
}

func NewLifecycle(st *store.Store, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{store: st, log: log}
}

// Transition moves job to next and persists it. Timestamps are maintained
// here: StartedAt when entering RENDERING, CompletedAt on any terminal
// state. The caller's job copy is updated in place on success.
func (l *Lifecycle) Transition(ctx context.Context, job *model.Job, next model.Status) error {
	if !job.Status.CanTransitionTo(next) {
		return &TransitionError{From: job.Status, To: next}
	}

	prev := job.Status
	job.Status = next
	now := time.Now()
	switch {
	case next == model.StatusRendering:
		job.StartedAt = &now
	case next.Terminal():
		job.CompletedAt = &now
	}

	if err := l.store.SaveJob(ctx, job); err != nil {
		job.Status = prev
		return fmt.Errorf("persist transition to %s: %w", next, err)
	}
	l.log.Info().Str("jobId", job.ID).Str("from", string(prev)).Str("to", string(next)).Msg("job transition")
	return nil
}

// Fail moves job to FAILED and records why. Used for both renderer exit
// failures and errors raised while preparing or launching.
func (l *Lifecycle) Fail(ctx context.Context, job *model.Job, reason string) error {
	job.Error = &reason
	job.PID = 0
	return l.Transition(ctx, job, model.StatusFailed)
}

// RecoverOrphans fails every job stored as RENDERING. Run once at startup:
// after a crash of the service no process can still be attached, so such
// records would otherwise stay RENDERING until their TTL silently expired.
func (l *Lifecycle) RecoverOrphans(ctx context.Context) (int, error) {
	jobs, err := l.store.RenderingJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan rendering jobs: %w", err)
	}
	recovered := 0
	for _, job := range jobs {
		if err := l.Fail(ctx, job, "interrupted by service restart"); err != nil {
			l.log.Error().Err(err).Str("jobId", job.ID).Msg("failed to recover orphaned job")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		l.log.Warn().Int("count", recovered).Msg("recovered orphaned rendering jobs")
	}
	return recovered, nil
}
