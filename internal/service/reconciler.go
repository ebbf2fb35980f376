package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
)

const (
	reconcileBatch   = 100
	reconcileTimeout = 30 * time.Second
)

// Reconciler finalizes in_progress attempts whose deadline passed without a
// submission reaching the server, scoring the last autosaved answers.
type Reconciler struct {
	attempts  AttemptStore
	evaluator *Evaluator
	deadline  time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewReconciler creates a new Reconciler. An attempt is stale once
// start + duration + grace has passed.
func NewReconciler(attempts AttemptStore, evaluator *Evaluator, cfg *config.Config, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		attempts:  attempts,
		evaluator: evaluator,
		deadline:  cfg.AttemptDuration + cfg.ReconcileGrace,
		now:       time.Now,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// Sweep finalizes every stale attempt and returns how many it finalized.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.deadline)
	zero := 0
	finalized := 0

	for {
		stale, err := r.attempts.ListExpiredInProgress(ctx, cutoff, reconcileBatch)
		if err != nil {
			return finalized, fmt.Errorf("list expired attempts: %w", err)
		}
		if len(stale) == 0 {
			return finalized, nil
		}

		progressed := false
		for _, a := range stale {
			_, err := r.evaluator.Submit(ctx, SubmitRequest{
				StudentID:     a.StudentID,
				AttemptID:     a.ID,
				TimeRemaining: &zero,
				Forced:        true,
				Reason:        ReasonExpired,
			})
			if err != nil {
				r.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Stale attempt finalize failed")
				continue
			}
			progressed = true
			finalized++
		}
		if !progressed || len(stale) < reconcileBatch {
			return finalized, nil
		}
	}
}

// Schedule registers Sweep on a cron scheduler. Overlapping runs are skipped.
// The caller starts and stops the returned scheduler.
func (r *Reconciler) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()

		n, err := r.Sweep(ctx)
		if err != nil {
			r.log.Error().Err(err).Msg("Reconcile sweep failed")
			return
		}
		if n > 0 {
			r.log.Info().Int("finalized", n).Msg("Stale attempts finalized")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reconciler %q: %w", spec, err)
	}
	return c, nil
}
