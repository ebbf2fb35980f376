package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/grading"
	"github.com/stemsi/lessonpath/internal/model"
)

// Submission reasons.
const (
	ReasonManual  = "manual"
	ReasonTimeout = "timeout"
	ReasonHidden  = "hidden"
	ReasonUnload  = "unload"
	ReasonExpired = "expired"
)

// SubmitRequest asks the Evaluator to finalize an attempt. Nil Answers
// means score whatever was last autosaved. Forced submissions skip the
// all-answered check.
type SubmitRequest struct {
	StudentID     int
	AttemptID     uuid.UUID
	Answers       model.Answers
	TimeRemaining *int
	Forced        bool
	Reason        string
}

// Evaluator scores attempts and finalizes them exactly once.
type Evaluator struct {
	attempts AttemptStore
	grader   *grading.Grader
	cache    ProgressCache
	events   EventPublisher
	duration int
	now      func() time.Time
	log      zerolog.Logger
}

// NewEvaluator creates a new Evaluator.
func NewEvaluator(attempts AttemptStore, cache ProgressCache, events EventPublisher, cfg *config.Config, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		attempts: attempts,
		grader:   grading.NewDefaultGrader(),
		cache:    cache,
		events:   events,
		duration: cfg.AttemptDurationSeconds(),
		now:      time.Now,
		log:      log.With().Str("component", "evaluator").Logger(),
	}
}

// Submit grades and finalizes an attempt. A terminal attempt returns its
// stored result unchanged regardless of the answers passed in.
func (e *Evaluator) Submit(ctx context.Context, req SubmitRequest) (*model.SubmissionResult, error) {
	a, err := e.attempts.GetAttempt(ctx, req.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != req.StudentID {
		return nil, ErrNotFound
	}
	if res := a.Result(); res != nil {
		return res, nil
	}

	answers := req.Answers
	if answers == nil {
		answers = a.Answers
	}
	answers = e.snapshotAnswers(a, answers)

	if !req.Forced {
		if missing := grading.Unanswered(a.Snapshot, answers); len(missing) > 0 {
			return nil, &ValidationError{Field: "answers", Unanswered: missing}
		}
	}

	remaining := a.TimeRemainingSeconds
	if req.TimeRemaining != nil {
		remaining = min(*req.TimeRemaining, remaining)
	}
	remaining = min(max(remaining, 0), e.duration)

	out := e.grader.Evaluate(a.Snapshot, answers, a.PassingScore)
	status := model.AttemptStatusFailed
	if out.Passed {
		status = model.AttemptStatusPassed
	}

	params := model.FinalizeParams{
		Status:         status,
		Answers:        answers,
		Score:          out.ScorePercent,
		CorrectAnswers: out.Correct,
		TimeRemaining:  remaining,
		TimeTaken:      e.duration - remaining,
		CompletedAt:    e.now().UTC(),
	}

	changed, err := e.attempts.FinalizeAttempt(ctx, a.ID, params)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !changed {
		// Another writer finalized first; its result stands.
		stored, err := e.attempts.GetAttempt(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reload attempt: %w", err)
		}
		if res := stored.Result(); res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("finalize attempt %s: %w", a.ID, ErrConflict)
	}

	applyFinalize(a, params)
	e.afterFinalize(ctx, a, req.Reason)
	return a.Result(), nil
}

// snapshotAnswers drops answers for questions outside the snapshot.
func (e *Evaluator) snapshotAnswers(a *model.QuizAttempt, answers model.Answers) model.Answers {
	out := make(model.Answers, len(answers))
	for id, v := range answers {
		if a.HasQuestion(id) {
			out[id] = v
		}
	}
	return out
}

func applyFinalize(a *model.QuizAttempt, p model.FinalizeParams) {
	switch p.Status {
	case model.AttemptStatusPassed, model.AttemptStatusFailed:
		a.Status = p.Status
	case model.AttemptStatusInProgress:
		panic("finalize with non-terminal status")
	}
	a.Answers = p.Answers
	a.Score = &p.Score
	a.CorrectAnswers = &p.CorrectAnswers
	a.TimeRemainingSeconds = p.TimeRemaining
	a.TimeTaken = &p.TimeTaken
	completed := p.CompletedAt
	a.CompletedAt = &completed
}

func (e *Evaluator) afterFinalize(ctx context.Context, a *model.QuizAttempt, reason string) {
	log := e.log.With().
		Int("student_id", a.StudentID).
		Str("quiz_id", a.QuizID.String()).
		Str("attempt_id", a.ID.String()).
		Logger()

	log.Info().
		Str("status", string(a.Status)).
		Int("score", *a.Score).
		Int("correct", *a.CorrectAnswers).
		Int("total", a.TotalQuestions()).
		Str("reason", reason).
		Msg("Attempt finalized")

	if err := e.cache.Invalidate(ctx, a.StudentID); err != nil {
		log.Warn().Err(err).Msg("Progress cache invalidation failed")
	}

	kind := model.ActivityQuizFailed
	if a.Status == model.AttemptStatusPassed {
		kind = model.ActivityQuizPassed
	}
	detail, _ := json.Marshal(map[string]any{
		"attempt_id":     a.ID,
		"attempt_number": a.AttemptNumber,
		"score":          *a.Score,
		"reason":         reason,
	})
	entry := model.ActivityEntry{
		StudentID: a.StudentID,
		Kind:      kind,
		RefID:     a.QuizID,
		Detail:    detail,
		CreatedAt: *a.CompletedAt,
	}
	if err := e.events.Publish(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("Activity publish failed")
	}
}
