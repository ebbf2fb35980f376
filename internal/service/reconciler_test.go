package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerSweep(t *testing.T) {
	quiz := testQuiz(50)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	now := time.Now()

	stale := &model.QuizAttempt{
		QuizID:               quiz.ID,
		StudentID:            1,
		AttemptNumber:        1,
		Status:               model.AttemptStatusInProgress,
		Answers:              model.Answers{quiz.Questions[0].ID.String(): json.RawMessage(`1`)},
		TimeRemainingSeconds: 120,
		PassingScore:         50,
		StartTime:            now.Add(-time.Hour),
		Snapshot:             quiz.Questions,
	}
	fresh := &model.QuizAttempt{
		QuizID:               quiz.ID,
		StudentID:            2,
		AttemptNumber:        1,
		Status:               model.AttemptStatusInProgress,
		Answers:              model.Answers{},
		TimeRemainingSeconds: 900,
		PassingScore:         50,
		StartTime:            now.Add(-time.Minute),
		Snapshot:             quiz.Questions,
	}
	f.attempts.put(stale)
	f.attempts.put(fresh)

	r := NewReconciler(f.attempts, f.evaluator, testConfig(), zerolog.Nop())
	r.now = func() time.Time { return now }

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.attempts.GetAttempt(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusPassed, got.Status)
	assert.Equal(t, 50, *got.Score)
	assert.Equal(t, 0, got.TimeRemainingSeconds)
	assert.Equal(t, 900, *got.TimeTaken)

	open, err := f.attempts.GetAttempt(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, open.Status)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Contains(t, string(events[0].Detail), `"reason":"expired"`)

	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcilerScheduleRejectsBadSpec(t *testing.T) {
	f := newFixture(openGate)
	r := NewReconciler(f.attempts, f.evaluator, testConfig(), zerolog.Nop())

	_, err := r.Schedule("not a cron spec")
	assert.Error(t, err)

	c, err := r.Schedule("@every 1m")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)
}
