package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startAttempt(t *testing.T, f *fixture, studentID int, quiz *model.Quiz) *model.QuizAttempt {
	t.Helper()
	a, _, err := f.service.CreateOrResume(context.Background(), studentID, quiz.ID)
	require.NoError(t, err)
	return a
}

func TestSubmitAllCorrectPasses(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	a := startAttempt(t, f, 1, quiz)

	remaining := 600
	res, err := f.evaluator.Submit(context.Background(), SubmitRequest{
		StudentID:     1,
		AttemptID:     a.ID,
		Answers:       correctAnswers(quiz),
		TimeRemaining: &remaining,
		Reason:        ReasonManual,
	})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusPassed, res.Status)
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.ScorePercent)
	assert.Equal(t, 2, res.CorrectAnswers)
	assert.Equal(t, 2, res.TotalQuestions)
	assert.Equal(t, 300, res.TimeTaken)
	require.NotNil(t, res.CompletedAt)

	assert.Equal(t, []int{1}, f.cache.invalidated)
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.ActivityQuizPassed, events[0].Kind)
	assert.Equal(t, quiz.ID, events[0].RefID)
	assert.Contains(t, string(events[0].Detail), `"reason":"manual"`)
}

func TestSubmitManualRequiresEveryAnswer(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	a := startAttempt(t, f, 1, quiz)

	_, err := f.evaluator.Submit(context.Background(), SubmitRequest{
		StudentID: 1,
		AttemptID: a.ID,
		Answers:   model.Answers{quiz.Questions[0].ID.String(): json.RawMessage(`1`)},
		Reason:    ReasonManual,
	})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{quiz.Questions[1].ID.String()}, verr.Unanswered)

	stored, err := f.attempts.GetAttempt(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusInProgress, stored.Status)
	assert.Zero(t, f.attempts.finalizeCalls)
}

func TestSubmitForcedScoresAutosavedAnswers(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	a := startAttempt(t, f, 1, quiz)

	require.NoError(t, f.service.SaveProgress(ctx, 1, a.ID, model.Progress{
		Answers:              model.Answers{quiz.Questions[0].ID.String(): json.RawMessage(`1`)},
		TimeRemainingSeconds: 0,
	}))

	res, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, Forced: true, Reason: ReasonTimeout})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusFailed, res.Status)
	assert.Equal(t, 50, res.ScorePercent)
	assert.Equal(t, 1, res.CorrectAnswers)
	assert.Equal(t, 900, res.TimeTaken)
	assert.Equal(t, model.ActivityQuizFailed, f.events.all()[0].Kind)
}

func TestSubmitIsIdempotent(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	a := startAttempt(t, f, 1, quiz)

	first, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, Answers: correctAnswers(quiz)})
	require.NoError(t, err)

	wrong := model.Answers{
		quiz.Questions[0].ID.String(): json.RawMessage(`0`),
		quiz.Questions[1].ID.String(): json.RawMessage(`"nope"`),
	}
	second, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, Answers: wrong, Forced: true})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.ScorePercent, second.ScorePercent)
	assert.Equal(t, first.CorrectAnswers, second.CorrectAnswers)
	assert.Equal(t, first.TimeTaken, second.TimeTaken)
	assert.Equal(t, 1, f.attempts.finalizeCalls)
	assert.Len(t, f.events.all(), 1)
}

func TestSubmitLosingFinalizeRaceReturnsWinner(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	a := startAttempt(t, f, 1, quiz)

	f.attempts.beforeFinalize = func() {
		ok, err := f.attempts.FinalizeAttempt(ctx, a.ID, model.FinalizeParams{
			Status:      model.AttemptStatusFailed,
			Answers:     model.Answers{},
			Score:       0,
			CompletedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	res, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, Answers: correctAnswers(quiz)})
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusFailed, res.Status)
	assert.Equal(t, 0, res.ScorePercent)
	assert.Empty(t, f.events.all())
}

func TestSubmitClampsTimeRemaining(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	a := startAttempt(t, f, 1, quiz)
	require.NoError(t, f.service.SaveProgress(ctx, 1, a.ID, model.Progress{TimeRemainingSeconds: 400}))

	claimed := 850
	res, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, TimeRemaining: &claimed, Forced: true})
	require.NoError(t, err)
	assert.Equal(t, 500, res.TimeTaken)

	negative := -5
	b := startAttempt(t, f, 2, quiz)
	res, err = f.evaluator.Submit(ctx, SubmitRequest{StudentID: 2, AttemptID: b.ID, TimeRemaining: &negative, Forced: true})
	require.NoError(t, err)
	assert.Equal(t, 900, res.TimeTaken)
}

func TestSubmitIgnoresAnswersOutsideSnapshot(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	ctx := context.Background()
	a := startAttempt(t, f, 1, quiz)

	answers := correctAnswers(quiz)
	answers["7d3c9b2a-0000-4000-8000-000000000000"] = json.RawMessage(`1`)
	_, err := f.evaluator.Submit(ctx, SubmitRequest{StudentID: 1, AttemptID: a.ID, Answers: answers})
	require.NoError(t, err)

	stored, err := f.attempts.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Answers, 2)
}

func TestSubmitOtherStudent(t *testing.T) {
	quiz := testQuiz(70)
	f := newFixture(openGate, quiz)
	a := startAttempt(t, f, 1, quiz)

	_, err := f.evaluator.Submit(context.Background(), SubmitRequest{StudentID: 2, AttemptID: a.ID, Forced: true})
	assert.ErrorIs(t, err, ErrNotFound)
}
