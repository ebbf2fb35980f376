package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/repository/sqlitestore"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// env wires every service on one in-memory SQLite store.
type env struct {
	store     *sqlitestore.Store
	progress  *service.ProgressService
	attempts  *service.AttemptService
	evaluator *service.Evaluator
	activity  *service.ActivityService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := sqlitestore.Open(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{AttemptDuration: 900 * time.Second, ReconcileGrace: 5 * time.Minute}
	log := zerolog.Nop()
	events := service.NewDirectEventPublisher(store)
	cache := service.NopCache{}

	progress := service.NewProgressService(store, store, cache, events, log)
	return &env{
		store:     store,
		progress:  progress,
		attempts:  service.NewAttemptService(store, store, progress, cache, cfg, log),
		evaluator: service.NewEvaluator(store, cache, events, cfg, log),
		activity:  service.NewActivityService(store),
	}
}

// lesson seeds one session with two videos and a two-question quiz.
func (e *env) lesson(t *testing.T, track string, session int) (*model.Lesson, *model.Quiz) {
	t.Helper()
	ctx := context.Background()

	cm := &model.CourseMaterial{Title: fmt.Sprintf("%s %d", track, session), Language: track, FileURL: "/slides.pdf"}
	require.NoError(t, e.store.SaveCourseMaterial(ctx, cm))

	lesson := &model.Lesson{
		SessionNumber:  session,
		Title:          fmt.Sprintf("Session %d", session),
		CourseMaterial: *cm,
		Videos: []model.Video{
			{Title: "Intro", YoutubeVideoID: "abc", OrderNum: 1},
			{Title: "Deep dive", YoutubeVideoID: "def", OrderNum: 2},
		},
	}
	require.NoError(t, e.store.SaveLesson(ctx, lesson))

	quiz := &model.Quiz{
		LessonID:     lesson.ID,
		Title:        "Check",
		PassingScore: 100,
		Questions: []model.Question{
			{Type: model.QuestionTypeSingleChoice, Prompt: "pick", Options: []string{"x", "y"}, CorrectAnswer: json.RawMessage(`1`), Points: 1, OrderNum: 1},
			{Type: model.QuestionTypeFillIn, Prompt: "type", CorrectAnswer: json.RawMessage(`"print"`), Points: 1, OrderNum: 2},
		},
	}
	require.NoError(t, e.store.SaveQuiz(ctx, quiz))
	lesson.QuizID = &quiz.ID
	return lesson, quiz
}

// study reads the slides and watches every video of the lesson.
func (e *env) study(t *testing.T, studentID int, l *model.Lesson) {
	t.Helper()
	ctx := context.Background()
	_, err := e.progress.MarkSlideRead(ctx, studentID, l.CourseMaterial.ID)
	require.NoError(t, err)
	for _, v := range l.Videos {
		_, err := e.progress.MarkVideoWatched(ctx, studentID, v.ID)
		require.NoError(t, err)
	}
}

// take starts an attempt and submits the given answers, forced.
func (e *env) take(t *testing.T, studentID int, quiz *model.Quiz, answers model.Answers) *model.SubmissionResult {
	t.Helper()
	ctx := context.Background()
	a, _, err := e.attempts.CreateOrResume(ctx, studentID, quiz.ID)
	require.NoError(t, err)
	res, err := e.evaluator.Submit(ctx, service.SubmitRequest{
		StudentID: studentID,
		AttemptID: a.ID,
		Answers:   answers,
		Forced:    true,
		Reason:    service.ReasonManual,
	})
	require.NoError(t, err)
	return res
}

func rightAnswers(q *model.Quiz) model.Answers {
	out := model.Answers{}
	for _, question := range q.Questions {
		out[question.ID.String()] = question.CorrectAnswer
	}
	return out
}

func unlocked(t *testing.T, e *env, studentID int, lessonID uuid.UUID) bool {
	t.Helper()
	st, err := e.progress.LessonProgress(context.Background(), studentID, lessonID)
	require.NoError(t, err)
	return st.Progress.IsUnlocked
}

func TestUnlockFollowsCompletion(t *testing.T) {
	e := newEnv(t)
	first, quiz := e.lesson(t, "python", 1)
	second, _ := e.lesson(t, "python", 2)
	other, _ := e.lesson(t, "javascript", 1)

	assert.True(t, unlocked(t, e, 1, first.ID))
	assert.False(t, unlocked(t, e, 1, second.ID))
	assert.True(t, unlocked(t, e, 1, other.ID))

	e.study(t, 1, first)
	assert.False(t, unlocked(t, e, 1, second.ID), "quiz not passed yet")

	res := e.take(t, 1, quiz, rightAnswers(quiz))
	require.True(t, res.Passed)

	st, err := e.progress.LessonProgress(context.Background(), 1, first.ID)
	require.NoError(t, err)
	assert.True(t, st.Progress.IsCompleted)
	assert.Equal(t, 100, st.Progress.ProgressPercent)
	assert.True(t, unlocked(t, e, 1, second.ID))

	// Another student's progress is untouched.
	assert.False(t, unlocked(t, e, 2, second.ID))
}

func TestExhaustedAttemptsResolveLesson(t *testing.T) {
	e := newEnv(t)
	first, quiz := e.lesson(t, "python", 1)
	second, _ := e.lesson(t, "python", 2)
	e.study(t, 1, first)

	for i := 0; i < config.MaxQuizAttempts; i++ {
		res := e.take(t, 1, quiz, model.Answers{})
		assert.Equal(t, model.AttemptStatusFailed, res.Status)
		assert.Equal(t, i+1, res.AttemptNumber)
	}

	elig, err := e.attempts.CanAttempt(context.Background(), 1, quiz.ID)
	require.NoError(t, err)
	assert.False(t, elig.Allowed)

	st, err := e.progress.LessonProgress(context.Background(), 1, first.ID)
	require.NoError(t, err)
	assert.False(t, st.Progress.IsCompleted)
	assert.True(t, st.Progress.AttemptsExhausted)
	assert.True(t, unlocked(t, e, 1, second.ID))
}

func TestLockedLessonRejectsAccess(t *testing.T) {
	e := newEnv(t)
	e.lesson(t, "python", 1)
	second, quiz := e.lesson(t, "python", 2)
	ctx := context.Background()

	_, err := e.progress.GetLesson(ctx, 1, second.ID)
	assert.ErrorIs(t, err, service.ErrLocked)

	_, err = e.progress.MarkSlideRead(ctx, 1, second.CourseMaterial.ID)
	assert.ErrorIs(t, err, service.ErrLocked)

	_, err = e.progress.MarkVideoWatched(ctx, 1, second.Videos[0].ID)
	assert.ErrorIs(t, err, service.ErrLocked)

	_, _, err = e.attempts.CreateOrResume(ctx, 1, quiz.ID)
	var locked *service.LockedError
	require.ErrorAs(t, err, &locked)
	assert.True(t, locked.IsLessonLock())

	_, err = e.attempts.GetQuizForStudent(ctx, 1, quiz.ID)
	assert.ErrorIs(t, err, service.ErrLocked)
}

func TestMarksAreIdempotent(t *testing.T) {
	e := newEnv(t)
	first, _ := e.lesson(t, "python", 1)
	ctx := context.Background()

	st, err := e.progress.MarkVideoWatched(ctx, 1, first.Videos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Progress.VideosWatched)

	st, err = e.progress.MarkVideoWatched(ctx, 1, first.Videos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Progress.VideosWatched)

	_, err = e.progress.MarkSlideRead(ctx, 1, first.CourseMaterial.ID)
	require.NoError(t, err)
	_, err = e.progress.MarkSlideRead(ctx, 1, first.CourseMaterial.ID)
	require.NoError(t, err)

	feed, err := e.activity.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, model.ActivitySlideRead, feed[0].Kind)
	assert.Equal(t, model.ActivityVideoWatched, feed[1].Kind)
}

func TestMarkUnknownContent(t *testing.T) {
	e := newEnv(t)
	e.lesson(t, "python", 1)
	ctx := context.Background()

	_, err := e.progress.MarkSlideRead(ctx, 1, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = e.progress.MarkVideoWatched(ctx, 1, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = e.progress.LessonProgress(ctx, 1, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSummary(t *testing.T) {
	e := newEnv(t)
	first, quiz := e.lesson(t, "python", 1)
	e.lesson(t, "python", 2)
	e.study(t, 1, first)
	e.take(t, 1, quiz, rightAnswers(quiz))

	sum, err := e.progress.Summary(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 50, sum.OverallProgress)
	assert.Equal(t, 2, sum.VideosWatched)
	assert.Equal(t, 1, sum.QuizzesPassed)
	assert.Equal(t, 1, sum.LessonsDone)
	require.Len(t, sum.Tracks, 1)
	assert.Equal(t, "python", sum.Tracks[0].Track)
	assert.Equal(t, 1, sum.Tracks[0].CompletedLessons)
	assert.Equal(t, 2, sum.Tracks[0].TotalLessons)
}

// A quiz re-saved mid-attempt does not reach the stored snapshot.
func TestStoredSnapshotSurvivesQuizEdit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, quiz := e.lesson(t, "go", 1)
	original := rightAnswers(quiz)

	a, _, err := e.attempts.CreateOrResume(ctx, 1, quiz.ID)
	require.NoError(t, err)

	edited := *quiz
	edited.Questions = []model.Question{
		{ID: quiz.Questions[1].ID, Type: model.QuestionTypeFillIn, Prompt: "edited", CorrectAnswer: json.RawMessage(`"echo"`), Points: 1, OrderNum: 1},
		{ID: quiz.Questions[0].ID, Type: model.QuestionTypeSingleChoice, Prompt: "edited", Options: []string{"p", "q", "r"}, CorrectAnswer: json.RawMessage(`2`), Points: 1, OrderNum: 2},
		{Type: model.QuestionTypeFillIn, Prompt: "new", CorrectAnswer: json.RawMessage(`"x"`), Points: 1, OrderNum: 3},
	}
	require.NoError(t, e.store.SaveQuiz(ctx, &edited))

	resumed, ok, err := e.attempts.CreateOrResume(ctx, 1, quiz.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, resumed.Snapshot, 2)
	assert.Equal(t, quiz.Questions[0].ID, resumed.Snapshot[0].ID)
	assert.Equal(t, "pick", resumed.Snapshot[0].Prompt)
	assert.Equal(t, []string{"x", "y"}, resumed.Snapshot[0].Options)
	assert.Equal(t, "type", resumed.Snapshot[1].Prompt)

	res, err := e.evaluator.Submit(ctx, service.SubmitRequest{
		StudentID: 1,
		AttemptID: a.ID,
		Answers:   original,
		Reason:    service.ReasonManual,
	})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 100, res.ScorePercent)
	assert.Equal(t, 2, res.CorrectAnswers)
	assert.Equal(t, 2, res.TotalQuestions)
}
