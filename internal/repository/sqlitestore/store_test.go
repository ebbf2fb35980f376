package sqlitestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	s, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedLesson(t *testing.T, s *Store, track string, session int) (*model.Lesson, *model.Quiz) {
	t.Helper()
	ctx := context.Background()

	cm := &model.CourseMaterial{Title: "Slides", Language: track, FileURL: "/slides.pdf"}
	require.NoError(t, s.SaveCourseMaterial(ctx, cm))

	lesson := &model.Lesson{
		SessionNumber:  session,
		Title:          "Session",
		CourseMaterial: *cm,
		Videos: []model.Video{
			{Title: "Intro", YoutubeVideoID: "abc", OrderNum: 2},
			{Title: "Basics", YoutubeVideoID: "def", OrderNum: 1},
		},
	}
	require.NoError(t, s.SaveLesson(ctx, lesson))

	quiz := &model.Quiz{
		LessonID: lesson.ID,
		Title:    "Check",
		Questions: []model.Question{
			{Type: model.QuestionTypeSingleChoice, Prompt: "b", Options: []string{"x", "y"}, CorrectAnswer: json.RawMessage(`1`), Points: 1, OrderNum: 2},
			{Type: model.QuestionTypeFillIn, Prompt: "a", CorrectAnswer: json.RawMessage(`"print"`), Points: 1, OrderNum: 1},
		},
	}
	require.NoError(t, s.SaveQuiz(ctx, quiz))
	return lesson, quiz
}

func newAttempt(q *model.Quiz, studentID, number int) *model.QuizAttempt {
	return &model.QuizAttempt{
		QuizID:               q.ID,
		StudentID:            studentID,
		AttemptNumber:        number,
		Answers:              model.Answers{},
		TimeRemainingSeconds: 900,
		PassingScore:         q.PassingScore,
		Snapshot:             model.SortQuestions(q.Questions),
	}
}

func finalize(t *testing.T, s *Store, id uuid.UUID, status model.AttemptStatus) {
	t.Helper()
	ok, err := s.FinalizeAttempt(context.Background(), id, model.FinalizeParams{
		Status:      status,
		Answers:     model.Answers{},
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lesson, quiz := seedLesson(t, s, "python", 1)

	got, err := s.GetLesson(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, "python", got.Track)
	require.NotNil(t, got.QuizID)
	assert.Equal(t, quiz.ID, *got.QuizID)
	require.Len(t, got.Videos, 2)
	assert.Equal(t, "Basics", got.Videos[0].Title)

	byVideo, err := s.GetLessonByVideo(ctx, lesson.Videos[0].ID)
	require.NoError(t, err)
	assert.Equal(t, lesson.ID, byVideo.ID)

	byMaterial, err := s.GetLessonByCourseMaterial(ctx, lesson.CourseMaterial.ID)
	require.NoError(t, err)
	assert.Equal(t, lesson.ID, byMaterial.ID)

	q, err := s.GetQuiz(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultPassingScore, q.PassingScore)
	require.Len(t, q.Questions, 2)
	assert.Equal(t, "a", q.Questions[0].Prompt)
	assert.JSONEq(t, `"print"`, string(q.Questions[0].CorrectAnswer))
	assert.Equal(t, []string{"x", "y"}, q.Questions[1].Options)

	byLesson, err := s.GetQuizByLesson(ctx, lesson.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.ID, byLesson.ID)

	_, err = s.GetQuiz(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = s.GetLesson(ctx, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)

	seedLesson(t, s, "javascript", 1)
	all, err := s.ListLessons(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, l := range all {
		assert.Len(t, l.Videos, 2)
	}
}

func TestCreateAttemptSingleOpenAttempt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, quiz := seedLesson(t, s, "python", 1)

	first := newAttempt(quiz, 7, 1)
	require.NoError(t, s.CreateAttempt(ctx, first))
	assert.NotEqual(t, uuid.Nil, first.ID)
	assert.Equal(t, model.AttemptStatusInProgress, first.Status)

	dup := newAttempt(quiz, 7, 2)
	assert.ErrorIs(t, s.CreateAttempt(ctx, dup), service.ErrConflict)

	other := newAttempt(quiz, 8, 1)
	require.NoError(t, s.CreateAttempt(ctx, other))

	current, err := s.GetCurrentAttempt(ctx, 7, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)
	require.Len(t, current.Snapshot, 2)
	assert.Equal(t, "a", current.Snapshot[0].Prompt)
}

func TestCreateAttemptNumberIsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, quiz := seedLesson(t, s, "python", 1)

	a := newAttempt(quiz, 7, 1)
	require.NoError(t, s.CreateAttempt(ctx, a))
	finalize(t, s, a.ID, model.AttemptStatusFailed)

	again := newAttempt(quiz, 7, 1)
	assert.ErrorIs(t, s.CreateAttempt(ctx, again), service.ErrConflict)

	next := newAttempt(quiz, 7, 2)
	require.NoError(t, s.CreateAttempt(ctx, next))

	list, err := s.ListAttempts(ctx, 7, quiz.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].AttemptNumber)
	assert.Equal(t, 2, list[1].AttemptNumber)
}

func TestFinalizeIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, quiz := seedLesson(t, s, "python", 1)

	a := newAttempt(quiz, 7, 1)
	require.NoError(t, s.CreateAttempt(ctx, a))

	ok, err := s.UpdateProgress(ctx, a.ID, model.Progress{
		Answers:              model.Answers{quiz.Questions[0].ID.String(): json.RawMessage(`1`)},
		CurrentQuestionIndex: 1,
		TimeRemainingSeconds: 600,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	completed := time.Now()
	ok, err = s.FinalizeAttempt(ctx, a.ID, model.FinalizeParams{
		Status:         model.AttemptStatusPassed,
		Answers:        model.Answers{quiz.Questions[0].ID.String(): json.RawMessage(`1`)},
		Score:          100,
		CorrectAnswers: 2,
		TimeRemaining:  590,
		TimeTaken:      310,
		CompletedAt:    completed,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FinalizeAttempt(ctx, a.ID, model.FinalizeParams{Status: model.AttemptStatusFailed, CompletedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateProgress(ctx, a.ID, model.Progress{Answers: model.Answers{}, TimeRemainingSeconds: 1})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetAttempt(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptStatusPassed, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 100, *got.Score)
	require.NotNil(t, got.TimeTaken)
	assert.Equal(t, 310, *got.TimeTaken)
	assert.Equal(t, 590, got.TimeRemainingSeconds)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completed, *got.CompletedAt, time.Microsecond)

	_, err = s.GetCurrentAttempt(ctx, 7, quiz.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestUpdateProgressRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, quiz := seedLesson(t, s, "python", 1)

	a := newAttempt(quiz, 7, 1)
	require.NoError(t, s.CreateAttempt(ctx, a))

	p := model.Progress{
		Answers: model.Answers{
			quiz.Questions[0].ID.String(): json.RawMessage(`1`),
			quiz.Questions[1].ID.String(): json.RawMessage(`"pri"`),
		},
		CurrentQuestionIndex: 1,
		TimeRemainingSeconds: 432,
	}
	ok, err := s.UpdateProgress(ctx, a.ID, p)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetCurrentAttempt(ctx, 7, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentQuestionIndex)
	assert.Equal(t, 432, got.TimeRemainingSeconds)
	require.Len(t, got.Answers, 2)
	assert.JSONEq(t, `"pri"`, string(got.Answers[quiz.Questions[1].ID.String()]))
}

func TestListExpiredInProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, quiz := seedLesson(t, s, "python", 1)

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	old := newAttempt(quiz, 1, 1)
	require.NoError(t, s.CreateAttempt(ctx, old))

	s.now = func() time.Time { return base.Add(time.Hour) }
	fresh := newAttempt(quiz, 2, 1)
	require.NoError(t, s.CreateAttempt(ctx, fresh))

	done := newAttempt(quiz, 3, 1)
	require.NoError(t, s.CreateAttempt(ctx, done))
	finalize(t, s, done.ID, model.AttemptStatusFailed)

	stale, err := s.ListExpiredInProgress(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestCompletionFacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lesson, quiz := seedLesson(t, s, "python", 1)

	created, err := s.MarkSlideRead(ctx, 7, lesson.CourseMaterial.ID)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.MarkSlideRead(ctx, 7, lesson.CourseMaterial.ID)
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.MarkVideoWatched(ctx, 7, lesson.Videos[0].ID)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = s.MarkVideoWatched(ctx, 7, uuid.New())
	assert.ErrorIs(t, err, service.ErrNotFound)

	a1 := newAttempt(quiz, 7, 1)
	require.NoError(t, s.CreateAttempt(ctx, a1))
	finalize(t, s, a1.ID, model.AttemptStatusFailed)
	a2 := newAttempt(quiz, 7, 2)
	require.NoError(t, s.CreateAttempt(ctx, a2))

	facts, err := s.LoadFacts(ctx, 7)
	require.NoError(t, err)
	assert.True(t, facts.SlidesRead[lesson.CourseMaterial.ID])
	assert.True(t, facts.VideosWatched[lesson.Videos[0].ID])
	assert.False(t, facts.VideosWatched[lesson.Videos[1].ID])
	assert.Equal(t, 1, facts.Quizzes[quiz.ID].Attempts)
	assert.False(t, facts.Quizzes[quiz.ID].Passed)

	finalize(t, s, a2.ID, model.AttemptStatusPassed)
	facts, err = s.LoadFacts(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, facts.Quizzes[quiz.ID].Attempts)
	assert.True(t, facts.Quizzes[quiz.ID].Passed)

	empty, err := s.LoadFacts(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, empty.SlidesRead)
}

func TestActivities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ref := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertActivities(ctx, []model.ActivityEntry{
		{StudentID: 7, Kind: model.ActivitySlideRead, RefID: ref, CreatedAt: base},
		{StudentID: 7, Kind: model.ActivityQuizPassed, RefID: ref, Detail: json.RawMessage(`{"score":100}`), CreatedAt: base.Add(time.Minute)},
		{StudentID: 8, Kind: model.ActivityVideoWatched, RefID: ref, CreatedAt: base},
	}))
	require.NoError(t, s.InsertActivities(ctx, nil))

	got, err := s.ListActivities(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.ActivityQuizPassed, got[0].Kind)
	assert.JSONEq(t, `{"score":100}`, string(got[0].Detail))
	assert.Equal(t, ref, got[1].RefID)

	limited, err := s.ListActivities(ctx, 7, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
