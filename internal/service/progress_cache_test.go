package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/progression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memLessons []model.Lesson

func (m memLessons) ListLessons(context.Context) ([]model.Lesson, error) { return m, nil }

func (m memLessons) GetLesson(_ context.Context, id uuid.UUID) (*model.Lesson, error) {
	for i := range m {
		if m[i].ID == id {
			return &m[i], nil
		}
	}
	return nil, ErrNotFound
}

func (m memLessons) GetLessonByCourseMaterial(_ context.Context, id uuid.UUID) (*model.Lesson, error) {
	for i := range m {
		if m[i].CourseMaterial.ID == id {
			return &m[i], nil
		}
	}
	return nil, ErrNotFound
}

func (m memLessons) GetLessonByVideo(_ context.Context, id uuid.UUID) (*model.Lesson, error) {
	for i := range m {
		for _, v := range m[i].Videos {
			if v.ID == id {
				return &m[i], nil
			}
		}
	}
	return nil, ErrNotFound
}

// memFacts records slide reads; afterLoad runs once the facts are copied.
type memFacts struct {
	slides    map[uuid.UUID]bool
	afterLoad func()
}

func (m *memFacts) MarkSlideRead(_ context.Context, _ int, id uuid.UUID) (bool, error) {
	created := !m.slides[id]
	m.slides[id] = true
	return created, nil
}

func (m *memFacts) MarkVideoWatched(context.Context, int, uuid.UUID) (bool, error) {
	return false, nil
}

func (m *memFacts) LoadFacts(context.Context, int) (progression.Facts, error) {
	facts := progression.Facts{
		SlidesRead:    map[uuid.UUID]bool{},
		VideosWatched: map[uuid.UUID]bool{},
		Quizzes:       map[uuid.UUID]progression.QuizFacts{},
	}
	for id, ok := range m.slides {
		facts.SlidesRead[id] = ok
	}
	if m.afterLoad != nil {
		hook := m.afterLoad
		m.afterLoad = nil
		hook()
	}
	return facts, nil
}

func TestUnlockStatusIsCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	lesson := model.Lesson{ID: uuid.New(), Track: "go", SessionNumber: 1, CourseMaterial: model.CourseMaterial{ID: uuid.New()}}
	facts := &memFacts{slides: map[uuid.UUID]bool{}}
	cache := newRecordingCache()
	svc := NewProgressService(memLessons{lesson}, facts, cache, nil, zerolog.Nop())

	statuses, err := svc.UnlockStatus(ctx, 1)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Contains(t, cache.statuses, 1)

	facts.slides[lesson.CourseMaterial.ID] = true
	statuses, err = svc.UnlockStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, statuses[0].Progress.SlideRead, "served from cache")

	require.NoError(t, cache.Invalidate(ctx, 1))
	statuses, err = svc.UnlockStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, statuses[0].Progress.SlideRead)
}

func TestCompletionDuringRecomputeIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	lesson := model.Lesson{ID: uuid.New(), Track: "go", SessionNumber: 1, CourseMaterial: model.CourseMaterial{ID: uuid.New()}}
	facts := &memFacts{slides: map[uuid.UUID]bool{}}
	cache := newRecordingCache()
	svc := NewProgressService(memLessons{lesson}, facts, cache, nil, zerolog.Nop())

	// A slide read commits and invalidates after this read loaded its facts.
	facts.afterLoad = func() {
		facts.slides[lesson.CourseMaterial.ID] = true
		require.NoError(t, cache.Invalidate(ctx, 1))
	}

	statuses, err := svc.UnlockStatus(ctx, 1)
	require.NoError(t, err)
	assert.False(t, statuses[0].Progress.SlideRead)
	assert.NotContains(t, cache.statuses, 1, "stale statuses must not be cached")

	statuses, err = svc.UnlockStatus(ctx, 1)
	require.NoError(t, err)
	assert.True(t, statuses[0].Progress.SlideRead)
	assert.True(t, cache.statuses[1][0].Progress.SlideRead)
}
