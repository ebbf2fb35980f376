package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/progression"
)

// ProgressService derives unlock state and records completion facts.
type ProgressService struct {
	lessons     LessonSource
	completions CompletionStore
	cache       ProgressCache
	events      EventPublisher
	log         zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(
	lessons LessonSource,
	completions CompletionStore,
	cache ProgressCache,
	events EventPublisher,
	log zerolog.Logger,
) *ProgressService {
	return &ProgressService{
		lessons:     lessons,
		completions: completions,
		cache:       cache,
		events:      events,
		log:         log.With().Str("component", "progress_service").Logger(),
	}
}

// UnlockStatus returns every lesson with the student's derived progress.
// Results are cached until the next completion or finalized attempt.
func (s *ProgressService) UnlockStatus(ctx context.Context, studentID int) ([]model.LessonStatus, error) {
	// The version is read before the facts so a completion landing in
	// between keeps this computation out of the cache.
	version, err := s.cache.UnlockStatusVersion(ctx, studentID)
	cacheable := err == nil
	if err != nil {
		s.log.Warn().Err(err).Int("student_id", studentID).Msg("Unlock status version read failed")
	} else {
		cached, ok, err := s.cache.GetUnlockStatus(ctx, studentID)
		if err != nil {
			s.log.Warn().Err(err).Int("student_id", studentID).Msg("Unlock status cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	lessons, err := s.lessons.ListLessons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	facts, err := s.completions.LoadFacts(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}

	statuses := progression.Compute(lessons, facts)
	if cacheable {
		if err := s.cache.SetUnlockStatus(ctx, studentID, version, statuses); err != nil {
			s.log.Warn().Err(err).Int("student_id", studentID).Msg("Unlock status cache write failed")
		}
	}
	return statuses, nil
}

// LessonProgress returns the status of one lesson.
func (s *ProgressService) LessonProgress(ctx context.Context, studentID int, lessonID uuid.UUID) (*model.LessonStatus, error) {
	statuses, err := s.UnlockStatus(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		if statuses[i].Lesson.ID == lessonID {
			return &statuses[i], nil
		}
	}
	return nil, ErrNotFound
}

// RequireUnlocked returns a LockedError when the lesson is still locked.
func (s *ProgressService) RequireUnlocked(ctx context.Context, studentID int, lessonID uuid.UUID) error {
	st, err := s.LessonProgress(ctx, studentID, lessonID)
	if err != nil {
		return err
	}
	if !st.Progress.IsUnlocked {
		return &LockedError{Reason: ReasonLessonLocked}
	}
	return nil
}

// GetLesson returns an unlocked lesson with its progress.
func (s *ProgressService) GetLesson(ctx context.Context, studentID int, lessonID uuid.UUID) (*model.LessonStatus, error) {
	st, err := s.LessonProgress(ctx, studentID, lessonID)
	if err != nil {
		return nil, err
	}
	if !st.Progress.IsUnlocked {
		return nil, &LockedError{Reason: ReasonLessonLocked}
	}
	return st, nil
}

// GetVideo returns a video of an unlocked lesson and whether the student
// has watched it.
func (s *ProgressService) GetVideo(ctx context.Context, studentID int, videoID uuid.UUID) (*model.VideoStatus, error) {
	lesson, err := s.lessons.GetLessonByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if err := s.RequireUnlocked(ctx, studentID, lesson.ID); err != nil {
		return nil, err
	}
	facts, err := s.completions.LoadFacts(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load facts: %w", err)
	}
	for _, v := range lesson.Videos {
		if v.ID == videoID {
			return &model.VideoStatus{Video: v, Watched: facts.VideosWatched[videoID]}, nil
		}
	}
	return nil, ErrNotFound
}

// MarkSlideRead records that the student read a lesson's course material.
func (s *ProgressService) MarkSlideRead(ctx context.Context, studentID int, courseMaterialID uuid.UUID) (*model.LessonStatus, error) {
	lesson, err := s.lessons.GetLessonByCourseMaterial(ctx, courseMaterialID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if err := s.RequireUnlocked(ctx, studentID, lesson.ID); err != nil {
		return nil, err
	}

	created, err := s.completions.MarkSlideRead(ctx, studentID, courseMaterialID)
	if err != nil {
		return nil, fmt.Errorf("mark slide read: %w", err)
	}
	if created {
		s.recorded(ctx, studentID, model.ActivitySlideRead, courseMaterialID, lesson)
	}
	return s.LessonProgress(ctx, studentID, lesson.ID)
}

// MarkVideoWatched records that the student watched a lesson video.
func (s *ProgressService) MarkVideoWatched(ctx context.Context, studentID int, videoID uuid.UUID) (*model.LessonStatus, error) {
	lesson, err := s.lessons.GetLessonByVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("get lesson: %w", err)
	}
	if err := s.RequireUnlocked(ctx, studentID, lesson.ID); err != nil {
		return nil, err
	}

	created, err := s.completions.MarkVideoWatched(ctx, studentID, videoID)
	if err != nil {
		return nil, fmt.Errorf("mark video watched: %w", err)
	}
	if created {
		s.recorded(ctx, studentID, model.ActivityVideoWatched, videoID, lesson)
	}
	return s.LessonProgress(ctx, studentID, lesson.ID)
}

// Summary returns the dashboard rollup.
func (s *ProgressService) Summary(ctx context.Context, studentID int) (model.ProgressSummary, error) {
	statuses, err := s.UnlockStatus(ctx, studentID)
	if err != nil {
		return model.ProgressSummary{}, err
	}
	return progression.Summarize(statuses), nil
}

// Invalidate drops the student's cached unlock status.
func (s *ProgressService) Invalidate(ctx context.Context, studentID int) {
	if err := s.cache.Invalidate(ctx, studentID); err != nil {
		s.log.Warn().Err(err).Int("student_id", studentID).Msg("Progress cache invalidation failed")
	}
}

func (s *ProgressService) recorded(ctx context.Context, studentID int, kind model.ActivityKind, refID uuid.UUID, lesson *model.Lesson) {
	s.Invalidate(ctx, studentID)

	detail, _ := json.Marshal(map[string]any{
		"lesson_id":    lesson.ID,
		"lesson_title": lesson.Title,
		"track":        lesson.Track,
	})
	entry := model.ActivityEntry{
		StudentID: studentID,
		Kind:      kind,
		RefID:     refID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.events.Publish(ctx, entry); err != nil {
		s.log.Warn().Err(err).Int("student_id", studentID).Str("kind", string(kind)).Msg("Activity publish failed")
	}
}
