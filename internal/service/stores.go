package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/progression"
)

// Store contracts. Implementations return ErrNotFound for missing rows and
// ErrConflict when a uniqueness constraint rejects a write.

// QuizSource serves quizzes with their answer keys. Server-side only.
type QuizSource interface {
	GetQuiz(ctx context.Context, quizID uuid.UUID) (*model.Quiz, error)
	GetQuizByLesson(ctx context.Context, lessonID uuid.UUID) (*model.Quiz, error)
}

// AttemptStore persists quiz attempts. UpdateProgress and FinalizeAttempt
// only touch in_progress rows and report whether a row changed.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, a *model.QuizAttempt) error
	GetCurrentAttempt(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error)
	GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error)
	UpdateProgress(ctx context.Context, attemptID uuid.UUID, p model.Progress) (bool, error)
	FinalizeAttempt(ctx context.Context, attemptID uuid.UUID, p model.FinalizeParams) (bool, error)
	ListAttempts(ctx context.Context, studentID int, quizID uuid.UUID) ([]model.QuizAttempt, error)
	ListAttemptsByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error)
	ListExpiredInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]model.QuizAttempt, error)
}

// LessonSource serves immutable lesson content.
type LessonSource interface {
	ListLessons(ctx context.Context) ([]model.Lesson, error)
	GetLesson(ctx context.Context, lessonID uuid.UUID) (*model.Lesson, error)
	GetLessonByCourseMaterial(ctx context.Context, courseMaterialID uuid.UUID) (*model.Lesson, error)
	GetLessonByVideo(ctx context.Context, videoID uuid.UUID) (*model.Lesson, error)
}

// CompletionStore records slide and video facts. Mark operations are
// idempotent and report whether the fact is new.
type CompletionStore interface {
	MarkSlideRead(ctx context.Context, studentID int, courseMaterialID uuid.UUID) (bool, error)
	MarkVideoWatched(ctx context.Context, studentID int, videoID uuid.UUID) (bool, error)
	LoadFacts(ctx context.Context, studentID int) (progression.Facts, error)
}

// ActivityStore persists the activity feed.
type ActivityStore interface {
	InsertActivities(ctx context.Context, entries []model.ActivityEntry) error
	ListActivities(ctx context.Context, studentID int, limit int) ([]model.ActivityEntry, error)
}

// ProgressCache holds derived unlock status per student. Invalidate advances
// the student's version; SetUnlockStatus stores nothing when the version it
// is given is no longer current.
type ProgressCache interface {
	UnlockStatusVersion(ctx context.Context, studentID int) (int64, error)
	GetUnlockStatus(ctx context.Context, studentID int) ([]model.LessonStatus, bool, error)
	SetUnlockStatus(ctx context.Context, studentID int, version int64, statuses []model.LessonStatus) error
	Invalidate(ctx context.Context, studentID int) error
}

// QuizPayloadCache holds the answer-free quiz payload.
type QuizPayloadCache interface {
	GetQuizPayload(ctx context.Context, quizID uuid.UUID) (*model.QuizForStudent, bool, error)
	SetQuizPayload(ctx context.Context, quizID uuid.UUID, payload *model.QuizForStudent) error
}

// EventPublisher hands activity events to whatever records them.
type EventPublisher interface {
	Publish(ctx context.Context, entry model.ActivityEntry) error
}

// Store bundles every store contract. Both the PostgreSQL repositories and
// the SQLite store satisfy it.
type Store interface {
	QuizSource
	AttemptStore
	LessonSource
	CompletionStore
	ActivityStore
}

// ContentWriter loads immutable course content. Used by the seed tool.
type ContentWriter interface {
	SaveCourseMaterial(ctx context.Context, m *model.CourseMaterial) error
	SaveLesson(ctx context.Context, l *model.Lesson) error
	SaveQuiz(ctx context.Context, q *model.Quiz) error
}
