package model

import (
	"time"

	"github.com/google/uuid"
)

// CourseMaterial is the slide deck attached to a lesson.
type CourseMaterial struct {
	ID       uuid.UUID `json:"id" yaml:"id"`
	Title    string    `json:"title" yaml:"title"`
	Language string    `json:"language" yaml:"language"`
	FileURL  string    `json:"file_url" yaml:"file_url"`
}

// Video is a lesson video. Watched state lives in the completion store.
type Video struct {
	ID             uuid.UUID `json:"id" yaml:"id"`
	LessonID       uuid.UUID `json:"lesson_id" yaml:"-"`
	Title          string    `json:"title" yaml:"title"`
	YoutubeVideoID string    `json:"youtube_video_id" yaml:"youtube_video_id"`
	OrderNum       int       `json:"order_num" yaml:"order"`
}

// Lesson is one session of a track. Content is immutable to this service.
type Lesson struct {
	ID             uuid.UUID      `json:"id"`
	Track          string         `json:"track"`
	SessionNumber  int            `json:"session_number"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	CourseMaterial CourseMaterial `json:"course_material"`
	Videos         []Video        `json:"videos"`
	QuizID         *uuid.UUID     `json:"quiz_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// HasQuiz reports whether the lesson is gated by a quiz.
func (l *Lesson) HasQuiz() bool {
	return l.QuizID != nil && *l.QuizID != uuid.Nil
}

// VideoStatus is one video with the student's watched flag.
type VideoStatus struct {
	Video   Video `json:"video"`
	Watched bool  `json:"watched"`
}

// LessonStatus is the derived unlock/progress view of a lesson for one student.
type LessonStatus struct {
	Lesson   Lesson         `json:"lesson"`
	Progress LessonProgress `json:"progress"`
}

// LessonProgress is computed on read from completion facts.
type LessonProgress struct {
	SlideRead         bool `json:"slide_read"`
	VideosWatched     int  `json:"videos_watched"`
	TotalVideos       int  `json:"total_videos"`
	QuizPassed        bool `json:"quiz_passed"`
	QuizAttempts      int  `json:"quiz_attempts"`
	AttemptsExhausted bool `json:"attempts_exhausted"`
	IsCompleted       bool `json:"is_completed"`
	IsUnlocked        bool `json:"is_unlocked"`
	ProgressPercent   int  `json:"progress"`
}

// Resolved reports whether the next session of the track may unlock.
func (p LessonProgress) Resolved() bool {
	return p.IsCompleted || p.AttemptsExhausted
}

// TrackSummary aggregates lesson progress for one track.
type TrackSummary struct {
	Track            string `json:"track"`
	ProgressPercent  int    `json:"progress"`
	CompletedLessons int    `json:"completed"`
	TotalLessons     int    `json:"total"`
}

// ProgressSummary is the dashboard rollup for a student.
type ProgressSummary struct {
	OverallProgress int            `json:"overall_progress"`
	VideosWatched   int            `json:"videos_watched"`
	QuizzesPassed   int            `json:"quizzes_passed"`
	LessonsDone     int            `json:"lessons_completed"`
	Tracks          []TrackSummary `json:"tracks"`
}

// MarkSlideReadRequest is the payload for marking a course material as read.
type MarkSlideReadRequest struct {
	CourseMaterialID string `json:"course_material_id" binding:"required,uuid"`
}

// MarkVideoWatchedRequest is the payload for marking a video as watched.
type MarkVideoWatchedRequest struct {
	VideoID string `json:"video_id" binding:"required,uuid"`
}
