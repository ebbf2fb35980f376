// Package sqlitestore implements the store contracts on SQLite through
// database/sql and modernc.org/sqlite. It backs local development and the
// store-level tests.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
	_ "modernc.org/sqlite" // driver: sqlite
)

// Store implements service.Store and service.ContentWriter.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New wraps an open database. Call EnsureSchema first.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open opens dsn, limits it to one connection and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers anyway; one connection keeps in-memory
	// databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return New(db), nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// ─── Lessons ───────────────────────────────────────────────────────────

const lessonSelect = `
	SELECT l.id, l.session_number, l.title, l.description, l.created_at,
	       cm.id, cm.title, cm.language, cm.file_url, q.id
	FROM lessons l
	JOIN course_materials cm ON cm.id = l.course_material_id
	LEFT JOIN quizzes q ON q.lesson_id = l.id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (*model.Lesson, error) {
	var (
		l       model.Lesson
		created int64
		quizID  uuid.NullUUID
	)
	if err := row.Scan(&l.ID, &l.SessionNumber, &l.Title, &l.Description, &created,
		&l.CourseMaterial.ID, &l.CourseMaterial.Title, &l.CourseMaterial.Language, &l.CourseMaterial.FileURL,
		&quizID); err != nil {
		return nil, err
	}
	l.Track = l.CourseMaterial.Language
	l.CreatedAt = fromNanos(created)
	if quizID.Valid {
		id := quizID.UUID
		l.QuizID = &id
	}
	l.Videos = []model.Video{}
	return &l, nil
}

// ListLessons returns every lesson with its videos.
func (s *Store) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	rows, err := s.db.QueryContext(ctx, lessonSelect+` ORDER BY cm.language, l.session_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []model.Lesson
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		index[l.ID] = len(lessons)
		lessons = append(lessons, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	videos, err := s.queryVideos(ctx, `SELECT id, lesson_id, title, youtube_video_id, order_num FROM videos ORDER BY lesson_id, order_num`)
	if err != nil {
		return nil, err
	}
	for _, v := range videos {
		if i, ok := index[v.LessonID]; ok {
			lessons[i].Videos = append(lessons[i].Videos, v)
		}
	}
	return lessons, nil
}

// GetLesson returns one lesson with its videos.
func (s *Store) GetLesson(ctx context.Context, lessonID uuid.UUID) (*model.Lesson, error) {
	return s.getLesson(ctx, lessonSelect+` WHERE l.id = ?`, lessonID)
}

// GetLessonByCourseMaterial returns the lesson owning a course material.
func (s *Store) GetLessonByCourseMaterial(ctx context.Context, courseMaterialID uuid.UUID) (*model.Lesson, error) {
	return s.getLesson(ctx, lessonSelect+` WHERE cm.id = ?`, courseMaterialID)
}

// GetLessonByVideo returns the lesson owning a video.
func (s *Store) GetLessonByVideo(ctx context.Context, videoID uuid.UUID) (*model.Lesson, error) {
	return s.getLesson(ctx, lessonSelect+` WHERE l.id = (SELECT lesson_id FROM videos WHERE id = ?)`, videoID)
}

func (s *Store) getLesson(ctx context.Context, query string, arg any) (*model.Lesson, error) {
	l, err := scanLesson(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	videos, err := s.queryVideos(ctx,
		`SELECT id, lesson_id, title, youtube_video_id, order_num FROM videos WHERE lesson_id = ? ORDER BY order_num`, l.ID)
	if err != nil {
		return nil, err
	}
	l.Videos = append(l.Videos, videos...)
	return l, nil
}

func (s *Store) queryVideos(ctx context.Context, query string, args ...any) ([]model.Video, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []model.Video
	for rows.Next() {
		var v model.Video
		if err := rows.Scan(&v.ID, &v.LessonID, &v.Title, &v.YoutubeVideoID, &v.OrderNum); err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// ─── Quizzes ───────────────────────────────────────────────────────────

// GetQuiz returns a quiz with its questions and answer keys.
func (s *Store) GetQuiz(ctx context.Context, quizID uuid.UUID) (*model.Quiz, error) {
	return s.getQuiz(ctx, `SELECT id, lesson_id, title, description, passing_score FROM quizzes WHERE id = ?`, quizID)
}

// GetQuizByLesson returns the quiz gating a lesson.
func (s *Store) GetQuizByLesson(ctx context.Context, lessonID uuid.UUID) (*model.Quiz, error) {
	return s.getQuiz(ctx, `SELECT id, lesson_id, title, description, passing_score FROM quizzes WHERE lesson_id = ?`, lessonID)
}

func (s *Store) getQuiz(ctx context.Context, query string, arg any) (*model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&q.ID, &q.LessonID, &q.Title, &q.Description, &q.PassingScore)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question_type, prompt, code_snippet, options, correct_answer, explanation, points, order_num
		 FROM questions WHERE quiz_id = ? ORDER BY order_num, id`, q.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	q.Questions = []model.Question{}
	for rows.Next() {
		var (
			qs      model.Question
			options string
			answer  string
		)
		if err := rows.Scan(&qs.ID, &qs.Type, &qs.Prompt, &qs.CodeSnippet, &options, &answer,
			&qs.Explanation, &qs.Points, &qs.OrderNum); err != nil {
			return nil, err
		}
		if err := decodeJSON(options, &qs.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", qs.ID, err)
		}
		qs.CorrectAnswer = []byte(answer)
		q.Questions = append(q.Questions, qs)
	}
	return &q, rows.Err()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
