package sqlitestore

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
)

// SaveCourseMaterial inserts or updates a course material by ID.
func (s *Store) SaveCourseMaterial(ctx context.Context, m *model.CourseMaterial) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO course_materials (id, title, language, file_url) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = excluded.title, language = excluded.language, file_url = excluded.file_url`,
		m.ID, m.Title, m.Language, m.FileURL)
	return err
}

// SaveLesson inserts or updates a lesson and replaces its videos.
// The course material must already exist.
func (s *Store) SaveLesson(ctx context.Context, l *model.Lesson) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO lessons (id, course_material_id, session_number, title, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET course_material_id = excluded.course_material_id,
		   session_number = excluded.session_number, title = excluded.title, description = excluded.description`,
		l.ID, l.CourseMaterial.ID, l.SessionNumber, l.Title, l.Description, toNanos(l.CreatedAt)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM videos WHERE lesson_id = ?`, l.ID); err != nil {
		return err
	}
	for i := range l.Videos {
		v := &l.Videos[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.LessonID = l.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO videos (id, lesson_id, title, youtube_video_id, order_num) VALUES (?, ?, ?, ?, ?)`,
			v.ID, v.LessonID, v.Title, v.YoutubeVideoID, v.OrderNum); err != nil {
			return err
		}
	}
	l.Track = l.CourseMaterial.Language
	return tx.Commit()
}

// SaveQuiz inserts or updates a quiz and replaces its questions.
// In-progress attempts keep their own snapshot.
func (s *Store) SaveQuiz(ctx context.Context, q *model.Quiz) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.PassingScore == 0 {
		q.PassingScore = model.DefaultPassingScore
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quizzes (id, lesson_id, title, description, passing_score) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET lesson_id = excluded.lesson_id, title = excluded.title,
		   description = excluded.description, passing_score = excluded.passing_score`,
		q.ID, q.LessonID, q.Title, q.Description, q.PassingScore); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE quiz_id = ?`, q.ID); err != nil {
		return err
	}
	for i := range q.Questions {
		qs := &q.Questions[i]
		if qs.ID == uuid.Nil {
			qs.ID = uuid.New()
		}
		options, err := json.Marshal(nonNil(qs.Options))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id, quiz_id, question_type, prompt, code_snippet, options, correct_answer, explanation, points, order_num)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			qs.ID, q.ID, string(qs.Type), qs.Prompt, qs.CodeSnippet, string(options), string(qs.CorrectAnswer),
			qs.Explanation, qs.Points, qs.OrderNum); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeJSON(raw string, dst any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dst)
}
