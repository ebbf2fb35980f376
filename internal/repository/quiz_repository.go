package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/model"
)

// QuizRepository handles quiz and question data access.
type QuizRepository struct {
	pool *pgxpool.Pool
}

// NewQuizRepository creates a new QuizRepository.
func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

// GetQuiz retrieves a quiz with its questions and answer keys.
func (r *QuizRepository) GetQuiz(ctx context.Context, quizID uuid.UUID) (*model.Quiz, error) {
	return r.getQuiz(ctx, `SELECT id, lesson_id, title, description, passing_score FROM quizzes WHERE id = $1`, quizID)
}

// GetQuizByLesson retrieves the quiz gating a lesson.
func (r *QuizRepository) GetQuizByLesson(ctx context.Context, lessonID uuid.UUID) (*model.Quiz, error) {
	return r.getQuiz(ctx, `SELECT id, lesson_id, title, description, passing_score FROM quizzes WHERE lesson_id = $1`, lessonID)
}

func (r *QuizRepository) getQuiz(ctx context.Context, query string, arg any) (*model.Quiz, error) {
	q := &model.Quiz{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(&q.ID, &q.LessonID, &q.Title, &q.Description, &q.PassingScore)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type, prompt, code_snippet, options, correct_answer, explanation, points, order_num
		 FROM questions WHERE quiz_id = $1 ORDER BY order_num, id`, q.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	q.Questions = []model.Question{}
	for rows.Next() {
		var (
			qs      model.Question
			options []byte
			answer  []byte
		)
		if err := rows.Scan(&qs.ID, &qs.Type, &qs.Prompt, &qs.CodeSnippet, &options, &answer,
			&qs.Explanation, &qs.Points, &qs.OrderNum); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &qs.Options); err != nil {
			return nil, fmt.Errorf("question %s options: %w", qs.ID, err)
		}
		qs.CorrectAnswer = answer
		q.Questions = append(q.Questions, qs)
	}
	return q, rows.Err()
}

// SaveQuiz upserts a quiz and replaces its questions in one transaction.
func (r *QuizRepository) SaveQuiz(ctx context.Context, q *model.Quiz) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	if q.PassingScore == 0 {
		q.PassingScore = model.DefaultPassingScore
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO quizzes (id, lesson_id, title, description, passing_score) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET lesson_id = EXCLUDED.lesson_id, title = EXCLUDED.title,
		     description = EXCLUDED.description, passing_score = EXCLUDED.passing_score`,
		q.ID, q.LessonID, q.Title, q.Description, q.PassingScore); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE quiz_id = $1`, q.ID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range q.Questions {
		qs := &q.Questions[i]
		if qs.ID == uuid.Nil {
			qs.ID = uuid.New()
		}
		options := qs.Options
		if options == nil {
			options = []string{}
		}
		optJSON, err := json.Marshal(options)
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO questions (id, quiz_id, question_type, prompt, code_snippet, options, correct_answer, explanation, points, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			qs.ID, q.ID, string(qs.Type), qs.Prompt, qs.CodeSnippet, optJSON, []byte(qs.CorrectAnswer),
			qs.Explanation, qs.Points, qs.OrderNum)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
