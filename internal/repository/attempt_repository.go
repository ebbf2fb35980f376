package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
)

// AttemptRepository handles quiz attempt data access. Uniqueness of the
// open attempt and of attempt numbers is enforced by the schema.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, quiz_id, student_id, attempt_number, status, answers, current_question_index,
	time_remaining, passing_score, question_snapshot, score, correct_answers, time_taken,
	start_time, completed_at, updated_at`

func scanAttempt(row pgx.Row) (*model.QuizAttempt, error) {
	var (
		a                 model.QuizAttempt
		answers, snapshot []byte
	)
	err := row.Scan(&a.ID, &a.QuizID, &a.StudentID, &a.AttemptNumber, &a.Status, &answers,
		&a.CurrentQuestionIndex, &a.TimeRemainingSeconds, &a.PassingScore, &snapshot,
		&a.Score, &a.CorrectAnswers, &a.TimeTaken, &a.StartTime, &a.CompletedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(answers, &a.Answers); err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	if err := json.Unmarshal(snapshot, &a.Snapshot); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAttempt inserts a new in_progress attempt. Losing a concurrent
// create surfaces as service.ErrConflict.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, a *model.QuizAttempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO quiz_attempts (quiz_id, student_id, attempt_number, status, answers,
		   current_question_index, time_remaining, passing_score, question_snapshot)
		 VALUES ($1, $2, $3, 'in_progress', $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING
		 RETURNING id, start_time, updated_at`,
		a.QuizID, a.StudentID, a.AttemptNumber, answers, a.CurrentQuestionIndex,
		a.TimeRemainingSeconds, a.PassingScore, snapshot,
	).Scan(&a.ID, &a.StartTime, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return service.ErrConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return service.ErrConflict
		}
		return err
	}
	a.Status = model.AttemptStatusInProgress
	return nil
}

// GetCurrentAttempt retrieves the open attempt for a student and quiz.
func (r *AttemptRepository) GetCurrentAttempt(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = $1 AND quiz_id = $2 AND status = 'in_progress'`, studentID, quizID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// GetAttempt retrieves an attempt by ID.
func (r *AttemptRepository) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, attemptID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// UpdateProgress overwrites the autosaved state while the attempt is open.
func (r *AttemptRepository) UpdateProgress(ctx context.Context, attemptID uuid.UUID, p model.Progress) (bool, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET answers = $1, current_question_index = $2, time_remaining = $3, updated_at = NOW()
		 WHERE id = $4 AND status = 'in_progress'`,
		answers, p.CurrentQuestionIndex, p.TimeRemainingSeconds, attemptID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FinalizeAttempt writes the terminal result. Only the first caller wins.
func (r *AttemptRepository) FinalizeAttempt(ctx context.Context, attemptID uuid.UUID, p model.FinalizeParams) (bool, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE quiz_attempts
		 SET status = $1, answers = $2, score = $3, correct_answers = $4, time_remaining = $5,
		     time_taken = $6, completed_at = $7, updated_at = NOW()
		 WHERE id = $8 AND status = 'in_progress'`,
		string(p.Status), answers, p.Score, p.CorrectAnswers, p.TimeRemaining,
		p.TimeTaken, p.CompletedAt, attemptID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListAttempts retrieves a student's attempts on a quiz by attempt number.
func (r *AttemptRepository) ListAttempts(ctx context.Context, studentID int, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	return r.query(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = $1 AND quiz_id = $2 ORDER BY attempt_number`, studentID, quizID)
}

// ListAttemptsByStudent retrieves every attempt of a student, newest first.
func (r *AttemptRepository) ListAttemptsByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error) {
	return r.query(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = $1 ORDER BY start_time DESC`, studentID)
}

// ListExpiredInProgress retrieves open attempts started before the cutoff.
func (r *AttemptRepository) ListExpiredInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]model.QuizAttempt, error) {
	return r.query(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE status = 'in_progress' AND start_time < $1
		 ORDER BY start_time LIMIT $2`, startedBefore, limit)
}

func (r *AttemptRepository) query(ctx context.Context, query string, args ...any) ([]model.QuizAttempt, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.QuizAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}
