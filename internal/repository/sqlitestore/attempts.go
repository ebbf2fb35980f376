package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/model"
	"github.com/stemsi/lessonpath/internal/service"
)

const attemptColumns = `id, quiz_id, student_id, attempt_number, status, answers, current_question_index,
	time_remaining, passing_score, question_snapshot, score, correct_answers, time_taken,
	start_time, completed_at, updated_at`

func scanAttempt(row rowScanner) (*model.QuizAttempt, error) {
	var (
		a                     model.QuizAttempt
		answers, snapshot     string
		score, correct, taken sql.NullInt64
		start, updated        int64
		completed             sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.QuizID, &a.StudentID, &a.AttemptNumber, &a.Status, &answers,
		&a.CurrentQuestionIndex, &a.TimeRemainingSeconds, &a.PassingScore, &snapshot,
		&score, &correct, &taken, &start, &completed, &updated); err != nil {
		return nil, err
	}
	if err := decodeJSON(answers, &a.Answers); err != nil {
		return nil, err
	}
	if a.Answers == nil {
		a.Answers = model.Answers{}
	}
	if err := decodeJSON(snapshot, &a.Snapshot); err != nil {
		return nil, err
	}
	a.Score = intPtr(score)
	a.CorrectAnswers = intPtr(correct)
	a.TimeTaken = intPtr(taken)
	a.StartTime = fromNanos(start)
	a.UpdatedAt = fromNanos(updated)
	if completed.Valid {
		t := fromNanos(completed.Int64)
		a.CompletedAt = &t
	}
	return &a, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// CreateAttempt inserts a new in_progress attempt. A uniqueness clash on
// the open attempt or the attempt number reports service.ErrConflict.
func (s *Store) CreateAttempt(ctx context.Context, a *model.QuizAttempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}

	id := uuid.New()
	now := s.now().UTC()
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO quiz_attempts (id, quiz_id, student_id, attempt_number, status, answers,
		   current_question_index, time_remaining, passing_score, question_snapshot, start_time, updated_at)
		 VALUES (?, ?, ?, ?, 'in_progress', ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING
		 RETURNING id`,
		id, a.QuizID, a.StudentID, a.AttemptNumber, string(answers), a.CurrentQuestionIndex,
		a.TimeRemainingSeconds, a.PassingScore, string(snapshot), toNanos(now), toNanos(now),
	).Scan(&a.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return service.ErrConflict
		}
		return err
	}
	a.Status = model.AttemptStatusInProgress
	a.StartTime = now
	a.UpdatedAt = now
	return nil
}

// GetCurrentAttempt returns the open attempt for a student and quiz.
func (s *Store) GetCurrentAttempt(ctx context.Context, studentID int, quizID uuid.UUID) (*model.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = ? AND quiz_id = ? AND status = 'in_progress'`, studentID, quizID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, attemptID uuid.UUID) (*model.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ?`, attemptID))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// UpdateProgress overwrites the autosaved state of an open attempt.
func (s *Store) UpdateProgress(ctx context.Context, attemptID uuid.UUID, p model.Progress) (bool, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_attempts
		 SET answers = ?, current_question_index = ?, time_remaining = ?, updated_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		string(answers), p.CurrentQuestionIndex, p.TimeRemainingSeconds, toNanos(s.now()), attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// FinalizeAttempt moves an open attempt to a terminal status. It reports
// false when the attempt was already terminal.
func (s *Store) FinalizeAttempt(ctx context.Context, attemptID uuid.UUID, p model.FinalizeParams) (bool, error) {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_attempts
		 SET status = ?, answers = ?, score = ?, correct_answers = ?, time_remaining = ?,
		     time_taken = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'in_progress'`,
		string(p.Status), string(answers), p.Score, p.CorrectAnswers, p.TimeRemaining,
		p.TimeTaken, toNanos(p.CompletedAt), toNanos(s.now()), attemptID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ListAttempts returns a student's attempts on a quiz by attempt number.
func (s *Store) ListAttempts(ctx context.Context, studentID int, quizID uuid.UUID) ([]model.QuizAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = ? AND quiz_id = ? ORDER BY attempt_number`, studentID, quizID)
}

// ListAttemptsByStudent returns every attempt of a student, newest first.
func (s *Store) ListAttemptsByStudent(ctx context.Context, studentID int) ([]model.QuizAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE student_id = ? ORDER BY start_time DESC`, studentID)
}

// ListExpiredInProgress returns open attempts started before the cutoff.
func (s *Store) ListExpiredInProgress(ctx context.Context, startedBefore time.Time, limit int) ([]model.QuizAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE status = 'in_progress' AND start_time < ? ORDER BY start_time LIMIT ?`,
		toNanos(startedBefore), limit)
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.QuizAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
