package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/progression"
	"github.com/stemsi/lessonpath/internal/service"
)

// CompletionRepository records slide and video facts and derives quiz facts
// from finalized attempts.
type CompletionRepository struct {
	pool *pgxpool.Pool
}

// NewCompletionRepository creates a new CompletionRepository.
func NewCompletionRepository(pool *pgxpool.Pool) *CompletionRepository {
	return &CompletionRepository{pool: pool}
}

// MarkSlideRead records a read course material once. Unknown materials
// report service.ErrNotFound.
func (r *CompletionRepository) MarkSlideRead(ctx context.Context, studentID int, courseMaterialID uuid.UUID) (bool, error) {
	return r.insertOnce(ctx,
		`INSERT INTO slide_reads (student_id, course_material_id)
		 SELECT $1, id FROM course_materials WHERE id = $2
		 ON CONFLICT DO NOTHING
		 RETURNING true`,
		`SELECT EXISTS (SELECT 1 FROM course_materials WHERE id = $1)`,
		studentID, courseMaterialID)
}

// MarkVideoWatched records a watched video once.
func (r *CompletionRepository) MarkVideoWatched(ctx context.Context, studentID int, videoID uuid.UUID) (bool, error) {
	return r.insertOnce(ctx,
		`INSERT INTO video_watches (student_id, video_id)
		 SELECT $1, id FROM videos WHERE id = $2
		 ON CONFLICT DO NOTHING
		 RETURNING true`,
		`SELECT EXISTS (SELECT 1 FROM videos WHERE id = $1)`,
		studentID, videoID)
}

func (r *CompletionRepository) insertOnce(ctx context.Context, insert, exists string, studentID int, refID uuid.UUID) (bool, error) {
	var created bool
	err := r.pool.QueryRow(ctx, insert, studentID, refID).Scan(&created)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}

	// No row inserted: either already recorded or the reference is unknown.
	var ok bool
	if err := r.pool.QueryRow(ctx, exists, refID).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, service.ErrNotFound
	}
	return false, nil
}

// LoadFacts gathers every completion fact of a student in one round trip
// per fact kind.
func (r *CompletionRepository) LoadFacts(ctx context.Context, studentID int) (progression.Facts, error) {
	facts := progression.Facts{
		SlidesRead:    map[uuid.UUID]bool{},
		VideosWatched: map[uuid.UUID]bool{},
		Quizzes:       map[uuid.UUID]progression.QuizFacts{},
	}

	if err := r.collectIDs(ctx, `SELECT course_material_id FROM slide_reads WHERE student_id = $1`, studentID, facts.SlidesRead); err != nil {
		return facts, err
	}
	if err := r.collectIDs(ctx, `SELECT video_id FROM video_watches WHERE student_id = $1`, studentID, facts.VideosWatched); err != nil {
		return facts, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT quiz_id,
		        COUNT(*) FILTER (WHERE status <> 'in_progress'),
		        BOOL_OR(status = 'passed')
		 FROM quiz_attempts WHERE student_id = $1 GROUP BY quiz_id`, studentID)
	if err != nil {
		return facts, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			quizID   uuid.UUID
			finished int
			passed   bool
		)
		if err := rows.Scan(&quizID, &finished, &passed); err != nil {
			return facts, err
		}
		facts.Quizzes[quizID] = progression.QuizFacts{Attempts: finished, Passed: passed}
	}
	return facts, rows.Err()
}

func (r *CompletionRepository) collectIDs(ctx context.Context, query string, studentID int, into map[uuid.UUID]bool) error {
	rows, err := r.pool.Query(ctx, query, studentID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		into[id] = true
	}
	return rows.Err()
}
