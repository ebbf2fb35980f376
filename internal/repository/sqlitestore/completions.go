package sqlitestore

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/lessonpath/internal/progression"
	"github.com/stemsi/lessonpath/internal/service"
)

// MarkSlideRead records a read course material once.
func (s *Store) MarkSlideRead(ctx context.Context, studentID int, courseMaterialID uuid.UUID) (bool, error) {
	return s.insertOnce(ctx,
		`INSERT INTO slide_reads (student_id, course_material_id, read_at) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		`SELECT 1 FROM course_materials WHERE id = ?`,
		studentID, courseMaterialID)
}

// MarkVideoWatched records a watched video once.
func (s *Store) MarkVideoWatched(ctx context.Context, studentID int, videoID uuid.UUID) (bool, error) {
	return s.insertOnce(ctx,
		`INSERT INTO video_watches (student_id, video_id, watched_at) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		`SELECT 1 FROM videos WHERE id = ?`,
		studentID, videoID)
}

func (s *Store) insertOnce(ctx context.Context, insert, exists string, studentID int, refID uuid.UUID) (bool, error) {
	var one int
	if err := s.db.QueryRowContext(ctx, exists, refID).Scan(&one); err != nil {
		return false, notFound(err)
	}
	res, err := s.db.ExecContext(ctx, insert, studentID, refID, toNanos(s.now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// LoadFacts gathers every completion fact for a student. Quiz facts count
// finalized attempts only.
func (s *Store) LoadFacts(ctx context.Context, studentID int) (progression.Facts, error) {
	facts := progression.Facts{
		SlidesRead:    map[uuid.UUID]bool{},
		VideosWatched: map[uuid.UUID]bool{},
		Quizzes:       map[uuid.UUID]progression.QuizFacts{},
	}

	if err := s.collectIDs(ctx, `SELECT course_material_id FROM slide_reads WHERE student_id = ?`, studentID, facts.SlidesRead); err != nil {
		return facts, err
	}
	if err := s.collectIDs(ctx, `SELECT video_id FROM video_watches WHERE student_id = ?`, studentID, facts.VideosWatched); err != nil {
		return facts, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT quiz_id,
		        SUM(CASE WHEN status <> 'in_progress' THEN 1 ELSE 0 END),
		        MAX(CASE WHEN status = 'passed' THEN 1 ELSE 0 END)
		 FROM quiz_attempts WHERE student_id = ? GROUP BY quiz_id`, studentID)
	if err != nil {
		return facts, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			quizID   uuid.UUID
			finished int
			passed   int
		)
		if err := rows.Scan(&quizID, &finished, &passed); err != nil {
			return facts, err
		}
		facts.Quizzes[quizID] = progression.QuizFacts{Attempts: finished, Passed: passed == 1}
	}
	return facts, rows.Err()
}

func (s *Store) collectIDs(ctx context.Context, query string, studentID int, into map[uuid.UUID]bool) error {
	rows, err := s.db.QueryContext(ctx, query, studentID)
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

var _ service.Store = (*Store)(nil)
var _ service.ContentWriter = (*Store)(nil)
