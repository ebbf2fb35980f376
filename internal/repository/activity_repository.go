package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/model"
)

// ActivityRepository handles activity log data access.
type ActivityRepository struct {
	pool *pgxpool.Pool
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(pool *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{pool: pool}
}

// InsertActivities bulk-inserts entries with COPY.
func (r *ActivityRepository) InsertActivities(ctx context.Context, entries []model.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := time.Now()
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"activity_log"},
		[]string{"student_id", "kind", "ref_id", "detail", "created_at"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			created := e.CreatedAt
			if created.IsZero() {
				created = now
			}
			var detail []byte
			if len(e.Detail) > 0 {
				detail = e.Detail
			}
			return []any{e.StudentID, string(e.Kind), e.RefID, detail, created}, nil
		}),
	)
	return err
}

// ListActivities retrieves a student's latest entries, newest first.
func (r *ActivityRepository) ListActivities(ctx context.Context, studentID int, limit int) ([]model.ActivityEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, kind, ref_id, detail, created_at
		 FROM activity_log WHERE student_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.ActivityEntry{}
	for rows.Next() {
		var (
			e      model.ActivityEntry
			detail []byte
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Kind, &e.RefID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = detail
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
