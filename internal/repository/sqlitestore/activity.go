package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/stemsi/lessonpath/internal/model"
)

// InsertActivities appends entries to the activity log in one transaction.
func (s *Store) InsertActivities(ctx context.Context, entries []model.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		created := e.CreatedAt
		if created.IsZero() {
			created = s.now()
		}
		var detail any
		if len(e.Detail) > 0 {
			detail = string(e.Detail)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activity_log (student_id, kind, ref_id, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
			e.StudentID, string(e.Kind), e.RefID, detail, toNanos(created)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListActivities returns a student's latest entries, newest first.
func (s *Store) ListActivities(ctx context.Context, studentID int, limit int) ([]model.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, student_id, kind, ref_id, detail, created_at FROM activity_log
		 WHERE student_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.ActivityEntry{}
	for rows.Next() {
		var (
			e       model.ActivityEntry
			detail  sql.NullString
			created int64
		)
		if err := rows.Scan(&e.ID, &e.StudentID, &e.Kind, &e.RefID, &detail, &created); err != nil {
			return nil, err
		}
		if detail.Valid {
			e.Detail = []byte(detail.String)
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
