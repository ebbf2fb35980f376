package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/model"
)

// LessonRepository handles lesson, course material and video data access.
type LessonRepository struct {
	pool *pgxpool.Pool
}

// NewLessonRepository creates a new LessonRepository.
func NewLessonRepository(pool *pgxpool.Pool) *LessonRepository {
	return &LessonRepository{pool: pool}
}

const lessonSelect = `
	SELECT l.id, l.session_number, l.title, l.description, l.created_at,
	       cm.id, cm.title, cm.language, cm.file_url, q.id
	FROM lessons l
	JOIN course_materials cm ON cm.id = l.course_material_id
	LEFT JOIN quizzes q ON q.lesson_id = l.id`

func scanLesson(row pgx.Row) (*model.Lesson, error) {
	l := &model.Lesson{Videos: []model.Video{}}
	err := row.Scan(&l.ID, &l.SessionNumber, &l.Title, &l.Description, &l.CreatedAt,
		&l.CourseMaterial.ID, &l.CourseMaterial.Title, &l.CourseMaterial.Language, &l.CourseMaterial.FileURL,
		&l.QuizID)
	if err != nil {
		return nil, err
	}
	l.Track = l.CourseMaterial.Language
	return l, nil
}

// ListLessons returns every lesson with its videos, by track and session.
func (r *LessonRepository) ListLessons(ctx context.Context) ([]model.Lesson, error) {
	rows, err := r.pool.Query(ctx, lessonSelect+` ORDER BY cm.language, l.session_number`)
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

	videos, err := r.queryVideos(ctx,
		`SELECT id, lesson_id, title, youtube_video_id, order_num FROM videos ORDER BY lesson_id, order_num`)
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

// GetLesson retrieves a lesson by ID.
func (r *LessonRepository) GetLesson(ctx context.Context, lessonID uuid.UUID) (*model.Lesson, error) {
	return r.getLesson(ctx, lessonSelect+` WHERE l.id = $1`, lessonID)
}

// GetLessonByCourseMaterial retrieves the lesson owning a course material.
func (r *LessonRepository) GetLessonByCourseMaterial(ctx context.Context, courseMaterialID uuid.UUID) (*model.Lesson, error) {
	return r.getLesson(ctx, lessonSelect+` WHERE cm.id = $1`, courseMaterialID)
}

// GetLessonByVideo retrieves the lesson owning a video.
func (r *LessonRepository) GetLessonByVideo(ctx context.Context, videoID uuid.UUID) (*model.Lesson, error) {
	return r.getLesson(ctx, lessonSelect+` WHERE l.id = (SELECT lesson_id FROM videos WHERE id = $1)`, videoID)
}

func (r *LessonRepository) getLesson(ctx context.Context, query string, arg any) (*model.Lesson, error) {
	l, err := scanLesson(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, notFound(err)
	}
	videos, err := r.queryVideos(ctx,
		`SELECT id, lesson_id, title, youtube_video_id, order_num FROM videos WHERE lesson_id = $1 ORDER BY order_num`, l.ID)
	if err != nil {
		return nil, err
	}
	l.Videos = append(l.Videos, videos...)
	return l, nil
}

func (r *LessonRepository) queryVideos(ctx context.Context, query string, args ...any) ([]model.Video, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

// SaveCourseMaterial upserts a course material by ID.
func (r *LessonRepository) SaveCourseMaterial(ctx context.Context, m *model.CourseMaterial) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO course_materials (id, title, language, file_url) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, language = EXCLUDED.language, file_url = EXCLUDED.file_url`,
		m.ID, m.Title, m.Language, m.FileURL)
	return err
}

// SaveLesson upserts a lesson and replaces its videos in one transaction.
func (r *LessonRepository) SaveLesson(ctx context.Context, l *model.Lesson) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO lessons (id, course_material_id, session_number, title, description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET course_material_id = EXCLUDED.course_material_id, session_number = EXCLUDED.session_number,
		     title = EXCLUDED.title, description = EXCLUDED.description
		 RETURNING created_at`,
		l.ID, l.CourseMaterial.ID, l.SessionNumber, l.Title, l.Description,
	).Scan(&l.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM videos WHERE lesson_id = $1`, l.ID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i := range l.Videos {
		v := &l.Videos[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.LessonID = l.ID
		batch.Queue(
			`INSERT INTO videos (id, lesson_id, title, youtube_video_id, order_num) VALUES ($1, $2, $3, $4, $5)`,
			v.ID, v.LessonID, v.Title, v.YoutubeVideoID, v.OrderNum)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
	}

	l.Track = l.CourseMaterial.Language
	return tx.Commit(ctx)
}
