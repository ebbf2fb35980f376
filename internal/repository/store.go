package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lessonpath/internal/service"
)

// Store bundles the PostgreSQL repositories behind the service contracts.
type Store struct {
	*LessonRepository
	*QuizRepository
	*AttemptRepository
	*CompletionRepository
	*ActivityRepository
}

// NewStore creates every repository on one pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		LessonRepository:     NewLessonRepository(pool),
		QuizRepository:       NewQuizRepository(pool),
		AttemptRepository:    NewAttemptRepository(pool),
		CompletionRepository: NewCompletionRepository(pool),
		ActivityRepository:   NewActivityRepository(pool),
	}
}

var (
	_ service.Store         = (*Store)(nil)
	_ service.ContentWriter = (*Store)(nil)
)
