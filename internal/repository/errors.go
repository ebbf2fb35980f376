package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/lessonpath/internal/service"
)

// notFound maps pgx.ErrNoRows to service.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return service.ErrNotFound
	}
	return err
}
