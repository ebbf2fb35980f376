package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/repository/sqlitestore"
)

// NewSQLiteStore opens the local SQLite store and applies its schema.
func NewSQLiteStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sqlitestore.Store, error) {
	store, err := sqlitestore.Open(ctx, cfg.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	log.Info().
		Str("dsn", cfg.SQLiteDSN).
		Msg("SQLite connected")

	return store, nil
}
