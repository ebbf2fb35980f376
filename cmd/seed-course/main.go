package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/database"
	"github.com/stemsi/lessonpath/internal/logger"
	"github.com/stemsi/lessonpath/internal/repository"
	"github.com/stemsi/lessonpath/internal/service"
)

func main() {
	var path string
	flag.StringVar(&path, "file", "courses/sample.yaml", "Path to the course YAML file")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// ─── Parse Course ──────────────────────────────────────────────────
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Failed to open course file")
	}
	lessons, err := parseCourse(f)
	f.Close()
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("Invalid course file")
	}

	// ─── Connect to Store ──────────────────────────────────────────────
	var writer service.ContentWriter
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := database.NewSQLiteStore(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite")
		}
		defer store.Close()
		writer = store
	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		writer = repository.NewStore(pool)
	}

	// ─── Write Content ─────────────────────────────────────────────────
	quizzes := 0
	for i := range lessons {
		sl := &lessons[i]
		if err := writer.SaveCourseMaterial(ctx, &sl.Material); err != nil {
			log.Fatal().Err(err).Str("track", sl.Material.Language).Msg("Failed to save course material")
		}
		sl.Lesson.CourseMaterial = sl.Material
		if err := writer.SaveLesson(ctx, &sl.Lesson); err != nil {
			log.Fatal().Err(err).Str("lesson", sl.Lesson.Title).Msg("Failed to save lesson")
		}
		if sl.Quiz == nil {
			continue
		}
		sl.Quiz.LessonID = sl.Lesson.ID
		if err := writer.SaveQuiz(ctx, sl.Quiz); err != nil {
			log.Fatal().Err(err).Str("quiz", sl.Quiz.Title).Msg("Failed to save quiz")
		}
		quizzes++
	}

	log.Info().
		Int("lessons", len(lessons)).
		Int("quizzes", quizzes).
		Str("file", path).
		Msg("Course seeded")
}
