package sqlitestore

import (
	"context"
	"database/sql"
)

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schema = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS course_materials (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  language TEXT NOT NULL,
  file_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lessons (
  id TEXT PRIMARY KEY,
  course_material_id TEXT NOT NULL UNIQUE REFERENCES course_materials(id) ON DELETE CASCADE,
  session_number INTEGER NOT NULL CHECK (session_number >= 1),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS videos (
  id TEXT PRIMARY KEY,
  lesson_id TEXT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  youtube_video_id TEXT NOT NULL,
  order_num INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quizzes (
  id TEXT PRIMARY KEY,
  lesson_id TEXT NOT NULL UNIQUE REFERENCES lessons(id) ON DELETE CASCADE,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  passing_score INTEGER NOT NULL DEFAULT 100 CHECK (passing_score BETWEEN 0 AND 100)
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  question_type TEXT NOT NULL CHECK (question_type IN ('single_choice', 'multiple_choice', 'fill_in')),
  prompt TEXT NOT NULL,
  code_snippet TEXT NOT NULL DEFAULT '',
  options TEXT NOT NULL DEFAULT '[]',
  correct_answer TEXT NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  points INTEGER NOT NULL DEFAULT 1,
  order_num INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL REFERENCES quizzes(id) ON DELETE CASCADE,
  student_id INTEGER NOT NULL,
  attempt_number INTEGER NOT NULL CHECK (attempt_number BETWEEN 1 AND 3),
  status TEXT NOT NULL DEFAULT 'in_progress' CHECK (status IN ('in_progress', 'passed', 'failed')),
  answers TEXT NOT NULL DEFAULT '{}',
  current_question_index INTEGER NOT NULL DEFAULT 0,
  time_remaining INTEGER NOT NULL,
  passing_score INTEGER NOT NULL,
  question_snapshot TEXT NOT NULL,
  score INTEGER,
  correct_answers INTEGER,
  time_taken INTEGER,
  start_time INTEGER NOT NULL,
  completed_at INTEGER,
  updated_at INTEGER NOT NULL,
  UNIQUE (student_id, quiz_id, attempt_number)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_quiz_attempts_in_progress
  ON quiz_attempts(student_id, quiz_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS slide_reads (
  student_id INTEGER NOT NULL,
  course_material_id TEXT NOT NULL REFERENCES course_materials(id) ON DELETE CASCADE,
  read_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, course_material_id)
);

CREATE TABLE IF NOT EXISTS video_watches (
  student_id INTEGER NOT NULL,
  video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
  watched_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, video_id)
);

CREATE TABLE IF NOT EXISTS activity_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  student_id INTEGER NOT NULL,
  kind TEXT NOT NULL,
  ref_id TEXT NOT NULL,
  detail TEXT,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_student ON activity_log(student_id, created_at DESC);
`
