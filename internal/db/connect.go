package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Schema selects which boundary's tables to bootstrap. The two services
// never share a database.
type Schema string

const (
	SchemaAssessment Schema = "assessment"
	SchemaLearning   Schema = "learning"
)

// Open opens a DB and ensures the boundary's schema exists.
func Open(ctx context.Context, driver Driver, dsn string, schema Schema) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = fmt.Sprintf("file:%s.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", schema)
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://localhost:5432/%s?sslmode=disable", schema)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	dbh, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := dbh.PingContext(ctx); err != nil {
		return nil, err
	}
	if err := ensureSchema(ctx, dbh, driver, schema); err != nil {
		return nil, err
	}
	return dbh, nil
}

func ensureSchema(ctx context.Context, dbh *sql.DB, driver Driver, schema Schema) error {
	var ddl string
	switch schema {
	case SchemaAssessment:
		ddl = schemaAssessment
	case SchemaLearning:
		ddl = schemaLearning
	default:
		return fmt.Errorf("unknown schema: %s", schema)
	}
	if driver == DriverPostgres {
		// the only sqlite-ism in the shared DDL
		ddl = strings.ReplaceAll(ddl, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	}
	_, err := dbh.ExecContext(ctx, ddl)
	return err
}

// Column types below stick to TEXT/INTEGER/REAL so one DDL works for
// both sqlite and postgres; booleans ride as native bools on postgres
// and 0/1 on sqlite, which database/sql scans either way.

const schemaAssessment = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS quizzes (
  id TEXT PRIMARY KEY,
  lesson_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  title TEXT NOT NULL,
  pass_score_percent REAL NOT NULL DEFAULT 0,
  time_limit_minutes INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 0,
  shuffle_questions BOOLEAN NOT NULL DEFAULT FALSE,
  allow_review BOOLEAN NOT NULL DEFAULT TRUE,
  show_explanations BOOLEAN NOT NULL DEFAULT FALSE,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  total_attempts INTEGER NOT NULL DEFAULT 0,
  pass_count INTEGER NOT NULL DEFAULT 0,
  average_score REAL NOT NULL DEFAULT 0,
  created_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL REFERENCES quizzes(id),
  prompt TEXT NOT NULL,
  options_json TEXT NOT NULL,
  points REAL NOT NULL DEFAULT 0,
  explanation TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER
);

CREATE TABLE IF NOT EXISTS quiz_attempts (
  id TEXT PRIMARY KEY,
  quiz_id TEXT NOT NULL REFERENCES quizzes(id),
  student_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  shuffle_seed INTEGER NOT NULL,
  question_order_json TEXT NOT NULL,
  option_orders_json TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  flagged_json TEXT NOT NULL,
  status TEXT NOT NULL,
  score REAL NOT NULL DEFAULT 0,
  score_percent REAL NOT NULL DEFAULT 0,
  passed BOOLEAN NOT NULL DEFAULT FALSE,
  time_spent_sec INTEGER NOT NULL DEFAULT 0,
  started_at INTEGER NOT NULL,
  completed_at INTEGER,
  updated_at INTEGER NOT NULL
);

-- the authoritative one-open-attempt invariant
CREATE UNIQUE INDEX IF NOT EXISTS uniq_attempt_in_progress
  ON quiz_attempts (quiz_id, student_id) WHERE status = 'in_progress';

CREATE INDEX IF NOT EXISTS idx_attempts_quiz_student
  ON quiz_attempts (quiz_id, student_id, attempt_number);

CREATE TABLE IF NOT EXISTS event_log (
  offset_id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL UNIQUE,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  published_at INTEGER,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NOT NULL DEFAULT ''
);
`

const schemaLearning = `
CREATE TABLE IF NOT EXISTS enrollments (
  id TEXT PRIMARY KEY,
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  total_lessons INTEGER NOT NULL DEFAULT 0,
  completed_lessons INTEGER NOT NULL DEFAULT 0,
  progress_percent REAL NOT NULL DEFAULT 0,
  certificate_id TEXT,
  certificate_issued_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER,
  UNIQUE (student_id, course_id)
);

CREATE TABLE IF NOT EXISTS lesson_progress (
  id TEXT PRIMARY KEY,
  enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
  student_id TEXT NOT NULL,
  lesson_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'not_started',
  quiz_attempts INTEGER NOT NULL DEFAULT 0,
  quiz_best_score REAL NOT NULL DEFAULT 0,
  completed_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER,
  UNIQUE (student_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS section_progress (
  id TEXT PRIMARY KEY,
  enrollment_id TEXT NOT NULL REFERENCES enrollments(id),
  student_id TEXT NOT NULL,
  section_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  submitted BOOLEAN NOT NULL DEFAULT FALSE,
  submitted_at INTEGER,
  graded BOOLEAN NOT NULL DEFAULT FALSE,
  grade REAL NOT NULL DEFAULT 0,
  passed BOOLEAN NOT NULL DEFAULT FALSE,
  graded_at INTEGER,
  provisional_grade BOOLEAN NOT NULL DEFAULT FALSE,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER,
  UNIQUE (student_id, section_id)
);

CREATE TABLE IF NOT EXISTS certificates (
  id TEXT PRIMARY KEY,
  enrollment_id TEXT NOT NULL UNIQUE REFERENCES enrollments(id),
  student_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  number TEXT NOT NULL UNIQUE,
  verification_hash TEXT NOT NULL,
  issued_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
`
