package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DefaultPath is the database file used when no path is configured.
const DefaultPath = "exam_system.db"

type Store struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and creates missing tables.
func New(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = DefaultPath
	}
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", mapError(err))
	}
	// A single connection serializes writers; nothing inside a
	// transaction may go back to s.db.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", mapError(err))
	}
	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", mapError(err))
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the schema. Every statement is idempotent, so it runs on
// each start without touching existing rows.
func (s *Store) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS courses (
			course_id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_name_cn TEXT NOT NULL,
			course_name_en TEXT,
			course_code TEXT UNIQUE NOT NULL,
			department TEXT NOT NULL,
			major TEXT NOT NULL,
			course_type TEXT NOT NULL,
			credits INTEGER,
			exam_type TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS exams (
			exam_id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL,
			exam_type TEXT NOT NULL,
			exam_content TEXT NOT NULL,
			chapters TEXT,
			difficulty TEXT,
			creator TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			status TEXT DEFAULT 'draft',
			FOREIGN KEY (course_id) REFERENCES courses (course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS questions (
			question_id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL,
			exam_id INTEGER,
			question_type TEXT NOT NULL,
			question_content TEXT NOT NULL,
			answer TEXT,
			explanation TEXT,
			difficulty TEXT,
			course_objectives TEXT,
			aacsb_goals TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (course_id) REFERENCES courses (course_id),
			FOREIGN KEY (exam_id) REFERENCES exams (exam_id)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			log_id INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id INTEGER NOT NULL,
			exam_type TEXT NOT NULL,
			generation_params TEXT,
			result_status TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			ip_address TEXT,
			FOREIGN KEY (course_id) REFERENCES courses (course_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
