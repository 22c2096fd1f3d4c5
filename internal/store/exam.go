package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/examdb/internal/model"
)

// SaveExam stores an exam and, when its content is a question list, one
// question row per entry. Both happen in one transaction: either every row
// of the call is visible or none is.
func (s *Store) SaveExam(ctx context.Context, e model.Exam) (int64, error) {
	if e.Status == "" {
		e.Status = model.ExamDraft
	}
	if err := model.Validate(e); err != nil {
		return 0, invalid(err)
	}
	content, err := model.ClassifyContent(e.Content)
	if err != nil {
		return 0, invalid(err)
	}
	for i, q := range content.Questions {
		if err := model.Validate(q); err != nil {
			return 0, invalid(fmt.Errorf("question %d: %w", i, err))
		}
	}

	var chapters sql.NullString
	if len(e.Chapters) > 0 {
		text, err := marshalText(e.Chapters)
		if err != nil {
			return 0, invalid(err)
		}
		chapters = sql.NullString{String: text, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, mapError(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO exams (course_id, exam_type, exam_content, chapters, difficulty, creator, created_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CourseID, e.ExamType, string(e.Content), chapters,
		nullString(e.Difficulty), nullString(e.Creator), time.Now().UTC(), e.Status,
	)
	if err != nil {
		slog.Error("failed to save exam", "course_id", e.CourseID, "exam_type", e.ExamType, "error", err)
		return 0, mapError(err)
	}
	examID, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}

	switch content.Kind {
	case model.ContentQuestions:
		if err := insertQuestions(ctx, tx, e.CourseID, examID, content.Questions); err != nil {
			slog.Error("failed to save exam questions", "exam_id", examID, "error", err)
			return 0, err
		}
	case model.ContentExperiment, model.ContentProject, model.ContentOther:
		// Nothing to explode into the question bank.
	}

	if err := tx.Commit(); err != nil {
		return 0, mapError(err)
	}
	slog.Info("saved exam", "exam_id", examID, "course_id", e.CourseID,
		"exam_type", e.ExamType, "content", content.Kind.String(), "questions", len(content.Questions))
	return examID, nil
}

// insertQuestions writes one question row per item inside tx.
func insertQuestions(ctx context.Context, tx *sql.Tx, courseID, examID int64, items []model.QuestionItem) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO questions (course_id, exam_id, question_type, question_content, answer, explanation,
			difficulty, course_objectives, aacsb_goals, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return mapError(err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i, q := range items {
		objectives, err := marshalText(orEmpty(q.CourseObjectives))
		if err != nil {
			return invalid(err)
		}
		goals, err := marshalText(orEmpty(q.AACSBGoals))
		if err != nil {
			return invalid(err)
		}
		_, err = stmt.ExecContext(ctx,
			courseID, examID, q.Type, q.Question,
			nullString(string(q.Answer)), nullString(string(q.Explanation)), nullString(string(q.Difficulty)),
			objectives, goals, now, now,
		)
		if err != nil {
			return fmt.Errorf("question %d: %w", i, mapError(err))
		}
	}
	return nil
}

// GetExam returns a full exam record by ID, or ErrNotFound.
func (s *Store) GetExam(ctx context.Context, id int64) (model.Exam, error) {
	var (
		e        model.Exam
		content  string
		chapters sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT exam_id, course_id, exam_type, exam_content, chapters, COALESCE(difficulty, ''),
			COALESCE(creator, ''), created_at, COALESCE(status, 'draft')
		 FROM exams WHERE exam_id = ?`, id,
	).Scan(&e.ID, &e.CourseID, &e.ExamType, &content, &chapters, &e.Difficulty,
		&e.Creator, &e.CreatedAt, &e.Status)
	if err != nil {
		return e, mapError(err)
	}
	e.Content = json.RawMessage(content)
	if chapters.Valid {
		if err := json.Unmarshal([]byte(chapters.String), &e.Chapters); err != nil {
			return e, fmt.Errorf("decode chapters of exam %d: %w", id, err)
		}
	}
	return e, nil
}

// marshalText encodes v as JSON text without HTML escaping.
func marshalText(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
