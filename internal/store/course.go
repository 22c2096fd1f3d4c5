package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/examdb/internal/model"
)

const courseColumns = `course_id, course_name_cn, COALESCE(course_name_en, ''), course_code,
	department, major, course_type, COALESCE(credits, 0), COALESCE(exam_type, ''),
	created_at, updated_at`

// AddCourse validates and inserts a course, returning its generated ID.
// A duplicate course code fails with ErrConflict.
func (s *Store) AddCourse(ctx context.Context, c model.Course) (int64, error) {
	c.Code = strings.TrimSpace(c.Code)
	if err := model.Validate(c); err != nil {
		return 0, invalid(err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO courses (course_name_cn, course_name_en, course_code, department, major,
			course_type, credits, exam_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.NameCN, c.NameEN, c.Code, c.Department, c.Major,
		c.CourseType, c.Credits, c.ExamType, now, now,
	)
	if err != nil {
		slog.Error("failed to add course", "course_code", c.Code, "error", err)
		return 0, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}
	slog.Info("added course", "course_id", id, "course_code", c.Code)
	return id, nil
}

// GetCourse returns a course by ID, or ErrNotFound.
func (s *Store) GetCourse(ctx context.Context, id int64) (model.Course, error) {
	var c model.Course
	err := s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE course_id = ?`, id,
	).Scan(&c.ID, &c.NameCN, &c.NameEN, &c.Code, &c.Department, &c.Major,
		&c.CourseType, &c.Credits, &c.ExamType, &c.CreatedAt, &c.UpdatedAt)
	return c, mapError(err)
}

// GetCourseByCode returns a course by its course code, or ErrNotFound.
func (s *Store) GetCourseByCode(ctx context.Context, code string) (model.Course, error) {
	var c model.Course
	err := s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE course_code = ?`, strings.TrimSpace(code),
	).Scan(&c.ID, &c.NameCN, &c.NameEN, &c.Code, &c.Department, &c.Major,
		&c.CourseType, &c.Credits, &c.ExamType, &c.CreatedAt, &c.UpdatedAt)
	return c, mapError(err)
}

// ListCourses returns all courses ordered by ID.
func (s *Store) ListCourses(ctx context.Context) ([]model.Course, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY course_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var courses []model.Course
	for rows.Next() {
		var c model.Course
		if err := rows.Scan(&c.ID, &c.NameCN, &c.NameEN, &c.Code, &c.Department, &c.Major,
			&c.CourseType, &c.Credits, &c.ExamType, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		courses = append(courses, c)
	}
	return courses, mapError(rows.Err())
}

// CourseCount returns the number of registered courses.
func (s *Store) CourseCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM courses`).Scan(&count)
	return count, mapError(err)
}
