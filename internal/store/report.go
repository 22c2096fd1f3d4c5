package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/examdb/internal/model"
)

// CourseExams returns a course's exams, most recent first.
func (s *Store) CourseExams(ctx context.Context, courseID int64) ([]model.ExamSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exam_id, exam_type, exam_content, created_at, COALESCE(status, 'draft')
		 FROM exams WHERE course_id = ?
		 ORDER BY created_at DESC, exam_id DESC`, courseID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var exams []model.ExamSummary
	for rows.Next() {
		var (
			e       model.ExamSummary
			content string
		)
		if err := rows.Scan(&e.ID, &e.ExamType, &content, &e.CreatedAt, &e.Status); err != nil {
			return nil, mapError(err)
		}
		e.Content = json.RawMessage(content)
		exams = append(exams, e)
	}
	return exams, mapError(rows.Err())
}

// QuestionBank returns a course's questions in insertion order. An empty
// questionType returns every type; otherwise the match is exact.
func (s *Store) QuestionBank(ctx context.Context, courseID int64, questionType string) ([]model.Question, error) {
	query := `SELECT question_id, course_id, exam_id, question_type, question_content,
			COALESCE(answer, ''), COALESCE(explanation, ''), COALESCE(difficulty, ''),
			COALESCE(course_objectives, '[]'), COALESCE(aacsb_goals, '[]'), created_at, updated_at
		FROM questions WHERE course_id = ?`
	args := []any{courseID}
	if questionType != "" {
		query += ` AND question_type = ?`
		args = append(args, questionType)
	}
	query += ` ORDER BY question_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var (
			q                 model.Question
			examID            *int64
			objectives, goals string
		)
		if err := rows.Scan(&q.ID, &q.CourseID, &examID, &q.Type, &q.Content,
			&q.Answer, &q.Explanation, &q.Difficulty, &objectives, &goals,
			&q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		q.ExamID = examID
		if err := json.Unmarshal([]byte(objectives), &q.CourseObjectives); err != nil {
			return nil, fmt.Errorf("decode course_objectives of question %d: %w", q.ID, err)
		}
		if err := json.Unmarshal([]byte(goals), &q.AACSBGoals); err != nil {
			return nil, fmt.Errorf("decode aacsb_goals of question %d: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, mapError(rows.Err())
}

// QuestionCount returns the number of questions stored for a course.
func (s *Store) QuestionCount(ctx context.Context, courseID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE course_id = ?`, courseID).Scan(&count)
	return count, mapError(err)
}

// UsageStatistics counts usage events per exam type and calendar month
// (YYYY-MM). courseID 0 covers all courses.
func (s *Store) UsageStatistics(ctx context.Context, courseID int64) ([]model.UsageStat, error) {
	query := `SELECT exam_type, substr(created_at, 1, 7) AS month, COUNT(*)
		FROM usage_logs`
	var args []any
	if courseID != 0 {
		query += ` WHERE course_id = ?`
		args = append(args, courseID)
	}
	query += ` GROUP BY exam_type, month ORDER BY month, exam_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var stats []model.UsageStat
	for rows.Next() {
		var st model.UsageStat
		if err := rows.Scan(&st.ExamType, &st.Month, &st.Count); err != nil {
			return nil, mapError(err)
		}
		stats = append(stats, st)
	}
	return stats, mapError(rows.Err())
}
