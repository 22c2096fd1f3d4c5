package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/examdb/internal/model"
)

// ExportCourse collects everything stored for a course into one document:
// the course row, its exams (most recent first), its question bank and its
// usage statistics.
func (s *Store) ExportCourse(ctx context.Context, courseID int64) (model.CourseExport, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("get course %d: %w", courseID, err)
	}

	summaries, err := s.CourseExams(ctx, courseID)
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("list exams: %w", err)
	}
	exams := make([]model.Exam, 0, len(summaries))
	for _, sum := range summaries {
		e, err := s.GetExam(ctx, sum.ID)
		if err != nil {
			return model.CourseExport{}, fmt.Errorf("get exam %d: %w", sum.ID, err)
		}
		exams = append(exams, e)
	}

	questions, err := s.QuestionBank(ctx, courseID, "")
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("list questions: %w", err)
	}
	stats, err := s.UsageStatistics(ctx, courseID)
	if err != nil {
		return model.CourseExport{}, fmt.Errorf("usage statistics: %w", err)
	}

	return model.CourseExport{
		Course:     course,
		Exams:      exams,
		Questions:  orEmptyQuestions(questions),
		Statistics: stats,
		ExportedAt: time.Now().UTC(),
	}, nil
}

func orEmptyQuestions(q []model.Question) []model.Question {
	if q == nil {
		return []model.Question{}
	}
	return q
}
