package model

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks v against its `validate` struct tags.
func Validate(v any) error {
	return validate.Struct(v)
}

// ExamType is the category of a generated or imported assessment.
type ExamType string

const (
	ExamPractice ExamType = "practice"
	ExamLab      ExamType = "lab"
	ExamProject  ExamType = "project"
	ExamFinal    ExamType = "final"
	ExamImported ExamType = "imported"
)

// ExamTypes lists every known exam category.
var ExamTypes = []ExamType{ExamPractice, ExamLab, ExamProject, ExamFinal, ExamImported}

// Valid reports whether t is one of the known categories.
func (t ExamType) Valid() bool {
	for _, known := range ExamTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ExamStatus is the lifecycle state of an exam.
type ExamStatus string

const (
	ExamDraft     ExamStatus = "draft"
	ExamPublished ExamStatus = "published"
)

// Usage log outcomes written by the generator.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Course is one registered syllabus/course offering.
type Course struct {
	ID         int64     `json:"course_id"`
	NameCN     string    `json:"course_name_cn" validate:"required"`
	NameEN     string    `json:"course_name_en"`
	Code       string    `json:"course_code" validate:"required"`
	Department string    `json:"department" validate:"required"`
	Major      string    `json:"major" validate:"required"`
	CourseType string    `json:"course_type" validate:"required"`
	Credits    int       `json:"credits" validate:"gte=0"`
	ExamType   string    `json:"exam_type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Exam is one generated or imported assessment tied to a course.
// Content is stored verbatim; its shape depends on ExamType.
type Exam struct {
	ID         int64           `json:"exam_id"`
	CourseID   int64           `json:"course_id" validate:"gt=0"`
	ExamType   ExamType        `json:"exam_type" validate:"required,oneof=practice lab project final imported"`
	Content    json.RawMessage `json:"exam_content" validate:"required"`
	Chapters   []string        `json:"chapters,omitempty"`
	Difficulty string          `json:"difficulty,omitempty"`
	Creator    string          `json:"creator,omitempty"`
	Status     ExamStatus      `json:"status" validate:"omitempty,oneof=draft published"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ExamSummary is one row of a course's exam listing.
type ExamSummary struct {
	ID        int64           `json:"exam_id"`
	ExamType  ExamType        `json:"exam_type"`
	Content   json.RawMessage `json:"exam_content"`
	CreatedAt time.Time       `json:"created_at"`
	Status    ExamStatus      `json:"status"`
}

// Question is one entry of a course's question bank.
type Question struct {
	ID               int64     `json:"question_id"`
	CourseID         int64     `json:"course_id"`
	ExamID           *int64    `json:"exam_id,omitempty"`
	Type             string    `json:"question_type"`
	Content          string    `json:"question_content"`
	Answer           string    `json:"answer,omitempty"`
	Explanation      string    `json:"explanation,omitempty"`
	Difficulty       string    `json:"difficulty,omitempty"`
	CourseObjectives []string  `json:"course_objectives"`
	AACSBGoals       []string  `json:"aacsb_goals"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UsageLog is an append-only record of one generation attempt.
type UsageLog struct {
	ID           int64           `json:"log_id"`
	CourseID     int64           `json:"course_id" validate:"gt=0"`
	ExamType     ExamType        `json:"exam_type" validate:"required"`
	Params       json.RawMessage `json:"generation_params,omitempty"`
	ResultStatus string          `json:"result_status" validate:"required"`
	IPAddress    string          `json:"ip_address,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// UsageStat counts usage events of one exam type in one calendar month.
type UsageStat struct {
	ExamType ExamType `json:"exam_type"`
	Month    string   `json:"month"`
	Count    int      `json:"count"`
}

// CourseExport is the JSON download of everything stored for a course.
type CourseExport struct {
	Course     Course      `json:"course"`
	Exams      []Exam      `json:"exams"`
	Questions  []Question  `json:"questions"`
	Statistics []UsageStat `json:"statistics"`
	ExportedAt time.Time   `json:"exported_at"`
}
