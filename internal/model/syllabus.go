package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// StringList decodes either a JSON array of strings or a single
// newline-separated string. Blank lines are dropped.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		var out []string
		for _, line := range strings.Split(s, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		*l = out
		return nil
	}
	var items []Text
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, string(it))
	}
	*l = out
	return nil
}

// SyllabusInfo is the basic_info block of a syllabus document. Hours are
// teaching hours; total_hours may be left 0 and is then theory plus practice.
type SyllabusInfo struct {
	CourseNameCN  string  `json:"course_name_cn" validate:"required"`
	CourseNameEN  string  `json:"course_name_en"`
	CourseCode    string  `json:"course_code" validate:"required"`
	CourseType    string  `json:"course_type" validate:"required"`
	Credits       float64 `json:"credits" validate:"gte=0"`
	TotalHours    float64 `json:"total_hours" validate:"gte=0"`
	TheoryHours   float64 `json:"theory_hours" validate:"gte=0"`
	PracticeHours float64 `json:"practice_hours" validate:"gte=0"`
	ExamType      string  `json:"exam_type"`
	ExamForm      string  `json:"exam_form"`
	Department    string  `json:"department" validate:"required"`
	Major         string  `json:"major" validate:"required"`
	Prerequisites string  `json:"prerequisites"`
	ExtraInfo     string  `json:"extra_info"`
}

// ParseSyllabusInfo decodes basic course information from either a document
// with a basic_info block or a bare basic_info object.
func ParseSyllabusInfo(data []byte) (SyllabusInfo, error) {
	var doc struct {
		BasicInfo *SyllabusInfo `json:"basic_info"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return SyllabusInfo{}, fmt.Errorf("parse course info: %w", err)
	}
	if doc.BasicInfo != nil {
		return *doc.BasicInfo, nil
	}
	var info SyllabusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return SyllabusInfo{}, fmt.Errorf("parse course info: %w", err)
	}
	return info, nil
}

// ScheduleItem is one chapter of the course schedule.
type ScheduleItem struct {
	Chapter      string     `json:"chapter"`
	Content      StringList `json:"content"`
	Requirements StringList `json:"requirements"`
	Hours        Text       `json:"hours"`
	Type         string     `json:"type"`
}

// LabItem is one entry of the lab schedule.
type LabItem struct {
	Number       Text       `json:"number"`
	Name         string     `json:"name"`
	Content      StringList `json:"content"`
	Requirements StringList `json:"requirements"`
	Hours        Text       `json:"hours"`
	GroupSize    Text       `json:"group_size,omitempty"`
	Type         string     `json:"type,omitempty"`
	Objectives   StringList `json:"objectives,omitempty"`
	Chapter      string     `json:"chapter,omitempty"`
}

// Syllabus is a course outline document as produced by the syllabus tool.
// Sections not used for prompts are kept raw.
type Syllabus struct {
	BasicInfo         SyllabusInfo    `json:"basic_info"`
	AACSBGoals        StringList      `json:"aacsb_goals"`
	CourseIntro       json.RawMessage `json:"course_intro,omitempty"`
	CourseObjectives  StringList      `json:"course_objectives"`
	CourseTextbooks   json.RawMessage `json:"course_textbooks,omitempty"`
	ObjectivesMapping json.RawMessage `json:"objectives_mapping,omitempty"`
	CourseSchedule    []ScheduleItem  `json:"course_schedule"`
	LabsSchedule      []LabItem       `json:"labs_schedule,omitempty"`
	AssessmentTable   json.RawMessage `json:"assessment_table,omitempty"`
}

// ParseSyllabus decodes a syllabus document. The basic_info block must name
// at least the course code.
func ParseSyllabus(data []byte) (*Syllabus, error) {
	var s Syllabus
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse syllabus: %w", err)
	}
	if strings.TrimSpace(s.BasicInfo.CourseCode) == "" {
		return nil, errors.New("parse syllabus: basic_info.course_code is missing")
	}
	return &s, nil
}

// Course converts basic_info into a course record.
func (s *Syllabus) Course() Course {
	b := s.BasicInfo
	return Course{
		NameCN:     b.CourseNameCN,
		NameEN:     b.CourseNameEN,
		Code:       strings.TrimSpace(b.CourseCode),
		Department: b.Department,
		Major:      b.Major,
		CourseType: b.CourseType,
		Credits:    int(math.Round(b.Credits)),
		ExamType:   b.ExamType,
	}
}

// Chapters returns the chapter titles of the course schedule in order.
func (s *Syllabus) Chapters() []string {
	var out []string
	for _, it := range s.CourseSchedule {
		if it.Chapter != "" {
			out = append(out, it.Chapter)
		}
	}
	return out
}
