package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidContent is returned when exam content is not valid JSON or a
// recognized shape carries malformed entries.
var ErrInvalidContent = errors.New("invalid exam content")

// ContentKind identifies the shape of an exam's content document.
type ContentKind int

const (
	// ContentOther is any document without a recognized top-level key.
	ContentOther ContentKind = iota
	// ContentQuestions is {"questions": [...]}.
	ContentQuestions
	// ContentExperiment is {"experiment": {...}}.
	ContentExperiment
	// ContentProject is {"project": {...}}.
	ContentProject
)

func (k ContentKind) String() string {
	switch k {
	case ContentQuestions:
		return "questions"
	case ContentExperiment:
		return "experiment"
	case ContentProject:
		return "project"
	default:
		return "other"
	}
}

// Text is a JSON value kept as text. Strings keep their value, null becomes
// empty, and any other value keeps its JSON encoding (e.g. true, ["A","C"]).
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	*t = Text(b)
	return nil
}

// QuestionItem is one entry of a {"questions": [...]} document.
type QuestionItem struct {
	Type             string   `json:"type" validate:"required"`
	Question         string   `json:"question" validate:"required"`
	Answer           Text     `json:"answer"`
	Explanation      Text     `json:"explanation"`
	Difficulty       Text     `json:"difficulty"`
	CourseObjectives []string `json:"course_objectives"`
	AACSBGoals       []string `json:"aacsb_goals"`
}

// ExamContent is the classified form of an exam document.
// Questions is set only for ContentQuestions.
type ExamContent struct {
	Kind      ContentKind
	Questions []QuestionItem
}

// ClassifyContent inspects raw exam content. A "questions" key holding an
// array wins over "experiment" and "project" keys holding objects; anything
// else, including non-object documents, is ContentOther.
func ClassifyContent(raw json.RawMessage) (ExamContent, error) {
	if !json.Valid(raw) {
		return ExamContent{}, fmt.Errorf("%w: not valid JSON", ErrInvalidContent)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return ExamContent{Kind: ContentOther}, nil
	}

	if v, ok := top["questions"]; ok && jsonKind(v) == '[' {
		var items []QuestionItem
		if err := json.Unmarshal(v, &items); err != nil {
			return ExamContent{}, fmt.Errorf("%w: questions: %v", ErrInvalidContent, err)
		}
		return ExamContent{Kind: ContentQuestions, Questions: items}, nil
	}
	if v, ok := top["experiment"]; ok && jsonKind(v) == '{' {
		return ExamContent{Kind: ContentExperiment}, nil
	}
	if v, ok := top["project"]; ok && jsonKind(v) == '{' {
		return ExamContent{Kind: ContentProject}, nil
	}
	return ExamContent{Kind: ContentOther}, nil
}

// ExpectedContent returns the content kind an exam type must produce.
// The second result is false for imported exams, which accept any shape.
func ExpectedContent(t ExamType) (ContentKind, bool) {
	switch t {
	case ExamPractice, ExamFinal:
		return ContentQuestions, true
	case ExamLab:
		return ContentExperiment, true
	case ExamProject:
		return ContentProject, true
	default:
		return ContentOther, false
	}
}

func jsonKind(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	return v[0]
}
