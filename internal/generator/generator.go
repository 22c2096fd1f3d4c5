package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelanni/examdb/internal/llm/prompts"
	"github.com/pavelanni/examdb/internal/model"
	"github.com/pavelanni/examdb/internal/store"
)

// ErrBadResponse is returned when the LLM reply does not have the shape the
// requested exam type needs.
var ErrBadResponse = errors.New("LLM reply does not match exam type")

// Completer produces a JSON document from a system and a user instruction.
type Completer interface {
	CompleteJSON(ctx context.Context, system, user string) (json.RawMessage, error)
}

// Store is the persistence the generator needs.
type Store interface {
	GetCourse(ctx context.Context, id int64) (model.Course, error)
	SaveExam(ctx context.Context, e model.Exam) (int64, error)
	LogUsage(ctx context.Context, u model.UsageLog) (int64, error)
}

// Request describes one generation.
type Request struct {
	CourseID      int64          `json:"course_id" validate:"gt=0"`
	ExamType      model.ExamType `json:"exam_type" validate:"required,oneof=practice lab project final"`
	Chapters      []string       `json:"chapters"`
	Difficulty    string         `json:"difficulty" validate:"omitempty,oneof=easy medium hard"`
	NumQuestions  int            `json:"num_questions" validate:"gte=0,lte=100"`
	QuestionTypes []string       `json:"question_types"`
	Objectives    []string       `json:"course_objectives"`
	AACSBGoals    []string       `json:"aacsb_goals"`
	ExtraInfo     string         `json:"extra_info"`
	Creator       string         `json:"creator"`
	IPAddress     string         `json:"-"`
}

// Result is a successfully stored generation.
type Result struct {
	GenerationID string          `json:"generation_id"`
	ExamID       int64           `json:"exam_id"`
	ExamType     model.ExamType  `json:"exam_type"`
	Content      json.RawMessage `json:"exam_content"`
	Questions    int             `json:"questions"`
}

// params is what a usage log records about a request.
type params struct {
	GenerationID  string   `json:"generation_id"`
	Chapters      []string `json:"chapters,omitempty"`
	Difficulty    string   `json:"difficulty,omitempty"`
	NumQuestions  int      `json:"num_questions,omitempty"`
	QuestionTypes []string `json:"question_types,omitempty"`
	ExamID        int64    `json:"exam_id,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Generator turns requests into stored exams.
type Generator struct {
	llm      Completer
	store    Store
	language string
}

// New creates a Generator. language is the output language named in the
// prompts; empty selects the prompt default.
func New(llm Completer, s Store, language string) *Generator {
	return &Generator{llm: llm, store: s, language: language}
}

// Generate renders the prompt for req, asks the LLM, checks the reply shape,
// and stores it as a draft exam. Every attempt on an existing course is
// recorded in the usage log, successful or not.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if err := model.Validate(req); err != nil {
		return Result{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}
	course, err := g.store.GetCourse(ctx, req.CourseID)
	if err != nil {
		return Result{}, fmt.Errorf("get course %d: %w", req.CourseID, err)
	}

	id := uuid.NewString()
	log := slog.With("generation_id", id, "course_id", req.CourseID, "exam_type", req.ExamType)
	p := params{
		GenerationID:  id,
		Chapters:      req.Chapters,
		Difficulty:    req.Difficulty,
		NumQuestions:  req.NumQuestions,
		QuestionTypes: req.QuestionTypes,
	}

	res, err := g.generate(ctx, course, req, id)
	if err != nil {
		log.Warn("generation failed", "error", err)
		p.Error = err.Error()
		g.logUsage(ctx, req, p, model.ResultFailure)
		return Result{}, err
	}
	p.ExamID = res.ExamID
	g.logUsage(ctx, req, p, model.ResultSuccess)
	log.Info("generated exam", "exam_id", res.ExamID, "questions", res.Questions)
	return res, nil
}

func (g *Generator) generate(ctx context.Context, course model.Course, req Request, id string) (Result, error) {
	prompt, err := prompts.Build(prompts.Data{
		ExamType:      req.ExamType,
		Course:        course,
		Objectives:    req.Objectives,
		AACSBGoals:    req.AACSBGoals,
		Chapters:      req.Chapters,
		Difficulty:    req.Difficulty,
		NumQuestions:  req.NumQuestions,
		QuestionTypes: req.QuestionTypes,
		ExtraInfo:     req.ExtraInfo,
		Language:      g.language,
	})
	if err != nil {
		return Result{}, err
	}

	content, err := g.llm.CompleteJSON(ctx, prompt.System, prompt.User)
	if err != nil {
		return Result{}, err
	}

	want, _ := model.ExpectedContent(req.ExamType)
	got, err := model.ClassifyContent(content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if got.Kind != want {
		return Result{}, fmt.Errorf("%w: want %s content, got %s", ErrBadResponse, want, got.Kind)
	}

	examID, err := g.store.SaveExam(ctx, model.Exam{
		CourseID:   req.CourseID,
		ExamType:   req.ExamType,
		Content:    content,
		Chapters:   req.Chapters,
		Difficulty: req.Difficulty,
		Creator:    req.Creator,
		Status:     model.ExamDraft,
	})
	if err != nil {
		return Result{}, fmt.Errorf("save exam: %w", err)
	}
	return Result{
		GenerationID: id,
		ExamID:       examID,
		ExamType:     req.ExamType,
		Content:      content,
		Questions:    len(got.Questions),
	}, nil
}

// logUsage records an attempt, also after ctx is cancelled. A failed write is
// only logged.
func (g *Generator) logUsage(ctx context.Context, req Request, p params, status string) {
	ctx = context.WithoutCancel(ctx)
	raw, err := json.Marshal(p)
	if err != nil {
		slog.Error("marshal generation params", "error", err)
		raw = nil
	}
	if _, err := g.store.LogUsage(ctx, model.UsageLog{
		CourseID:     req.CourseID,
		ExamType:     req.ExamType,
		Params:       raw,
		ResultStatus: status,
		IPAddress:    req.IPAddress,
	}); err != nil {
		slog.Error("failed to record usage", "generation_id", p.GenerationID, "error", err)
	}
}
