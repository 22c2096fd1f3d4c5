package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/examdb/internal/llm/prompts"
	"github.com/pavelanni/examdb/internal/model"
	"github.com/pavelanni/examdb/internal/store"
)

// SyllabusResult is a generated course outline. Warnings list checks the
// LLM output failed without being unusable, such as hours that do not add up.
type SyllabusResult struct {
	Syllabus *model.Syllabus `json:"syllabus"`
	Warnings []string        `json:"warnings,omitempty"`
}

// AssessmentItem is one component of a generated assessment scheme.
type AssessmentItem struct {
	Type       string           `json:"type"`
	Percentage float64          `json:"percentage"`
	Criteria   model.StringList `json:"criteria"`
	Objectives model.StringList `json:"objectives"`
}

type courseContent struct {
	Introduction      json.RawMessage  `json:"introduction"`
	Objectives        model.StringList `json:"objectives"`
	Textbooks         json.RawMessage  `json:"textbooks"`
	ObjectivesMapping []struct {
		Objective    string           `json:"objective"`
		Requirements model.StringList `json:"requirements"`
	} `json:"objectives_mapping"`
}

// GenerateSyllabus writes a course outline from basic course information in
// five LLM steps: AACSB goals, introduction with objectives and textbooks,
// chapter schedule, lab schedule (only with practice hours) and assessment
// scheme. Nothing is stored.
func (g *Generator) GenerateSyllabus(ctx context.Context, info model.SyllabusInfo) (SyllabusResult, error) {
	info.CourseCode = strings.TrimSpace(info.CourseCode)
	if err := model.Validate(info); err != nil {
		return SyllabusResult{}, fmt.Errorf("%w: %w", store.ErrInvalidInput, err)
	}
	if info.TotalHours == 0 {
		info.TotalHours = info.TheoryHours + info.PracticeHours
	}
	if info.TotalHours != info.TheoryHours+info.PracticeHours {
		return SyllabusResult{}, fmt.Errorf("%w: total hours %g must equal theory %g plus practice %g hours",
			store.ErrInvalidInput, info.TotalHours, info.TheoryHours, info.PracticeHours)
	}

	log := slog.With("course_code", info.CourseCode)
	start := time.Now()
	d := prompts.SyllabusData{Info: info, Language: g.language}
	syl := &model.Syllabus{BasicInfo: info}
	var warnings []string
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Warn("syllabus check failed", "check", msg)
		warnings = append(warnings, msg)
	}

	var goals struct {
		Goals model.StringList `json:"goals"`
	}
	if err := g.syllabusStep(ctx, prompts.StepGoals, d, &goals); err != nil {
		return SyllabusResult{}, err
	}
	if len(goals.Goals) == 0 {
		return SyllabusResult{}, fmt.Errorf("%w: %s: no goals", ErrBadResponse, prompts.StepGoals)
	}
	syl.AACSBGoals = goals.Goals
	d.AACSBGoals = goals.Goals

	var content courseContent
	if err := g.syllabusStep(ctx, prompts.StepContent, d, &content); err != nil {
		return SyllabusResult{}, err
	}
	if len(content.Introduction) == 0 || len(content.Objectives) == 0 || len(content.Textbooks) == 0 {
		return SyllabusResult{}, fmt.Errorf("%w: %s: introduction, objectives and textbooks are required",
			ErrBadResponse, prompts.StepContent)
	}
	mapped := make(map[string]bool, len(content.ObjectivesMapping))
	for _, m := range content.ObjectivesMapping {
		mapped[strings.TrimSpace(m.Objective)] = true
	}
	for _, o := range content.Objectives {
		if !mapped[strings.TrimSpace(o)] {
			warn("objective %q has no graduation requirement mapping", o)
		}
	}
	syl.CourseIntro = content.Introduction
	syl.CourseObjectives = content.Objectives
	syl.CourseTextbooks = content.Textbooks
	if len(content.ObjectivesMapping) > 0 {
		mapping, err := json.Marshal(content.ObjectivesMapping)
		if err != nil {
			return SyllabusResult{}, fmt.Errorf("encode objectives mapping: %w", err)
		}
		syl.ObjectivesMapping = mapping
	}
	d.Intro = content.Introduction
	d.Objectives = content.Objectives

	var schedule struct {
		Schedule []model.ScheduleItem `json:"schedule"`
	}
	if err := g.syllabusStep(ctx, prompts.StepSchedule, d, &schedule); err != nil {
		return SyllabusResult{}, err
	}
	if len(schedule.Schedule) == 0 {
		return SyllabusResult{}, fmt.Errorf("%w: %s: no chapters", ErrBadResponse, prompts.StepSchedule)
	}
	theory, practice := scheduleHours(schedule.Schedule)
	if theory != info.TheoryHours {
		warn("schedule has %g theory hours, want %g", theory, info.TheoryHours)
	}
	if practice != info.PracticeHours {
		warn("schedule has %g practice hours, want %g", practice, info.PracticeHours)
	}
	for _, it := range schedule.Schedule {
		if len(it.Requirements) == 0 {
			warn("chapter %q has no learning requirements", it.Chapter)
		}
	}
	syl.CourseSchedule = schedule.Schedule
	d.Schedule = schedule.Schedule

	if info.PracticeHours > 0 {
		var labs struct {
			Labs []model.LabItem `json:"labs"`
		}
		if err := g.syllabusStep(ctx, prompts.StepLabs, d, &labs); err != nil {
			return SyllabusResult{}, err
		}
		if len(labs.Labs) == 0 {
			return SyllabusResult{}, fmt.Errorf("%w: %s: no labs", ErrBadResponse, prompts.StepLabs)
		}
		var total float64
		for _, l := range labs.Labs {
			total += parseHours(string(l.Hours))
			if len(l.Content) == 0 {
				warn("lab %s has no content", l.Number)
			}
		}
		if total != info.PracticeHours {
			warn("labs have %g hours, want %g", total, info.PracticeHours)
		}
		syl.LabsSchedule = labs.Labs
		d.Labs = labs.Labs
	}

	var assessment struct {
		Items []AssessmentItem `json:"assessment_items"`
	}
	if err := g.syllabusStep(ctx, prompts.StepAssessment, d, &assessment); err != nil {
		return SyllabusResult{}, err
	}
	if len(assessment.Items) == 0 {
		return SyllabusResult{}, fmt.Errorf("%w: %s: no assessment items", ErrBadResponse, prompts.StepAssessment)
	}
	for _, w := range checkAssessment(assessment.Items, info.ExamType) {
		warn("%s", w)
	}
	table, err := json.Marshal(assessment.Items)
	if err != nil {
		return SyllabusResult{}, fmt.Errorf("encode assessment table: %w", err)
	}
	syl.AssessmentTable = table

	log.Info("generated syllabus", "chapters", len(syl.CourseSchedule), "labs", len(syl.LabsSchedule),
		"warnings", len(warnings), "elapsed", time.Since(start))
	return SyllabusResult{Syllabus: syl, Warnings: warnings}, nil
}

// syllabusStep renders the prompt for step, asks the LLM and decodes the
// reply into out.
func (g *Generator) syllabusStep(ctx context.Context, step prompts.SyllabusStep, d prompts.SyllabusData, out any) error {
	prompt, err := prompts.BuildSyllabus(step, d)
	if err != nil {
		return err
	}
	slog.Debug("syllabus step", "step", step, "course_code", d.Info.CourseCode)
	reply, err := g.llm.CompleteJSON(ctx, prompt.System, prompt.User)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	if err := json.Unmarshal(reply, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBadResponse, step, err)
	}
	return nil
}

// scheduleHours sums "theory/practice" hour strings. A bare number counts as
// theory hours.
func scheduleHours(items []model.ScheduleItem) (theory, practice float64) {
	for _, it := range items {
		t, p, found := strings.Cut(string(it.Hours), "/")
		theory += parseHours(t)
		if found {
			practice += parseHours(p)
		}
	}
	return theory, practice
}

func parseHours(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) {
		return 0
	}
	return f
}

// checkAssessment reports weightings that do not add up to 100 and, for
// courses assessed by examination, a missing or out-of-range final exam.
func checkAssessment(items []AssessmentItem, examType string) []string {
	var out []string
	var total float64
	var final *AssessmentItem
	for i, it := range items {
		total += it.Percentage
		if len(it.Objectives) == 0 {
			out = append(out, fmt.Sprintf("assessment %q names no course objectives", it.Type))
		}
		if final == nil && (strings.Contains(it.Type, "期末考试") || strings.Contains(strings.ToLower(it.Type), "final exam")) {
			final = &items[i]
		}
	}
	if total != 100 {
		out = append(out, fmt.Sprintf("assessment percentages add up to %g, want 100", total))
	}
	if examType == "考试" {
		switch {
		case final == nil:
			out = append(out, "examination course has no final exam")
		case final.Percentage < 40 || final.Percentage > 60:
			out = append(out, fmt.Sprintf("final exam weighs %g%%, want 40-60%%", final.Percentage))
		}
	}
	return out
}
