package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/examdb/internal/model"
)

// SyllabusStep names one stage of syllabus generation. Each stage sees the
// output of the stages before it.
type SyllabusStep string

const (
	StepGoals      SyllabusStep = "goals"
	StepContent    SyllabusStep = "content"
	StepSchedule   SyllabusStep = "schedule"
	StepLabs       SyllabusStep = "labs"
	StepAssessment SyllabusStep = "assessment"
)

// SyllabusSteps lists the stages in the order they run.
var SyllabusSteps = []SyllabusStep{StepGoals, StepContent, StepSchedule, StepLabs, StepAssessment}

// SyllabusData holds the course information and everything generated so far.
type SyllabusData struct {
	Info       model.SyllabusInfo
	AACSBGoals []string
	Intro      json.RawMessage
	Objectives []string
	Schedule   []model.ScheduleItem
	Labs       []model.LabItem
	Language   string
}

// BuildSyllabus renders the prompt pair for one syllabus stage.
func BuildSyllabus(step SyllabusStep, d SyllabusData) (Prompt, error) {
	if err := load(); err != nil {
		return Prompt{}, err
	}
	if d.Language == "" {
		d.Language = defaultLanguage
	}
	d.Info.ExtraInfo = sanitizeExtraInfo(d.Info.ExtraInfo)

	var sys, user bytes.Buffer
	if err := syllabusTemplate.ExecuteTemplate(&sys, string(step)+"_system", d); err != nil {
		return Prompt{}, fmt.Errorf("render %s system prompt: %w", step, err)
	}
	if err := syllabusTemplate.ExecuteTemplate(&user, string(step)+"_user", d); err != nil {
		return Prompt{}, fmt.Errorf("render %s user prompt: %w", step, err)
	}
	return Prompt{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

func toJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
