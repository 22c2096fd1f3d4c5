package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examdb/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

const (
	defaultNumQuestions = 10
	defaultDifficulty   = "medium"
	defaultLanguage     = "Simplified Chinese"
	maxExtraInfoRunes   = 4000
)

// DefaultQuestionTypes are used when a request names none.
var DefaultQuestionTypes = []string{"选择题", "判断题", "填空题", "简答题"}

var (
	loadOnce         sync.Once
	loadErr          error
	templates        map[model.ExamType]*template.Template
	syllabusTemplate *template.Template
)

// Data holds everything a generation prompt may mention.
type Data struct {
	ExamType      model.ExamType
	Course        model.Course
	Objectives    []string
	AACSBGoals    []string
	Chapters      []string
	Difficulty    string
	NumQuestions  int
	QuestionTypes []string
	ExtraInfo     string
	Language      string
}

// Prompt is a rendered system/user instruction pair.
type Prompt struct {
	System string
	User   string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[model.ExamType]*template.Template)
		funcs := template.FuncMap{"join": strings.Join, "json": toJSON}
		for _, t := range []model.ExamType{model.ExamPractice, model.ExamLab, model.ExamProject, model.ExamFinal} {
			file := "templates/" + string(t) + ".tmpl"
			tmpl, err := template.New(string(t)).Funcs(funcs).ParseFS(templateFS, "templates/common.tmpl", file)
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[t] = tmpl
		}
		tmpl, err := template.New("syllabus").Funcs(funcs).ParseFS(templateFS, "templates/syllabus.tmpl")
		if err != nil {
			loadErr = fmt.Errorf("parse prompt template templates/syllabus.tmpl: %w", err)
			return
		}
		syllabusTemplate = tmpl
	})
	return loadErr
}

// Supported reports whether prompts exist for an exam type.
func Supported(t model.ExamType) bool {
	_, ok := model.ExpectedContent(t)
	return ok
}

// Build renders the prompt pair for d.ExamType. Missing difficulty, count,
// question types and language fall back to defaults.
func Build(d Data) (Prompt, error) {
	if err := load(); err != nil {
		return Prompt{}, err
	}
	tmpl, ok := templates[d.ExamType]
	if !ok {
		return Prompt{}, errors.New("no prompt for exam type: " + string(d.ExamType))
	}

	if d.Difficulty == "" {
		d.Difficulty = defaultDifficulty
	}
	if d.NumQuestions <= 0 {
		d.NumQuestions = defaultNumQuestions
	}
	if len(d.QuestionTypes) == 0 {
		d.QuestionTypes = DefaultQuestionTypes
	}
	if d.Language == "" {
		d.Language = defaultLanguage
	}
	d.ExtraInfo = sanitizeExtraInfo(d.ExtraInfo)

	var sys, user bytes.Buffer
	if err := tmpl.ExecuteTemplate(&sys, "system", d); err != nil {
		return Prompt{}, fmt.Errorf("render system prompt: %w", err)
	}
	if err := tmpl.ExecuteTemplate(&user, "user", d); err != nil {
		return Prompt{}, fmt.Errorf("render user prompt: %w", err)
	}
	return Prompt{
		System: strings.TrimSpace(sys.String()),
		User:   strings.TrimSpace(user.String()),
	}, nil
}

func sanitizeExtraInfo(s string) string {
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxExtraInfoRunes {
		runes := []rune(s)
		s = string(runes[:maxExtraInfoRunes]) + "\n[truncated]"
	}
	return s
}
