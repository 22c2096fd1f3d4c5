package prompts

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pavelanni/examdb/internal/model"
)

func testSyllabusData() SyllabusData {
	return SyllabusData{
		Info: model.SyllabusInfo{
			CourseNameCN:  "数据结构",
			CourseNameEN:  "Data Structures",
			CourseCode:    "CS101",
			CourseType:    "专业必修课",
			Credits:       3,
			TotalHours:    48,
			TheoryHours:   32,
			PracticeHours: 16,
			ExamType:      "考试",
			ExamForm:      "闭卷笔试",
			Department:    "计算机学院",
			Major:         "软件工程",
		},
		AACSBGoals: []string{"CG1 专业知识-L2 掌握线性结构"},
		Intro:      json.RawMessage(`{"position":"专业核心课"}`),
		Objectives: []string{"1. 知识目标：掌握线性表"},
		Schedule:   []model.ScheduleItem{{Chapter: "1. 绪论", Hours: "2/0"}},
		Labs:       []model.LabItem{{Number: "1", Name: "链表实验", Hours: "4"}},
	}
}

func TestBuildSyllabusSteps(t *testing.T) {
	tests := []struct {
		step  SyllabusStep
		shape string
		user  []string
	}{
		{StepGoals, `{"goals":`, []string{"数据结构", "48 total, 32 theory, 16 practice"}},
		{StepContent, `{"introduction":`, []string{"CG1 专业知识-L2 掌握线性结构"}},
		{StepSchedule, `{"schedule":`, []string{`{"position":"专业核心课"}`, "must add up to 32", "1. 知识目标：掌握线性表"}},
		{StepLabs, `{"labs":`, []string{`"chapter":"1. 绪论"`, "must add up to 16"}},
		{StepAssessment, `{"assessment_items":`, []string{"链表实验", "between 40 and 60 percent", "闭卷笔试"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.step), func(t *testing.T) {
			p, err := BuildSyllabus(tt.step, testSyllabusData())
			if err != nil {
				t.Fatalf("BuildSyllabus: %v", err)
			}
			if !strings.Contains(p.System, tt.shape) {
				t.Errorf("system prompt should describe %s shape:\n%s", tt.shape, p.System)
			}
			if !strings.Contains(p.System, "Simplified Chinese") {
				t.Error("system prompt should name the default language")
			}
			for _, want := range tt.user {
				if !strings.Contains(p.User, want) {
					t.Errorf("user prompt missing %q:\n%s", want, p.User)
				}
			}
		})
	}
}

func TestBuildSyllabusWithoutLabs(t *testing.T) {
	d := testSyllabusData()
	d.Labs = nil
	d.Info.ExamType = "考查"
	d.Language = "English"

	p, err := BuildSyllabus(StepAssessment, d)
	if err != nil {
		t.Fatalf("BuildSyllabus: %v", err)
	}
	if !strings.Contains(p.User, "no lab sessions") {
		t.Errorf("user prompt should say there are no labs:\n%s", p.User)
	}
	if strings.Contains(p.User, "final exam") {
		t.Error("non-examination courses should not require a final exam")
	}
	if !strings.Contains(p.System, "in English") {
		t.Error("language not passed to prompt")
	}

	if _, err := BuildSyllabus("outline", d); err == nil {
		t.Error("expected error for unknown step")
	}
}
