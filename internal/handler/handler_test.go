package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examdb/internal/generator"
	appI18n "github.com/pavelanni/examdb/internal/i18n"
	"github.com/pavelanni/examdb/internal/model"
	"github.com/pavelanni/examdb/internal/store"
)

type fakeLLM struct {
	reply string
}

func (f fakeLLM) CompleteJSON(context.Context, string, string) (json.RawMessage, error) {
	return json.RawMessage(f.reply), nil
}

const practiceReply = `{"questions":[{"type":"选择题","question":"链表的插入复杂度？","answer":"O(1)"},{"type":"判断题","question":"栈是先进先出","answer":"错"}]}`

type testServer struct {
	t     *testing.T
	store *store.Store
	srv   *httptest.Server
}

func newTestServer(t *testing.T, password string, withLLM bool) *testServer {
	t.Helper()
	var llm generator.Completer
	if withLLM {
		llm = fakeLLM{reply: practiceReply}
	}
	return newTestServerWith(t, password, llm)
}

// newTestServerWith serves with generation backed by llm, or disabled when
// llm is nil.
func newTestServerWith(t *testing.T, password string, llm generator.Completer) *testServer {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var gen *generator.Generator
	if llm != nil {
		gen = generator.New(llm, s, "")
	}
	h, err := New(s, gen, password)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(appI18n.Middleware)
	h.Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{t: t, store: s, srv: srv}
}

func (ts *testServer) do(method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	ts.t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	if err != nil {
		ts.t.Fatalf("NewRequest: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		ts.t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, out
}

const courseBody = `{"course_name_cn":"数据结构","course_name_en":"Data Structures","course_code":"CS101",
"department":"计算机学院","major":"软件工程","course_type":"专业必修课","credits":3}`

func (ts *testServer) addCourse() int64 {
	ts.t.Helper()
	resp, out := ts.do(http.MethodPost, "/api/courses", courseBody, nil)
	if resp.StatusCode != http.StatusCreated {
		ts.t.Fatalf("add course: status %d: %v", resp.StatusCode, out)
	}
	return int64(out["course_id"].(float64))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "", false)
	resp, out := ts.do(http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" || out["generation"] != false {
		t.Errorf("unexpected health: %d %v", resp.StatusCode, out)
	}
	if out["app"] != "Exam Generator" {
		t.Errorf("app = %v", out["app"])
	}
	_, out = ts.do(http.MethodGet, "/healthz", "", map[string]string{"Accept-Language": "zh-CN"})
	if out["app"] != "试卷生成系统" {
		t.Errorf("zh app = %v", out["app"])
	}
}

func TestCourseLifecycle(t *testing.T) {
	ts := newTestServer(t, "", false)
	id := ts.addCourse()

	resp, out := ts.do(http.MethodGet, "/api/courses", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	if courses := out["courses"].([]any); len(courses) != 1 {
		t.Errorf("expected 1 course, got %d", len(courses))
	}

	resp, out = ts.do(http.MethodGet, "/api/courses/1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	course := out["course"].(map[string]any)
	if course["course_code"] != "CS101" || int64(course["course_id"].(float64)) != id {
		t.Errorf("unexpected course: %v", course)
	}

	resp, out = ts.do(http.MethodPost, "/api/courses", courseBody, nil)
	if resp.StatusCode != http.StatusConflict || out["kind"] != "conflict" {
		t.Errorf("duplicate: expected 409 conflict, got %d %v", resp.StatusCode, out)
	}
}

func TestAddCourseFromSyllabus(t *testing.T) {
	ts := newTestServer(t, "", false)
	body := `{"basic_info":{"course_name_cn":"操作系统","course_code":" CS202 ","department":"计算机学院",
"major":"软件工程","course_type":"专业必修课","credits":2.5},"course_objectives":["目标1"]}`

	resp, out := ts.do(http.MethodPost, "/api/courses", body, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}
	if out["message"] != "Course CS202 added." {
		t.Errorf("message = %v", out["message"])
	}
	c, err := ts.store.GetCourseByCode(context.Background(), "CS202")
	if err != nil {
		t.Fatalf("GetCourseByCode: %v", err)
	}
	if c.NameCN != "操作系统" {
		t.Errorf("unexpected course: %+v", c)
	}
}

func TestAddCourseErrors(t *testing.T) {
	ts := newTestServer(t, "", false)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{nope`, http.StatusBadRequest},
		{"array", `[1,2]`, http.StatusBadRequest},
		{"missing fields", `{"course_code":"X1"}`, http.StatusBadRequest},
		{"syllabus without code", `{"basic_info":{"course_name_cn":"x"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.do(http.MethodPost, "/api/courses", tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %v", tt.status, resp.StatusCode, out)
			}
			if out["error"] == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestNotFoundAndBadIDs(t *testing.T) {
	ts := newTestServer(t, "", false)

	tests := []struct {
		path   string
		status int
	}{
		{"/api/courses/99", http.StatusNotFound},
		{"/api/courses/abc", http.StatusBadRequest},
		{"/api/courses/0", http.StatusBadRequest},
		{"/api/exams/99", http.StatusNotFound},
		{"/api/exams/99/download", http.StatusNotFound},
		{"/api/courses/99/export", http.StatusNotFound},
		{"/api/usage?limit=-1", http.StatusBadRequest},
		{"/api/stats?course_id=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, _ := ts.do(http.MethodGet, tt.path, "", nil)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestBadQueryParameters(t *testing.T) {
	ts := newTestServer(t, "", false)

	for _, path := range []string{"/api/usage?limit=-1", "/api/usage?limit=ten", "/api/stats?course_id=x"} {
		t.Run(path, func(t *testing.T) {
			resp, out := ts.do(http.MethodGet, path, "", nil)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if out["error"] != "Query parameter must be a non-negative integer or boolean." {
				t.Errorf("error = %v", out["error"])
			}
		})
	}

	resp, out := ts.do(http.MethodGet, "/api/courses/abc", "", nil)
	if resp.StatusCode != http.StatusBadRequest || out["error"] != "The identifier must be a positive integer." {
		t.Errorf("path ID: %d %v", resp.StatusCode, out)
	}
}

func TestLocalizedErrors(t *testing.T) {
	ts := newTestServer(t, "", false)

	_, out := ts.do(http.MethodGet, "/api/courses/99", "", map[string]string{"Accept-Language": "zh-CN"})
	if out["error"] != "请求的记录不存在。" || out["kind"] != "not_found" {
		t.Errorf("unexpected zh error: %v", out)
	}
	_, out = ts.do(http.MethodGet, "/api/courses/99", "", nil)
	if out["error"] != "The requested record does not exist." {
		t.Errorf("unexpected en error: %v", out)
	}
}

func TestImportExam(t *testing.T) {
	ts := newTestServer(t, "", false)
	id := ts.addCourse()

	// Bare document: stored as imported, question rows cascade.
	resp, out := ts.do(http.MethodPost, "/api/courses/1/exams", practiceReply, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import: status %d: %v", resp.StatusCode, out)
	}
	examID := int64(out["exam_id"].(float64))
	exam, err := ts.store.GetExam(context.Background(), examID)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if exam.ExamType != model.ExamImported || exam.CourseID != id {
		t.Errorf("unexpected exam: %+v", exam)
	}

	// Wrapped record keeps its type and metadata.
	wrapped := `{"exam_type":"lab","exam_content":{"experiment":{"title":"排序实验"}},"chapters":["第三章"],"creator":"t1"}`
	resp, out = ts.do(http.MethodPost, "/api/courses/1/exams", wrapped, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("import wrapped: status %d: %v", resp.StatusCode, out)
	}

	resp, out = ts.do(http.MethodGet, "/api/courses/1/exams", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exams: status %d", resp.StatusCode)
	}
	exams := out["exams"].([]any)
	if len(exams) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(exams))
	}
	if exams[0].(map[string]any)["exam_type"] != "lab" {
		t.Errorf("newest exam should be first: %v", exams[0])
	}

	resp, out = ts.do(http.MethodGet, "/api/courses/1/questions?type="+url.QueryEscape("判断题"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("questions: status %d", resp.StatusCode)
	}
	if qs := out["questions"].([]any); len(qs) != 1 {
		t.Errorf("expected 1 filtered question, got %d", len(qs))
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"unknown course", "/api/courses/99/exams", `{"a":1}`, http.StatusNotFound},
		{"bad type", "/api/courses/1/exams", `{"exam_type":"quiz","exam_content":{}}`, http.StatusBadRequest},
		{"bad question item", "/api/courses/1/exams", `{"questions":[{"type":"选择题"}]}`, http.StatusBadRequest},
		{"invalid json", "/api/courses/1/exams", `{"questions":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.do(http.MethodPost, tt.path, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %v", tt.status, resp.StatusCode, out)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	ts := newTestServer(t, "", true)
	ts.addCourse()

	resp, out := ts.do(http.MethodPost, "/api/courses/1/generate",
		`{"exam_type":"practice","num_questions":2,"chapters":["第二章"]}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("generate: status %d: %v", resp.StatusCode, out)
	}
	if out["generation_id"] == "" || out["questions"].(float64) != 2 {
		t.Errorf("unexpected result: %v", out)
	}
	if !strings.Contains(out["message"].(string), "2 questions generated.") {
		t.Errorf("message = %v", out["message"])
	}

	resp, out = ts.do(http.MethodGet, "/api/usage?course_id=1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("usage: status %d", resp.StatusCode)
	}
	logs := out["usage"].([]any)
	if len(logs) != 1 || logs[0].(map[string]any)["result_status"] != "success" {
		t.Errorf("unexpected usage: %v", logs)
	}

	resp, out = ts.do(http.MethodGet, "/api/stats", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status %d", resp.StatusCode)
	}
	if stats := out["statistics"].([]any); len(stats) != 1 {
		t.Errorf("expected 1 stats row, got %v", stats)
	}

	// A lab request gets a question list back, which is the wrong shape.
	resp, out = ts.do(http.MethodPost, "/api/courses/1/generate", `{"exam_type":"lab"}`, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("wrong shape: expected 502, got %d: %v", resp.StatusCode, out)
	}
	for _, body := range []string{`{"exam_type":"imported"}`, `{"exam_type":"quiz"}`, `{}`} {
		resp, out = ts.do(http.MethodPost, "/api/courses/1/generate", body, nil)
		if resp.StatusCode != http.StatusBadRequest || out["kind"] != "invalid_input" {
			t.Errorf("%s: expected 400 invalid_input, got %d %v", body, resp.StatusCode, out)
		}
		if detail, _ := out["detail"].(string); !strings.Contains(detail, "cannot be generated") {
			t.Errorf("%s: detail = %v", body, out["detail"])
		}
	}

	// Rejected types never reach the generator, so only the two attempts
	// above are logged.
	_, out = ts.do(http.MethodGet, "/api/usage?course_id=1", "", nil)
	if logs := out["usage"].([]any); len(logs) != 2 {
		t.Errorf("expected 2 usage logs, got %d", len(logs))
	}
}

func TestGenerateDisabled(t *testing.T) {
	ts := newTestServer(t, "", false)
	ts.addCourse()

	resp, out := ts.do(http.MethodPost, "/api/courses/1/generate", `{"exam_type":"practice"}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %v", resp.StatusCode, out)
	}
}

func TestDownloads(t *testing.T) {
	ts := newTestServer(t, "", false)
	ts.addCourse()
	ts.do(http.MethodPost, "/api/courses/1/exams", practiceReply, nil)

	resp, out := ts.do(http.MethodGet, "/api/exams/1/download", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: status %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="imported_exam_1.json"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if _, ok := out["exam_content"].(map[string]any)["questions"]; !ok {
		t.Errorf("download missing content: %v", out)
	}

	resp, out = ts.do(http.MethodGet, "/api/courses/1/export", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "course_CS101_export.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if qs := out["questions"].([]any); len(qs) != 2 {
		t.Errorf("export should hold 2 questions, got %d", len(qs))
	}
}

func TestRequireAdmin(t *testing.T) {
	ts := newTestServer(t, "s3cret", false)

	resp, out := ts.do(http.MethodPost, "/api/courses", courseBody, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no credentials: expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" || out["error"] != "Authentication required." {
		t.Errorf("unexpected 401 response: %v", out)
	}

	tests := []struct {
		name   string
		user   string
		pass   string
		status int
	}{
		{"wrong password", "admin", "nope", http.StatusUnauthorized},
		{"wrong user", "root", "s3cret", http.StatusUnauthorized},
		{"valid", "admin", "s3cret", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/courses", strings.NewReader(courseBody))
			req.SetBasicAuth(tt.user, tt.pass)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}

	// Reads stay open.
	resp, _ = ts.do(http.MethodGet, "/api/courses", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("read route: expected 200, got %d", resp.StatusCode)
	}
}

// syllabusLLM answers each syllabus step by the JSON shape its system prompt
// asks for.
type syllabusLLM struct{}

func (syllabusLLM) CompleteJSON(_ context.Context, system, _ string) (json.RawMessage, error) {
	replies := map[string]string{
		"goals": `{"goals":["CG1 专业知识-L2 掌握排序算法"]}`,
		"introduction": `{"introduction":{"position":"专业核心课"},"objectives":["1. 知识目标：掌握排序"],
"textbooks":{"main":["《算法》"]},"objectives_mapping":[{"objective":"1. 知识目标：掌握排序","requirements":["K1"]}]}`,
		"schedule":         `{"schedule":[{"chapter":"1. 排序","content":["快速排序"],"requirements":["掌握快排"],"hours":"4/0"}]}`,
		"assessment_items": `{"assessment_items":[{"type":"期末考试","percentage":100,"objectives":["1"]}]}`,
	}
	for key, reply := range replies {
		if strings.Contains(system, `{"`+key+`"`) {
			return json.RawMessage(reply), nil
		}
	}
	return nil, fmt.Errorf("unexpected prompt: %s", system)
}

const syllabusInfoBody = `{"basic_info":{"course_name_cn":"算法设计","course_code":"CS301","department":"计算机学院",
"major":"软件工程","course_type":"专业必修课","credits":2,"theory_hours":4,"exam_type":"考试"}}`

func TestGenerateSyllabus(t *testing.T) {
	ts := newTestServerWith(t, "", syllabusLLM{})

	resp, out := ts.do(http.MethodPost, "/api/syllabus/generate", syllabusInfoBody, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: status %d: %v", resp.StatusCode, out)
	}
	if out["message"] != "Syllabus for course CS301 generated." {
		t.Errorf("message = %v", out["message"])
	}
	if _, ok := out["course_id"]; ok {
		t.Error("course registered without register=true")
	}
	syl, err := json.Marshal(out["syllabus"])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := model.ParseSyllabus(syl)
	if err != nil {
		t.Fatalf("ParseSyllabus: %v", err)
	}
	if got := parsed.Chapters(); len(got) != 1 || got[0] != "1. 排序" {
		t.Errorf("chapters = %v", got)
	}
	if n, _ := ts.store.CourseCount(context.Background()); n != 0 {
		t.Errorf("expected no courses, got %d", n)
	}

	resp, out = ts.do(http.MethodPost, "/api/syllabus/generate?register=true", syllabusInfoBody, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d: %v", resp.StatusCode, out)
	}
	if !strings.Contains(out["message"].(string), "Course CS301 added.") {
		t.Errorf("message = %v", out["message"])
	}
	c, err := ts.store.GetCourseByCode(context.Background(), "CS301")
	if err != nil {
		t.Fatalf("GetCourseByCode: %v", err)
	}
	if int64(out["course_id"].(float64)) != c.ID || c.NameCN != "算法设计" || c.Credits != 2 {
		t.Errorf("unexpected course %+v for %v", c, out["course_id"])
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"already registered", "/api/syllabus/generate?register=1", syllabusInfoBody, http.StatusConflict},
		{"bad register flag", "/api/syllabus/generate?register=maybe", syllabusInfoBody, http.StatusBadRequest},
		{"missing fields", "/api/syllabus/generate", `{"course_code":"CS302"}`, http.StatusBadRequest},
		{"hours do not add up", "/api/syllabus/generate", `{"course_name_cn":"编译原理","course_code":"CS302","department":"计算机学院",
"major":"软件工程","course_type":"专业必修课","total_hours":10,"theory_hours":4}`, http.StatusBadRequest},
		{"not an object", "/api/syllabus/generate", `[1]`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := ts.do(http.MethodPost, tt.path, tt.body, nil)
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d: %v", tt.status, resp.StatusCode, out)
			}
		})
	}
}

func TestGenerateSyllabusDisabled(t *testing.T) {
	ts := newTestServer(t, "", false)
	resp, out := ts.do(http.MethodPost, "/api/syllabus/generate", syllabusInfoBody, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %v", resp.StatusCode, out)
	}
}
