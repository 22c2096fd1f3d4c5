package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examdb/internal/generator"
	appI18n "github.com/pavelanni/examdb/internal/i18n"
	"github.com/pavelanni/examdb/internal/store"
)

const maxBodyBytes = 10 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store     *store.Store
	gen       *generator.Generator
	adminHash []byte
}

// New creates a new Handler. gen may be nil, which disables generation.
// An empty adminPassword leaves write routes open.
func New(s *store.Store, gen *generator.Generator, adminPassword string) (*Handler, error) {
	h := &Handler{store: s, gen: gen}
	if adminPassword != "" {
		hash, err := hashPassword(adminPassword)
		if err != nil {
			return nil, err
		}
		h.adminHash = hash
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/courses", h.handleListCourses)
		r.Get("/courses/{courseID}", h.handleGetCourse)
		r.Get("/courses/{courseID}/exams", h.handleCourseExams)
		r.Get("/courses/{courseID}/questions", h.handleQuestionBank)
		r.Get("/courses/{courseID}/export", h.handleExportCourse)
		r.Get("/exams/{examID}", h.handleGetExam)
		r.Get("/exams/{examID}/download", h.handleDownloadExam)
		r.Get("/stats", h.handleStats)
		r.Get("/usage", h.handleUsage)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/courses", h.handleAddCourse)
			r.Post("/courses/{courseID}/exams", h.handleImportExam)
			r.Post("/courses/{courseID}/generate", h.handleGenerate)
			r.Post("/syllabus/generate", h.handleGenerateSyllabus)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.CourseCount(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"app":        appI18n.T(r.Context(), "AppTitle"),
		"status":     "ok",
		"courses":    n,
		"generation": h.gen != nil,
	})
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.store.ListCourses(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courses": orEmpty(courses)})
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	course, err := h.store.GetCourse(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	count, err := h.store.QuestionCount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"course": course, "question_count": count})
}

func (h *Handler) handleCourseExams(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	exams, err := h.store.CourseExams(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exams": orEmpty(exams)})
}

func (h *Handler) handleQuestionBank(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	questions, err := h.store.QuestionBank(r.Context(), id, r.URL.Query().Get("type"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": orEmpty(questions)})
}

func (h *Handler) handleExportCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	export, err := h.store.ExportCourse(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeDownload(w, fmt.Sprintf("course_%s_export.json", export.Course.Code), export)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "examID")
	if !ok {
		return
	}
	exam, err := h.store.GetExam(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exam)
}

func (h *Handler) handleDownloadExam(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "examID")
	if !ok {
		return
	}
	exam, err := h.store.GetExam(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeDownload(w, fmt.Sprintf("%s_exam_%d.json", exam.ExamType, exam.ID), exam)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	courseID, ok := h.queryInt(w, r, "course_id")
	if !ok {
		return
	}
	stats, err := h.store.UsageStatistics(r.Context(), int64(courseID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"statistics": orEmpty(stats)})
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	courseID, ok := h.queryInt(w, r, "course_id")
	if !ok {
		return
	}
	limit, ok := h.queryInt(w, r, "limit")
	if !ok {
		return
	}
	logs, err := h.store.ListUsageLogs(r.Context(), int64(courseID), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": orEmpty(logs)})
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// writeError maps err to a status code and a localized message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var msgID string
	kind := store.KindOf(err)

	switch {
	case errors.Is(err, generator.ErrBadResponse):
		status, msgID = http.StatusBadGateway, "ErrBadResponse"
	case kind == store.KindNotFound:
		status, msgID = http.StatusNotFound, "ErrNotFound"
	case kind == store.KindConflict:
		status, msgID = http.StatusConflict, "ErrConflict"
	case kind == store.KindForeignKey:
		status, msgID = http.StatusUnprocessableEntity, "ErrForeignKey"
	case kind == store.KindInvalidInput:
		status, msgID = http.StatusBadRequest, "ErrInvalidInput"
	case kind == store.KindUnavailable:
		status, msgID = http.StatusServiceUnavailable, "ErrUnavailable"
	default:
		status, msgID = http.StatusInternalServerError, "ErrInternal"
	}

	body := errorBody{Error: appI18n.T(r.Context(), msgID), Kind: kind.String()}
	if status < http.StatusInternalServerError || status == http.StatusBadGateway {
		body.Detail = err.Error()
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

// writeMessage writes an error response for failures that did not come from
// the store.
func writeMessage(w http.ResponseWriter, r *http.Request, status int, msgID, detail string) {
	writeJSON(w, status, errorBody{
		Error:  appI18n.T(r.Context(), msgID),
		Detail: detail,
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadID", name)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter.
func (h *Handler) queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadQuery", name)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeDownload(w http.ResponseWriter, filename string, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Error("encode download", "file", filename, "error", err)
	}
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Compile-time check that the store satisfies the generator's needs.
var _ generator.Store = (*store.Store)(nil)
