package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavelanni/examdb/internal/generator"
	appI18n "github.com/pavelanni/examdb/internal/i18n"
	"github.com/pavelanni/examdb/internal/llm/prompts"
	"github.com/pavelanni/examdb/internal/model"
	"github.com/pavelanni/examdb/internal/store"
)

// readBody reads a JSON request body up to maxBodyBytes. It writes the error
// response itself and reports whether the caller may continue.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, r, http.StatusRequestEntityTooLarge, "ErrInvalidInput", "request body too large")
			return nil, false
		}
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", err.Error())
		return nil, false
	}
	if !json.Valid(data) {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", "")
		return nil, false
	}
	return data, true
}

// handleAddCourse registers a course. The body is either a course object or
// a full syllabus document with a basic_info block.
func (h *Handler) handleAddCourse(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", "expected an object")
		return
	}

	var course model.Course
	if _, isSyllabus := fields["basic_info"]; isSyllabus {
		syl, err := model.ParseSyllabus(data)
		if err != nil {
			writeMessage(w, r, http.StatusBadRequest, "ErrInvalidInput", err.Error())
			return
		}
		course = syl.Course()
	} else if err := json.Unmarshal(data, &course); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", err.Error())
		return
	}

	id, err := h.store.AddCourse(r.Context(), course)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"course_id": id,
		"message":   appI18n.Td(r.Context(), "CourseAdded", map[string]any{"Code": course.Code}),
	})
}

// handleImportExam stores an uploaded exam. A body with an exam_content key
// is read as an exam record; any other JSON document is the content itself.
func (h *Handler) handleImportExam(w http.ResponseWriter, r *http.Request) {
	courseID, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	exam := model.Exam{Content: data}
	var fields map[string]json.RawMessage
	if json.Unmarshal(data, &fields) == nil {
		if _, wrapped := fields["exam_content"]; wrapped {
			exam = model.Exam{}
			if err := json.Unmarshal(data, &exam); err != nil {
				writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", err.Error())
				return
			}
		}
	}
	exam.CourseID = courseID
	if exam.ExamType == "" {
		exam.ExamType = model.ExamImported
	}

	if _, err := h.store.GetCourse(r.Context(), courseID); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.store.SaveExam(r.Context(), exam)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("imported exam via API", "exam_id", id, "course_id", courseID, "exam_type", exam.ExamType)
	writeJSON(w, http.StatusCreated, map[string]any{
		"exam_id": id,
		"message": appI18n.Td(r.Context(), "ExamSaved", map[string]any{"ID": id}),
	})
}

type generateResponse struct {
	generator.Result
	Message string `json:"message"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "ErrLLMDisabled", "")
		return
	}
	courseID, ok := h.pathID(w, r, "courseID")
	if !ok {
		return
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	var req generator.Request
	if err := json.Unmarshal(data, &req); err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", err.Error())
		return
	}
	if !prompts.Supported(req.ExamType) {
		h.writeError(w, r, fmt.Errorf("%w: exam type %q cannot be generated", store.ErrInvalidInput, req.ExamType))
		return
	}
	req.CourseID = courseID
	req.IPAddress = clientIP(r)

	res, err := h.gen.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := appI18n.Td(r.Context(), "ExamSaved", map[string]any{"ID": res.ExamID})
	if res.Questions > 0 {
		msg = fmt.Sprintf("%s %s", msg, appI18n.Tp(r.Context(), "QuestionsGenerated", res.Questions))
	}
	writeJSON(w, http.StatusCreated, generateResponse{Result: res, Message: msg})
}

type syllabusResponse struct {
	generator.SyllabusResult
	CourseID int64  `json:"course_id,omitempty"`
	Message  string `json:"message"`
}

// handleGenerateSyllabus writes a course outline from basic course
// information. With ?register=true the course is also added; an existing
// course code is rejected before any LLM call.
func (h *Handler) handleGenerateSyllabus(w http.ResponseWriter, r *http.Request) {
	if h.gen == nil {
		writeMessage(w, r, http.StatusServiceUnavailable, "ErrLLMDisabled", "")
		return
	}
	register := false
	if s := r.URL.Query().Get("register"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			writeMessage(w, r, http.StatusBadRequest, "ErrBadQuery", "register")
			return
		}
		register = b
	}
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	info, err := model.ParseSyllabusInfo(data)
	if err != nil {
		writeMessage(w, r, http.StatusBadRequest, "ErrBadJSON", err.Error())
		return
	}

	code := strings.TrimSpace(info.CourseCode)
	if register && code != "" {
		_, err := h.store.GetCourseByCode(r.Context(), code)
		if err == nil {
			h.writeError(w, r, fmt.Errorf("%w: course %s already exists", store.ErrConflict, code))
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			h.writeError(w, r, err)
			return
		}
	}

	res, err := h.gen.GenerateSyllabus(r.Context(), info)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := syllabusResponse{
		SyllabusResult: res,
		Message:        appI18n.Td(r.Context(), "SyllabusGenerated", map[string]any{"Code": code}),
	}
	if !register {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	course := res.Syllabus.Course()
	id, err := h.store.AddCourse(r.Context(), course)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp.CourseID = id
	resp.Message = fmt.Sprintf("%s %s", resp.Message, appI18n.Td(r.Context(), "CourseAdded", map[string]any{"Code": course.Code}))
	writeJSON(w, http.StatusCreated, resp)
}

// clientIP strips the port from RemoteAddr, which middleware.RealIP may have
// already replaced with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
