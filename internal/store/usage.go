package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/pavelanni/examdb/internal/model"
)

// LogUsage appends one usage record. Missing params are stored as {}.
func (s *Store) LogUsage(ctx context.Context, u model.UsageLog) (int64, error) {
	if err := model.Validate(u); err != nil {
		return 0, invalid(err)
	}
	params := u.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	if !json.Valid(params) {
		return 0, invalid(errors.New("generation_params is not valid JSON"))
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (course_id, exam_type, generation_params, result_status, created_at, ip_address)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.CourseID, u.ExamType, string(params), u.ResultStatus, time.Now().UTC(), nullString(u.IPAddress),
	)
	if err != nil {
		slog.Error("failed to log usage", "course_id", u.CourseID, "error", err)
		return 0, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}
	slog.Debug("logged usage", "log_id", id, "course_id", u.CourseID, "result", u.ResultStatus)
	return id, nil
}

// ListUsageLogs returns usage records newest first. courseID 0 means all
// courses; limit <= 0 means no limit.
func (s *Store) ListUsageLogs(ctx context.Context, courseID int64, limit int) ([]model.UsageLog, error) {
	query := `SELECT log_id, course_id, exam_type, COALESCE(generation_params, '{}'),
			COALESCE(result_status, ''), created_at, COALESCE(ip_address, '')
		FROM usage_logs WHERE 1=1`
	var args []any
	if courseID != 0 {
		query += ` AND course_id = ?`
		args = append(args, courseID)
	}
	query += ` ORDER BY created_at DESC, log_id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	var logs []model.UsageLog
	for rows.Next() {
		var (
			u      model.UsageLog
			params string
		)
		if err := rows.Scan(&u.ID, &u.CourseID, &u.ExamType, &params, &u.ResultStatus, &u.CreatedAt, &u.IPAddress); err != nil {
			return nil, mapError(err)
		}
		u.Params = json.RawMessage(params)
		logs = append(logs, u)
	}
	return logs, mapError(rows.Err())
}
