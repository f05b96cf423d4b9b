package workflowapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"syncloop/internal/domain"
)

// Wire types for the engine's /api/v1 JSON contract.

type jobsResponse struct {
	Jobs []jobWire `json:"jobs"`
}

type jobWire struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id,omitempty"`
	Type          string        `json:"type"`
	Status        string        `json:"status"`
	Table         string        `json:"table"`
	StartTime     time.Time     `json:"start_time"`
	CloseTime     *time.Time    `json:"close_time,omitempty"`
	FailureReason *string       `json:"failure_reason,omitempty"`
	Schedule      *scheduleWire `json:"schedule,omitempty"`
}

type scheduleWire struct {
	ID          string     `json:"id"`
	CronExpr    string     `json:"cron_expr"`
	IsActive    bool       `json:"is_active"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

type statusResponse struct {
	WorkflowID    string          `json:"workflow_id"`
	RunID         string          `json:"run_id,omitempty"`
	Type          string          `json:"type,omitempty"`
	Status        string          `json:"status"`
	Table         string          `json:"table,omitempty"`
	StartTime     time.Time       `json:"start_time"`
	CloseTime     *time.Time      `json:"close_time,omitempty"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	History       json.RawMessage `json:"history,omitempty"`
}

type historyEventWire struct {
	EventID   int64           `json:"event_id"`
	EventTime time.Time       `json:"event_time"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type runNowRequest struct {
	Table       string `json:"table"`
	Incremental bool   `json:"incremental"`
}

type runResponse struct {
	WorkflowID   string `json:"workflow_id"`
	RunID        string `json:"run_id"`
	WorkflowType string `json:"workflow_type,omitempty"`
}

type cancelRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type retryRequest struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

type createScheduleRequest struct {
	Table    string `json:"table"`
	CronExpr string `json:"cron_expr"`
	IsActive bool   `json:"is_active"`
}

type createScheduleResponse struct {
	ScheduleID string `json:"schedule_id"`
	ID         string `json:"id"`
	Message    string `json:"message,omitempty"`
}

type toggleScheduleRequest struct {
	ScheduleID string `json:"schedule_id"`
	Pause      bool   `json:"pause"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Workspace struct {
		ID string `json:"id"`
	} `json:"workspace"`
}

type meResponse struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

// missingFailureReason stands in when the engine reports FAILED without a
// reason, so the failure-reason invariant holds.
const missingFailureReason = "no failure reason reported"

func (w jobWire) toDomain() domain.Job {
	j := domain.Job{
		ID:            w.ID,
		RunID:         w.RunID,
		Type:          domain.ParseJobType(w.Type),
		Status:        domain.ParseStatus(w.Status),
		Table:         w.Table,
		StartTime:     w.StartTime,
		CloseTime:     nonZero(w.CloseTime),
		FailureReason: w.FailureReason,
	}
	if w.Schedule != nil {
		s := w.Schedule.toDomain()
		j.Schedule = &s
	}
	return fillFailureReason(j).Normalize()
}

func (w scheduleWire) toDomain() domain.Schedule {
	return domain.Schedule{
		ID:          w.ID,
		CronExpr:    w.CronExpr,
		IsActive:    w.IsActive,
		LastRunTime: nonZero(w.LastRunTime),
		NextRunTime: nonZero(w.NextRunTime),
	}
}

func (w statusResponse) toDomain() (*domain.JobStatus, error) {
	history, err := decodeHistory(w.History)
	if err != nil {
		return nil, err
	}
	j := domain.Job{
		ID:            w.WorkflowID,
		RunID:         w.RunID,
		Type:          domain.ParseJobType(w.Type),
		Status:        domain.ParseStatus(w.Status),
		Table:         w.Table,
		StartTime:     w.StartTime,
		CloseTime:     nonZero(w.CloseTime),
		FailureReason: w.FailureReason,
	}
	return &domain.JobStatus{
		Job:     fillFailureReason(j).Normalize(),
		History: history,
	}, nil
}

var errHistoryShape = errors.New("history must be a JSON array")

// decodeHistory accepts only an array (or an absent/null field). Any other
// shape is rejected rather than guessed at.
func decodeHistory(raw json.RawMessage) ([]domain.HistoryEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []domain.HistoryEvent{}, nil
	}
	if trimmed[0] != '[' {
		return nil, errHistoryShape
	}
	var events []historyEventWire
	if err := json.Unmarshal(trimmed, &events); err != nil {
		return nil, err
	}
	out := make([]domain.HistoryEvent, len(events))
	for i, e := range events {
		out[i] = domain.HistoryEvent{
			EventID:   e.EventID,
			EventTime: e.EventTime,
			EventType: e.EventType,
			Details:   e.Details,
		}
	}
	return domain.SortHistory(out), nil
}

func fillFailureReason(j domain.Job) domain.Job {
	if j.Status == domain.StatusFailed && (j.FailureReason == nil || *j.FailureReason == "") {
		reason := missingFailureReason
		j.FailureReason = &reason
	}
	return j
}

// nonZero maps the engine's zero timestamps ("0001-01-01T00:00:00Z") to nil.
func nonZero(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := *t
	return &v
}
