package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"syncloop/internal/domain"
	"syncloop/internal/service/jobs"
)

const timeLayout = "2006-01-02 15:04:05"

type sessionJSON struct {
	UserID      string     `json:"user_id"`
	WorkspaceID string     `json:"workspace_id"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toSessionJSON(s *domain.Session) sessionJSON {
	return sessionJSON{UserID: s.UserID, WorkspaceID: s.WorkspaceID, ExpiresAt: s.ExpiresAt}
}

type scheduleJSON struct {
	ID          string     `json:"id"`
	CronExpr    string     `json:"cron_expr"`
	IsActive    bool       `json:"is_active"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
}

func toScheduleJSON(s *domain.Schedule) *scheduleJSON {
	if s == nil {
		return nil
	}
	return &scheduleJSON{
		ID:          s.ID,
		CronExpr:    s.CronExpr,
		IsActive:    s.IsActive,
		LastRunTime: s.LastRunTime,
		NextRunTime: s.NextRunTime,
	}
}

type jobJSON struct {
	ID              string        `json:"id"`
	RunID           string        `json:"run_id,omitempty"`
	Type            string        `json:"type"`
	Status          string        `json:"status"`
	Table           string        `json:"table"`
	StartTime       time.Time     `json:"start_time"`
	CloseTime       *time.Time    `json:"close_time,omitempty"`
	DurationSeconds float64       `json:"duration_seconds"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	Schedule        *scheduleJSON `json:"schedule,omitempty"`
	Stopping        bool          `json:"stopping,omitempty"`
	Retrying        bool          `json:"retrying,omitempty"`
	CancelUnknown   bool          `json:"cancel_unknown,omitempty"`
	Actions         []string      `json:"actions"`
}

func toJobJSON(jv jobs.JobView, now time.Time) jobJSON {
	actions := make([]string, 0, len(jv.Actions))
	for _, a := range jv.Actions {
		actions = append(actions, string(a))
	}
	return jobJSON{
		ID:              jv.ID,
		RunID:           jv.RunID,
		Type:            string(jv.Type),
		Status:          string(jv.Status),
		Table:           jv.Table,
		StartTime:       jv.StartTime,
		CloseTime:       jv.CloseTime,
		DurationSeconds: jv.Duration(now).Seconds(),
		FailureReason:   jv.FailureReason,
		Schedule:        toScheduleJSON(jv.Schedule),
		Stopping:        jv.Stopping,
		Retrying:        jv.Retrying,
		CancelUnknown:   jv.CancelUnknown,
		Actions:         actions,
	}
}

type historyJSON struct {
	EventID   int64           `json:"event_id"`
	EventTime time.Time       `json:"event_time"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
}

type detailJSON struct {
	jobJSON
	NotFound bool          `json:"not_found,omitempty"`
	History  []historyJSON `json:"history"`
}

func toDetailJSON(d jobs.DetailView, now time.Time) detailJSON {
	out := detailJSON{
		jobJSON:  toJobJSON(d.JobView, now),
		NotFound: d.NotFound,
		History:  make([]historyJSON, 0, len(d.History)),
	}
	for _, e := range d.History {
		out.History = append(out.History, historyJSON{
			EventID:   e.EventID,
			EventTime: e.EventTime,
			EventType: e.EventType,
			Details:   e.Details,
		})
	}
	return out
}

// statusCell renders the status with its in-flight markers.
func statusCell(jv jobs.JobView) string {
	d := jv.Status.Display()
	s := d.Symbol + " " + d.Label
	switch {
	case jv.Stopping:
		s += " (stopping)"
	case jv.Retrying:
		s += " (retrying)"
	case jv.CancelUnknown:
		s += " (cancel unconfirmed)"
	}
	return s
}

func scheduleCell(s *domain.Schedule) string {
	if s == nil {
		return "-"
	}
	if !s.IsActive {
		return s.CronExpr + " (paused)"
	}
	if s.NextRunTime != nil {
		return s.CronExpr + " next " + s.NextRunTime.Local().Format(timeLayout)
	}
	return s.CronExpr
}

func actionsCell(actions []jobs.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	parts := make([]string, len(actions))
	for i, a := range actions {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

var jobColumns = []string{"id", "type", "table", "status", "started", "duration", "schedule", "actions"}

func jobRow(jv jobs.JobView, now time.Time) []string {
	return []string{
		jv.ID,
		jv.Type.Display().Label,
		jv.Table,
		statusCell(jv),
		jv.StartTime.Local().Format(timeLayout),
		domain.FormatDuration(jv.Duration(now)),
		scheduleCell(jv.Schedule),
		actionsCell(jv.Actions),
	}
}

// printJobs renders the jobs of v, hiding cancelled and terminated ones
// unless all is set.
func printJobs(w io.Writer, format string, v jobs.View, all bool, now time.Time) error {
	visible := v.Visible()
	if all {
		visible = v.Jobs
	}
	if format == "json" {
		out := make([]jobJSON, 0, len(visible))
		for _, jv := range visible {
			out = append(out, toJobJSON(jv, now))
		}
		return PrintJSON(w, map[string]interface{}{
			"jobs":       out,
			"running":    v.Running,
			"fetched_at": v.FetchedAt,
		})
	}
	rows := make([][]string, 0, len(visible))
	for _, jv := range visible {
		rows = append(rows, jobRow(jv, now))
	}
	PrintTable(w, jobColumns, rows)
	return nil
}

// printDetail renders the detail page of one job.
func printDetail(w io.Writer, format string, d jobs.DetailView, now time.Time) error {
	if format == "json" {
		return PrintJSON(w, toDetailJSON(d, now))
	}
	if d.NotFound {
		_, _ = fmt.Fprintf(w, "Job %s not found\n", d.ID)
		return nil
	}

	fields := map[string]string{
		"ID":       d.ID,
		"Type":     d.Type.Display().Label,
		"Table":    d.Table,
		"Status":   statusCell(d.JobView),
		"Duration": domain.FormatDuration(d.Duration(now)),
		"Started":  d.StartTime.Local().Format(timeLayout),
		"Finished": "-",
		"Schedule": scheduleCell(d.Schedule),
	}
	order := []string{"ID"}
	if d.RunID != "" {
		fields["Run ID"] = d.RunID
		order = append(order, "Run ID")
	}
	order = append(order, "Type", "Table", "Status", "Duration", "Started", "Finished", "Schedule")
	if d.CloseTime != nil {
		fields["Finished"] = d.CloseTime.Local().Format(timeLayout)
	}
	if d.FailureReason != nil {
		fields["Failure"] = *d.FailureReason
		order = append(order, "Failure")
	}
	PrintDetail(w, fields, order...)

	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "History:")
	if len(d.History) == 0 {
		_, _ = fmt.Fprintln(w, "  (no events)")
		return nil
	}
	for _, e := range d.History {
		line := fmt.Sprintf("  %4d  %s  %s", e.EventID, e.EventTime.Local().Format(timeLayout), e.EventType)
		if len(e.Details) > 0 && string(e.Details) != "null" {
			line += "  " + string(e.Details)
		}
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}
