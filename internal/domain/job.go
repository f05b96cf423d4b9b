package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// JobType is the kind of table sync a job performs.
type JobType string

// Job type constants.
const (
	JobTypeFull        JobType = "full"
	JobTypeIncremental JobType = "incremental"
	JobTypeUnknown     JobType = "unknown"
)

var jobTypeDisplay = map[JobType]Display{
	JobTypeFull:        {Label: "Full sync", Symbol: "⇊"},
	JobTypeIncremental: {Label: "Incremental sync", Symbol: "↓"},
}

// ParseJobType maps an engine type tag to a JobType. Anything that is not a
// known tag becomes JobTypeUnknown.
func ParseJobType(s string) JobType {
	switch JobType(strings.ToLower(strings.TrimSpace(s))) {
	case JobTypeFull:
		return JobTypeFull
	case JobTypeIncremental:
		return JobTypeIncremental
	default:
		return JobTypeUnknown
	}
}

// JobTypeFor returns the type a run-now request with the given flag creates.
func JobTypeFor(incremental bool) JobType {
	if incremental {
		return JobTypeIncremental
	}
	return JobTypeFull
}

// Display returns the presentation metadata for t, falling back to the
// unknown variant.
func (t JobType) Display() Display {
	if d, ok := jobTypeDisplay[t]; ok {
		return d
	}
	return Display{Label: "Sync", Symbol: "·"}
}

// Job is one workflow execution as seen by the client.
type Job struct {
	ID            string
	RunID         string
	Type          JobType
	Status        Status
	Table         string
	StartTime     time.Time
	CloseTime     *time.Time
	FailureReason *string
	Schedule      *Schedule
}

// Normalize returns a copy of j with fields that must be absent for its
// status removed: close time on a non-terminal job, failure reason on a job
// that is not FAILED. The attached schedule is normalized too.
func (j Job) Normalize() Job {
	if !j.Status.IsTerminal() {
		j.CloseTime = nil
	}
	if j.Status != StatusFailed {
		j.FailureReason = nil
	}
	if j.Schedule != nil {
		s := j.Schedule.Normalize()
		j.Schedule = &s
	}
	return j
}

// Validate reports violations of the close-time and failure-reason
// invariants.
func (j Job) Validate() error {
	if j.ID == "" {
		return ErrValidation("job id is required")
	}
	if j.Status.IsTerminal() != (j.CloseTime != nil) {
		return ErrValidation("job %s: close time must be set iff status is terminal (status %s)", j.ID, j.Status)
	}
	if (j.Status == StatusFailed) != (j.FailureReason != nil) {
		return ErrValidation("job %s: failure reason must be set iff status is FAILED (status %s)", j.ID, j.Status)
	}
	return nil
}

// Duration returns how long the job ran: start..close once closed, otherwise
// start..now.
func (j Job) Duration(now time.Time) time.Duration {
	end := now
	if j.CloseTime != nil {
		end = *j.CloseTime
	}
	d := end.Sub(j.StartTime)
	if d < 0 {
		return 0
	}
	return d
}

// FormatDuration renders d as "1h 2m 3s", "2m 3s" or "3s".
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	mins := secs / 60
	hours := mins / 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins%60, secs%60)
	case mins > 0:
		return fmt.Sprintf("%dm %ds", mins, secs%60)
	default:
		return fmt.Sprintf("%ds", secs)
	}
}

// Schedule is a recurring trigger bound to a table.
type Schedule struct {
	ID          string
	CronExpr    string
	IsActive    bool
	LastRunTime *time.Time
	NextRunTime *time.Time
}

// Normalize returns a copy of s whose next run time is cleared when the
// schedule is paused. A paused schedule keeps its cron expression and last
// run time.
func (s Schedule) Normalize() Schedule {
	if !s.IsActive {
		s.NextRunTime = nil
	}
	return s
}

// ScheduleSpec holds parameters for creating a schedule.
type ScheduleSpec struct {
	Table    string
	CronExpr string
	IsActive bool
}

// DefaultCronExpr is used when a schedule is created without an expression.
const DefaultCronExpr = "* * * * *"

// Validate checks that the schedule request is well-formed. Cron syntax is
// checked by the caller against a five-field parser.
func (s *ScheduleSpec) Validate() error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrValidation("table is required")
	}
	if n := len(strings.Fields(s.CronExpr)); n != 5 {
		return ErrValidation("cron expression must have five fields, got %d", n)
	}
	return nil
}

// HistoryEvent is one entry in a job's execution trace.
type HistoryEvent struct {
	EventID   int64
	EventTime time.Time
	EventType string
	Details   json.RawMessage
}

// SortHistory returns events ordered by EventID ascending with duplicate
// ids collapsed to the last occurrence.
func SortHistory(events []HistoryEvent) []HistoryEvent {
	byID := make(map[int64]HistoryEvent, len(events))
	for _, e := range events {
		byID[e.EventID] = e
	}
	out := make([]HistoryEvent, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].EventID < out[k].EventID })
	return out
}

// JobStatus is the detail view of one job: its status snapshot and history.
type JobStatus struct {
	Job     Job
	History []HistoryEvent
}

// RunRef identifies the workflow execution a run-now or retry started.
type RunRef struct {
	WorkflowID   string
	RunID        string
	WorkflowType string
}

// PendingActionKind is the kind of mutation awaiting confirmation.
type PendingActionKind string

// Pending action kinds.
const (
	PendingCancel PendingActionKind = "CANCEL"
	PendingRetry  PendingActionKind = "RETRY"
)

// PendingAction marks a mutation the client issued but has not yet seen
// reflected in an authoritative fetch. It is never persisted.
type PendingAction struct {
	JobID       string
	Kind        PendingActionKind
	RequestedAt time.Time
	// SettledAt is set once the mutation call returned successfully.
	SettledAt *time.Time
}

// Session describes the authenticated principal behind the current session.
type Session struct {
	UserID      string
	WorkspaceID string
	ExpiresAt   *time.Time
}
