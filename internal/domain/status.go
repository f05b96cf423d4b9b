package domain

import "strings"

// Status is a workflow execution status as reported by the engine.
type Status string

// Job status constants. CANCELLED and CANCELED are both emitted by engines
// in the wild and are kept distinct so display policy can tell them apart.
const (
	StatusPending    Status = "PENDING"
	StatusRunning    Status = "RUNNING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusCanceled   Status = "CANCELED"
	StatusTerminated Status = "TERMINATED"
	StatusUnknown    Status = "UNKNOWN"
)

// AllStatuses lists every status the client understands, in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusCanceled,
	StatusTerminated,
}

const engineStatusPrefix = "WORKFLOW_EXECUTION_STATUS_"

// ParseStatus maps an engine status string to a Status. Matching is
// case-insensitive and tolerates the engine's enum prefix, so "Running",
// "running" and "WORKFLOW_EXECUTION_STATUS_RUNNING" are all RUNNING.
// Unrecognised values map to StatusUnknown.
func ParseStatus(s string) Status {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, engineStatusPrefix)
	for _, st := range AllStatuses {
		if Status(v) == st {
			return st
		}
	}
	return StatusUnknown
}

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusCanceled, StatusTerminated:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether s is either spelling of the cancelled state.
func (s Status) IsCancelled() bool {
	return s == StatusCancelled || s == StatusCanceled
}

// Transition is an allowed status change.
type Transition struct {
	From Status
	To   Status
}

// ValidTransitions enumerates PENDING → RUNNING → terminal. A job may also
// be observed jumping straight from PENDING to a terminal state when the
// client missed the RUNNING window between polls.
var ValidTransitions = []Transition{
	{From: StatusPending, To: StatusRunning},
	{From: StatusPending, To: StatusCompleted},
	{From: StatusPending, To: StatusFailed},
	{From: StatusPending, To: StatusCancelled},
	{From: StatusPending, To: StatusCanceled},
	{From: StatusPending, To: StatusTerminated},
	{From: StatusRunning, To: StatusCompleted},
	{From: StatusRunning, To: StatusFailed},
	{From: StatusRunning, To: StatusCancelled},
	{From: StatusRunning, To: StatusCanceled},
	{From: StatusRunning, To: StatusTerminated},
}

// IsValidTransition reports whether from → to is a legal lifecycle step.
// Staying in the same state is always valid.
func IsValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// Display is the presentation metadata bound to a variant tag.
type Display struct {
	Label  string
	Symbol string
}

var statusDisplay = map[Status]Display{
	StatusPending:    {Label: "Pending", Symbol: "…"},
	StatusRunning:    {Label: "Running", Symbol: "▶"},
	StatusCompleted:  {Label: "Completed", Symbol: "✓"},
	StatusFailed:     {Label: "Failed", Symbol: "✗"},
	StatusCancelled:  {Label: "Cancelled", Symbol: "■"},
	StatusCanceled:   {Label: "Canceled", Symbol: "■"},
	StatusTerminated: {Label: "Terminated", Symbol: "■"},
}

// Display returns the presentation metadata for s. Unknown statuses get the
// explicit fallback variant.
func (s Status) Display() Display {
	if d, ok := statusDisplay[s]; ok {
		return d
	}
	return Display{Label: "Unknown", Symbol: "?"}
}
