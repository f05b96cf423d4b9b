package jobs

import (
	"time"

	"syncloop/internal/domain"
)

// Action is a user intent the lifecycle state currently offers for a job.
type Action string

// Actions.
const (
	ActionCancel Action = "cancel"
	ActionRetry  Action = "retry"
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// JobView is a job together with its client-derived state.
type JobView struct {
	domain.Job
	// Stopping is set while a cancel is awaiting confirmation.
	Stopping bool
	// Retrying is set while a retry is awaiting confirmation.
	Retrying bool
	// CancelUnknown is set when cancel confirmation ran out of attempts
	// without observing the job leave RUNNING.
	CancelUnknown bool
	Actions       []Action
}

// Can reports whether a is offered for the job.
func (v JobView) Can(a Action) bool {
	for _, x := range v.Actions {
		if x == a {
			return true
		}
	}
	return false
}

// availableActions derives the offered actions. Cancel needs RUNNING, retry
// needs FAILED, and neither is offered again while one is pending. Schedule
// actions depend only on the attached schedule.
func availableActions(j domain.Job, stopping, retrying bool) []Action {
	var out []Action
	if j.Status == domain.StatusRunning && !stopping {
		out = append(out, ActionCancel)
	}
	if j.Status == domain.StatusFailed && !retrying {
		out = append(out, ActionRetry)
	}
	if j.Schedule != nil {
		if j.Schedule.IsActive {
			out = append(out, ActionPause)
		} else {
			out = append(out, ActionResume)
		}
	}
	return out
}

// hiddenFromGrid reports whether the default list hides a job. Cancelled
// (both spellings) and terminated jobs stay in the snapshot but are not shown.
func hiddenFromGrid(s domain.Status) bool {
	return s.IsCancelled() || s == domain.StatusTerminated
}

// View is an immutable snapshot of the list state.
type View struct {
	// Jobs is the full fetched snapshot in engine order.
	Jobs []JobView
	// Running is set while a run-now request is in flight.
	Running bool
	// FetchedAt is when the applied list fetch completed; zero before the
	// first successful fetch.
	FetchedAt time.Time
}

// Visible returns the jobs the default grid renders.
func (v View) Visible() []JobView {
	out := make([]JobView, 0, len(v.Jobs))
	for _, j := range v.Jobs {
		if !hiddenFromGrid(j.Status) {
			out = append(out, j)
		}
	}
	return out
}

// Job looks up a job in the snapshot.
func (v View) Job(id string) (JobView, bool) {
	for _, j := range v.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobView{}, false
}

// DetailView is the detail page state of one job.
type DetailView struct {
	JobView
	History []domain.HistoryEvent
	// NotFound is set when the engine reported no record of the job.
	NotFound  bool
	FetchedAt time.Time
}
