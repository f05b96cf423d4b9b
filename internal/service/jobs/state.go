// Package jobs owns the client-side job lifecycle: the tracker that holds
// the reconciled job state, the derived per-job view, and the service that
// runs mutations and polling sessions against the workflow engine.
package jobs

import (
	"log/slog"
	"sync"
	"time"

	"syncloop/internal/domain"
)

// Fetch records when a fetch started and completed. Completion time orders
// competing snapshots; start time decides whether a snapshot can reflect a
// mutation.
type Fetch struct {
	StartedAt   time.Time
	CompletedAt time.Time
}

type detailState struct {
	status    domain.JobStatus
	fetchedAt time.Time
	notFound  bool
	loaded    bool
}

// Tracker is the single owner of job state. Every method serialises on one
// mutex, so each fetch result is applied atomically.
type Tracker struct {
	mu             sync.Mutex
	now            func() time.Time
	pendingTimeout time.Duration
	logger         *slog.Logger

	jobs          []domain.Job
	listFetchedAt time.Time
	closeTimes    map[string]time.Time
	details       map[string]*detailState
	pending       map[string]*domain.PendingAction
	cancelUnknown map[string]bool
	running       bool
}

// NewTracker creates an empty tracker. Pending actions older than
// pendingTimeout are dropped on the next reconciliation.
func NewTracker(pendingTimeout time.Duration, now func() time.Time, logger *slog.Logger) *Tracker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{
		now:            now,
		pendingTimeout: pendingTimeout,
		logger:         logger,
		closeTimes:     make(map[string]time.Time),
		details:        make(map[string]*detailState),
		pending:        make(map[string]*domain.PendingAction),
		cancelUnknown:  make(map[string]bool),
	}
}

// === Derived flags ===

// BeginRun sets the service-wide running flag. It reports false when a run
// is already in flight.
func (t *Tracker) BeginRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return false
	}
	t.running = true
	return true
}

// EndRun clears the running flag. Called when run-now settles either way.
func (t *Tracker) EndRun() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// BeginAction records a pending mutation for jobID. It reports false when
// the job already has one.
func (t *Tracker) BeginAction(jobID string, kind domain.PendingActionKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.pending[jobID]; ok {
		return false
	}
	t.pending[jobID] = &domain.PendingAction{JobID: jobID, Kind: kind, RequestedAt: t.now()}
	if kind == domain.PendingCancel {
		delete(t.cancelUnknown, jobID)
	}
	return true
}

// SettleAction marks the pending mutation as accepted by the engine.
func (t *Tracker) SettleAction(jobID string, kind domain.PendingActionKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[jobID]; ok && p.Kind == kind {
		at := t.now()
		p.SettledAt = &at
	}
}

// FailAction drops a pending mutation whose call failed, clearing its flag.
func (t *Tracker) FailAction(jobID string, kind domain.PendingActionKind) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[jobID]; ok && p.Kind == kind {
		delete(t.pending, jobID)
	}
}

// MarkCancelUnknown ends a pending cancel whose confirmation loop ended
// without an answer (attempts exhausted or a fatal error).
// The job is flagged as cancel-unknown until a fetch shows it leave RUNNING.
func (t *Tracker) MarkCancelUnknown(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[jobID]; ok && p.Kind == domain.PendingCancel {
		delete(t.pending, jobID)
		t.cancelUnknown[jobID] = true
	}
}

// TerminalSeen reports whether a status fetch has shown jobID in a terminal
// state.
func (t *Tracker) TerminalSeen(jobID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.details[jobID]
	return ok && d.loaded && !d.notFound && d.status.Job.Status.IsTerminal()
}

// Pending returns a copy of the pending action for jobID.
func (t *Tracker) Pending(jobID string) (domain.PendingAction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[jobID]
	if !ok {
		return domain.PendingAction{}, false
	}
	return *p, true
}

// === Views ===

// View returns the current list view.
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := View{
		Jobs:      make([]JobView, 0, len(t.jobs)),
		Running:   t.running,
		FetchedAt: t.listFetchedAt,
	}
	for _, j := range t.jobs {
		out.Jobs = append(out.Jobs, t.jobViewLocked(j))
	}
	return out
}

// Detail returns the detail view of jobID. It reports false when neither a
// status fetch nor a not-found result has been applied for the job.
func (t *Tracker) Detail(jobID string) (DetailView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.details[jobID]
	if !ok {
		return DetailView{}, false
	}
	if d.notFound {
		return DetailView{JobView: JobView{Job: domain.Job{ID: jobID}}, NotFound: true, FetchedAt: d.fetchedAt}, true
	}
	history := make([]domain.HistoryEvent, len(d.status.History))
	copy(history, d.status.History)
	return DetailView{
		JobView:   t.jobViewLocked(d.status.Job),
		History:   history,
		FetchedAt: d.fetchedAt,
	}, true
}

func (t *Tracker) jobViewLocked(j domain.Job) JobView {
	var stopping, retrying bool
	if p, ok := t.pending[j.ID]; ok {
		stopping = p.Kind == domain.PendingCancel
		retrying = p.Kind == domain.PendingRetry
	}
	return JobView{
		Job:           j,
		Stopping:      stopping,
		Retrying:      retrying,
		CancelUnknown: t.cancelUnknown[j.ID],
		Actions:       availableActions(j, stopping, retrying),
	}
}

func (t *Tracker) findLocked(jobID string) (int, bool) {
	for i, j := range t.jobs {
		if j.ID == jobID {
			return i, true
		}
	}
	return -1, false
}
