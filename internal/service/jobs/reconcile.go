package jobs

import (
	"time"

	"syncloop/internal/domain"
)

// ApplyList merges a successful list fetch. The snapshot replaces the
// previous one wholesale unless a fetch that completed later was already
// applied. It reports whether the snapshot was applied.
func (t *Tracker) ApplyList(f Fetch, jobs []domain.Job) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if f.CompletedAt.Before(t.listFetchedAt) {
		t.logger.Debug("discarding stale list snapshot",
			"completed_at", f.CompletedAt, "applied_at", t.listFetchedAt)
		return false
	}

	prev := make(map[string]domain.Job, len(t.jobs))
	for _, j := range t.jobs {
		prev[j.ID] = j
	}

	snapshot := make([]domain.Job, 0, len(jobs))
	byID := make(map[string]domain.Job, len(jobs))
	for _, j := range jobs {
		j = j.Normalize()
		if p, ok := prev[j.ID]; ok {
			j = t.guardTerminalLocked(p, j)
		}
		j = t.fillCloseTimeLocked(j)
		t.checkInvariantsLocked(j)
		snapshot = append(snapshot, j)
		byID[j.ID] = j
	}
	t.jobs = snapshot
	t.listFetchedAt = f.CompletedAt

	now := t.now()
	for id, p := range t.pending {
		j, ok := byID[id]
		t.reconcilePendingLocked(p, j, ok, f, now)
	}
	for id := range t.cancelUnknown {
		if j, ok := byID[id]; ok && j.Status != domain.StatusRunning {
			delete(t.cancelUnknown, id)
		}
	}
	return true
}

// ApplyStatus merges a successful status fetch for one job. The status view
// is replaced wholesale; type, table and schedule are carried over from the
// list snapshot when the status payload lacks them.
func (t *Tracker) ApplyStatus(f Fetch, st domain.JobStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := st.Job.ID
	d, ok := t.details[id]
	if !ok {
		d = &detailState{}
		t.details[id] = d
	}
	if d.loaded && f.CompletedAt.Before(d.fetchedAt) {
		t.logger.Debug("discarding stale status snapshot", "job_id", id)
		return false
	}

	job := st.Job.Normalize()
	idx, inList := t.findLocked(id)
	switch {
	case inList:
		job = carryListAttributes(job, t.jobs[idx])
	case d.loaded && !d.notFound:
		job = carryListAttributes(job, d.status.Job)
	}
	if d.loaded && !d.notFound {
		job = t.guardTerminalLocked(d.status.Job, job)
	}
	job = t.fillCloseTimeLocked(job)
	t.checkInvariantsLocked(job)

	history := domain.SortHistory(st.History)
	if d.loaded && len(history) < len(d.status.History) {
		t.logger.Warn("job history shrank between fetches",
			"job_id", id, "previous", len(d.status.History), "current", len(history))
	}

	d.status = domain.JobStatus{Job: job, History: history}
	d.fetchedAt = f.CompletedAt
	d.notFound = false
	d.loaded = true

	if inList && !f.CompletedAt.Before(t.listFetchedAt) {
		t.jobs[idx] = job
	}

	if p, ok := t.pending[id]; ok {
		t.reconcilePendingLocked(p, job, true, f, t.now())
	}
	if t.cancelUnknown[id] && job.Status != domain.StatusRunning {
		delete(t.cancelUnknown, id)
	}
	return true
}

// ApplyNotFound records that the engine has no record of jobID. The detail
// view renders absence; the list snapshot is left to the next list fetch.
func (t *Tracker) ApplyNotFound(f Fetch, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.details[jobID]
	if !ok {
		d = &detailState{}
		t.details[jobID] = d
	}
	if d.loaded && f.CompletedAt.Before(d.fetchedAt) {
		return
	}
	d.status = domain.JobStatus{}
	d.notFound = true
	d.loaded = true
	d.fetchedAt = f.CompletedAt
}

// reconcilePendingLocked confirms or expires one pending action against a
// fetched job. A CANCEL is confirmed only by seeing the job present and not
// RUNNING; absence proves nothing. A RETRY is confirmed by any fetch that
// started after the retry call settled.
func (t *Tracker) reconcilePendingLocked(p *domain.PendingAction, j domain.Job, present bool, f Fetch, now time.Time) {
	if t.pendingTimeout > 0 && now.Sub(p.RequestedAt) > t.pendingTimeout {
		delete(t.pending, p.JobID)
		if p.Kind == domain.PendingCancel {
			t.cancelUnknown[p.JobID] = true
		}
		t.logger.Warn("pending action expired without confirmation",
			"job_id", p.JobID, "kind", p.Kind, "requested_at", p.RequestedAt)
		return
	}

	switch p.Kind {
	case domain.PendingCancel:
		if present && j.Status != domain.StatusRunning {
			delete(t.pending, p.JobID)
			t.logger.Debug("cancel confirmed", "job_id", p.JobID, "status", j.Status)
		}
	case domain.PendingRetry:
		if p.SettledAt != nil && !f.StartedAt.Before(*p.SettledAt) {
			delete(t.pending, p.JobID)
			t.logger.Debug("retry confirmed", "job_id", p.JobID)
		}
	}
}

// guardTerminalLocked keeps a job terminal once it has been observed
// terminal. A non-terminal report for such a job comes from a fetch that
// raced the one that saw it finish.
func (t *Tracker) guardTerminalLocked(prev, next domain.Job) domain.Job {
	if prev.Status.IsTerminal() && !next.Status.IsTerminal() {
		t.logger.Debug("ignoring status regression from terminal state",
			"job_id", next.ID, "from", prev.Status, "to", next.Status)
		kept := prev
		kept.Schedule = next.Schedule
		return kept
	}
	if !domain.IsValidTransition(prev.Status, next.Status) {
		t.logger.Warn("unexpected job status transition",
			"job_id", next.ID, "from", prev.Status, "to", next.Status)
	}
	return next
}

// fillCloseTimeLocked remembers close times and restores one for a terminal
// job reported without it.
func (t *Tracker) fillCloseTimeLocked(j domain.Job) domain.Job {
	if !j.Status.IsTerminal() {
		return j
	}
	if j.CloseTime != nil {
		t.closeTimes[j.ID] = *j.CloseTime
		return j
	}
	if ct, ok := t.closeTimes[j.ID]; ok {
		j.CloseTime = &ct
		return j
	}
	t.logger.Warn("terminal job reported without close time", "job_id", j.ID, "status", j.Status)
	return j
}

// checkInvariantsLocked logs a merged job that still breaks the close-time or
// failure-reason rules. The job is kept; the engine's word stands.
func (t *Tracker) checkInvariantsLocked(j domain.Job) {
	if err := j.Validate(); err != nil {
		t.logger.Debug("job violates status invariants", "job_id", j.ID, "error", err)
	}
}

func carryListAttributes(j, from domain.Job) domain.Job {
	if j.Type == "" || j.Type == domain.JobTypeUnknown {
		j.Type = from.Type
	}
	if j.Table == "" {
		j.Table = from.Table
	}
	if j.RunID == "" {
		j.RunID = from.RunID
	}
	if j.Schedule == nil {
		j.Schedule = from.Schedule
	}
	return j
}
