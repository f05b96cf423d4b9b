// Package enginetest provides an in-memory workflow engine that serves the
// job API over HTTP. Tests drive job state directly and observe the calls the
// client makes.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"syncloop/internal/domain"
)

// Default credentials accepted by Login.
const (
	DefaultEmail    = "admin@example.com"
	DefaultPassword = "secret"
)

// Job is the engine-side record of a workflow execution.
type Job struct {
	ID            string
	RunID         string
	Type          string
	Status        domain.Status
	Table         string
	StartTime     time.Time
	CloseTime     *time.Time
	FailureReason string
	History       []domain.HistoryEvent
	// RawHistory, when set, is served verbatim in place of History.
	RawHistory json.RawMessage
}

// Schedule is the engine-side record of a recurring trigger.
type Schedule struct {
	ID          string
	Table       string
	CronExpr    string
	IsActive    bool
	LastRunTime *time.Time
}

type failure struct {
	code int
	msg  string
}

type jobState struct {
	Job
	// cancelIn counts fetches left before a requested cancel takes effect;
	// -1 means no cancel is pending.
	cancelIn int
}

// Engine is a fake workflow engine. All methods are safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	jobs      map[string]*jobState
	order     []string
	schedules map[string]*Schedule
	users     map[string]string
	failures  map[string][]failure
	calls     map[string]int
	secret    []byte
	now       func() time.Time
	seq       int
	// cancelDelay is the number of fetches a cancelled job stays RUNNING.
	cancelDelay int
	// requireAuth rejects job requests without a valid session token.
	requireAuth bool
}

// New creates an engine with the default user and no jobs.
func New() *Engine {
	return &Engine{
		jobs:        make(map[string]*jobState),
		schedules:   make(map[string]*Schedule),
		users:       map[string]string{DefaultEmail: DefaultPassword},
		failures:    make(map[string][]failure),
		calls:       make(map[string]int),
		secret:      []byte("enginetest-secret"),
		now:         time.Now,
		requireAuth: true,
	}
}

// Server starts an httptest server for e, closed on test cleanup.
func (e *Engine) Server(t testing.TB) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// SetNow replaces the engine clock.
func (e *Engine) SetNow(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
}

// SetRequireAuth toggles session enforcement on job endpoints.
func (e *Engine) SetRequireAuth(v bool) {
	e.mu.Lock()
	e.requireAuth = v
	e.mu.Unlock()
}

// SetCancelDelay sets how many fetches a cancelled job keeps reporting
// RUNNING before it turns CANCELLED. A negative value means never.
func (e *Engine) SetCancelDelay(n int) {
	e.mu.Lock()
	e.cancelDelay = n
	e.mu.Unlock()
}

// IssueToken signs a session token valid for ttl. A negative ttl yields an
// already-expired token.
func (e *Engine) IssueToken(userID, workspaceID string, ttl time.Duration) string {
	e.mu.Lock()
	now := e.now()
	e.mu.Unlock()
	claims := jwt.MapClaims{
		"uid": userID,
		"wid": workspaceID,
		"exp": now.Add(ttl).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
	if err != nil {
		panic(fmt.Sprintf("enginetest: sign token: %v", err))
	}
	return token
}

// AddJob stores j, replacing any job with the same id. A terminal job without
// a close time gets one.
func (e *Engine) AddJob(j Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j.StartTime.IsZero() {
		j.StartTime = e.now()
	}
	if j.Status == "" {
		j.Status = domain.StatusRunning
	}
	if j.Type == "" {
		j.Type = string(domain.JobTypeFull)
	}
	if j.Status.IsTerminal() && j.CloseTime == nil {
		t := e.now()
		j.CloseTime = &t
	}
	if _, ok := e.jobs[j.ID]; !ok {
		e.order = append(e.order, j.ID)
	}
	e.jobs[j.ID] = &jobState{Job: j, cancelIn: -1}
}

// Job returns a copy of the stored job.
func (e *Engine) Job(id string) (Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	js, ok := e.jobs[id]
	if !ok {
		return Job{}, false
	}
	return js.Job, true
}

// Jobs returns copies of every stored job in insertion order.
func (e *Engine) Jobs() []Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Job, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.jobs[id].Job)
	}
	return out
}

// SetStatus moves a job to status, stamping the close time when terminal and
// appending a history event.
func (e *Engine) SetStatus(id string, status domain.Status, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	js, ok := e.jobs[id]
	if !ok {
		return
	}
	e.setStatusLocked(js, status, reason)
}

func (e *Engine) setStatusLocked(js *jobState, status domain.Status, reason string) {
	now := e.now()
	js.Status = status
	js.FailureReason = reason
	js.cancelIn = -1
	if status.IsTerminal() {
		js.CloseTime = &now
	} else {
		js.CloseTime = nil
	}
	next := int64(1)
	if n := len(js.History); n > 0 {
		next = js.History[n-1].EventID + 1
	}
	js.History = append(js.History, domain.HistoryEvent{
		EventID:   next,
		EventTime: now,
		EventType: "WorkflowExecution" + status.Display().Label,
	})
}

// RemoveJob forgets a job, as an engine does once retention expires.
func (e *Engine) RemoveJob(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.jobs, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// AddSchedule stores a schedule and returns its id.
func (e *Engine) AddSchedule(table, cronExpr string, active bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := "schedule-" + table
	e.schedules[id] = &Schedule{ID: id, Table: table, CronExpr: cronExpr, IsActive: active}
	return id
}

// Schedule returns a copy of the stored schedule.
func (e *Engine) Schedule(id string) (Schedule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.schedules[id]
	if !ok {
		return Schedule{}, false
	}
	return *s, true
}

// FailNext makes the next request matching route ("GET /api/v1/jobs")
// respond with code and msg. Failures queue in order.
func (e *Engine) FailNext(route string, code int, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[route] = append(e.failures[route], failure{code: code, msg: msg})
}

// Calls reports how many requests matched route.
func (e *Engine) Calls(route string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[route]
}

// Handler returns the engine's router.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(e.record)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", e.login)
		r.Post("/logout", e.logout)
		r.Group(func(r chi.Router) {
			r.Use(e.auth)
			r.Get("/me", e.me)
			r.Get("/jobs", e.listJobs)
			r.Get("/jobs/{id}/status", e.jobStatus)
			r.Post("/jobs/run-now", e.runNow)
			r.Post("/jobs/cancel", e.cancel)
			r.Post("/jobs/retry", e.retry)
			r.Post("/jobs/terminate-all", e.terminateAll)
			r.Post("/jobs/schedule", e.createSchedule)
			r.Post("/jobs/schedule/toggle", e.toggleSchedule)
		})
	})
	return r
}

// record counts the call and serves any queued failure for its route.
func (e *Engine) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + routeKey(r.URL.Path)
		e.mu.Lock()
		e.calls[route]++
		var f *failure
		if q := e.failures[route]; len(q) > 0 {
			f = &q[0]
			e.failures[route] = q[1:]
		}
		e.mu.Unlock()
		if f != nil {
			http.Error(w, f.msg, f.code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// routeKey collapses job ids so "/api/v1/jobs/j1/status" counts as
// "/api/v1/jobs/{id}/status".
func routeKey(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) == 6 && parts[3] == "jobs" && parts[5] == "status" {
		parts[4] = "{id}"
	}
	return strings.Join(parts, "/")
}

type ctxClaims struct{}

func contextWithClaims(r *http.Request, claims jwt.MapClaims) context.Context {
	return context.WithValue(r.Context(), ctxClaims{}, claims)
}

func claimsFrom(r *http.Request) jwt.MapClaims {
	claims, _ := r.Context().Value(ctxClaims{}).(jwt.MapClaims)
	return claims
}

func (e *Engine) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		required := e.requireAuth
		e.mu.Unlock()
		if !required {
			next.ServeHTTP(w, r)
			return
		}
		raw := ""
		if ck, err := r.Cookie("token"); err == nil {
			raw = ck.Value
		} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			raw = strings.TrimPrefix(h, "Bearer ")
		}
		if raw == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return e.secret, nil
		})
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r, claims)))
	})
}

func (e *Engine) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	want, ok := e.users[req.Email]
	e.mu.Unlock()
	if !ok || want != req.Password {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	userID := "user-" + req.Email
	token := e.IssueToken(userID, "workspace-1", 24*time.Hour)
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		MaxAge:   86400,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":      map[string]string{"id": userID, "email": req.Email},
		"workspace": map[string]string{"id": "workspace-1", "name": "default"},
	})
}

func (e *Engine) logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "token", Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      claims["uid"],
		"workspace_id": claims["wid"],
	})
}

func (e *Engine) listJobs(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceCancelsLocked()

	jobs := make([]map[string]interface{}, 0, len(e.order))
	for _, id := range e.order {
		js := e.jobs[id]
		m := e.jobJSONLocked(js)
		if s := e.scheduleForLocked(js.Table); s != nil {
			m["schedule"] = s
		}
		jobs = append(jobs, m)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (e *Engine) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceCancelsLocked()

	js, ok := e.jobs[id]
	if !ok {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	m := e.jobJSONLocked(js)
	delete(m, "id")
	m["workflow_id"] = js.ID
	if js.RawHistory != nil {
		m["history"] = js.RawHistory
	} else {
		history := make([]map[string]interface{}, 0, len(js.History))
		for _, h := range js.History {
			ev := map[string]interface{}{
				"event_id":   h.EventID,
				"event_time": h.EventTime,
				"event_type": h.EventType,
			}
			if len(h.Details) > 0 {
				ev["details"] = h.Details
			}
			history = append(history, ev)
		}
		m["history"] = history
	}
	writeJSON(w, http.StatusOK, m)
}

func (e *Engine) runNow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table       string `json:"table"`
		Incremental bool   `json:"incremental"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	typ := string(domain.JobTypeFor(req.Incremental))

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, js := range e.jobs {
		if js.Table == req.Table && js.Type == typ && js.Status == domain.StatusRunning {
			http.Error(w, fmt.Sprintf("a %s sync of %s is already running", typ, req.Table), http.StatusConflict)
			return
		}
	}
	e.seq++
	id := fmt.Sprintf("sync-%s-%d", req.Table, e.seq)
	now := e.now()
	js := &jobState{
		Job: Job{
			ID:        id,
			RunID:     uuid.NewString(),
			Type:      typ,
			Status:    domain.StatusRunning,
			Table:     req.Table,
			StartTime: now,
			History: []domain.HistoryEvent{
				{EventID: 1, EventTime: now, EventType: "WorkflowExecutionStarted"},
			},
		},
		cancelIn: -1,
	}
	e.jobs[id] = js
	e.order = append(e.order, id)
	writeJSON(w, http.StatusOK, map[string]string{
		"workflow_id":   id,
		"run_id":        js.RunID,
		"workflow_type": "CopyTableWorkflow",
	})
}

func (e *Engine) cancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string `json:"workflow_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	js, ok := e.jobs[req.WorkflowID]
	if !ok {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	if js.Status == domain.StatusRunning || js.Status == domain.StatusPending {
		js.cancelIn = e.cancelDelay
	}
	w.WriteHeader(http.StatusOK)
}

func (e *Engine) retry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID string `json:"workflow_id"`
		RunID      string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.jobs[req.WorkflowID]
	if !ok || (req.RunID != "" && src.RunID != "" && req.RunID != src.RunID) {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	if src.Status != domain.StatusFailed {
		http.Error(w, "only failed workflows can be retried", http.StatusConflict)
		return
	}
	now := e.now()
	id := "retry-" + src.ID
	runID := uuid.NewString()
	if _, exists := e.jobs[id]; !exists {
		e.order = append(e.order, id)
	}
	e.jobs[id] = &jobState{
		Job: Job{
			ID:        id,
			RunID:     runID,
			Type:      src.Type,
			Status:    domain.StatusRunning,
			Table:     src.Table,
			StartTime: now,
			History: []domain.HistoryEvent{
				{EventID: 1, EventTime: now, EventType: "WorkflowExecutionStarted"},
			},
		},
		cancelIn: -1,
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"workflow_id": id,
		"run_id":      runID,
		"message":     "Retry started",
	})
}

func (e *Engine) terminateAll(w http.ResponseWriter, _ *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, js := range e.jobs {
		if js.Status == domain.StatusRunning || js.Status == domain.StatusPending {
			e.setStatusLocked(js, domain.StatusTerminated, "")
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (e *Engine) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Table    string `json:"table"`
		CronExpr string `json:"cron_expr"`
		IsActive bool   `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Table == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.CronExpr == "" {
		req.CronExpr = domain.DefaultCronExpr
	}
	if _, err := cron.ParseStandard(req.CronExpr); err != nil {
		http.Error(w, "invalid cron expression", http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := "schedule-" + req.Table
	if _, exists := e.schedules[id]; exists {
		http.Error(w, "schedule with this connector and table already exists", http.StatusConflict)
		return
	}
	e.schedules[id] = &Schedule{ID: id, Table: req.Table, CronExpr: req.CronExpr, IsActive: req.IsActive}
	writeJSON(w, http.StatusOK, map[string]string{"schedule_id": id, "message": "Schedule created"})
}

func (e *Engine) toggleSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScheduleID string `json:"schedule_id"`
		Pause      bool   `json:"pause"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.schedules[req.ScheduleID]
	if !ok {
		http.Error(w, "schedule not found", http.StatusNotFound)
		return
	}
	s.IsActive = !req.Pause
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedule_id": s.ID, "paused": req.Pause})
}

// advanceCancelsLocked counts one fetch against every pending cancel.
func (e *Engine) advanceCancelsLocked() {
	for _, js := range e.jobs {
		switch {
		case js.cancelIn < 0:
		case js.cancelIn == 0:
			e.setStatusLocked(js, domain.StatusCancelled, "")
		default:
			js.cancelIn--
		}
	}
}

func (e *Engine) jobJSONLocked(js *jobState) map[string]interface{} {
	m := map[string]interface{}{
		"id":         js.ID,
		"type":       js.Type,
		"status":     string(js.Status),
		"table":      js.Table,
		"start_time": js.StartTime,
	}
	if js.RunID != "" {
		m["run_id"] = js.RunID
	}
	if js.CloseTime != nil {
		m["close_time"] = *js.CloseTime
	}
	if js.FailureReason != "" {
		m["failure_reason"] = js.FailureReason
	}
	return m
}

// scheduleForLocked renders the schedule bound to table. Only active
// schedules have a next run time.
func (e *Engine) scheduleForLocked(table string) map[string]interface{} {
	ids := make([]string, 0, len(e.schedules))
	for id := range e.schedules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := e.schedules[id]
		if s.Table != table {
			continue
		}
		m := map[string]interface{}{
			"id":        s.ID,
			"cron_expr": s.CronExpr,
			"is_active": s.IsActive,
		}
		if s.LastRunTime != nil {
			m["last_run_time"] = *s.LastRunTime
		}
		if s.IsActive {
			if sched, err := cron.ParseStandard(s.CronExpr); err == nil {
				m["next_run_time"] = sched.Next(e.now())
			}
		}
		return m
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
