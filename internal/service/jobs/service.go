package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"syncloop/internal/domain"
	"syncloop/internal/poller"
)

// Config holds polling cadences and bounds.
type Config struct {
	ListInterval    time.Duration
	DetailInterval  time.Duration
	ConfirmInterval time.Duration
	ConfirmAttempts int
	PendingTimeout  time.Duration
}

// DefaultConfig returns the standard cadences: list every 5s, detail every
// 3s, cancel confirmation every 500ms for at most 20 attempts.
func DefaultConfig() Config {
	return Config{
		ListInterval:    5 * time.Second,
		DetailInterval:  3 * time.Second,
		ConfirmInterval: 500 * time.Millisecond,
		ConfirmAttempts: 20,
		PendingTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListInterval <= 0 {
		c.ListInterval = d.ListInterval
	}
	if c.DetailInterval <= 0 {
		c.DetailInterval = d.DetailInterval
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = d.ConfirmInterval
	}
	if c.ConfirmAttempts <= 0 {
		c.ConfirmAttempts = d.ConfirmAttempts
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = d.PendingTimeout
	}
	return c
}

// Alert is a user-visible failure of an intent or a polling session.
type Alert struct {
	Op    string
	JobID string
	Err   error
}

// Kind returns the error taxonomy label of the alert.
func (a Alert) Kind() string { return domain.Kind(a.Err) }

// Service runs user intents against the workflow engine and keeps the
// tracker in step through polling sessions.
type Service struct {
	api     domain.JobAPI
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	tracker *Tracker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	list     *poller.Session
	details  map[string]*poller.Session
	confirms map[string]*poller.Session
	onChange func(View)
	onAlert  func(Alert)
}

// NewService creates a Service. now may be nil to use the wall clock.
func NewService(api domain.JobAPI, cfg Config, now func() time.Time, logger *slog.Logger) *Service {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		api:      api,
		cfg:      cfg,
		logger:   logger,
		now:      now,
		tracker:  NewTracker(cfg.PendingTimeout, now, logger),
		ctx:      ctx,
		cancel:   cancel,
		details:  make(map[string]*poller.Session),
		confirms: make(map[string]*poller.Session),
	}
}

// SetOnChange registers a callback invoked with the new view after every
// state change. It may be called from polling goroutines.
func (s *Service) SetOnChange(fn func(View)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// SetOnAlert registers a callback for user-visible failures.
func (s *Service) SetOnAlert(fn func(Alert)) {
	s.mu.Lock()
	s.onAlert = fn
	s.mu.Unlock()
}

// Tracker exposes the underlying state owner.
func (s *Service) Tracker() *Tracker { return s.tracker }

// View returns the current list view.
func (s *Service) View() View { return s.tracker.View() }

// Detail returns the detail view of a job.
func (s *Service) Detail(jobID string) (DetailView, bool) { return s.tracker.Detail(jobID) }

func (s *Service) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(s.tracker.View())
	}
}

func (s *Service) alert(op, jobID string, err error) {
	s.logger.Warn("job operation failed", "op", op, "job_id", jobID, "kind", domain.Kind(err), "error", err)
	s.mu.Lock()
	fn := s.onAlert
	s.mu.Unlock()
	if fn != nil {
		fn(Alert{Op: op, JobID: jobID, Err: err})
	}
}

// === Fetches ===

// RefreshList fetches the job list once and merges it. On failure the
// state is left untouched and the error is returned.
func (s *Service) RefreshList(ctx context.Context) error {
	started := s.now()
	jobs, err := s.api.ListJobs(ctx)
	if err != nil {
		return err
	}
	if s.tracker.ApplyList(Fetch{StartedAt: started, CompletedAt: s.now()}, jobs) {
		s.notify()
	}
	return nil
}

// RefreshDetail fetches one job's status and history and merges it. A
// not-found result is recorded for the detail view and returned.
func (s *Service) RefreshDetail(ctx context.Context, jobID string) (DetailView, error) {
	started := s.now()
	st, err := s.api.GetJobStatus(ctx, jobID)
	fetch := Fetch{StartedAt: started, CompletedAt: s.now()}
	switch {
	case domain.IsNotFound(err):
		s.tracker.ApplyNotFound(fetch, jobID)
		d, _ := s.tracker.Detail(jobID)
		return d, err
	case err != nil:
		d, _ := s.tracker.Detail(jobID)
		return d, err
	}
	if st.Job.ID == "" {
		st.Job.ID = jobID
	}
	if s.tracker.ApplyStatus(fetch, *st) {
		s.notify()
	}
	d, _ := s.tracker.Detail(jobID)
	return d, nil
}

// === Polling sessions ===

func isFatal(err error) bool {
	return domain.IsAuth(err)
}

// WatchList starts the list polling session, or returns the running one. It
// fetches immediately and then every ListInterval until stopped or an auth
// error ends it.
func (s *Service) WatchList(ctx context.Context) *poller.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list != nil && !ended(s.list) {
		return s.list
	}
	sess := s.startSession(ctx, poller.Config{
		Name:      "list",
		Interval:  s.cfg.ListInterval,
		Immediate: true,
		StopOn:    isFatal,
	}, func(ctx context.Context) (bool, error) {
		err := s.RefreshList(ctx)
		if isFatal(err) {
			s.alert("list", "", err)
			s.stopDetails()
		}
		return false, err
	})
	s.list = sess
	return sess
}

// WatchDetail starts the detail polling session for jobID, or returns the
// running one. The session ends for good on the first terminal status, on
// not-found, or on an auth error.
func (s *Service) WatchDetail(ctx context.Context, jobID string) *poller.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.details[jobID]
	if ok && !ended(prev) {
		return prev
	}
	// A job seen terminal by a status fetch is never polled again.
	if s.tracker.TerminalSeen(jobID) {
		if ok {
			return prev
		}
		return poller.Ended()
	}
	sess := s.startSession(ctx, poller.Config{
		Name:      "detail:" + jobID,
		Interval:  s.cfg.DetailInterval,
		Immediate: true,
		StopOn: func(err error) bool {
			return isFatal(err) || domain.IsNotFound(err)
		},
	}, func(ctx context.Context) (bool, error) {
		d, err := s.RefreshDetail(ctx, jobID)
		if err != nil {
			if isFatal(err) {
				s.alert("detail", jobID, err)
			}
			return false, err
		}
		return d.Status.IsTerminal(), nil
	})
	s.details[jobID] = sess
	return sess
}

// stopDetails ends every detail session. A fatal list error halts polling
// for the whole view.
func (s *Service) stopDetails() {
	s.mu.Lock()
	sessions := make([]*poller.Session, 0, len(s.details))
	for _, sess := range s.details {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Stop()
	}
}

// startSession runs a polling session bounded by the service lifetime and
// stopped when ctx is cancelled.
func (s *Service) startSession(ctx context.Context, cfg poller.Config, fn poller.Func) *poller.Session {
	sess := poller.Start(s.ctx, cfg, fn, s.logger)
	release := context.AfterFunc(ctx, sess.Stop)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-sess.Done()
		release()
	}()
	return sess
}

func ended(sess *poller.Session) bool {
	select {
	case <-sess.Done():
		return true
	default:
		return false
	}
}

// refreshSoon asks for an accelerated list poll. Without a running list
// session the list is fetched synchronously.
func (s *Service) refreshSoon(ctx context.Context) {
	s.mu.Lock()
	list := s.list
	s.mu.Unlock()
	if list != nil && !ended(list) {
		list.Kick()
		return
	}
	if err := s.RefreshList(ctx); err != nil {
		s.logger.Debug("refresh after mutation failed", "error", err)
	}
}

// === Intents ===

// RunNow starts a sync of table. The running flag is set for the duration
// of the call and cleared however it ends. A conflict adds nothing to the
// local state.
func (s *Service) RunNow(ctx context.Context, table string, incremental bool) (*domain.RunRef, error) {
	if !s.tracker.BeginRun() {
		return nil, domain.ErrValidation("a run is already being started")
	}
	s.notify()

	ref, err := s.api.RunNow(ctx, table, incremental)
	s.tracker.EndRun()
	s.notify()
	if err != nil {
		s.alert("run-now", "", err)
		return nil, err
	}
	s.logger.Info("job started", "workflow_id", ref.WorkflowID, "run_id", ref.RunID, "table", table)
	s.refreshSoon(ctx)
	return ref, nil
}

// Cancel requests cancellation of a RUNNING job. It returns once the engine
// accepted the request; a bounded confirmation loop then polls until the job
// is seen leaving RUNNING. AwaitCancel waits for that outcome.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	jv, err := s.requireAction(jobID, ActionCancel)
	if err != nil {
		return err
	}
	if !s.tracker.BeginAction(jobID, domain.PendingCancel) {
		return domain.ErrValidation("job %s already has an action in progress", jobID)
	}
	s.notify()

	if err := s.api.Cancel(ctx, jobID); err != nil {
		s.tracker.FailAction(jobID, domain.PendingCancel)
		s.notify()
		s.alert("cancel", jobID, err)
		return err
	}
	s.tracker.SettleAction(jobID, domain.PendingCancel)
	s.logger.Info("cancel accepted", "job_id", jobID, "table", jv.Table)
	s.startConfirm(jobID)
	s.refreshSoon(ctx)
	return nil
}

func (s *Service) startConfirm(jobID string) {
	s.mu.Lock()
	if old, ok := s.confirms[jobID]; ok && !ended(old) {
		s.mu.Unlock()
		return
	}
	sess := poller.Start(s.ctx, poller.Config{
		Name:        "confirm-cancel:" + jobID,
		Interval:    s.cfg.ConfirmInterval,
		MaxAttempts: s.cfg.ConfirmAttempts,
		StopOn:      isFatal,
	}, func(ctx context.Context) (bool, error) {
		if _, pending := s.tracker.Pending(jobID); !pending {
			return true, nil
		}
		if err := s.RefreshList(ctx); err != nil {
			return false, err
		}
		_, pending := s.tracker.Pending(jobID)
		return !pending, nil
	}, s.logger)
	s.confirms[jobID] = sess
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := sess.Wait()
		switch {
		case errors.Is(err, poller.ErrExhausted):
			s.tracker.MarkCancelUnknown(jobID)
			s.notify()
			s.alert("cancel", jobID, domain.ErrTimeout(
				"cancellation of %s not confirmed after %d checks; status unknown", jobID, s.cfg.ConfirmAttempts))
		case err != nil:
			s.tracker.MarkCancelUnknown(jobID)
			s.notify()
			s.alert("cancel", jobID, err)
		}
	}()
}

// AwaitCancel blocks until the confirmation loop for jobID ends. It returns
// nil when the cancel was confirmed and *domain.TimeoutError when the
// outcome is unknown.
func (s *Service) AwaitCancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	sess, ok := s.confirms[jobID]
	s.mu.Unlock()
	if !ok {
		return domain.ErrValidation("no cancellation in progress for %s", jobID)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.Done():
	}
	if err := sess.Err(); err != nil {
		if errors.Is(err, poller.ErrExhausted) {
			return domain.ErrTimeout("cancellation of %s not confirmed; status unknown", jobID)
		}
		return err
	}
	if jv, ok := s.tracker.View().Job(jobID); ok && jv.CancelUnknown {
		return domain.ErrTimeout("cancellation of %s not confirmed; status unknown", jobID)
	}
	return nil
}

// Retry requests re-execution of a FAILED job's run. The retrying flag
// clears once a list fetch started after the engine accepted the retry.
func (s *Service) Retry(ctx context.Context, jobID string) error {
	jv, err := s.requireAction(jobID, ActionRetry)
	if err != nil {
		return err
	}
	if !s.tracker.BeginAction(jobID, domain.PendingRetry) {
		return domain.ErrValidation("job %s already has an action in progress", jobID)
	}
	s.notify()

	if err := s.api.Retry(ctx, jobID, jv.RunID); err != nil {
		s.tracker.FailAction(jobID, domain.PendingRetry)
		s.notify()
		s.alert("retry", jobID, err)
		return err
	}
	s.tracker.SettleAction(jobID, domain.PendingRetry)
	s.logger.Info("retry accepted", "job_id", jobID, "run_id", jv.RunID)
	s.notify()
	s.refreshSoon(ctx)
	return nil
}

// TerminateAll forcefully stops every running job. It is irreversible and
// refuses to run unless confirmed is true.
func (s *Service) TerminateAll(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return domain.ErrConfirmationRequired
	}
	if err := s.api.TerminateAll(ctx); err != nil {
		s.alert("terminate-all", "", err)
		return err
	}
	s.logger.Info("terminate-all accepted")
	s.refreshSoon(ctx)
	return nil
}

// CreateSchedule registers a recurring sync for a table.
func (s *Service) CreateSchedule(ctx context.Context, spec domain.ScheduleSpec) (*domain.Schedule, error) {
	sched, err := s.api.CreateSchedule(ctx, spec)
	if err != nil {
		s.alert("create-schedule", "", err)
		return nil, err
	}
	s.logger.Info("schedule created", "schedule_id", sched.ID, "table", spec.Table, "cron", sched.CronExpr)
	s.refreshSoon(ctx)
	return sched, nil
}

// ToggleSchedule pauses or resumes a schedule by id.
func (s *Service) ToggleSchedule(ctx context.Context, scheduleID string, pause bool) error {
	if err := s.api.ToggleSchedule(ctx, scheduleID, pause); err != nil {
		s.alert("toggle-schedule", "", err)
		return err
	}
	s.logger.Info("schedule toggled", "schedule_id", scheduleID, "paused", pause)
	s.refreshSoon(ctx)
	return nil
}

// SetJobSchedulePaused pauses or resumes the schedule attached to a job.
// Pause is offered only for an active schedule and resume only for a paused
// one; the job's own state is not touched.
func (s *Service) SetJobSchedulePaused(ctx context.Context, jobID string, pause bool) error {
	action := ActionResume
	if pause {
		action = ActionPause
	}
	jv, err := s.requireAction(jobID, action)
	if err != nil {
		return err
	}
	return s.ToggleSchedule(ctx, jv.Schedule.ID, pause)
}

func (s *Service) requireAction(jobID string, a Action) (JobView, error) {
	jv, ok := s.tracker.View().Job(jobID)
	if !ok {
		return JobView{}, domain.ErrNotFound("job %s is not in the current job list", jobID)
	}
	if !jv.Can(a) {
		return JobView{}, domain.ErrValidation("%s is not available for job %s (status %s)", a, jobID, jv.Status)
	}
	return jv, nil
}

// Close stops every polling session and waits for background work.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	sessions := make([]*poller.Session, 0, 1+len(s.details)+len(s.confirms))
	if s.list != nil {
		sessions = append(sessions, s.list)
	}
	for _, sess := range s.details {
		sessions = append(sessions, sess)
	}
	for _, sess := range s.confirms {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	s.wg.Wait()
}

// String implements fmt.Stringer for log output.
func (c Config) String() string {
	return fmt.Sprintf("list=%s detail=%s confirm=%s×%d pending-timeout=%s",
		c.ListInterval, c.DetailInterval, c.ConfirmInterval, c.ConfirmAttempts, c.PendingTimeout)
}
