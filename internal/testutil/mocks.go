// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"sync"
	"time"

	"syncloop/internal/domain"
)

// === Job API Mock ===

// MockJobAPI implements domain.JobAPI for testing. Unset Fn fields panic on
// use so tests fail loudly on unexpected calls.
type MockJobAPI struct {
	ListJobsFn       func(ctx context.Context) ([]domain.Job, error)
	GetJobStatusFn   func(ctx context.Context, id string) (*domain.JobStatus, error)
	RunNowFn         func(ctx context.Context, table string, incremental bool) (*domain.RunRef, error)
	CancelFn         func(ctx context.Context, id string) error
	RetryFn          func(ctx context.Context, id, runID string) error
	TerminateAllFn   func(ctx context.Context) error
	CreateScheduleFn func(ctx context.Context, spec domain.ScheduleSpec) (*domain.Schedule, error)
	ToggleScheduleFn func(ctx context.Context, scheduleID string, pause bool) error

	mu    sync.Mutex
	calls map[string]int
}

var _ domain.JobAPI = (*MockJobAPI)(nil)

func (m *MockJobAPI) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times the named method was invoked.
func (m *MockJobAPI) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// ListJobs implements the interface method for testing.
func (m *MockJobAPI) ListJobs(ctx context.Context) ([]domain.Job, error) {
	m.record("ListJobs")
	if m.ListJobsFn != nil {
		return m.ListJobsFn(ctx)
	}
	panic("unexpected call to MockJobAPI.ListJobs")
}

// GetJobStatus implements the interface method for testing.
func (m *MockJobAPI) GetJobStatus(ctx context.Context, id string) (*domain.JobStatus, error) {
	m.record("GetJobStatus")
	if m.GetJobStatusFn != nil {
		return m.GetJobStatusFn(ctx, id)
	}
	panic("unexpected call to MockJobAPI.GetJobStatus")
}

// RunNow implements the interface method for testing.
func (m *MockJobAPI) RunNow(ctx context.Context, table string, incremental bool) (*domain.RunRef, error) {
	m.record("RunNow")
	if m.RunNowFn != nil {
		return m.RunNowFn(ctx, table, incremental)
	}
	panic("unexpected call to MockJobAPI.RunNow")
}

// Cancel implements the interface method for testing.
func (m *MockJobAPI) Cancel(ctx context.Context, id string) error {
	m.record("Cancel")
	if m.CancelFn != nil {
		return m.CancelFn(ctx, id)
	}
	panic("unexpected call to MockJobAPI.Cancel")
}

// Retry implements the interface method for testing.
func (m *MockJobAPI) Retry(ctx context.Context, id, runID string) error {
	m.record("Retry")
	if m.RetryFn != nil {
		return m.RetryFn(ctx, id, runID)
	}
	panic("unexpected call to MockJobAPI.Retry")
}

// TerminateAll implements the interface method for testing.
func (m *MockJobAPI) TerminateAll(ctx context.Context) error {
	m.record("TerminateAll")
	if m.TerminateAllFn != nil {
		return m.TerminateAllFn(ctx)
	}
	panic("unexpected call to MockJobAPI.TerminateAll")
}

// CreateSchedule implements the interface method for testing.
func (m *MockJobAPI) CreateSchedule(ctx context.Context, spec domain.ScheduleSpec) (*domain.Schedule, error) {
	m.record("CreateSchedule")
	if m.CreateScheduleFn != nil {
		return m.CreateScheduleFn(ctx, spec)
	}
	panic("unexpected call to MockJobAPI.CreateSchedule")
}

// ToggleSchedule implements the interface method for testing.
func (m *MockJobAPI) ToggleSchedule(ctx context.Context, scheduleID string, pause bool) error {
	m.record("ToggleSchedule")
	if m.ToggleScheduleFn != nil {
		return m.ToggleScheduleFn(ctx, scheduleID, pause)
	}
	panic("unexpected call to MockJobAPI.ToggleSchedule")
}

// === Clock ===

// Clock is a manually advanced clock for deterministic time in tests.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock returns a clock set to t.
func NewClock(t time.Time) *Clock {
	return &Clock{t: t}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}
