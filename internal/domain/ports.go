package domain

import "context"

// JobAPI is the request/response boundary to the workflow engine.
// Implemented by workflowapi.Client. Implementations never retry: the next
// scheduled poll is the retry.
type JobAPI interface {
	ListJobs(ctx context.Context) ([]Job, error)
	GetJobStatus(ctx context.Context, id string) (*JobStatus, error)
	RunNow(ctx context.Context, table string, incremental bool) (*RunRef, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id, runID string) error
	TerminateAll(ctx context.Context) error
	CreateSchedule(ctx context.Context, spec ScheduleSpec) (*Schedule, error)
	ToggleSchedule(ctx context.Context, scheduleID string, pause bool) error
}

// SessionAPI covers the login glue around the job API.
type SessionAPI interface {
	Login(ctx context.Context, email, password string) (*Session, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*Session, error)
}
