package workflowapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"syncloop/internal/domain"
)

// ListJobs returns every job the engine reports, including cancelled and
// terminated ones.
func (c *Client) ListJobs(ctx context.Context) ([]domain.Job, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, http.MethodGet, "/jobs", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out jobsResponse
	if err := decode(resp, "list jobs", &out); err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(out.Jobs))
	for _, w := range out.Jobs {
		if w.ID == "" {
			c.logger.Warn("skipping job without id in list response")
			continue
		}
		jobs = append(jobs, w.toDomain())
	}
	return jobs, nil
}

// GetJobStatus returns the status snapshot and execution history of one job.
// An unknown id yields *domain.NotFoundError.
func (c *Client) GetJobStatus(ctx context.Context, id string) (*domain.JobStatus, error) {
	if id == "" {
		return nil, domain.ErrValidation("job id is required")
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id)+"/status", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get job status %s: %w", id, err)
	}
	var out statusResponse
	if err := decode(resp, "get job status "+id, &out); err != nil {
		return nil, err
	}
	if out.WorkflowID == "" {
		out.WorkflowID = id
	}
	status, err := out.toDomain()
	if err != nil {
		return nil, fmt.Errorf("decode job status %s: %w", id, err)
	}
	return status, nil
}

// RunNow starts a sync of table. A duplicate run is rejected by the engine
// with *domain.ConflictError.
func (c *Client) RunNow(ctx context.Context, table string, incremental bool) (*domain.RunRef, error) {
	if strings.TrimSpace(table) == "" {
		return nil, domain.ErrValidation("table is required")
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, http.MethodPost, "/jobs/run-now", nil, runNowRequest{Table: table, Incremental: incremental})
	if err != nil {
		return nil, fmt.Errorf("run now %s: %w", table, err)
	}
	var out runResponse
	if err := decode(resp, "run now "+table, &out); err != nil {
		return nil, err
	}
	return &domain.RunRef{WorkflowID: out.WorkflowID, RunID: out.RunID, WorkflowType: out.WorkflowType}, nil
}

// Cancel asks the engine to cancel a job. Success means the request was
// accepted, not that the job has stopped.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrValidation("job id is required")
	}
	return c.post(ctx, "/jobs/cancel", cancelRequest{WorkflowID: id}, "cancel job "+id)
}

// Retry requests re-execution of a failed run. An empty runID targets the
// latest run.
func (c *Client) Retry(ctx context.Context, id, runID string) error {
	if id == "" {
		return domain.ErrValidation("job id is required")
	}
	return c.post(ctx, "/jobs/retry", retryRequest{WorkflowID: id, RunID: runID}, "retry job "+id)
}

// TerminateAll forcefully stops every running job.
func (c *Client) TerminateAll(ctx context.Context) error {
	return c.post(ctx, "/jobs/terminate-all", nil, "terminate all jobs")
}

// CreateSchedule registers a recurring sync. An empty cron expression
// defaults to every minute. The expression must be standard five-field cron.
func (c *Client) CreateSchedule(ctx context.Context, spec domain.ScheduleSpec) (*domain.Schedule, error) {
	if strings.TrimSpace(spec.CronExpr) == "" {
		spec.CronExpr = domain.DefaultCronExpr
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(spec.CronExpr); err != nil {
		return nil, domain.ErrValidation("invalid cron expression %q: %v", spec.CronExpr, err)
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	req := createScheduleRequest{Table: spec.Table, CronExpr: spec.CronExpr, IsActive: spec.IsActive}
	resp, err := c.Do(ctx, http.MethodPost, "/jobs/schedule", nil, req)
	if err != nil {
		return nil, fmt.Errorf("create schedule for %s: %w", spec.Table, err)
	}
	var out createScheduleResponse
	if err := decode(resp, "create schedule for "+spec.Table, &out); err != nil {
		return nil, err
	}
	id := out.ScheduleID
	if id == "" {
		id = out.ID
	}
	s := domain.Schedule{ID: id, CronExpr: spec.CronExpr, IsActive: spec.IsActive}.Normalize()
	return &s, nil
}

// ToggleSchedule pauses (pause=true) or resumes a schedule.
func (c *Client) ToggleSchedule(ctx context.Context, scheduleID string, pause bool) error {
	if scheduleID == "" {
		return domain.ErrValidation("schedule id is required")
	}
	return c.post(ctx, "/jobs/schedule/toggle",
		toggleScheduleRequest{ScheduleID: scheduleID, Pause: pause},
		"toggle schedule "+scheduleID)
}

// post sends an authenticated mutation and discards the response body.
func (c *Client) post(ctx context.Context, path string, body interface{}, what string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	resp, err := c.Do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return decode(resp, what, nil)
}
