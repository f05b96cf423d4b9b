package cli

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncloop/internal/domain"
	"syncloop/internal/enginetest"
	"syncloop/internal/workflowapi"
)

func seedJobs(eng *enginetest.Engine) {
	start := time.Now().Add(-10 * time.Minute)
	eng.AddJob(enginetest.Job{ID: "sync-users-1", Table: "users", Status: domain.StatusRunning, StartTime: start})
	eng.AddJob(enginetest.Job{ID: "sync-orders-1", RunID: "run-o1", Table: "orders", Type: "incremental", Status: domain.StatusFailed, FailureReason: "disk full", StartTime: start})
	eng.AddJob(enginetest.Job{ID: "sync-events-1", Table: "events", Status: domain.StatusCancelled, StartTime: start})
}

func TestCLI_JobsList_Table(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "list")...)
	require.NoError(t, res.err)

	lines := strings.Split(strings.TrimRight(res.stdout, "\n"), "\n")
	require.Len(t, lines, 3, "header + two visible jobs")
	assert.Contains(t, lines[0], "STATUS")
	assert.Contains(t, lines[0], "ACTIONS")
	assert.Contains(t, res.stdout, "sync-users-1")
	assert.Contains(t, res.stdout, "Running")
	assert.Contains(t, res.stdout, "sync-orders-1")
	assert.Contains(t, res.stdout, "Incremental")
	assert.NotContains(t, res.stdout, "sync-events-1", "cancelled jobs are hidden")
}

func TestCLI_JobsList_All(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "list", "--all")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "sync-events-1")
}

func TestCLI_JobsList_JSON(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "-o", "json", "jobs", "list")...)
	require.NoError(t, res.err)

	var out struct {
		Jobs []struct {
			ID            string   `json:"id"`
			Status        string   `json:"status"`
			FailureReason *string  `json:"failure_reason"`
			CloseTime     *string  `json:"close_time"`
			Actions       []string `json:"actions"`
		} `json:"jobs"`
		Running bool `json:"running"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	require.Len(t, out.Jobs, 2)

	assert.Equal(t, "sync-users-1", out.Jobs[0].ID)
	assert.Equal(t, []string{"cancel"}, out.Jobs[0].Actions)
	assert.Nil(t, out.Jobs[0].CloseTime)

	assert.Equal(t, "FAILED", out.Jobs[1].Status)
	require.NotNil(t, out.Jobs[1].FailureReason)
	assert.Equal(t, "disk full", *out.Jobs[1].FailureReason)
	assert.Equal(t, []string{"retry"}, out.Jobs[1].Actions)
	assert.NotNil(t, out.Jobs[1].CloseTime)
}

func TestCLI_JobsShow(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)
	eng.SetStatus("sync-users-1", domain.StatusCompleted, "")

	res := runCLI(t, withArgs(base, "jobs", "show", "sync-users-1")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Completed")
	assert.Contains(t, res.stdout, "Finished:")
	assert.Contains(t, res.stdout, "History:")
	assert.Contains(t, res.stdout, "WorkflowExecutionCompleted")
}

func TestCLI_JobsShow_NotFound(t *testing.T) {
	_, base := setupEngine(t)

	res := runCLI(t, withArgs(base, "jobs", "show", "missing")...)
	require.Error(t, res.err)
	assert.True(t, domain.IsNotFound(res.err))
}

func TestCLI_JobsRun(t *testing.T) {
	eng, base := setupEngine(t)

	res := runCLI(t, withArgs(base, "jobs", "run", "users", "--incremental")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Started incremental sync of users")

	jobs := eng.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "users", jobs[0].Table)
	assert.Equal(t, string(domain.JobTypeIncremental), jobs[0].Type)
}

func TestCLI_JobsRun_Conflict(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "run", "users")...)
	require.Error(t, res.err)
	assert.True(t, domain.IsConflict(res.err))
	assert.Len(t, eng.Jobs(), 3, "nothing started")
}

func TestCLI_JobsCancel_Wait(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)
	eng.SetCancelDelay(2)

	res := runCLI(t, withArgs(base, "jobs", "cancel", "sync-users-1", "--wait")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Cancellation of sync-users-1 confirmed")

	j, ok := eng.Job("sync-users-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCancelled, j.Status)
}

func TestCLI_JobsCancel_NotRunning(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "cancel", "sync-orders-1")...)
	require.Error(t, res.err)
	assert.Equal(t, "validation", domain.Kind(res.err))
	assert.Zero(t, eng.Calls("POST /api/v1/jobs/cancel"))
}

func TestCLI_JobsRetry(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "retry", "sync-orders-1")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Retry of sync-orders-1 requested")

	j, ok := eng.Job("retry-sync-orders-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusRunning, j.Status)
}

func TestCLI_TerminateAll(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "jobs", "terminate-all")...)
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, domain.ErrConfirmationRequired)
	assert.Zero(t, eng.Calls("POST /api/v1/jobs/terminate-all"))

	res = runCLI(t, withArgs(base, "jobs", "terminate-all", "--yes")...)
	require.NoError(t, res.err)
	j, _ := eng.Job("sync-users-1")
	assert.Equal(t, domain.StatusTerminated, j.Status)
}

func TestCLI_Schedule(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)

	res := runCLI(t, withArgs(base, "schedule", "create", "users", "--cron", "*/15 * * * *")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "schedule-users")
	s, ok := eng.Schedule("schedule-users")
	require.True(t, ok)
	assert.True(t, s.IsActive)

	res = runCLI(t, withArgs(base, "schedule", "resume", "sync-users-1")...)
	require.Error(t, res.err, "resume is not offered for an active schedule")

	res = runCLI(t, withArgs(base, "-o", "json", "schedule", "pause", "sync-users-1")...)
	require.NoError(t, res.err)
	var out struct {
		Schedule struct {
			IsActive    bool    `json:"is_active"`
			NextRunTime *string `json:"next_run_time"`
		} `json:"schedule"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &out))
	assert.False(t, out.Schedule.IsActive)
	assert.Nil(t, out.Schedule.NextRunTime)

	s, _ = eng.Schedule("schedule-users")
	assert.False(t, s.IsActive)
	j, _ := eng.Job("sync-users-1")
	assert.Equal(t, domain.StatusRunning, j.Status, "pausing a schedule leaves the job alone")
}

func TestCLI_ScheduleCreate_InvalidCron(t *testing.T) {
	eng, base := setupEngine(t)

	res := runCLI(t, withArgs(base, "schedule", "create", "users", "--cron", "every minute")...)
	require.Error(t, res.err)
	assert.Equal(t, "validation", domain.Kind(res.err))
	assert.Zero(t, eng.Calls("POST /api/v1/jobs/schedule"))
}

func TestCLI_JobsWatch_UntilTerminal(t *testing.T) {
	eng, base := setupEngine(t)
	seedJobs(eng)
	time.AfterFunc(50*time.Millisecond, func() {
		eng.SetStatus("sync-users-1", domain.StatusCompleted, "")
	})

	res := runCLI(t, withArgs(base, "jobs", "watch", "sync-users-1")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Running")
	assert.Contains(t, res.stdout, "Completed")
}

func TestCLI_Health(t *testing.T) {
	_, base := setupEngine(t)

	res := runCLI(t, withArgs(base, "health")...)
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "is healthy")
}

func TestCLI_ExpiredToken(t *testing.T) {
	isolateEnv(t)
	eng := enginetest.New()
	srv := eng.Server(t)

	res := runCLI(t, "--host", srv.URL, "--token", eng.IssueToken("u1", "w1", -time.Minute), "jobs", "list")
	require.Error(t, res.err)
	assert.True(t, domain.IsAuth(res.err))
	assert.Zero(t, eng.Calls("GET /api/v1/jobs"))
}

func TestCLI_ServerError(t *testing.T) {
	eng, base := setupEngine(t)
	eng.FailNext("GET /api/v1/jobs", http.StatusInternalServerError, "database is down")

	res := runCLI(t, withArgs(base, "jobs", "list")...)
	require.Error(t, res.err)
	assert.True(t, domain.IsTransport(res.err))
	assert.Contains(t, res.err.Error(), "database is down")
}

func TestCLI_ConnectionRefused(t *testing.T) {
	isolateEnv(t)

	res := runCLI(t, "--host", "http://127.0.0.1:1", "--token", "opaque", "jobs", "list")
	require.Error(t, res.err)
	assert.True(t, domain.IsTransport(res.err))
	assert.Contains(t, res.err.Error(), "execute request")
}

func TestCLI_InvalidHost(t *testing.T) {
	isolateEnv(t)

	res := runCLI(t, "--host", "localhost:8000", "jobs", "list")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "scheme must be http or https")
}

func TestCLI_InvalidOutput(t *testing.T) {
	isolateEnv(t)

	res := runCLI(t, "-o", "yaml", "version")
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "unsupported output format")
}

func TestCLI_HostFromEnv(t *testing.T) {
	eng, _ := setupEngine(t)
	srv := eng.Server(t)
	t.Setenv("SYNCLOOP_HOST", srv.URL)
	t.Setenv("SYNCLOOP_TOKEN", eng.IssueToken("u1", "w1", time.Hour))

	res := runCLI(t, "health")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, srv.URL)
}

func TestErrorEnvelope(t *testing.T) {
	apiErr := &workflowapi.APIError{HTTPStatus: http.StatusConflict, Code: 409, Message: "already running"}
	err := domain.ErrConflict("run now: %v", apiErr)
	err.Err = apiErr

	env := errorEnvelope(err)
	assert.Equal(t, "conflict", env["kind"])
	assert.Equal(t, http.StatusConflict, env["http_status"])
	assert.Equal(t, 409, env["code"])

	plain := errorEnvelope(errors.New("boom"))
	assert.Equal(t, "boom", plain["error"])
	assert.NotContains(t, plain, "kind")
	assert.NotContains(t, plain, "http_status")
}
