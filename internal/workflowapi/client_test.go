package workflowapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syncloop/internal/domain"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "u1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

// === NewClient ===

func TestNewClient_TrailingSlash(t *testing.T) {
	c := NewClient("http://localhost:8080/", "")
	assert.Equal(t, "http://localhost:8080", c.BaseURL)
}

func TestNewClient_SetsTimeout(t *testing.T) {
	c := NewClient("http://localhost:8080", "")
	require.NotNil(t, c.HTTPClient)
	assert.Equal(t, 30*time.Second, c.HTTPClient.Timeout)
}

func TestNewClient_CustomHTTPClient(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewClient("http://localhost:8080", "tok", Options{HTTPClient: hc})
	assert.Same(t, hc, c.HTTPClient)
	assert.Equal(t, "tok", c.Token())
}

// === Client.Do ===

func TestDo_URLConstruction(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "")
	q := url.Values{}
	q.Set("limit", "10")
	resp, err := c.Do(context.Background(), http.MethodGet, "/jobs", q, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "/api/v1/jobs", gotPath)
	assert.Equal(t, "limit=10", gotQuery)
}

func TestDo_Headers(t *testing.T) {
	var got http.Header
	var gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		if ck, err := r.Cookie(SessionCookie); err == nil {
			gotCookie = ck.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "my-token")
	resp, err := c.Do(context.Background(), http.MethodPost, "/jobs/cancel", nil, map[string]string{"workflow_id": "j1"})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer my-token", got.Get("Authorization"))
	assert.Equal(t, "my-token", gotCookie)
	_, err = uuid.Parse(got.Get("X-Request-ID"))
	assert.NoError(t, err, "X-Request-ID should be a uuid")
}

func TestDo_NoBodyNoContentType(t *testing.T) {
	var gotContentType, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "")
	resp, err := c.Do(context.Background(), http.MethodGet, "/jobs", nil, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, gotContentType)
	assert.Empty(t, gotAuth)
}

func TestDo_UniqueRequestIDs(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("X-Request-ID")] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, "")
	for i := 0; i < 3; i++ {
		resp, err := c.Do(context.Background(), http.MethodGet, "/jobs", nil, nil)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Len(t, seen, 3)
}

func TestDo_ConnectionRefused(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "")
	_, err := c.Do(context.Background(), http.MethodGet, "/jobs", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execute request")
	assert.True(t, domain.IsTransport(err))
}

func TestDo_CancelledContext(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "", Options{RateLimit: 1, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, http.MethodGet, "/jobs", nil, nil)
	require.Error(t, err)
}

// === CheckError ===

func TestCheckError_SuccessRange(t *testing.T) {
	for _, code := range []int{200, 201, 204} {
		resp := &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}
		assert.NoError(t, CheckError(resp), "status %d", code)
	}
}

func TestCheckError_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   string
	}{
		{name: "unauthorized", status: 401, kind: "auth"},
		{name: "forbidden", status: 403, kind: "auth"},
		{name: "not found", status: 404, kind: "not_found"},
		{name: "conflict", status: 409, kind: "conflict"},
		{name: "server error", status: 500, kind: "transport"},
		{name: "bad gateway", status: 502, kind: "transport"},
		{name: "bad request", status: 400, kind: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.status, Body: io.NopCloser(strings.NewReader("nope"))}
			err := CheckError(resp)
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.Kind(err))

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.HTTPStatus)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestCheckError_StructuredError(t *testing.T) {
	resp := &http.Response{
		StatusCode: 409,
		Body:       io.NopCloser(strings.NewReader(`{"code":409,"message":"already running"}`)),
	}
	err := CheckError(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (HTTP 409): already running")
	assert.True(t, domain.IsConflict(err))
}

func TestCheckError_RawBodyFallback(t *testing.T) {
	resp := &http.Response{
		StatusCode: 500,
		Body:       io.NopCloser(strings.NewReader("Internal Server Error\n")),
	}
	err := CheckError(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (HTTP 500): Internal Server Error")
}

// === ReadBody ===

type spyReadCloser struct {
	io.Reader
	mu     sync.Mutex
	closed bool
}

func (s *spyReadCloser) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestReadBody_ClosesBody(t *testing.T) {
	spy := &spyReadCloser{Reader: strings.NewReader("some content")}
	data, err := ReadBody(&http.Response{Body: spy})
	require.NoError(t, err)
	assert.Equal(t, "some content", string(data))
	assert.True(t, spy.closed, "expected body to be closed after ReadBody")
}

// === session pre-check ===

func TestRequireSession(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "missing", token: "", wantErr: true},
		{name: "expired jwt", token: signedToken(t, now.Add(-time.Minute)), wantErr: true},
		{name: "valid jwt", token: signedToken(t, now.Add(time.Hour))},
		{name: "opaque token", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("http://localhost", tt.token, Options{Now: clock})
			err := c.requireSession()
			if tt.wantErr {
				assert.True(t, domain.IsAuth(err), "want auth error, got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpiredSession_NoRequestSent(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, signedToken(t, time.Now().Add(-time.Hour)))
	_, err := c.ListJobs(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuth(err))
	assert.Zero(t, hits)
}

// === wire decoding ===

func TestDecodeHistory(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantLen int
		wantErr bool
	}{
		{name: "absent", raw: "", wantLen: 0},
		{name: "null", raw: "null", wantLen: 0},
		{name: "array", raw: `[{"event_id":2,"event_type":"B"},{"event_id":1,"event_type":"A"}]`, wantLen: 2},
		{name: "object wrapper", raw: `{"events":[{"event_id":1}]}`, wantErr: true},
		{name: "string", raw: `"nope"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeHistory(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.wantLen)
			if tt.wantLen == 2 {
				assert.Equal(t, int64(1), got[0].EventID)
			}
		})
	}
}

func TestJobWire_ToDomain(t *testing.T) {
	zero := time.Time{}
	closed := time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC)

	running := jobWire{ID: "j1", Type: "incremental", Status: "Running", CloseTime: &zero}.toDomain()
	assert.Equal(t, domain.StatusRunning, running.Status)
	assert.Equal(t, domain.JobTypeIncremental, running.Type)
	assert.Nil(t, running.CloseTime)

	failed := jobWire{ID: "j2", Type: "CopyTableWorkflow", Status: "FAILED", CloseTime: &closed}.toDomain()
	assert.Equal(t, domain.JobTypeUnknown, failed.Type)
	require.NotNil(t, failed.FailureReason)
	assert.NoError(t, failed.Validate())

	paused := jobWire{ID: "j3", Status: "COMPLETED", CloseTime: &closed, Schedule: &scheduleWire{
		ID: "s1", CronExpr: "* * * * *", IsActive: false, NextRunTime: &closed,
	}}.toDomain()
	require.NotNil(t, paused.Schedule)
	assert.Nil(t, paused.Schedule.NextRunTime)
}
