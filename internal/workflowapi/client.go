// Package workflowapi is the HTTP/JSON client for the workflow engine's job
// API. It issues exactly one request per call and never retries; callers
// rely on their next poll tick for resilience.
package workflowapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"syncloop/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 20
	apiPrefix        = "/api/v1"

	// SessionCookie is the cookie the engine uses to carry the session token.
	SessionCookie = "token"
)

var (
	_ domain.JobAPI     = (*Client)(nil)
	_ domain.SessionAPI = (*Client)(nil)
)

// Options tunes a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client
	// RateLimit caps outgoing requests per second. Zero means 20/s.
	RateLimit rate.Limit
	Burst     int
	Logger    *slog.Logger
	// Now is used for session expiry checks.
	Now func() time.Time
}

// Client talks to the workflow engine.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.RWMutex
	token string
}

// NewClient creates a Client for baseURL. token may be empty until Login.
func NewClient(baseURL, token string, opts ...Options) *Client {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.RateLimit == 0 {
		o.RateLimit = defaultRateLimit
	}
	if o.Burst <= 0 {
		o.Burst = int(o.RateLimit)
		if o.Burst < 1 {
			o.Burst = 1
		}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}

	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: o.HTTPClient,
		limiter:    rate.NewLimiter(o.RateLimit, o.Burst),
		logger:     o.Logger,
		now:        o.Now,
		token:      token,
	}
}

// Token returns the current session token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the session token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Do sends a request to path under /api/v1. A non-nil body is JSON-encoded.
// Network failures are returned as *domain.TransportError; the HTTP status is
// not inspected (see CheckError).
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	return c.do(ctx, method, apiPrefix+path, query, body)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Debug("workflow api request failed",
			"method", method, "path", path, "request_id", requestID, "error", err)
		return nil, domain.ErrTransport(err, "execute request %s %s: %v", method, path, err)
	}
	c.logger.Debug("workflow api request",
		"method", method, "path", path, "request_id", requestID,
		"status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

// APIError is a non-2xx response from the engine.
type APIError struct {
	HTTPStatus int    `json:"http_status"`
	Code       int    `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.HTTPStatus, e.Message)
}

// CheckError returns nil for 2xx responses. Otherwise it consumes and closes
// the body and returns a classified domain error wrapping an *APIError.
func CheckError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := ReadBody(resp)

	apiErr := &APIError{HTTPStatus: resp.StatusCode}
	var structured struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &structured); err == nil && structured.Message != "" {
		apiErr.Code = structured.Code
		apiErr.Message = structured.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return classify(apiErr)
}

func classify(apiErr *APIError) error {
	msg := apiErr.Error()
	switch {
	case apiErr.HTTPStatus == http.StatusUnauthorized, apiErr.HTTPStatus == http.StatusForbidden:
		return &domain.AuthError{Message: msg, Err: apiErr}
	case apiErr.HTTPStatus == http.StatusNotFound:
		return &domain.NotFoundError{Message: msg, Err: apiErr}
	case apiErr.HTTPStatus == http.StatusConflict:
		return &domain.ConflictError{Message: msg, Err: apiErr}
	case apiErr.HTTPStatus >= 500:
		return &domain.TransportError{Message: msg, Err: apiErr}
	default:
		return apiErr
	}
}

// ReadBody reads and closes the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close() //nolint:errcheck
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}

// decode checks resp for an error status and decodes a 2xx body into out.
// out may be nil to discard the body.
func decode(resp *http.Response, what string, out interface{}) error {
	if err := CheckError(resp); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	data, err := ReadBody(resp)
	if err != nil {
		return domain.ErrTransport(err, "%s: %v", what, err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", what, err)
	}
	return nil
}

// requireSession fails fast with an AuthError when no token is held or the
// token's exp claim has passed. Opaque (non-JWT) tokens are passed through
// for the engine to judge.
func (c *Client) requireSession() error {
	token := c.Token()
	if token == "" {
		return domain.ErrAuth("no session: log in first")
	}
	exp := tokenExpiry(token)
	if exp != nil && !c.now().Before(*exp) {
		return domain.ErrAuth("session expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}

// tokenExpiry reads the exp claim without verifying the signature. The
// engine owns verification; the client only wants to avoid a doomed request.
func tokenExpiry(token string) *time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}
