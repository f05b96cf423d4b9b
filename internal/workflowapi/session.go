package workflowapi

import (
	"context"
	"fmt"
	"net/http"

	"syncloop/internal/domain"
)

// Login establishes a session. The engine returns the token in the session
// cookie; the client keeps it for subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	if email == "" || password == "" {
		return nil, domain.ErrValidation("email and password are required")
	}
	resp, err := c.Do(ctx, http.MethodPost, "/login", nil, loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var token string
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookie && ck.Value != "" {
			token = ck.Value
		}
	}
	var out loginResponse
	if err := decode(resp, "login", &out); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, domain.ErrAuth("login response carried no session cookie")
	}
	c.SetToken(token)

	return &domain.Session{
		UserID:      out.User.ID,
		WorkspaceID: out.Workspace.ID,
		ExpiresAt:   tokenExpiry(token),
	}, nil
}

// Logout ends the session. The local token is dropped even when the engine
// call fails.
func (c *Client) Logout(ctx context.Context) error {
	defer c.SetToken("")
	if c.Token() == "" {
		return nil
	}
	resp, err := c.Do(ctx, http.MethodPost, "/logout", nil, nil)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return decode(resp, "logout", nil)
}

// Me returns the principal behind the current session.
func (c *Client) Me(ctx context.Context) (*domain.Session, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	resp, err := c.Do(ctx, http.MethodGet, "/me", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	var out meResponse
	if err := decode(resp, "me", &out); err != nil {
		return nil, err
	}
	return &domain.Session{
		UserID:      out.UserID,
		WorkspaceID: out.WorkspaceID,
		ExpiresAt:   tokenExpiry(c.Token()),
	}, nil
}

// Health checks the engine's unauthenticated /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if err := CheckError(resp); err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}
	_, _ = ReadBody(resp)
	return nil
}
