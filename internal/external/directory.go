package external

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
	"time"

	"weatherdesk/internal/types"
)

const directoryUserAgent = "WeatherDesk/1.0"

// LoginResult is the directory's answer to a successful login. Role is kept
// raw; callers parse it against the closed role set.
type LoginResult struct {
	Username     string `json:"username"`
	Role         string `json:"role"`
	HasLLMAccess bool   `json:"has_llm_access"`
}

// errorPayload is the error body shared by the directory and prediction services.
type errorPayload struct {
	Error string `json:"error"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type usernameBody struct {
	Username string `json:"username"`
}

type toggleBody struct {
	Username string `json:"username"`
	Access   bool   `json:"access"`
}

// DirectoryClient talks to the auth/directory service that owns accounts,
// access flags and the audit log.
type DirectoryClient struct {
	base    *BaseClient
	baseURL string
	logger  *slog.Logger
}

// NewDirectoryClient creates a DirectoryClient with a small retry budget.
func NewDirectoryClient(httpClient *http.Client, baseURL string, logger *slog.Logger) *DirectoryClient {
	base := NewBaseClient(
		httpClient,
		"directory",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    200 * time.Millisecond,
			MaxWait:    2 * time.Second,
		},
		directoryUserAgent,
	)
	return NewDirectoryClientWithBase(base, baseURL, logger)
}

// NewDirectoryClientWithBase creates a DirectoryClient with a pre-configured
// BaseClient (tests disable retries this way).
func NewDirectoryClientWithBase(base *BaseClient, baseURL string, logger *slog.Logger) *DirectoryClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryClient{
		base:    base,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Login checks credentials and returns the account's role.
func (c *DirectoryClient) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	if err := c.call(ctx, "Login", http.MethodPost, "/login", credentials{username, password}, &out); err != nil {
		return nil, err
	}
	if out.Username == "" {
		out.Username = username
	}
	return &out, nil
}

// Signup creates a new account with role user.
func (c *DirectoryClient) Signup(ctx context.Context, username, password string) error {
	return c.call(ctx, "Signup", http.MethodPost, "/signup", credentials{username, password}, nil)
}

// ListUsers returns every account with its access flags.
func (c *DirectoryClient) ListUsers(ctx context.Context) ([]types.UserRecord, error) {
	var out struct {
		Users []types.UserRecord `json:"users"`
	}
	if err := c.call(ctx, "ListUsers", http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// ListPending returns the usernames with an open access request.
func (c *DirectoryClient) ListPending(ctx context.Context) ([]string, error) {
	var out struct {
		Users []string `json:"users"`
	}
	if err := c.call(ctx, "ListPending", http.MethodGet, "/users/pending", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// ToggleAccess sets has_llm_access directly. Granting also clears the
// request flag on the directory side.
func (c *DirectoryClient) ToggleAccess(ctx context.Context, username string, access bool) error {
	return c.call(ctx, "ToggleAccess", http.MethodPost, "/users/toggle-access", toggleBody{username, access}, nil)
}

// DeleteUser removes an account. The directory refuses admin and debugger
// accounts with 403.
func (c *DirectoryClient) DeleteUser(ctx context.Context, username string) error {
	return c.call(ctx, "DeleteUser", http.MethodPost, "/users/delete", usernameBody{username}, nil)
}

// RequestAccess marks the account as having requested access.
func (c *DirectoryClient) RequestAccess(ctx context.Context, username string) error {
	return c.call(ctx, "RequestAccess", http.MethodPost, "/access/request", usernameBody{username}, nil)
}

// RevokeAccess clears both the access and request flags.
func (c *DirectoryClient) RevokeAccess(ctx context.Context, username string) error {
	return c.call(ctx, "RevokeAccess", http.MethodPost, "/access/revoke", usernameBody{username}, nil)
}

// AccessStatus returns the account's status. Unknown accounts report none.
func (c *DirectoryClient) AccessStatus(ctx context.Context, username string) (types.AccessStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	path := "/access/status?username=" + url.QueryEscape(username)
	if err := c.call(ctx, "AccessStatus", http.MethodGet, path, nil, &out); err != nil {
		return types.AccessNone, err
	}
	return types.ParseAccessStatus(out.Status), nil
}

// AuditLogs returns the directory's audit log in append order.
func (c *DirectoryClient) AuditLogs(ctx context.Context) ([]types.AuditEntry, error) {
	var out struct {
		Logs []types.AuditEntry `json:"logs"`
	}
	if err := c.call(ctx, "AuditLogs", http.MethodGet, "/audit/logs", nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// Ping checks the directory's health endpoint.
func (c *DirectoryClient) Ping(ctx context.Context) error {
	return c.call(ctx, "Ping", http.MethodGet, "/health", nil, nil)
}

// call performs one JSON round trip. A nil out discards the success body.
func (c *DirectoryClient) call(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode directory request", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create directory request", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "directory call failed", "op", op, "error", err)
		return types.NewAppError(types.ErrCodeUpstreamDirectory, "directory service unavailable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(ctx, resp, op)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamDirectory, "failed to decode directory response", err)
	}
	return nil
}

// handleErrorResponse maps a 4xx response to an AppError carrying the
// directory's own message.
func (c *DirectoryClient) handleErrorResponse(ctx context.Context, resp *http.Response, op string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload errorPayload
	msg := ""
	if json.Unmarshal(raw, &payload) == nil {
		msg = payload.Error
	}
	if msg == "" {
		msg = fmt.Sprintf("directory returned %d", resp.StatusCode)
	}

	var code types.ErrorCode
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code = types.ErrCodeAuthInvalidCreds
	case http.StatusForbidden:
		code = types.ErrCodePermissionProtected
	case http.StatusNotFound:
		code = types.ErrCodeNotFoundUser
	default:
		code = types.ErrCodeUpstreamDirectory
	}

	c.logger.WarnContext(ctx, "directory rejected request",
		"op", op,
		"status", resp.StatusCode,
		"message", msg,
	)

	return types.NewAppErrorWithDetails(code, msg, nil, map[string]any{"status": resp.StatusCode})
}
