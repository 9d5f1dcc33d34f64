// Package alist is a client for the AList file-manager HTTP API. It only
// covers the calls the sync scheduler needs: login, directory listing,
// copy, rename and the outstanding copy task queue.
package alist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/alist-sync/internal/errors"
	"github.com/alexjbarnes/alist-sync/internal/models"
	"github.com/tidwall/gjson"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError, meaning the caller should retry after a backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return errors.Is(err, apperrors.ErrAuth)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// by the API client when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Listings of large
	// directories can run to a few megabytes.
	maxAPIResponseBytes = 16 * 1024 * 1024
)

// outcome is the classification of an API envelope's code field.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeAuthFailure
	outcomeTransientFailure
	outcomeRejected
)

// classify maps an AList envelope code (which mirrors HTTP status codes)
// to an outcome.
func classify(code int) outcome {
	switch {
	case code == http.StatusOK:
		return outcomeSuccess
	case code == http.StatusUnauthorized:
		return outcomeAuthFailure
	case isTransientStatus(code):
		return outcomeTransientFailure
	default:
		return outcomeRejected
	}
}

// Client talks to the AList REST API. It is safe for concurrent use; the
// session token is swapped atomically on re-login.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu    sync.RWMutex
	token string

	now func() time.Time
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the Authorization
// header from leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client for the AList server at baseURL.
// If httpClient is nil, a client with a 30-second timeout and
// same-host redirect policy is created.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		now:        time.Now,
	}
}

// Token returns the current session token, or empty string.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// SetToken replaces the session token, e.g. with one cached from a
// previous run.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a request and decodes the envelope's data field into result.
// A nil body sends no payload.
func (c *Client) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("sending request to %s: %w: %w", endpoint, apperrors.ErrAPIRequest, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return &TransientError{Err: fmt.Errorf("reading response from %s: %w", endpoint, err)}
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
	}

	// AList reports failures as HTTP 200 with a non-200 code in the
	// envelope, so peek at it before decoding the payload.
	code := gjson.GetBytes(respBody, "code")
	if !code.Exists() {
		return fmt.Errorf("API %s: %w: missing code in %s", endpoint, apperrors.ErrAPIResponse, sanitizeResponseBody(respBody))
	}

	if classify(int(code.Int())) != outcomeSuccess {
		msg := gjson.GetBytes(respBody, "message").String()
		return statusError(endpoint, int(code.Int()), sanitizeResponseBody([]byte(msg)))
	}

	if result == nil {
		return nil
	}

	data := gjson.GetBytes(respBody, "data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil
	}

	if err := json.Unmarshal([]byte(data.Raw), result); err != nil {
		return fmt.Errorf("decoding response from %s: %w: %w", endpoint, apperrors.ErrAPIResponse, err)
	}

	return nil
}

// statusError builds the error for a non-success code, classified so
// callers can tell auth failures and transient failures apart.
func statusError(endpoint string, code int, msg string) error {
	switch classify(code) {
	case outcomeAuthFailure:
		return fmt.Errorf("API %s (%d): %s: %w", endpoint, code, msg, apperrors.ErrAuth)
	case outcomeTransientFailure:
		return &TransientError{Err: fmt.Errorf("API %s (%d): %s", endpoint, code, msg)}
	default:
		return fmt.Errorf("API %s (%d): %s: %w", endpoint, code, msg, apperrors.ErrAPIResponse)
	}
}

// isTransientStatus returns true for status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// Login authenticates with username and password and stores the returned
// token on the client.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	req := LoginRequest{
		Username: username,
		Password: password,
	}

	// Never send a stale token with a login request.
	c.SetToken("")

	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", req, &resp); err != nil {
		if IsTransient(err) {
			return "", fmt.Errorf("logging in: %w", err)
		}

		return "", fmt.Errorf("logging in as %s: %w: %w", username, apperrors.ErrAuth, err)
	}

	if resp.Token == "" {
		return "", fmt.Errorf("logging in as %s: %w: empty token", username, apperrors.ErrAuth)
	}

	c.SetToken(resp.Token)

	return resp.Token, nil
}

// Me returns the user the current token belongs to. Used to check
// whether a cached token is still valid.
func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	return &resp, nil
}

// ListDirectory returns the immediate children of dir.
func (c *Client) ListDirectory(ctx context.Context, dir string) (*models.Listing, error) {
	req := ListRequest{
		Path:    dir,
		Page:    1,
		PerPage: 0,
	}

	var resp ListResponse
	if err := c.do(ctx, http.MethodPost, "/api/fs/list", req, &resp); err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	return resp.listing(dir, c.now()), nil
}

// Copy asks the backend to copy names from srcDir into dstDir and returns
// the ids of the tasks it created.
func (c *Client) Copy(ctx context.Context, srcDir string, names []string, dstDir string) ([]string, error) {
	req := CopyRequest{
		SrcDir: srcDir,
		DstDir: dstDir,
		Names:  names,
	}

	var resp CopyResponse
	if err := c.do(ctx, http.MethodPost, "/api/fs/copy", req, &resp); err != nil {
		return nil, fmt.Errorf("copying %d entries from %s: %w", len(names), srcDir, err)
	}

	ids := make([]string, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		ids = append(ids, t.ID)
	}

	return ids, nil
}

// Rename renames dir/oldName to newName in place.
func (c *Client) Rename(ctx context.Context, dir, oldName, newName string) error {
	req := RenameRequest{
		Path: path.Join(dir, oldName),
		Name: newName,
	}

	if err := c.do(ctx, http.MethodPost, "/api/fs/rename", req, nil); err != nil {
		return fmt.Errorf("renaming %q to %q: %w", oldName, newName, err)
	}

	return nil
}

// OutstandingTasks returns copy tasks the backend has not finished yet.
func (c *Client) OutstandingTasks(ctx context.Context) ([]models.CopyTask, error) {
	var resp []TaskInfo
	if err := c.do(ctx, http.MethodGet, "/api/admin/task/copy/undone", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing undone copy tasks: %w", err)
	}

	tasks := make([]models.CopyTask, 0, len(resp))
	for _, t := range resp {
		tasks = append(tasks, t.CopyTask())
	}

	return tasks, nil
}
