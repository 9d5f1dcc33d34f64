package alist

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexjbarnes/alist-sync/internal/models"
)

// Session wraps a Client with the credentials it logged in with. When a
// call fails because the token expired, the session logs in again once and
// retries the call.
type Session struct {
	client   *Client
	username string
	password string
	logger   *slog.Logger

	// onToken is called with every fresh token so it can be cached.
	onToken func(token string)

	loginMu sync.Mutex
}

// NewSession creates a session around client. onToken may be nil.
func NewSession(client *Client, username, password string, onToken func(string), logger *slog.Logger) *Session {
	return &Session{
		client:   client,
		username: username,
		password: password,
		logger:   logger,
		onToken:  onToken,
	}
}

// Authenticate makes sure the session holds a working token. A cached
// token is tried first; if the server rejects it a fresh login is made.
// The returned error wraps ErrAuth when credentials are refused.
func (s *Session) Authenticate(ctx context.Context, cachedToken string) error {
	if cachedToken != "" {
		s.logger.Debug("trying cached token")
		s.client.SetToken(cachedToken)

		me, err := s.client.Me(ctx)
		if err == nil {
			s.logger.Info("authenticated with cached token", slog.String("user", me.Username))
			return nil
		}

		if !IsAuth(err) {
			return err
		}

		s.logger.Debug("cached token expired, logging in fresh")
	}

	return s.login(ctx, "")
}

// login performs a fresh login unless another goroutine already replaced
// the stale token in the meantime.
func (s *Session) login(ctx context.Context, stale string) error {
	s.loginMu.Lock()
	defer s.loginMu.Unlock()

	if stale != "" && s.client.Token() != stale {
		return nil
	}

	s.logger.Info("logging in", slog.String("user", s.username))

	token, err := s.client.Login(ctx, s.username, s.password)
	if err != nil {
		return err
	}

	s.logger.Info("logged in", slog.String("user", s.username))

	if s.onToken != nil {
		s.onToken(token)
	}

	return nil
}

// withRelogin runs fn and, if it failed with an auth error, logs in again
// and runs it one more time.
func withRelogin[T any](ctx context.Context, s *Session, fn func() (T, error)) (T, error) {
	stale := s.client.Token()

	v, err := fn()
	if err == nil || !IsAuth(err) {
		return v, err
	}

	s.logger.Warn("session rejected, logging in again", slog.String("error", err.Error()))

	if lerr := s.login(ctx, stale); lerr != nil {
		var zero T
		return zero, fmt.Errorf("re-login after %v: %w", err, lerr)
	}

	return fn()
}

// ListDirectory lists dir, re-authenticating if needed.
func (s *Session) ListDirectory(ctx context.Context, dir string) (*models.Listing, error) {
	return withRelogin(ctx, s, func() (*models.Listing, error) {
		return s.client.ListDirectory(ctx, dir)
	})
}

// Copy submits a copy request, re-authenticating if needed.
func (s *Session) Copy(ctx context.Context, srcDir string, names []string, dstDir string) ([]string, error) {
	return withRelogin(ctx, s, func() ([]string, error) {
		return s.client.Copy(ctx, srcDir, names, dstDir)
	})
}

// Rename renames an entry, re-authenticating if needed.
func (s *Session) Rename(ctx context.Context, dir, oldName, newName string) error {
	_, err := withRelogin(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.client.Rename(ctx, dir, oldName, newName)
	})

	return err
}

// OutstandingTasks lists unfinished copy tasks, re-authenticating if needed.
func (s *Session) OutstandingTasks(ctx context.Context) ([]models.CopyTask, error) {
	return withRelogin(ctx, s, func() ([]models.CopyTask, error) {
		return s.client.OutstandingTasks(ctx)
	})
}
