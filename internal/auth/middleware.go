// Package auth protects the monitoring endpoints with HTTP basic auth
// against bcrypt password hashes.
package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// UserCredentials maps usernames to bcrypt password hashes.
type UserCredentials map[string]string

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

const (
	rateLimitWindow  = 5 * time.Minute
	rateLimitMaxFail = 10

	// rateLimitPruneThreshold is the number of tracked IPs above which
	// the rate limiter prunes expired entries to prevent unbounded growth.
	rateLimitPruneThreshold = 1000

	realm = `Basic realm="alist-sync", charset="UTF-8"`
)

// RequestUserID returns the authenticated user from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// remoteIP extracts the IP address from r.RemoteAddr, stripping the
// port. Falls back to the raw value if parsing fails.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Middleware returns HTTP middleware requiring basic auth credentials
// that match users. With no users configured every request passes
// through unauthenticated. Repeated failures from one IP are rejected
// with 429 until the window expires.
func Middleware(users UserCredentials, logger *slog.Logger) func(http.Handler) http.Handler {
	limiter := newLoginRateLimiter()

	return func(next http.Handler) http.Handler {
		if len(users) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			if limiter.check(ip) {
				logger.Warn("auth: rate limited",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				http.Error(w, "too many failed attempts", http.StatusTooManyRequests)

				return
			}

			username, password, ok := r.BasicAuth()
			if !ok {
				logger.Debug("auth: no credentials",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", realm)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}

			if !users.Verify(username, password) {
				limiter.record(ip)
				logger.Warn("auth: invalid credentials",
					slog.String("user", username),
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", realm)
				http.Error(w, "unauthorized", http.StatusUnauthorized)

				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxUserID, username)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// dummyHash is compared against when the user is unknown so a missing
// user costs the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("alist-sync"), bcrypt.MinCost)

// Verify reports whether password matches the stored hash for username.
func (u UserCredentials) Verify(username, password string) bool {
	hash, ok := u[username]
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// loginRateLimiter tracks failed login attempts per IP with a sliding
// window. After rateLimitMaxFail failures within the window, further
// attempts are rejected until the window expires.
type loginRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

func newLoginRateLimiter() *loginRateLimiter {
	return &loginRateLimiter{
		failures: make(map[string][]time.Time),
	}
}

// check returns true if the IP is currently rate-limited.
func (rl *loginRateLimiter) check(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rateLimitWindow)

	if len(rl.failures) > rateLimitPruneThreshold {
		for k, times := range rl.failures {
			if len(times) == 0 || times[len(times)-1].Before(cutoff) {
				delete(rl.failures, k)
			}
		}
	}

	recent := rl.failures[ip][:0]
	for _, t := range rl.failures[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) == 0 {
		delete(rl.failures, ip)
	} else {
		rl.failures[ip] = recent
	}

	return len(recent) >= rateLimitMaxFail
}

// record adds a failed attempt for the IP.
func (rl *loginRateLimiter) record(ip string) {
	rl.mu.Lock()
	rl.failures[ip] = append(rl.failures[ip], time.Now())
	rl.mu.Unlock()
}
