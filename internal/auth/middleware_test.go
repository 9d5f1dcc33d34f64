package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testUsers(t *testing.T) UserCredentials {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	return UserCredentials{"testuser": string(hash)}
}

// echoUser writes the authenticated user and IP from the context.
var echoUser = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, RequestUserID(r.Context())+"@"+RequestRemoteIP(r.Context()))
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

// --- Verify ---

func TestVerify(t *testing.T) {
	users := testUsers(t)
	assert.True(t, users.Verify("testuser", "password123"))
	assert.False(t, users.Verify("testuser", "wrong"))
	assert.False(t, users.Verify("nobody", "password123"))
}

// --- Middleware ---

func TestMiddleware_NoUsersPassesThrough(t *testing.T) {
	h := Middleware(UserCredentials{}, testLogger())(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_MissingCredentials(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(echoUser)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestMiddleware_WrongPassword(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(echoUser)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.SetBasicAuth("testuser", "nope")

	rec := serve(h, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddleware_ValidCredentials(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(echoUser)

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	req.SetBasicAuth("testuser", "password123")

	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "testuser@10.0.0.7", rec.Body.String())
}

func TestMiddleware_RateLimitsAfterRepeatedFailures(t *testing.T) {
	h := Middleware(testUsers(t), testLogger())(echoUser)

	for i := 0; i < rateLimitMaxFail; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
		req.SetBasicAuth("testuser", "wrong")
		require.Equal(t, http.StatusUnauthorized, serve(h, req).Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	req.SetBasicAuth("testuser", "password123")
	assert.Equal(t, http.StatusTooManyRequests, serve(h, req).Code, "even correct credentials are blocked")

	other := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
	other.RemoteAddr = "192.0.2.99:1234"
	other.SetBasicAuth("testuser", "password123")
	assert.Equal(t, http.StatusOK, serve(h, other).Code, "other IPs are unaffected")
}

// --- remoteIP ---

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:8080"
	assert.Equal(t, "192.0.2.1", remoteIP(r))

	r.RemoteAddr = "not-a-hostport"
	assert.Equal(t, "not-a-hostport", remoteIP(r))
}

// --- loginRateLimiter ---

func TestLoginRateLimiter_UnderLimit(t *testing.T) {
	rl := newLoginRateLimiter()
	for i := 0; i < rateLimitMaxFail-1; i++ {
		rl.record("1.2.3.4")
	}
	assert.False(t, rl.check("1.2.3.4"))
	rl.record("1.2.3.4")
	assert.True(t, rl.check("1.2.3.4"))
}

func TestLoginRateLimiter_UnknownIP(t *testing.T) {
	rl := newLoginRateLimiter()
	assert.False(t, rl.check("5.6.7.8"))
	assert.Empty(t, rl.failures)
}
