package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(2, 1, 20*time.Millisecond)
	var changes []string
	cb.OnStateChange = func(from, to CircuitState) {
		changes = append(changes, from.String()+"->"+to.String())
	}
	boom := errors.New("boom")
	fail := func() error { return boom }

	assert.ErrorIs(t, cb.Call(fail, nil), boom)
	assert.Equal(t, CircuitClosed, cb.State())
	assert.ErrorIs(t, cb.Call(fail, nil), boom)
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Call(func() error { return nil }, nil))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, changes)
}

func TestCircuitBreakerIgnoresUncountedFailures(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(1, 1, time.Minute)
	err := cb.Call(func() error { return errors.New("caller went away") }, func(error) bool { return false })
	require.Error(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerMiddleware(t *testing.T) {
	open := NewCircuitBreakerWithConfig(1, 1, time.Minute)
	open.RecordFailure()
	closed := NewCircuitBreaker()

	serve := func(breakers ...*CircuitBreaker) int {
		r := gin.New()
		r.GET("/", CircuitBreakerMiddleware(breakers...), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, serve(open, closed))
	assert.Equal(t, http.StatusServiceUnavailable, serve(open))
	assert.Equal(t, http.StatusOK, serve())
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 0, rl.Remaining("a"))
}

func TestRateLimitMiddlewareHeaders(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	r := gin.New()
	r.GET("/", RateLimitMiddleware(rl), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), ErrCodeRateLimited)
}

func TestAuth(t *testing.T) {
	const secret = "s3cret"
	userID := uuid.New()

	r := gin.New()
	r.GET("/me", Auth(secret, zap.NewNop()), func(c *gin.Context) {
		id, ok := GetUserID(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"id": id.String(), "tier": GetTier(c), "names": GetKnownNames(c)})
	})

	token, err := IssueToken(secret, userID, "plus", "Maria Lopez", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), `"tier":"plus"`)
	assert.Contains(t, w.Body.String(), "Maria Lopez")

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"wrong secret": "Bearer " + mustToken(t, "other", userID),
		"expired":      "Bearer " + mustExpired(t, secret, userID),
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), ErrCodeUnauthorized)
		})
	}
}

func mustToken(t *testing.T, secret string, id uuid.UUID) string {
	t.Helper()
	tok, err := IssueToken(secret, id, "free", "", time.Hour)
	require.NoError(t, err)
	return tok
}

func mustExpired(t *testing.T, secret string, id uuid.UUID) string {
	t.Helper()
	tok, err := IssueToken(secret, id, "free", "", -time.Minute)
	require.NoError(t, err)
	return tok
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.GET("/", RequestID(), func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(w.Body.String())
	require.NoError(t, err)

	inbound := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", inbound)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, inbound, w.Body.String())
	assert.Equal(t, inbound, w.Header().Get("X-Request-ID"))
}

func TestRequestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	userID := uuid.New()
	token, err := IssueToken("secret", userID, "plus", "", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(RequestLogger(zap.New(core)), RequestID())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/usage", Auth("secret", zap.NewNop()), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/api/v1/usage?user_context=secret", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, w.Header().Get("X-Request-ID"), fields["request_id"])
	assert.Equal(t, userID.String(), fields["user_id"])
	assert.Equal(t, "plus", fields["tier"])
	assert.Equal(t, "/api/v1/usage", fields["route"])
	assert.NotContains(t, fields, "query")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	entries = logs.FilterField(zap.String("path", "/health")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.NotContains(t, entries[0].ContextMap(), "user_id")

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))
	assert.Equal(t, 1, logs.FilterMessage("client error").Len())
}
