package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "moltlink/internal/errors"
	"moltlink/internal/logging"
	"moltlink/internal/metrics"
	"moltlink/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth map[string]*models.Agent

func (s stubAuth) Authenticate(_ context.Context, key string) (*models.Agent, error) {
	if a, ok := s[key]; ok {
		return a, nil
	}
	return nil, apperrors.UnauthorizedError("invalid api key")
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/who", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"agent_id": CurrentAgentID(c)})
	})
	return r
}

func do(r http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLoadAgent(t *testing.T) {
	auth := stubAuth{"good": {ID: 7, Name: "seven"}}
	r := newEngine(LoadAgent(auth))

	w := do(r, "Bearer good")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agent_id":7}`, w.Body.String())

	w = do(r, "bearer   good ")
	assert.Equal(t, http.StatusOK, w.Code, "scheme is case-insensitive")

	w = do(r, "")
	assert.JSONEq(t, `{"agent_id":0}`, w.Body.String())

	for _, h := range []string{"Bearer bad", "Basic Zm9vOmJhcg==", "Bearer", "good"} {
		w = do(r, h)
		assert.Equal(t, http.StatusUnauthorized, w.Code, h)
		var body apperrors.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, apperrors.TypeUnauthorized, body.Type)
	}
}

func TestAuthRequired(t *testing.T) {
	auth := stubAuth{"good": {ID: 1}}
	r := newEngine(LoadAgent(auth), AuthRequired())

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer good").Code)
}

func TestRejectionsAreCounted(t *testing.T) {
	rl, err := NewRateLimiter(0.001, 1, 16, time.Minute)
	require.NoError(t, err)
	r := newEngine(LoadAgent(stubAuth{"good": {ID: 3}}), rl.Middleware(), AuthRequired())

	unauthorized := testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeUnauthorized)))
	limited := testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeRateLimited)))

	assert.Equal(t, http.StatusUnauthorized, do(r, "Bearer bad").Code)
	assert.Equal(t, http.StatusOK, do(r, "Bearer good").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "Bearer good").Code)

	assert.Equal(t, unauthorized+1, testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeUnauthorized))))
	assert.Equal(t, limited+1, testutil.ToFloat64(metrics.HTTPErrorsTotal.WithLabelValues(string(apperrors.TypeRateLimited))))
}

func TestRateLimiterPerKey(t *testing.T) {
	rl, err := NewRateLimiter(0.001, 2, 16, time.Minute)
	require.NoError(t, err)

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are independent")
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl, err := NewRateLimiter(0.001, 1, 16, time.Minute)
	require.NoError(t, err)
	auth := stubAuth{"one": {ID: 1}, "two": {ID: 2}}
	r := newEngine(LoadAgent(auth), rl.Middleware())

	assert.Equal(t, http.StatusOK, do(r, "Bearer one").Code)
	w := do(r, "Bearer one")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(r, "Bearer two").Code)
	assert.Equal(t, http.StatusOK, do(r, "").Code, "anonymous requests use the ip bucket")
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/ctx", func(c *gin.Context) {
		assert.NotSame(t, slog.Default(), logging.FromContext(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ctx", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req = httptest.NewRequest(http.MethodGet, "/ctx", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
