package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func setupRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(log))
	r.GET("/ping", func(c *gin.Context) {
		FromGin(c).Info("inside handler")
		c.String(http.StatusOK, RequestID(c))
	})
	return r
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := setupRouter(zap.New(core))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "inside handler", entries[0].Message)
	assert.Equal(t, "HTTP request completed", entries[1].Message)
	assert.Equal(t, id, entries[1].ContextMap()["request_id"])
	assert.Equal(t, int64(http.StatusOK), entries[1].ContextMap()["status"])
}

func TestMiddlewareKeepsClientRequestID(t *testing.T) {
	core, _ := observer.New(zap.InfoLevel)
	r := setupRouter(zap.New(core))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestFromGinWithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, FromGin(c))
}

func TestNewFallsBackToInfo(t *testing.T) {
	log, err := New("tabi", "production", "not-a-level")
	assert.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Core().Enabled(zap.DebugLevel))
}
