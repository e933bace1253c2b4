package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tabi/internal/apperror"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestErrorTranslatesKinds(t *testing.T) {
	errFull := apperror.Conflict("LINE_FULL", "Line is full")

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{"conflict", fmt.Errorf("join: %w", errFull), http.StatusBadRequest, "LINE_FULL"},
		{"not found", apperror.NotFound("LINE_NOT_FOUND", "Line not found"), http.StatusNotFound, "LINE_NOT_FOUND"},
		{"forbidden", apperror.Forbidden("NOT_OWNER", "Not your line"), http.StatusForbidden, "NOT_OWNER"},
		{"rate limited", apperror.RateLimited("OTP_COOLDOWN", "Wait"), http.StatusTooManyRequests, "OTP_COOLDOWN"},
		{"foreign", errors.New("driver exploded"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := render(t, tt.err)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.wantBody, body["code"])
		})
	}
}

func TestDetailsOnlyInDevelopment(t *testing.T) {
	err := apperror.Unexpected("DB_ERROR", errors.New("connection refused"))

	ExposeDetails = false
	_, body := render(t, err)
	_, has := body["details"]
	assert.False(t, has)
	assert.Equal(t, "Internal server error", body["message"])

	ExposeDetails = true
	defer func() { ExposeDetails = false }()
	_, body = render(t, err)
	assert.Equal(t, "connection refused", body["details"])
}

func TestOKMergesPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	OK(c, http.StatusCreated, gin.H{"rank": 2})

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["rank"])
}
