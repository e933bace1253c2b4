package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tabi/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHTTPSenderPostsJSON(t *testing.T) {
	var got smsRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := New(config.SMSConfig{GatewayURL: srv.URL, APIKey: "k", Sender: "Tabi"}, zap.NewNop())
	err := s.SendSMS(context.Background(), "+97699000000", "You're next")

	require.NoError(t, err)
	assert.Equal(t, "Bearer k", auth)
	assert.Equal(t, smsRequest{To: "+97699000000", From: "Tabi", Message: "You're next"}, got)
}

func TestHTTPSenderGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := New(config.SMSConfig{GatewayURL: srv.URL}, zap.NewNop())
	err := s.SendSMS(context.Background(), "+97699000000", "hi")

	assert.True(t, errors.Is(err, ErrGateway))
}

func TestNewWithoutGatewayLogs(t *testing.T) {
	s := New(config.SMSConfig{}, zap.NewNop())
	_, ok := s.(*LogSender)
	assert.True(t, ok)
	assert.NoError(t, s.SendSMS(context.Background(), "+97699000000", "hi"))
}
