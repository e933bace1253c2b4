package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tabi/internal/appointments"
	"tabi/internal/auth"
	"tabi/internal/business"
	"tabi/internal/config"
	"tabi/internal/dashboard"
	"tabi/internal/lines"
	"tabi/internal/models"
	"tabi/internal/payments"
	"tabi/internal/queue"
	"tabi/internal/reviews"
	"tabi/internal/subscriptions"
	"tabi/internal/testutil"
	"tabi/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const webhookSecret = "whsec"

type testServer struct {
	*httptest.Server
	db     *gorm.DB
	hub    *ws.Hub
	tokens *auth.Tokens
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	// Wednesday noon, inside the default opening hours.
	clock := &testutil.Clock{T: time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)}
	log := zap.NewNop()

	hub := ws.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	tokens := auth.NewTokens(config.JWTConfig{
		AccessSecret:  "access",
		RefreshSecret: "refresh",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
	}, nil)

	subs := subscriptions.NewService(db, subscriptions.Deps{Now: clock.Now})
	stats := dashboard.NewService(db, dashboard.Deps{})
	biz := business.NewService(db, business.Deps{Stats: stats, Now: clock.Now})
	appts := appointments.NewService(db, appointments.Deps{Now: clock.Now})

	h := &Handlers{
		Tokens:       tokens,
		Lines:        lines.NewService(db, lines.Deps{Limits: subs, Members: biz, Now: clock.Now}),
		Queue:        queue.NewService(db, queue.Deps{Quota: subs, Publisher: hub, Now: clock.Now}),
		Dashboard:    stats,
		Business:     biz,
		Appointments: appts,
		Payments: payments.NewService(db, payments.Deps{
			Subscriptions: subs,
			Businesses:    biz,
			Appointments:  appts,
			Config:        config.PaymentConfig{WebhookSecret: webhookSecret, CheckoutBaseURL: "https://pay.test/checkout"},
			Now:           clock.Now,
		}),
		Reviews: reviews.NewService(db, log),
		Hub:     hub,
		Now:     clock.Now,
	}

	r := gin.New()
	h.Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, db: db, hub: hub, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID uint) string {
	t.Helper()
	access, _, err := s.tokens.Issue(userID)
	require.NoError(t, err)
	return access
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func readEvent(t *testing.T, conn *websocket.Conn) ws.WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg ws.WSMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestQueueFlow(t *testing.T) {
	ts := setupTestServer(t)

	creator := testutil.CreateUser(t, ts.db, "+97688000001", true)
	alice := testutil.CreateUser(t, ts.db, "+97688000002", false)
	bob := testutil.CreateUser(t, ts.db, "+97688000003", false)
	creatorToken := ts.token(t, creator.ID)

	status, body := ts.do(t, http.MethodPost, "/api/lines", creatorToken, gin.H{"title": "Haircut", "maxCapacity": 10, "estimatedServiceTime": 15})
	require.Equal(t, http.StatusCreated, status, body)
	line := body["line"].(map[string]interface{})
	lineID := uint(line["id"].(float64))
	code := line["code"].(string)
	assert.Len(t, code, 6)

	status, body = ts.do(t, http.MethodGet, "/api/lines/code/"+code, "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["isCurrentlyAvailable"])
	assert.Equal(t, float64(0), body["queueCount"])

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + fmt.Sprintf("/api/lines/%d/ws", lineID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.hub.ClientCount(lineID) == 1 }, 2*time.Second, 10*time.Millisecond)

	status, body = ts.do(t, http.MethodPost, "/api/queue/join", ts.token(t, alice.ID), gin.H{"lineCode": code})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, float64(1), body["rank"])
	assert.Equal(t, float64(0), body["estimatedWaitTime"])
	aliceEntry := uint(body["entry"].(map[string]interface{})["id"].(float64))

	msg := readEvent(t, conn)
	assert.Equal(t, ws.EventUserJoined, msg.EventType)
	assert.Equal(t, lineID, msg.LineID)

	status, body = ts.do(t, http.MethodPost, "/api/queue/join", ts.token(t, bob.ID), gin.H{"lineCode": code})
	require.Equal(t, http.StatusCreated, status, body)
	assert.Equal(t, float64(2), body["rank"])
	assert.Equal(t, float64(15), body["estimatedWaitTime"])
	assert.Equal(t, ws.EventUserJoined, readEvent(t, conn).EventType)

	status, body = ts.do(t, http.MethodPost, "/api/queue/join", ts.token(t, bob.ID), gin.H{"lineCode": code})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "ALREADY_JOINED", body["code"])

	status, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/queue/line/%d", lineID), creatorToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), body["count"])

	status, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/queue/line/%d", lineID), ts.token(t, bob.ID), nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NOT_LINE_OWNER", body["code"])

	status, _ = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/queue/entry/%d/leave", aliceEntry), ts.token(t, bob.ID), nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/queue/entry/%d/leave", aliceEntry), ts.token(t, alice.ID), nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, ws.EventUserLeft, readEvent(t, conn).EventType)

	status, body = ts.do(t, http.MethodGet, "/api/queue/my-queue", ts.token(t, bob.ID), nil)
	require.Equal(t, http.StatusOK, status)
	entries := body["entries"].([]interface{})
	require.Len(t, entries, 1)
	assert.Equal(t, float64(1), entries[0].(map[string]interface{})["rank"])
}

func TestAuthRequired(t *testing.T) {
	ts := setupTestServer(t)

	for _, path := range []string{"/api/queue/my-queue", "/api/auth/me", "/api/dashboard/stats"} {
		status, body := ts.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.Equal(t, "NO_AUTH_HEADER", body["code"], path)
	}

	status, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestInvalidIDs(t *testing.T) {
	ts := setupTestServer(t)
	u := testutil.CreateUser(t, ts.db, "+97688000010", true)

	status, body := ts.do(t, http.MethodPatch, "/api/queue/entry/abc/leave", ts.token(t, u.ID), nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ID", body["code"])

	status, body = ts.do(t, http.MethodPost, "/api/queue/join", ts.token(t, u.ID), gin.H{"lineCode": "12"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestPaymentWebhook(t *testing.T) {
	ts := setupTestServer(t)
	u := testutil.CreateUser(t, ts.db, "+97688000020", false)

	status, body := ts.do(t, http.MethodPost, "/api/payments/subscription", ts.token(t, u.ID), gin.H{"plan": "pro"})
	require.Equal(t, http.StatusCreated, status, body)

	var p models.Payment
	require.NoError(t, ts.db.Where("user_id = ?", u.ID).First(&p).Error)

	event, err := json.Marshal(payments.WebhookEvent{ExternalID: p.ExternalID, Status: models.PaymentCompleted})
	require.NoError(t, err)

	post := func(sig string) (int, map[string]interface{}) {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/payments/webhook", bytes.NewReader(event))
		require.NoError(t, err)
		req.Header.Set(payments.SignatureHeader, sig)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		var out map[string]interface{}
		require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
		return res.StatusCode, out
	}

	status, body = post("bad")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_SIGNATURE", body["code"])

	status, body = post(payments.Sign(webhookSecret, event))
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", body["status"])

	// replay
	status, _ = post(payments.Sign(webhookSecret, event))
	assert.Equal(t, http.StatusOK, status)

	var sub models.Subscription
	require.NoError(t, ts.db.Where("user_id = ?", u.ID).First(&sub).Error)
	assert.Equal(t, models.PlanPro, sub.Plan)
}
