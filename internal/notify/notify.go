// Package notify delivers SMS messages to customers.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tabi/internal/apperror"
	"tabi/internal/config"

	"go.uber.org/zap"
)

var ErrGateway = apperror.Upstream("SMS_GATEWAY_ERROR", "SMS delivery failed")

// Sender sends a text message to a phone number.
type Sender interface {
	SendSMS(ctx context.Context, phone, message string) error
}

// New returns an HTTP sender when a gateway is configured, a logging sender otherwise.
func New(cfg config.SMSConfig, log *zap.Logger) Sender {
	if cfg.GatewayURL == "" {
		return &LogSender{Logger: log}
	}
	return NewHTTPSender(cfg, log)
}

// LogSender writes messages to the log. Used in development.
type LogSender struct {
	Logger *zap.Logger
}

func (s *LogSender) SendSMS(_ context.Context, phone, message string) error {
	s.Logger.Info("SMS (not sent)", zap.String("phone", phone), zap.String("message", message))
	return nil
}

// HTTPSender posts messages to an SMS gateway as JSON.
type HTTPSender struct {
	URL        string
	APIKey     string
	From       string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
}

func NewHTTPSender(cfg config.SMSConfig, log *zap.Logger) *HTTPSender {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		URL:        cfg.GatewayURL,
		APIKey:     cfg.APIKey,
		From:       cfg.Sender,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log,
	}
}

func (s *HTTPSender) SendSMS(ctx context.Context, phone, message string) error {
	payload, err := json.Marshal(smsRequest{To: phone, From: s.From, Message: message})
	if err != nil {
		return fmt.Errorf("notify: encode sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		s.Logger.Error("SMS gateway request failed", zap.Error(err))
		return ErrGateway.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.Logger.Error("SMS gateway rejected message",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)))
		return ErrGateway.Wrap(fmt.Errorf("gateway status %d", resp.StatusCode))
	}
	return nil
}

// Recorder keeps sent messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

type Message struct {
	Phone string
	Text  string
}

func (r *Recorder) SendSMS(_ context.Context, phone, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.messages = append(r.messages, Message{Phone: phone, Text: message})
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
