package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/winlog-collector/winlog/internal/models"
)

const tokenHeader = "X-Winlog-Token"

// SenderConfig configures the HTTP transport to the collector.
type SenderConfig struct {
	EventsURL   string
	SessionsURL string
	UserAgent   string
	Token       string
	Timeout     time.Duration
	// MaxAttempts counts the first try.
	MaxAttempts int
	RetryDelay  time.Duration
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("collector returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("collector returned HTTP %d: %s", e.Code, e.Message)
}

// Sender posts events to the collector, retrying transient failures.
type Sender struct {
	cfg    SenderConfig
	client *retryablehttp.Client
}

func NewSender(cfg SenderConfig, logger *slog.Logger) *Sender {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxAttempts - 1
	rc.RetryWaitMin = cfg.RetryDelay
	rc.RetryWaitMax = cfg.RetryDelay
	rc.HTTPClient.Timeout = cfg.Timeout
	// Hand back the last response so the server's error message reaches the caller.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if logger != nil {
		rc.Logger = logger
	}

	return &Sender{cfg: cfg, client: rc}
}

// Send posts one event and returns the collector's acknowledgement.
func (s *Sender) Send(ctx context.Context, event *models.ClientEvent) (*models.SuccessResponse, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.cfg.EventsURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.setHeaders(req)

	var ack models.SuccessResponse
	if err := s.do(req, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// CurrentSessions fetches the open sessions listing.
func (s *Sender) CurrentSessions(ctx context.Context) ([]*models.CurrentSession, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.cfg.SessionsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.setHeaders(req)

	var page struct {
		Data []*models.CurrentSession `json:"data"`
	}
	if err := s.do(req, &page); err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (s *Sender) setHeaders(req *retryablehttp.Request) {
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set(tokenHeader, s.cfg.Token)
	}
}

func (s *Sender) do(req *retryablehttp.Request, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp models.ErrorResponse
		_ = json.Unmarshal(data, &errResp)
		return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
	}

	if err := json.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
