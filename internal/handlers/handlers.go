package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/winlog-collector/winlog/internal/httputil"
	"github.com/winlog-collector/winlog/internal/logging"
	"github.com/winlog-collector/winlog/internal/metrics"
	"github.com/winlog-collector/winlog/internal/models"
	"github.com/winlog-collector/winlog/internal/ratelimit"
	"github.com/winlog-collector/winlog/internal/service"
	"github.com/winlog-collector/winlog/internal/validator"
)

const serviceName = "winlog"

// Config holds the request checks applied before ingestion.
type Config struct {
	ExpectedUserAgent string
	SharedSecretHash  string
	MaxBodyBytes      int64
	Version           string
}

type Handler struct {
	service   *service.IngestService
	limiter   ratelimit.RateLimiter
	secret    *SecretChecker
	userAgent string
	maxBody   int64
	version   string
	logger    *logging.Logger
}

func NewHandler(svc *service.IngestService, limiter ratelimit.RateLimiter, cfg Config, logger *logging.Logger) *Handler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		service:   svc,
		limiter:   limiter,
		secret:    NewSecretChecker(cfg.SharedSecretHash),
		userAgent: cfg.ExpectedUserAgent,
		maxBody:   cfg.MaxBodyBytes,
		version:   cfg.Version,
		logger:    logger,
	}
}

// HandleEvent serves POST /api/v1/events.
func (h *Handler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sourceIP := httputil.GetClientIP(r)

	if ua := r.UserAgent(); !strings.HasPrefix(ua, h.userAgent) {
		h.logger.WarnContext(ctx, "invalid user agent", slog.String("user_agent", ua), logging.IP(sourceIP))
		httputil.WriteError(w, http.StatusForbidden, "Invalid User-Agent")
		return
	}

	if !h.secret.Check(r.Header.Get(TokenHeader)) {
		h.logger.WarnContext(ctx, "invalid shared secret", logging.IP(sourceIP))
		httputil.WriteError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	allowed, err := h.limiter.Allow(ctx, sourceIP)
	if err != nil {
		// Limiter errors fail open.
		h.logger.WarnContext(ctx, "rate limit check failed", logging.Error(err))
	} else if !allowed {
		httputil.WriteError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		httputil.WriteError(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	defer r.Body.Close()
	metrics.EventBytesTotal.Add(float64(len(body)))

	if len(strings.TrimSpace(string(body))) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "Empty request body")
		return
	}

	var req models.ClientEvent
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteErrorDetails(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}

	event, err := h.service.Ingest(ctx, &req, sourceIP)
	if err != nil {
		var vErr *validator.ValidationError
		if errors.As(err, &vErr) {
			h.logger.WarnContext(ctx, "invalid event structure", logging.Username(req.Username), logging.IP(sourceIP))
			httputil.WriteErrorDetails(w, http.StatusBadRequest, "Invalid JSON structure", vErr.Details)
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "Database error")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.SuccessResponse{
		Status:    "success",
		Message:   "Data stored in database",
		EventID:   event.ID,
		SessionID: event.SessionID,
		Action:    string(event.Action),
		Username:  event.Username,
	})
}

// SessionsResponse wraps the open sessions listing.
type SessionsResponse struct {
	Data []*models.CurrentSession `json:"data"`
	Meta SessionsMeta             `json:"meta"`
}

type SessionsMeta struct {
	Total int `json:"total"`
}

// HandleCurrentSessions serves GET /api/v1/sessions/current.
func (h *Handler) HandleCurrentSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sessions, err := h.service.OpenSessions(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrCorrelationDisabled) {
			httputil.WriteError(w, http.StatusNotImplemented, "Session correlation is disabled")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to list open sessions", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "Database error")
		return
	}
	if sessions == nil {
		sessions = []*models.CurrentSession{}
	}

	httputil.WriteJSON(w, http.StatusOK, SessionsResponse{
		Data: sessions,
		Meta: SessionsMeta{Total: len(sessions)},
	})
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Service string        `json:"service"`
	Version string        `json:"version"`
	Storage string        `json:"storage"`
	Stats   service.Stats `json:"stats"`
}

// Health serves GET /healthz and /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: h.version,
		Storage: "ok",
		Stats:   h.service.Stats(),
	}
	status := http.StatusOK

	if err := h.service.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "storage health check failed", logging.Error(err))
		resp.Status = "unhealthy"
		resp.Storage = "unavailable"
		status = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, status, resp)
}
