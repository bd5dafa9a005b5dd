// Package handlers serves the status API: health, component counters and a
// manual poll trigger.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"recording-relay/internal/circuitbreaker"
	"recording-relay/internal/common/errors"
	"recording-relay/internal/common/logging"
	"recording-relay/internal/fetcher"
	"recording-relay/internal/pipeline"
	"recording-relay/internal/poller"
	"recording-relay/internal/relay"
)

// Poller is the part of the poller the API drives
type Poller interface {
	Stats() poller.Stats
	Trigger(ctx context.Context) (*poller.CycleResult, error)
}

// Counter reports the number of claimed recordings
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// CredentialSource reports whether a token is loaded
type CredentialSource interface {
	Get() (string, bool)
}

// Deps are the components the handlers report on. Nil members are left out
// of the status document.
type Deps struct {
	Poller      Poller
	Ledger      Counter
	Credentials CredentialSource
	Processor   func() pipeline.Stats
	Fetcher     func() fetcher.Stats
	Limiter     func() map[string]interface{}
	Breaker     func() circuitbreaker.Stats
	Uploaders   []func() relay.Stats
}

type Handlers struct {
	deps      Deps
	startedAt time.Time
	logger    logging.Logger
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	StartedAt        time.Time              `json:"started_at"`
	Uptime           string                 `json:"uptime"`
	CredentialLoaded bool                   `json:"credential_loaded"`
	Claims           *int64                 `json:"claims,omitempty"`
	LedgerError      string                 `json:"ledger_error,omitempty"`
	Poller           *poller.Stats          `json:"poller,omitempty"`
	Pipeline         *pipeline.Stats        `json:"pipeline,omitempty"`
	Fetcher          *fetcher.Stats         `json:"fetcher,omitempty"`
	DownloadLimiter  map[string]interface{} `json:"download_limiter,omitempty"`
	ListingBreaker   *circuitbreaker.Stats  `json:"listing_breaker,omitempty"`
	Relays           []relay.Stats          `json:"relays"`
}

func New(deps Deps, logger logging.Logger) *Handlers {
	return &Handlers{
		deps:      deps,
		startedAt: time.Now(),
		logger:    logging.OrGlobal(logger).WithFields(logging.String("component", "status_api")),
	}
}

// HealthCheck reports healthy while the ledger answers. A missing token is
// reported but does not fail the check; the poller recovers once it appears.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}
	code := http.StatusOK

	if h.deps.Credentials != nil {
		_, ok := h.deps.Credentials.Get()
		status["credential_loaded"] = ok
	}

	if h.deps.Ledger != nil {
		if _, err := h.deps.Ledger.Count(r.Context()); err != nil {
			status["status"] = "unhealthy"
			status["ledger_status"] = "unhealthy"
			status["ledger_error"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status["ledger_status"] = "healthy"
		}
	}

	writeJSON(w, code, status)
}

// GetStatus returns counters of every component
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Relays:    make([]relay.Stats, 0, len(h.deps.Uploaders)),
	}

	if h.deps.Credentials != nil {
		_, resp.CredentialLoaded = h.deps.Credentials.Get()
	}
	if h.deps.Ledger != nil {
		if count, err := h.deps.Ledger.Count(r.Context()); err != nil {
			resp.LedgerError = err.Error()
		} else {
			resp.Claims = &count
		}
	}
	if h.deps.Poller != nil {
		stats := h.deps.Poller.Stats()
		resp.Poller = &stats
	}
	if h.deps.Processor != nil {
		stats := h.deps.Processor()
		resp.Pipeline = &stats
	}
	if h.deps.Fetcher != nil {
		stats := h.deps.Fetcher()
		resp.Fetcher = &stats
	}
	if h.deps.Limiter != nil {
		resp.DownloadLimiter = h.deps.Limiter()
	}
	if h.deps.Breaker != nil {
		stats := h.deps.Breaker()
		resp.ListingBreaker = &stats
	}
	for _, uploader := range h.deps.Uploaders {
		resp.Relays = append(resp.Relays, uploader())
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerPoll runs one cycle immediately and returns its result. A failed
// cycle is still a 200; the result carries the error.
func (h *Handlers) TriggerPoll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}

	// A client that hangs up must not abandon items the cycle already
	// claimed. The poller ends the cycle when it is stopped.
	result, err := h.deps.Poller.Trigger(context.WithoutCancel(r.Context()))
	switch {
	case stderrors.Is(err, poller.ErrCycleInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case result == nil && err != nil:
		h.logger.Error("Manual poll failed", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Info("Manual poll completed",
		logging.String("cycle_id", result.CycleID),
		logging.Int("items", result.Items),
	)
	writeJSON(w, http.StatusOK, result)
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeCredentialUnavailable, errors.ErrTypeConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
