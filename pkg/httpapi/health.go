package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger verifies connectivity to the backing document store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the shared GET /health body.
type HealthResponse struct {
	Status  string         `json:"status"`
	Version string         `json:"version"`
	Backlog int64          `json:"backlog"`
	LastRun any            `json:"lastRun,omitempty"`
	Config  map[string]any `json:"config,omitempty"`
	Detail  string         `json:"detail,omitempty"`
}

// HealthHandler serves GET /health with graceful degradation: an
// unreachable store reports "degraded" with HTTP 200 rather than a
// 500, so orchestrators can tell "unhealthy dependency" apart from
// "dead process".
type HealthHandler struct {
	Version string
	Pinger  Pinger
	// Backlog reports the service's input backlog; nil means the
	// service has no meaningful backlog.
	Backlog func(ctx context.Context) (int64, error)
	// LastRun surfaces the most recent run's health snapshot; nil
	// omits the field.
	LastRun func() any
	// Config is the redacted, display-safe configuration summary.
	Config map[string]any
}

// Mount registers the handler on r.
func (h *HealthHandler) Mount(r chi.Router) {
	r.Get("/health", h.get)
}

func (h *HealthHandler) get(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: h.Version, Config: h.Config}

	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Detail = err.Error()
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	if h.Backlog != nil {
		backlog, err := h.Backlog(r.Context())
		if err != nil {
			resp.Status = "degraded"
			resp.Detail = err.Error()
			writeJSON(w, http.StatusOK, resp)
			return
		}
		resp.Backlog = backlog
	}

	if h.LastRun != nil {
		resp.LastRun = h.LastRun()
	}

	writeJSON(w, http.StatusOK, resp)
}
