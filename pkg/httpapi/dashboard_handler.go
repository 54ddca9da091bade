package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/evalforge/evalforge/pkg/dashboard"
)

// DashboardHandler serves the dashboard aggregator's trigger route.
type DashboardHandler struct {
	Aggregator *dashboard.Aggregator
	Logger     *logrus.Logger
}

// Mount registers the handler on r.
func (h *DashboardHandler) Mount(r chi.Router) {
	r.Post("/dashboard/run-once", h.runOnce)
}

func (h *DashboardHandler) runOnce(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.Aggregator.RunOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}
