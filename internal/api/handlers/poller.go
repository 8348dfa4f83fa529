package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"weatherbingo/internal/core"
	"weatherbingo/internal/types"
)

// StatusSource exposes the latest poller snapshot. *scheduler.StateStore
// implements it.
type StatusSource interface {
	Snapshot() types.PollerState
}

// PollerHandler serves the background poller status.
type PollerHandler struct {
	state StatusSource
}

// NewPollerHandler creates a PollerHandler.
func NewPollerHandler(state StatusSource) *PollerHandler {
	return &PollerHandler{state: state}
}

// RegisterRoutes mounts the status endpoint; expected under /poller.
func (h *PollerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.HandleStatus)
}

// HandleStatus handles GET /poller/status. It never blocks on the poller.
func (h *PollerHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.state.Snapshot())
}
