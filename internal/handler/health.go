package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is satisfied by every store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store  Pinger
	driver string
	logger *slog.Logger
}

func NewHealthHandler(store Pinger, driver string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, driver: driver, logger: logger}
}

type healthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// HandleHealth reports whether the store answers within two seconds.
//
// HTTP: GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", slog.String("store", h.driver), slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, Envelope{
			Data:    healthStatus{Status: "unavailable", Store: h.driver},
			Message: "store is unreachable",
		})
		return
	}
	writeData(w, http.StatusOK, healthStatus{Status: "ok", Store: h.driver})
}
