package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves GET /health. It always answers 200 while the process
// is up; dependency state is reported in the body.
type HealthHandler struct {
	started time.Time
	store   HealthCheck
	backend string
	now     func() time.Time
}

// NewHealthHandler creates the liveness handler. store may be nil.
func NewHealthHandler(backend string, store HealthCheck) *HealthHandler {
	return &HealthHandler{started: time.Now(), store: store, backend: backend, now: time.Now}
}

type storeHealth struct {
	Backend string `json:"backend"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string      `json:"status"`
	Time          time.Time   `json:"time"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Store         storeHealth `json:"store"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	resp := healthResponse{
		Status:        "ok",
		Time:          now.UTC(),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Store:         storeHealth{Backend: h.backend, Status: "ok"},
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.store(ctx); err != nil {
			resp.Store.Status = "unavailable"
			resp.Store.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
