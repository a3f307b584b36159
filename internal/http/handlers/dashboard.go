package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/clinic-automation/internal/reports"
	"github.com/wolfman30/clinic-automation/internal/scheduler"
	"github.com/wolfman30/clinic-automation/pkg/logging"
)

// DashboardSource computes the dashboard read model.
type DashboardSource interface {
	Dashboard(ctx context.Context) (*reports.Dashboard, error)
}

// JobLister lists scheduled jobs.
type JobLister interface {
	Entries() []scheduler.EntryInfo
}

// DashboardHandler serves GET /dashboard.
type DashboardHandler struct {
	source DashboardSource
	jobs   JobLister
	logger *logging.Logger
}

// NewDashboardHandler creates the dashboard handler. jobs may be nil.
func NewDashboardHandler(source DashboardSource, jobs JobLister, logger *logging.Logger) *DashboardHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &DashboardHandler{source: source, jobs: jobs, logger: logger}
}

// DashboardResponse wraps the statistics with scheduler state.
type DashboardResponse struct {
	*reports.Dashboard
	Success bool                  `json:"success"`
	Jobs    []scheduler.EntryInfo `json:"jobs,omitempty"`
}

func (h *DashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	d, err := h.source.Dashboard(ctx)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := DashboardResponse{Success: true, Dashboard: d}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Entries()
	}
	writeJSON(w, http.StatusOK, resp)
}
