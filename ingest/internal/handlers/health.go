package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/convohook/convohook/common/httputil"
	"github.com/convohook/convohook/ingest/internal/service"
)

const readyTimeout = 2 * time.Second

// Pinger is a dependency that readiness checks probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	service *service.IngestService
	checks  map[string]Pinger
}

func NewHealthHandler(svc *service.IngestService, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{service: svc, checks: checks}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready pings every dependency and answers 503 if any of them fails.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status": "ready",
		"checks": checks,
	}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	if h.service != nil {
		body["stats"] = h.service.GetStats()
	}
	httputil.WriteJSON(w, status, body)
}
