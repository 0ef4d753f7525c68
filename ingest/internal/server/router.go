package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/convohook/convohook/common/middleware"
	"github.com/convohook/convohook/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with the webhook, admin and health routes
// registered. A nil admin handler leaves the admin API unmounted.
func NewRouter(webhook *handlers.WebhookHandler, admin *handlers.AdminHandler, health *handlers.HealthHandler) http.Handler {
	mux := http.NewServeMux()

	// Provider webhooks
	mux.HandleFunc("/webhook", webhook.HandleWebhook)
	mux.HandleFunc("/webhook/{eventHint}", webhook.HandleWebhook)

	// Operator API
	if admin != nil {
		mux.HandleFunc("GET /admin/queue/pending", admin.RequireToken(admin.ListPending))
		mux.HandleFunc("GET /admin/queue/jobs/{id}", admin.RequireToken(admin.GetJob))
		mux.HandleFunc("GET /admin/deadletters", admin.RequireToken(admin.ListDeadLetters))
		mux.HandleFunc("GET /admin/deadletters/{id}", admin.RequireToken(admin.GetDeadLetter))
		mux.HandleFunc("POST /admin/deadletters/{id}/replay", admin.RequireToken(admin.ReplayDeadLetter))
		mux.HandleFunc("DELETE /admin/deadletters/{id}", admin.RequireToken(admin.PurgeDeadLetter))
		mux.HandleFunc("GET /admin/stats", admin.RequireToken(admin.Stats))
	}

	// Health endpoints
	mux.HandleFunc("/healthz", health.Health)
	mux.HandleFunc("/readyz", health.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
