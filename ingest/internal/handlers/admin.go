package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/convohook/convohook/common/httputil"
	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/ingest/internal/metrics"
	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/queue"
	"github.com/convohook/convohook/ingest/internal/service"
)

const defaultListLimit = 100

// AdminQueue is the part of the queue the admin API inspects.
type AdminQueue interface {
	Pending(ctx context.Context, limit int) ([]models.JobEnvelope, error)
	Job(ctx context.Context, jobID string) (*models.JobEnvelope, error)
	DeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEntry, error)
	DeadLetterEntry(ctx context.Context, jobID string) (*models.DeadLetterEntry, error)
	PurgeDeadLetter(ctx context.Context, jobID string) error
	Stats(ctx context.Context) (*queue.Stats, error)
}

// AdminHandler exposes the pending list and dead-letter map to operators.
// Every route requires the static admin token.
// StatsSource is a best-effort sink that keeps local counters.
type StatsSource interface {
	Stats() map[string]uint64
}

type AdminHandler struct {
	queue   AdminQueue
	service *service.IngestService
	token   string
	logger  *logging.Logger
	sinks   map[string]StatsSource
}

func NewAdminHandler(q AdminQueue, svc *service.IngestService, token string, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &AdminHandler{queue: q, service: svc, token: token, logger: logger, sinks: map[string]StatsSource{}}
}

// AddSinkStats reports src under name in the stats response. Call it
// before serving.
func (h *AdminHandler) AddSinkStats(name string, src StatsSource) {
	h.sinks[name] = src
}

// RequireToken rejects requests without the admin bearer token. An empty
// configured token disables the admin API entirely.
func (h *AdminHandler) RequireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			httputil.WriteError(w, http.StatusForbidden, "admin_disabled", "admin API is not configured")
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.token)) != 1 {
			httputil.WriteError(w, http.StatusUnauthorized, "unauthenticated", "invalid admin token")
			return
		}
		next(w, r)
	}
}

// ListPending serves GET /admin/queue/pending.
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.queue.Pending(r.Context(), listLimit(r))
	if err != nil {
		h.internalError(w, r, "list pending", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

// GetJob serves GET /admin/queue/jobs/{id}.
func (h *AdminHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.queue.Job(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrJobNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get job", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// ListDeadLetters serves GET /admin/deadletters.
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.DeadLetters(r.Context(), listLimit(r))
	if err != nil {
		h.internalError(w, r, "list dead-letters", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// GetDeadLetter serves GET /admin/deadletters/{id}.
func (h *AdminHandler) GetDeadLetter(w http.ResponseWriter, r *http.Request) {
	entry, err := h.queue.DeadLetterEntry(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "dead-letter entry not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get dead-letter", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// ReplayDeadLetter serves POST /admin/deadletters/{id}/replay.
func (h *AdminHandler) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Replay(r.Context(), r.PathValue("id"))
	var procErr *service.ProcessingError
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
	case errors.Is(err, queue.ErrDeadLetterNotFound):
		httputil.WriteError(w, http.StatusNotFound, "not_found", "dead-letter entry not found")
	case errors.As(err, &procErr):
		httputil.WriteJSON(w, http.StatusInternalServerError, failureResponse{
			ErrorBody: httputil.ErrorBody{Code: "processing_failed", Message: procErr.Err.Error()},
			JobID:     procErr.JobID,
		})
	default:
		h.internalError(w, r, "replay dead-letter", err)
	}
}

// PurgeDeadLetter serves DELETE /admin/deadletters/{id}.
func (h *AdminHandler) PurgeDeadLetter(w http.ResponseWriter, r *http.Request) {
	err := h.queue.PurgeDeadLetter(r.Context(), r.PathValue("id"))
	if errors.Is(err, queue.ErrDeadLetterNotFound) {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "dead-letter entry not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "purge dead-letter", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats serves GET /admin/stats and refreshes the queue depth gauges.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	qs, err := h.queue.Stats(r.Context())
	if err != nil {
		h.internalError(w, r, "queue stats", err)
		return
	}
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(qs.Pending))
	metrics.QueueDepth.WithLabelValues("jobs").Set(float64(qs.Jobs))
	metrics.QueueDepth.WithLabelValues("deadletter").Set(float64(qs.DeadLetters))

	body := map[string]any{
		"queue":   qs,
		"service": h.service.GetStats(),
	}
	if len(h.sinks) > 0 {
		sinks := make(map[string]map[string]uint64, len(h.sinks))
		for name, src := range h.sinks {
			sinks[name] = src.Stats()
		}
		body["sinks"] = sinks
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (h *AdminHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WithContext(r.Context()).Error("admin request failed", "op", op, logging.Error(err))
	httputil.WriteError(w, http.StatusInternalServerError, "internal_error", op+" failed")
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
