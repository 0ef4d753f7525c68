package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/convohook/convohook/common/httputil"
	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/ingest/internal/authn"
	"github.com/convohook/convohook/ingest/internal/classifier"
	"github.com/convohook/convohook/ingest/internal/metrics"
	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/ratelimit"
	"github.com/convohook/convohook/ingest/internal/service"
)

// DefaultMaxBodySize caps webhook bodies when no limit is configured.
const DefaultMaxBodySize = 5 << 20

type WebhookHandler struct {
	auth        *authn.Authenticator
	service     *service.IngestService
	limiter     ratelimit.RateLimiter
	maxBodySize int64
	logger      *logging.Logger
}

func NewWebhookHandler(auth *authn.Authenticator, svc *service.IngestService, limiter ratelimit.RateLimiter, maxBodySize int64, logger *logging.Logger) *WebhookHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &WebhookHandler{
		auth:        auth,
		service:     svc,
		limiter:     limiter,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"job_id,omitempty"`
	Processed *int   `json:"processed,omitempty"`
	Updated   *int   `json:"updated,omitempty"`
	Ignored   string `json:"ignored,omitempty"`
}

type failureResponse struct {
	httputil.ErrorBody
	JobID string `json:"job_id,omitempty"`
}

// HandleWebhook serves POST /webhook and POST /webhook/{eventHint}.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	start := time.Now()
	kind := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhooksTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	log := h.logger.WithContext(r.Context())

	inst, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		status = h.writeAuthError(w, r, err)
		return
	}
	log = log.With(logging.InstanceID(inst.ID), logging.TenantID(inst.TenantID))

	allowed, err := h.limiter.Allow(r.Context(), inst.ID)
	if err != nil {
		log.Warn("rate limit check failed, allowing request", logging.Error(err))
	} else if !allowed {
		status = http.StatusTooManyRequests
		httputil.WriteError(w, status, "rate_limited", "too many webhook deliveries for this instance")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	defer r.Body.Close()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
			httputil.WriteError(w, status, "payload_too_large", "webhook body exceeds "+strconv.FormatInt(maxErr.Limit, 10)+" bytes")
			return
		}
		status = http.StatusBadRequest
		httputil.WriteError(w, status, "bad_payload", "failed to read request body")
		return
	}

	res, err := h.service.Handle(r.Context(), inst, body, r.PathValue("eventHint"))
	if res != nil {
		kind = string(res.Kind)
	}
	if err != nil {
		status = h.writeServiceError(w, res, err, log)
		return
	}

	writeResult(w, res)
}

func (h *WebhookHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) int {
	switch {
	case errors.Is(err, authn.ErrUnknownCredential):
		metrics.AuthFailures.WithLabelValues("unknown_credential").Inc()
		httputil.WriteError(w, http.StatusForbidden, "forbidden", "credential does not match any instance")
		return http.StatusForbidden
	case errors.Is(err, authn.ErrUnauthenticated):
		metrics.AuthFailures.WithLabelValues("missing_credential").Inc()
		httputil.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing instance credential")
		return http.StatusUnauthorized
	case errors.Is(err, authn.ErrForbidden):
		metrics.AuthFailures.WithLabelValues("inactive_instance").Inc()
		httputil.WriteError(w, http.StatusForbidden, "forbidden", "instance is not active")
		return http.StatusForbidden
	default:
		h.logger.WithContext(r.Context()).Error("instance lookup failed", logging.Error(err))
		httputil.WriteError(w, http.StatusServiceUnavailable, "directory_unavailable", "instance directory unavailable")
		return http.StatusServiceUnavailable
	}
}

func (h *WebhookHandler) writeServiceError(w http.ResponseWriter, res *service.Result, err error, log *slog.Logger) int {
	var procErr *service.ProcessingError
	switch {
	case errors.As(err, &procErr):
		httputil.WriteJSON(w, http.StatusInternalServerError, failureResponse{
			ErrorBody: httputil.ErrorBody{Code: "processing_failed", Message: procErr.Err.Error()},
			JobID:     procErr.JobID,
		})
		return http.StatusInternalServerError
	case errors.Is(err, classifier.ErrBadPayload), errors.Is(err, classifier.ErrUnclassifiable):
		httputil.WriteError(w, http.StatusBadRequest, "bad_payload", err.Error())
		return http.StatusBadRequest
	case errors.Is(err, service.ErrQueueUnavailable):
		httputil.WriteError(w, http.StatusServiceUnavailable, "queue_unavailable", "delivery could not be queued")
		return http.StatusServiceUnavailable
	default:
		log.Error("webhook handling failed", logging.Error(err))
		resp := failureResponse{ErrorBody: httputil.ErrorBody{Code: "internal_error", Message: "internal error"}}
		if res != nil {
			resp.JobID = res.JobID
		}
		httputil.WriteJSON(w, http.StatusInternalServerError, resp)
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res *service.Result) {
	resp := webhookResponse{Success: true, JobID: res.JobID}
	switch {
	case res.Ignored:
		resp.Ignored = string(res.Kind)
	case res.Family == models.FamilyStatus:
		resp.Updated = &res.Updated
	default:
		resp.Processed = &res.Processed
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
