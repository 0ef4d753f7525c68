// Package service runs one webhook delivery through the pipeline: classify,
// enqueue, process each raw message in order, then ack or dead-letter the
// whole delivery.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/common/middleware"
	"github.com/convohook/convohook/ingest/internal/classifier"
	"github.com/convohook/convohook/ingest/internal/dlq"
	"github.com/convohook/convohook/ingest/internal/metrics"
	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/normalizer"
)

// ErrQueueUnavailable means the delivery could not be recorded, so nothing
// was processed and the provider should retry.
var ErrQueueUnavailable = errors.New("queue unavailable")

// Queue is the durable part of the pipeline.
type Queue interface {
	Enqueue(ctx context.Context, env *models.JobEnvelope) error
	Ack(ctx context.Context, jobID string) error
	DeadLetter(ctx context.Context, env *models.JobEnvelope, failure models.FailureInfo, replays int) (*models.DeadLetterEntry, error)
	Replay(ctx context.Context, jobID string) (*models.DeadLetterEntry, error)
}

// Processor applies raw messages to the message store.
type Processor interface {
	PersistNew(ctx context.Context, inst *models.Instance, msg *models.Message) (bool, error)
	ApplyStatus(ctx context.Context, inst *models.Instance, raw any) (bool, error)
}

// DeadLetterMirror is told about every dead-lettered delivery.
type DeadLetterMirror interface {
	Publish(ctx context.Context, entry *models.DeadLetterEntry) error
}

// ProcessingError is returned when a delivery was accepted but failed. The
// delivery has been dead-lettered unless DeadLettered is false.
type ProcessingError struct {
	JobID        string
	Failure      models.FailureInfo
	DeadLettered bool
	Err          error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("job %s: %v", e.JobID, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// Result describes a handled delivery.
type Result struct {
	JobID     string           `json:"job_id"`
	Kind      models.EventKind `json:"event_kind"`
	Family    models.Family    `json:"-"`
	Processed int              `json:"processed"`
	Updated   int              `json:"updated"`
	Skipped   int              `json:"skipped"`
	Ignored   bool             `json:"ignored"`
}

// Stats are process-local counters for the admin API.
type Stats struct {
	Received     uint64    `json:"received"`
	Ignored      uint64    `json:"ignored"`
	Succeeded    uint64    `json:"succeeded"`
	DeadLettered uint64    `json:"dead_lettered"`
	Replayed     uint64    `json:"replayed"`
	LastDelivery time.Time `json:"last_delivery"`
}

type IngestService struct {
	queue      Queue
	processor  Processor
	normalizer *normalizer.Registry
	mirror     DeadLetterMirror
	logger     *logging.Logger
	now        func() time.Time
	newID      func() (uuid.UUID, error)

	stats      Stats
	statsMutex sync.RWMutex
}

type Option func(*IngestService)

func WithLogger(l *logging.Logger) Option {
	return func(s *IngestService) { s.logger = l }
}

func WithDeadLetterMirror(m DeadLetterMirror) Option {
	return func(s *IngestService) { s.mirror = m }
}

func WithNormalizer(r *normalizer.Registry) Option {
	return func(s *IngestService) { s.normalizer = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *IngestService) { s.now = now }
}

func NewIngestService(q Queue, p Processor, opts ...Option) *IngestService {
	s := &IngestService{
		queue:      q,
		processor:  p,
		normalizer: normalizer.DefaultRegistry(),
		logger:     logging.Discard(),
		now:        time.Now,
		newID:      uuid.NewV7,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle runs one delivery for an authenticated instance. Validation
// failures return classifier errors before anything is written.
func (s *IngestService) Handle(ctx context.Context, inst *models.Instance, body []byte, pathHint string) (*Result, error) {
	parsed, err := classifier.Parse(body)
	if err != nil {
		return nil, err
	}

	classified, err := classifier.Classify(parsed, pathHint)
	if err != nil && !errors.Is(err, classifier.ErrUnsupportedEvent) {
		return nil, err
	}
	ignored := err != nil

	env, err := s.newEnvelope(ctx, inst, classified.Kind, body, pathHint)
	if err != nil {
		return nil, err
	}

	s.recordReceived()
	metrics.WebhookBytesTotal.Add(float64(len(body)))

	log := s.logger.WithContext(ctx).With(
		logging.JobID(env.JobID),
		logging.InstanceID(inst.ID),
		logging.EventKind(string(env.EventKind)),
	)

	if err := s.queue.Enqueue(ctx, env); err != nil {
		log.Error("failed to enqueue delivery", logging.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	metrics.JobsEnqueued.Inc()

	res := &Result{JobID: env.JobID, Kind: env.EventKind, Family: env.EventKind.Family()}

	if ignored {
		res.Ignored = true
		s.ack(ctx, env.JobID, log)
		s.update(func(st *Stats) { st.Ignored++ })
		log.Debug("ignored unsupported event")
		return res, nil
	}

	if err := s.process(ctx, inst, env, classified.Messages, res); err != nil {
		return res, s.deadLetter(ctx, env, err, 0, log)
	}

	s.ack(ctx, env.JobID, log)
	s.update(func(st *Stats) { st.Succeeded++ })
	log.Info("delivery processed",
		"processed", res.Processed,
		"updated", res.Updated,
		"skipped", res.Skipped,
	)
	return res, nil
}

// Replay moves a dead-lettered delivery back to the queue and runs it
// again. On failure it is dead-lettered again with its replay count raised.
func (s *IngestService) Replay(ctx context.Context, jobID string) (*Result, error) {
	entry, err := s.queue.Replay(ctx, jobID)
	if err != nil {
		return nil, err
	}
	env := &entry.JobEnvelope

	log := s.logger.WithContext(ctx).With(
		logging.JobID(env.JobID),
		logging.InstanceID(env.InstanceID),
		logging.EventKind(string(env.EventKind)),
		"replays", entry.Replays+1,
	)

	// Processing only needs the instance identity; the instance may have
	// been deactivated since, but the delivery was accepted while active.
	inst := &models.Instance{ID: env.InstanceID, TenantID: env.TenantID, Active: true}
	res := &Result{JobID: env.JobID, Kind: env.EventKind, Family: env.EventKind.Family()}

	err = func() error {
		parsed, err := classifier.Parse(env.Payload)
		if err != nil {
			return fmt.Errorf("replay payload: %w", err)
		}
		classified, err := classifier.Classify(parsed, env.PathHint)
		if errors.Is(err, classifier.ErrUnsupportedEvent) {
			res.Ignored = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("replay payload: %w", err)
		}
		return s.process(ctx, inst, env, classified.Messages, res)
	}()
	if err != nil {
		metrics.JobsReplayed.WithLabelValues("failed").Inc()
		return res, s.deadLetter(ctx, env, err, entry.Replays+1, log)
	}

	s.ack(ctx, env.JobID, log)
	metrics.JobsReplayed.WithLabelValues("succeeded").Inc()
	s.update(func(st *Stats) { st.Replayed++ })
	log.Info("dead-letter replayed", "processed", res.Processed, "updated", res.Updated)
	return res, nil
}

func (s *IngestService) newEnvelope(ctx context.Context, inst *models.Instance, kind models.EventKind, body []byte, pathHint string) (*models.JobEnvelope, error) {
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	return &models.JobEnvelope{
		JobID:      id.String(),
		EventKind:  kind,
		ReceivedAt: s.now().UTC(),
		InstanceID: inst.ID,
		TenantID:   inst.TenantID,
		RequestID:  middleware.GetRequestID(ctx),
		PathHint:   pathHint,
		Payload:    json.RawMessage(body),
	}, nil
}

// process applies the raw messages in extraction order and stops at the
// first processor error. A raw message that cannot be normalized is
// skipped.
func (s *IngestService) process(ctx context.Context, inst *models.Instance, env *models.JobEnvelope, raws []any, res *Result) error {
	family := env.EventKind.Family()
	for i, raw := range raws {
		start := time.Now()

		switch family {
		case models.FamilyCreated:
			msg, ok := s.normalizer.Normalize(inst, raw, env.ReceivedAt)
			if !ok {
				res.Skipped++
				metrics.NormalizationSkipped.Inc()
				metrics.MessagesProcessed.WithLabelValues("created", "skipped").Inc()
				continue
			}
			if _, err := s.processor.PersistNew(ctx, inst, msg); err != nil {
				metrics.MessagesProcessed.WithLabelValues("created", "failed").Inc()
				return fmt.Errorf("message %d of %d: %w", i+1, len(raws), err)
			}
			res.Processed++
			metrics.MessagesProcessed.WithLabelValues("created", "stored").Inc()

		case models.FamilyStatus:
			applied, err := s.processor.ApplyStatus(ctx, inst, raw)
			if err != nil {
				metrics.MessagesProcessed.WithLabelValues("status", "failed").Inc()
				return fmt.Errorf("status update %d of %d: %w", i+1, len(raws), err)
			}
			if applied {
				res.Updated++
				metrics.MessagesProcessed.WithLabelValues("status", "applied").Inc()
			} else {
				res.Skipped++
				metrics.MessagesProcessed.WithLabelValues("status", "skipped").Inc()
			}
		}

		metrics.StorageDuration.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (s *IngestService) ack(ctx context.Context, jobID string, log *slog.Logger) {
	// The work is done; a failed ack only leaves a harmless pending entry.
	if err := s.queue.Ack(context.WithoutCancel(ctx), jobID); err != nil {
		log.Warn("failed to ack job", logging.Error(err))
		return
	}
	metrics.JobsAcked.Inc()
}

func (s *IngestService) deadLetter(ctx context.Context, env *models.JobEnvelope, cause error, replays int, log *slog.Logger) error {
	failure := dlq.Classify(cause)
	perr := &ProcessingError{JobID: env.JobID, Failure: failure, Err: cause}

	// Record the failure even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	entry, err := s.queue.DeadLetter(ctx, env, failure, replays)
	if err != nil {
		log.Error("failed to dead-letter job, left pending",
			"failure_kind", failure.Kind,
			logging.Error(err),
			"cause", cause.Error(),
		)
		return perr
	}
	perr.DeadLettered = true

	metrics.JobsDeadLettered.WithLabelValues(failure.Kind).Inc()
	s.update(func(st *Stats) { st.DeadLettered++ })
	log.Error("delivery dead-lettered", "failure_kind", failure.Kind, logging.Error(cause))

	if s.mirror != nil {
		if err := s.mirror.Publish(ctx, entry); err != nil {
			log.Error("failed to mirror dead-letter", logging.Error(err))
		}
	}
	return perr
}

func (s *IngestService) recordReceived() {
	s.update(func(st *Stats) {
		st.Received++
		st.LastDelivery = s.now().UTC()
	})
}

func (s *IngestService) update(fn func(*Stats)) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	fn(&s.stats)
}

func (s *IngestService) GetStats() Stats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}
