// Package processor applies normalized messages and status updates to the
// message store.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/repository"
)

// Failure kinds reported through Error.
const (
	KindPersistence = "persistence"
	KindStatus      = "status"
)

// Error wraps a store failure with the operation and message it concerned.
type Error struct {
	Op        string
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s message %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) FailureKind() string {
	if e.Op == opApplyStatus {
		return KindStatus
	}
	return KindPersistence
}

const (
	opPersist     = "persist"
	opApplyStatus = "apply status to"
)

// Sink is told about every change that reached the store. Sinks must not
// block for long and must not fail the caller; they log their own errors.
type Sink interface {
	MessageCreated(ctx context.Context, msg *models.Message)
	StatusChanged(ctx context.Context, change *models.StatusChange)
}

// Processor is safe for concurrent use.
type Processor struct {
	store repository.Store
	sinks []Sink
	now   func() time.Time
}

func New(store repository.Store, sinks ...Sink) *Processor {
	return &Processor{
		store: store,
		sinks: sinks,
		now:   time.Now,
	}
}

// PersistNew stores msg for inst. created is false when the message was
// already stored, which makes redelivery harmless.
func (p *Processor) PersistNew(ctx context.Context, inst *models.Instance, msg *models.Message) (bool, error) {
	if inst == nil || msg == nil || msg.ProviderMessageID == "" {
		return false, errors.New("persist: message has no identity")
	}
	msg.InstanceID = inst.ID
	msg.TenantID = inst.TenantID

	created, err := p.store.InsertMessage(ctx, msg)
	if err != nil {
		return false, &Error{Op: opPersist, MessageID: msg.ProviderMessageID, Err: err}
	}
	if created {
		for _, s := range p.sinks {
			s.MessageCreated(ctx, msg)
		}
	}
	return created, nil
}

// ApplyStatus moves the message referenced by raw to the status raw
// carries. Updates without an id or with an unknown status, and updates
// for messages never stored, are skipped without error.
func (p *Processor) ApplyStatus(ctx context.Context, inst *models.Instance, raw any) (bool, error) {
	obj, ok := raw.(map[string]any)
	if !ok || inst == nil {
		return false, nil
	}

	id := statusTargetID(obj)
	if id == "" {
		return false, nil
	}
	status, ok := statusValue(obj)
	if !ok {
		return false, nil
	}

	applied, err := p.store.UpdateStatus(ctx, inst.ID, id, status)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &Error{Op: opApplyStatus, MessageID: id, Err: err}
	}

	if applied {
		change := &models.StatusChange{
			ProviderMessageID: id,
			InstanceID:        inst.ID,
			TenantID:          inst.TenantID,
			Status:            status,
			ChangedAt:         p.now().UTC(),
		}
		for _, s := range p.sinks {
			s.StatusChanged(ctx, change)
		}
	}
	return applied, nil
}

func statusTargetID(obj map[string]any) string {
	if id := stringField(obj["keyId"]); id != "" {
		return id
	}
	if key, ok := obj["key"].(map[string]any); ok {
		if id := stringField(key["id"]); id != "" {
			return id
		}
	}
	if id := stringField(obj["id"]); id != "" {
		return id
	}
	return stringField(obj["messageId"])
}

func statusValue(obj map[string]any) (models.Status, bool) {
	if v, exists := obj["status"]; exists && v != nil {
		return models.ParseStatus(v)
	}
	if update, ok := obj["update"].(map[string]any); ok {
		return models.ParseStatus(update["status"])
	}
	return "", false
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
