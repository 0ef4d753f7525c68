package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/convohook/convohook/common/messaging"
	"github.com/convohook/convohook/ingest/internal/models"
)

// Mirror announces dead-lettered deliveries on the broker so operators can
// alert on them. Redis stays the record of truth; publishing is best effort.
type Mirror struct {
	pub       messaging.Publisher
	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMirror returns a Mirror publishing through pub. A nil pub disables it.
func NewMirror(pub messaging.Publisher) *Mirror {
	if pub == nil {
		pub = messaging.NoopPublisher{}
	}
	return &Mirror{pub: pub}
}

// Publish sends entry to convohook.dlq.<kind>.
func (m *Mirror) Publish(ctx context.Context, entry *models.DeadLetterEntry) error {
	if m == nil || entry == nil {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		m.failed.Add(1)
		return fmt.Errorf("marshal dead-letter %s: %w", entry.JobID, err)
	}

	msg := &messaging.Message{
		Subject: messaging.DeadLetterSubject(entry.Error.Kind),
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderJobID:      entry.JobID,
			messaging.HeaderInstanceID: entry.InstanceID,
			messaging.HeaderTenantID:   entry.TenantID,
		},
		Timestamp: time.Now().UTC(),
	}
	if err := m.pub.PublishMsg(ctx, msg); err != nil {
		m.failed.Add(1)
		return fmt.Errorf("publish dead-letter %s: %w", entry.JobID, err)
	}

	m.published.Add(1)
	return nil
}

// Stats reports local publish counters.
func (m *Mirror) Stats() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	return map[string]uint64{
		"published": m.published.Load(),
		"failed":    m.failed.Load(),
	}
}
