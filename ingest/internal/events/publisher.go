// Package events announces stored messages and status changes on the
// message broker for downstream consumers such as the conversation board.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/common/messaging"
	"github.com/convohook/convohook/ingest/internal/models"
)

// Publisher is a processor sink. Publish failures are logged and counted by
// the caller's metrics hook, never returned.
type Publisher struct {
	pub     messaging.Publisher
	logger  *logging.Logger
	onError func(subject string)
}

func NewPublisher(pub messaging.Publisher, logger *logging.Logger) *Publisher {
	if pub == nil {
		pub = messaging.NoopPublisher{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Publisher{pub: pub, logger: logger}
}

// OnError registers a callback run after each failed publish.
func (p *Publisher) OnError(fn func(subject string)) {
	p.onError = fn
}

func (p *Publisher) MessageCreated(ctx context.Context, msg *models.Message) {
	p.publish(ctx, messaging.SubjectMessageCreated, msg.InstanceID, msg.TenantID, msg)
}

func (p *Publisher) StatusChanged(ctx context.Context, change *models.StatusChange) {
	p.publish(ctx, messaging.SubjectMessageStatus, change.InstanceID, change.TenantID, change)
}

func (p *Publisher) publish(ctx context.Context, subject, instanceID, tenantID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.fail(ctx, subject, err)
		return
	}

	err = p.pub.PublishMsg(ctx, &messaging.Message{
		Subject: subject,
		Data:    data,
		Metadata: map[string]string{
			messaging.HeaderInstanceID: instanceID,
			messaging.HeaderTenantID:   tenantID,
		},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.fail(ctx, subject, err)
	}
}

func (p *Publisher) fail(ctx context.Context, subject string, err error) {
	p.logger.WarnContext(ctx, "failed to publish event", "subject", subject, logging.Error(err))
	if p.onError != nil {
		p.onError(subject)
	}
}
