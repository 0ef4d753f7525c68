// Package repository persists normalized messages.
package repository

import (
	"context"
	"errors"

	"github.com/convohook/convohook/ingest/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// Store persists messages keyed by (instance id, provider message id).
type Store interface {
	// InsertMessage stores msg unless a message with the same key exists.
	// created is false when it already did.
	InsertMessage(ctx context.Context, msg *models.Message) (created bool, err error)

	GetMessage(ctx context.Context, instanceID, providerMessageID string) (*models.Message, error)

	// UpdateStatus moves a message forward to status. applied is false when
	// the move would go backward, stay put or leave a terminal state.
	// ErrMessageNotFound is returned for unknown messages.
	UpdateStatus(ctx context.Context, instanceID, providerMessageID string, status models.Status) (applied bool, err error)

	Ping(ctx context.Context) error
	Close()
}
