package repository

import (
	"context"
	"sync"
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
)

type messageKey struct {
	instanceID string
	messageID  string
}

// MemoryStore keeps messages in process memory. It is used for local runs
// without Postgres and in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[messageKey]models.Message
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[messageKey]models.Message),
		now:      time.Now,
	}
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey{msg.InstanceID, msg.ProviderMessageID}
	if _, exists := s.messages[key]; exists {
		return false, nil
	}

	stored := *msg
	stored.CreatedAt = s.now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	s.messages[key] = stored
	return true, nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, instanceID, providerMessageID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, exists := s.messages[messageKey{instanceID, providerMessageID}]
	if !exists {
		return nil, ErrMessageNotFound
	}
	return &msg, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, instanceID, providerMessageID string, status models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey{instanceID, providerMessageID}
	msg, exists := s.messages[key]
	if !exists {
		return false, ErrMessageNotFound
	}
	if !msg.Status.CanTransition(status) {
		return false, nil
	}

	msg.Status = status
	msg.UpdatedAt = s.now().UTC()
	s.messages[key] = msg
	return true, nil
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() {}
