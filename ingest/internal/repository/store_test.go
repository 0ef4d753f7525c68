package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohook/convohook/ingest/internal/models"
)

func testMessage(id string, status models.Status) *models.Message {
	return &models.Message{
		ProviderMessageID: id,
		InstanceID:        "inst-1",
		TenantID:          "tenant-1",
		Direction:         models.DirectionOutbound,
		RemoteJID:         "5511999999999@s.whatsapp.net",
		Content:           models.Content{Type: models.ContentText, Text: "hello"},
		Timestamp:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:            status,
	}
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("insert is idempotent", func(t *testing.T) {
		created, err := store.InsertMessage(ctx, testMessage("dup-1", models.StatusSent))
		require.NoError(t, err)
		assert.True(t, created)

		again := testMessage("dup-1", models.StatusSent)
		again.Content.Text = "changed"
		created, err = store.InsertMessage(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := store.GetMessage(ctx, "inst-1", "dup-1")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Content.Text)
	})

	t.Run("same id on another instance is a different message", func(t *testing.T) {
		other := testMessage("dup-1", models.StatusSent)
		other.InstanceID = "inst-2"
		created, err := store.InsertMessage(ctx, other)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("status only moves forward", func(t *testing.T) {
		_, err := store.InsertMessage(ctx, testMessage("st-1", models.StatusSent))
		require.NoError(t, err)

		steps := []struct {
			status  models.Status
			applied bool
		}{
			{models.StatusDelivered, true},
			{models.StatusRead, true},
			{models.StatusDelivered, false},
			{models.StatusRead, false},
			{models.StatusSent, false},
		}
		for _, step := range steps {
			applied, err := store.UpdateStatus(ctx, "inst-1", "st-1", step.status)
			require.NoError(t, err)
			assert.Equal(t, step.applied, applied, "moving to %s", step.status)
		}

		got, err := store.GetMessage(ctx, "inst-1", "st-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusRead, got.Status)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		_, err := store.InsertMessage(ctx, testMessage("st-2", models.StatusPending))
		require.NoError(t, err)

		applied, err := store.UpdateStatus(ctx, "inst-1", "st-2", models.StatusFailed)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = store.UpdateStatus(ctx, "inst-1", "st-2", models.StatusRead)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("unknown message", func(t *testing.T) {
		_, err := store.UpdateStatus(ctx, "inst-1", "nope", models.StatusRead)
		assert.ErrorIs(t, err, ErrMessageNotFound)

		_, err = store.GetMessage(ctx, "inst-1", "nope")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("invalid status is not applied", func(t *testing.T) {
		_, err := store.InsertMessage(ctx, testMessage("st-3", models.StatusSent))
		require.NoError(t, err)
		applied, err := store.UpdateStatus(ctx, "inst-1", "st-3", models.Status("typing"))
		require.NoError(t, err)
		assert.False(t, applied)
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreContract(t, store)
	assert.Equal(t, 5, store.Len())
}
