package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Deterministic(t *testing.T) {
	a := NewGenerator("inst", 42)
	b := NewGenerator("inst", 42)
	assert.Equal(t, a.MessageID(), b.MessageID())
}

func TestGenerator_UpsertSingleUsesDataObject(t *testing.T) {
	g := NewGenerator("inst", 1)
	rec := g.TextMessage(false)

	body := g.Upsert(rec)
	assert.Equal(t, EventMessagesUpsert, body["event"])
	assert.Equal(t, rec, body["data"])

	id, err := RecordID(rec)
	require.NoError(t, err)
	assert.Len(t, id, 20)
}

func TestGenerator_UpsertManyUsesMessagesArray(t *testing.T) {
	g := NewGenerator("inst", 1)
	body := g.Upsert(g.Batch(3, true)...)

	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	list, ok := data["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 3)
}

func TestGenerator_StatusUpdate(t *testing.T) {
	g := NewGenerator("inst", 1)
	body := g.StatusUpdate("ABC", "1@s.whatsapp.net", "read")

	data := body["data"].(map[string]any)
	assert.Equal(t, EventMessagesUpdate, body["event"])
	assert.Equal(t, "ABC", data["keyId"])
	assert.Equal(t, "READ", data["status"])
}

func TestRecordID_Missing(t *testing.T) {
	_, err := RecordID(map[string]any{})
	assert.Error(t, err)
	_, err = RecordID(map[string]any{"key": map[string]any{}})
	assert.Error(t, err)
}
