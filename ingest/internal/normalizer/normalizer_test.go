package normalizer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/pkg/payload"
)

var (
	testInstance = &models.Instance{ID: "inst-1", TenantID: "tenant-1", Active: true}
	receivedAt   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestNormalize_BaileysText(t *testing.T) {
	raw := decode(t, `{
		"key": {"id": "3EB0C767D26A", "remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false},
		"pushName": "Maria",
		"message": {"conversation": "oi, tudo bem?"},
		"messageTimestamp": 1717171717
	}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, "3EB0C767D26A", msg.ProviderMessageID)
	assert.Equal(t, "inst-1", msg.InstanceID)
	assert.Equal(t, "tenant-1", msg.TenantID)
	assert.Equal(t, models.DirectionInbound, msg.Direction)
	assert.Equal(t, "5511999999999@s.whatsapp.net", msg.RemoteJID)
	assert.Equal(t, "Maria", msg.PushName)
	assert.Equal(t, models.Content{Type: models.ContentText, Text: "oi, tudo bem?"}, msg.Content)
	assert.Equal(t, time.Unix(1717171717, 0).UTC(), msg.Timestamp)
	assert.Equal(t, models.StatusDelivered, msg.Status)
}

func TestNormalize_BaileysOutboundDefaultsToSent(t *testing.T) {
	raw := decode(t, `{
		"key": {"id": "ABC", "remoteJid": "1@s.whatsapp.net", "fromMe": true},
		"message": {"extendedTextMessage": {"text": "hello"}}
	}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "hello", msg.Content.Text)
	assert.Equal(t, receivedAt, msg.Timestamp)
}

func TestNormalize_BaileysProviderStatus(t *testing.T) {
	raw := decode(t, `{
		"key": {"id": "ABC", "fromMe": true},
		"status": "PENDING",
		"message": {"conversation": "x"}
	}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, msg.Status)
}

func TestNormalize_BaileysMedia(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    models.Content
	}{
		{
			name:    "image with caption",
			message: `{"imageMessage": {"url": "https://mmg.example/i.jpg", "mimetype": "image/jpeg", "caption": "look"}}`,
			want:    models.Content{Type: models.ContentImage, Text: "look", MediaURL: "https://mmg.example/i.jpg", MimeType: "image/jpeg"},
		},
		{
			name:    "document",
			message: `{"documentMessage": {"fileName": "invoice.pdf", "mimetype": "application/pdf"}}`,
			want:    models.Content{Type: models.ContentDocument, MimeType: "application/pdf", FileName: "invoice.pdf"},
		},
		{
			name:    "audio",
			message: `{"audioMessage": {"mimetype": "audio/ogg; codecs=opus"}}`,
			want:    models.Content{Type: models.ContentAudio, MimeType: "audio/ogg; codecs=opus"},
		},
		{
			name:    "location",
			message: `{"locationMessage": {"degreesLatitude": -23.5, "degreesLongitude": -46.6, "name": "Office"}}`,
			want:    models.Content{Type: models.ContentLocation, Text: "Office (-23.5,-46.6)"},
		},
		{
			name:    "contact",
			message: `{"contactMessage": {"displayName": "João"}}`,
			want:    models.Content{Type: models.ContentContact, Text: "João"},
		},
		{
			name:    "ephemeral wrapper",
			message: `{"ephemeralMessage": {"message": {"conversation": "poof"}}}`,
			want:    models.Content{Type: models.ContentText, Text: "poof"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := decode(t, `{"key": {"id": "M1", "remoteJid": "1@s.whatsapp.net"}, "message": `+tt.message+`}`)
			msg, ok := Normalize(testInstance, raw, receivedAt)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Content)
		})
	}
}

func TestNormalize_Flat(t *testing.T) {
	raw := decode(t, `{
		"id": "wamid.HBgM",
		"from": "5511988887777",
		"to": "5511900000000",
		"text": {"body": "pedido 42"},
		"timestamp": "1717171717123",
		"status": "delivered"
	}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, "wamid.HBgM", msg.ProviderMessageID)
	assert.Equal(t, models.DirectionInbound, msg.Direction)
	assert.Equal(t, "5511988887777", msg.RemoteJID)
	assert.Equal(t, "pedido 42", msg.Content.Text)
	assert.Equal(t, time.UnixMilli(1717171717123).UTC(), msg.Timestamp)
	assert.Equal(t, models.StatusDelivered, msg.Status)
}

func TestNormalize_OutOfRangeTimestampFallsBackToReceipt(t *testing.T) {
	for _, ts := range []string{"10000000000000000", "99999999999999999999"} {
		t.Run(ts, func(t *testing.T) {
			raw := decode(t, `{"id":"m1","from":"5511988887777","text":"hi","timestamp":`+ts+`}`)

			msg, ok := Normalize(testInstance, raw, receivedAt)
			require.True(t, ok)
			assert.Equal(t, receivedAt.UTC(), msg.Timestamp)
		})
	}
}

func TestNormalize_FlatOutbound(t *testing.T) {
	raw := decode(t, `{"id": "o1", "from": "me", "to": "5511", "body": "sent from api", "direction": "outbound", "timestamp": "2026-03-01T10:00:00-03:00"}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
	assert.Equal(t, "5511", msg.RemoteJID)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), msg.Timestamp)
}

func TestNormalize_FlatMedia(t *testing.T) {
	raw := decode(t, `{"id": "m1", "fromMe": "true", "mediaUrl": "https://cdn.example/v.mp4", "mimetype": "video/mp4"}`)

	msg, ok := Normalize(testInstance, raw, receivedAt)
	require.True(t, ok)
	assert.Equal(t, models.ContentVideo, msg.Content.Type)
	assert.Equal(t, models.DirectionOutbound, msg.Direction)
}

func TestNormalize_FailsClosed(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{name: "nil", raw: nil},
		{name: "string", raw: "garbage"},
		{name: "number", raw: 42.0},
		{name: "empty object", raw: map[string]any{}},
		{name: "baileys without id", raw: map[string]any{"key": map[string]any{"remoteJid": "x"}, "message": map[string]any{"conversation": "hi"}}},
		{name: "baileys blank id", raw: map[string]any{"key": map[string]any{"id": "  "}, "message": map[string]any{"conversation": "hi"}}},
		{name: "baileys unknown content", raw: map[string]any{"key": map[string]any{"id": "x"}, "message": map[string]any{"protocolMessage": map[string]any{}}}},
		{name: "baileys no content", raw: map[string]any{"key": map[string]any{"id": "x"}}},
		{name: "flat without content", raw: map[string]any{"id": "x", "from": "y"}},
		{name: "key not an object", raw: map[string]any{"key": "x", "text": "hi"}},
		{name: "location without coordinates", raw: map[string]any{"key": map[string]any{"id": "x"}, "message": map[string]any{"locationMessage": map[string]any{}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Normalize(testInstance, tt.raw, receivedAt)
			assert.False(t, ok)
			assert.Nil(t, msg)
		})
	}
}

func TestNormalize_NilInstance(t *testing.T) {
	_, ok := Normalize(nil, map[string]any{"id": "x", "text": "y"}, receivedAt)
	assert.False(t, ok)
}

type panicky struct{}

func (panicky) Supports(map[string]any) bool { return true }
func (panicky) Normalize(*models.Instance, map[string]any, time.Time) (*models.Message, bool) {
	panic("boom")
}

func TestRegistry_RecoversFromPanic(t *testing.T) {
	r := NewRegistry(panicky{})
	msg, ok := r.Normalize(testInstance, map[string]any{"id": "x"}, receivedAt)
	assert.False(t, ok)
	assert.Nil(t, msg)
}

func TestRegistry_FindNil(t *testing.T) {
	var r *Registry
	assert.Nil(t, r.Find(map[string]any{"id": "x"}))
}

func TestNormalize_GeneratedPayloads(t *testing.T) {
	gen := payload.NewGenerator("inst", 7)

	for _, rec := range gen.Batch(25, true) {
		// Round trip through JSON so values have decoded types.
		data, err := json.Marshal(rec)
		require.NoError(t, err)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))

		msg, ok := Normalize(testInstance, raw, receivedAt)
		require.True(t, ok, "record %s", data)

		id, err := payload.RecordID(rec)
		require.NoError(t, err)
		assert.Equal(t, id, msg.ProviderMessageID)
		assert.NotEmpty(t, msg.RemoteJID)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
		ok   bool
	}{
		{"seconds", float64(1700000000), time.Unix(1700000000, 0).UTC(), true},
		{"millis", json.Number("1700000000123"), time.UnixMilli(1700000000123).UTC(), true},
		{"numeric string", "1700000000", time.Unix(1700000000, 0).UTC(), true},
		{"rfc3339", "2026-01-01T00:00:00Z", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"long object", map[string]any{"low": float64(1700000000), "high": float64(0), "unsigned": true}, time.Unix(1700000000, 0).UTC(), true},
		{"zero", float64(0), time.Time{}, false},
		{"negative", float64(-5), time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
		{"last representable millis", float64(maxTimestamp.UnixMilli()), maxTimestamp, true},
		{"seconds past year 9999", float64(999999999999), time.Time{}, false},
		{"past year 9999", float64(10000000000000000), time.Time{}, false},
		{"past int64 millis", json.Number("99999999999999999999"), time.Time{}, false},
		{"huge long object", map[string]any{"low": float64(0), "high": float64(1 << 30)}, time.Time{}, false},
		{"rfc3339 before epoch", "1969-12-31T23:59:59Z", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v want %v", got, tt.want)
		})
	}
}
