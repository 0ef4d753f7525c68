// Package payload builds provider webhook bodies in the Evolution API
// (Baileys) format. hookctl uses it to send test traffic and the ingest
// tests use it for fixtures.
package payload

import (
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Event names as the provider spells them.
const (
	EventMessagesUpsert = "messages.upsert"
	EventMessagesUpdate = "messages.update"
	EventSendMessage    = "send.message"
)

// Generator produces fake provider messages. A fixed seed yields the same
// sequence on every run.
type Generator struct {
	faker    *gofakeit.Faker
	instance string
	now      func() time.Time
}

// NewGenerator returns a generator for the named instance. seed 0 picks a
// random seed.
func NewGenerator(instance string, seed int64) *Generator {
	return &Generator{
		faker:    gofakeit.New(seed),
		instance: instance,
		now:      time.Now,
	}
}

// MessageID returns an id shaped like a WhatsApp message key.
func (g *Generator) MessageID() string {
	return strings.ToUpper(g.faker.LetterN(4) + g.faker.DigitN(8) + g.faker.LetterN(8))
}

// JID returns a fake WhatsApp user address.
func (g *Generator) JID() string {
	return "55" + g.faker.DigitN(11) + "@s.whatsapp.net"
}

// TextMessage returns one Baileys message record with conversation text.
func (g *Generator) TextMessage(fromMe bool) map[string]any {
	return map[string]any{
		"key": map[string]any{
			"id":        g.MessageID(),
			"remoteJid": g.JID(),
			"fromMe":    fromMe,
		},
		"pushName":         g.faker.Name(),
		"message":          map[string]any{"conversation": g.faker.Sentence(8)},
		"messageType":      "conversation",
		"messageTimestamp": g.now().Unix(),
	}
}

// ImageMessage returns one Baileys image record with a caption.
func (g *Generator) ImageMessage(fromMe bool) map[string]any {
	msg := g.TextMessage(fromMe)
	msg["message"] = map[string]any{
		"imageMessage": map[string]any{
			"url":      g.faker.URL() + "/" + g.faker.UUID() + ".jpg",
			"mimetype": "image/jpeg",
			"caption":  g.faker.Sentence(4),
		},
	}
	msg["messageType"] = "imageMessage"
	return msg
}

// Upsert wraps records in a messages.upsert body. A single record is sent
// as the data object itself, the way the provider does it.
func (g *Generator) Upsert(records ...map[string]any) map[string]any {
	body := map[string]any{
		"event":     EventMessagesUpsert,
		"instance":  g.instance,
		"date_time": g.now().UTC().Format(time.RFC3339),
	}
	if len(records) == 1 {
		body["data"] = records[0]
		return body
	}

	list := make([]any, len(records))
	for i, r := range records {
		list[i] = r
	}
	body["data"] = map[string]any{"messages": list}
	return body
}

// SendEcho wraps an outbound record in a send.message body.
func (g *Generator) SendEcho(record map[string]any) map[string]any {
	body := g.Upsert(record)
	body["event"] = EventSendMessage
	return body
}

// StatusUpdate returns a messages.update body moving id to status.
func (g *Generator) StatusUpdate(id, remoteJID, status string) map[string]any {
	return map[string]any{
		"event":    EventMessagesUpdate,
		"instance": g.instance,
		"data": map[string]any{
			"keyId":     id,
			"remoteJid": remoteJID,
			"fromMe":    true,
			"status":    strings.ToUpper(status),
		},
	}
}

// Batch returns n fake text records, alternating direction when mixed is
// set.
func (g *Generator) Batch(n int, mixed bool) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		fromMe := mixed && i%2 == 1
		if g.faker.Number(0, 4) == 0 {
			out[i] = g.ImageMessage(fromMe)
			continue
		}
		out[i] = g.TextMessage(fromMe)
	}
	return out
}

// RecordID returns the key.id of a record built by this package.
func RecordID(record map[string]any) (string, error) {
	key, ok := record["key"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("record has no key")
	}
	id, ok := key["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("record has no key.id")
	}
	return id, nil
}
