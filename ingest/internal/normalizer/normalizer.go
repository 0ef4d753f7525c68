// Package normalizer converts raw provider messages into models.Message.
//
// Normalization is fail-closed: a raw message that lacks an identity or
// whose content is not recognized yields no message rather than a partial
// record. Callers count and skip those.
//
// Two shapes are understood:
//
//   - Baileys-style records as sent by Evolution API, where identity lives
//     under key.{id,remoteJid,fromMe} and the content under message.*
//   - flat records with id, from, to, text or body at the top level
package normalizer

import (
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
)

// Normalizer converts one raw message shape.
type Normalizer interface {
	Normalize(inst *models.Instance, raw map[string]any, receivedAt time.Time) (*models.Message, bool)
	Supports(raw map[string]any) bool
}

// Registry holds ordered normalizers and finds a match for a raw message.
type Registry struct {
	items []Normalizer
}

// NewRegistry constructs a registry with provided normalizers.
func NewRegistry(items ...Normalizer) *Registry {
	return &Registry{items: items}
}

// DefaultRegistry understands every shape this package knows, Baileys first
// because a Baileys record can also carry a flat-looking id.
func DefaultRegistry() *Registry {
	return NewRegistry(BaileysNormalizer{}, FlatNormalizer{})
}

// Find returns the first normalizer that supports the raw message.
func (r *Registry) Find(raw map[string]any) Normalizer {
	if r == nil {
		return nil
	}
	for _, n := range r.items {
		if n.Supports(raw) {
			return n
		}
	}
	return nil
}

// Normalize converts raw into a message for inst. It never panics; any
// unexpected shape deep inside raw yields ok == false.
func (r *Registry) Normalize(inst *models.Instance, raw any, receivedAt time.Time) (msg *models.Message, ok bool) {
	defer func() {
		if recover() != nil {
			msg, ok = nil, false
		}
	}()

	if inst == nil {
		return nil, false
	}
	obj, isObj := raw.(map[string]any)
	if !isObj {
		return nil, false
	}

	n := r.Find(obj)
	if n == nil {
		return nil, false
	}

	msg, ok = n.Normalize(inst, obj, receivedAt)
	if !ok || msg == nil || msg.ProviderMessageID == "" {
		return nil, false
	}

	msg.InstanceID = inst.ID
	msg.TenantID = inst.TenantID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = receivedAt.UTC()
	}
	if !msg.Status.Valid() {
		msg.Status = defaultStatus(msg.Direction)
	}
	return msg, true
}

var defaultRegistry = DefaultRegistry()

// Normalize converts raw with the default registry.
func Normalize(inst *models.Instance, raw any, receivedAt time.Time) (*models.Message, bool) {
	return defaultRegistry.Normalize(inst, raw, receivedAt)
}

// defaultStatus is used when the provider sent none: an outbound echo has at
// least left the device, an inbound message has at least arrived.
func defaultStatus(d models.Direction) models.Status {
	if d == models.DirectionOutbound {
		return models.StatusSent
	}
	return models.StatusDelivered
}
