package normalizer

import (
	"fmt"
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
)

// wrapperKeys hold another message one level down.
var wrapperKeys = []string{
	"ephemeralMessage",
	"viewOnceMessage",
	"viewOnceMessageV2",
	"documentWithCaptionMessage",
	"editedMessage",
}

type mediaKind struct {
	key         string
	contentType models.ContentType
}

var mediaKinds = []mediaKind{
	{"imageMessage", models.ContentImage},
	{"videoMessage", models.ContentVideo},
	{"audioMessage", models.ContentAudio},
	{"documentMessage", models.ContentDocument},
	{"stickerMessage", models.ContentSticker},
}

// BaileysNormalizer handles records with a key object, as produced by
// Baileys-based providers.
type BaileysNormalizer struct{}

func (BaileysNormalizer) Supports(raw map[string]any) bool {
	return object(raw, "key") != nil
}

func (BaileysNormalizer) Normalize(_ *models.Instance, raw map[string]any, _ time.Time) (*models.Message, bool) {
	key := object(raw, "key")
	id := str(key["id"])
	if id == "" {
		return nil, false
	}

	content, ok := baileysContent(object(raw, "message"), 0)
	if !ok {
		return nil, false
	}
	if content.MediaURL == "" {
		content.MediaURL = firstString(raw, []string{"mediaUrl"}, []string{"message", "mediaUrl"})
	}

	direction := models.DirectionInbound
	if fromMe, _ := boolean(key["fromMe"]); fromMe {
		direction = models.DirectionOutbound
	}

	msg := &models.Message{
		ProviderMessageID: id,
		Direction:         direction,
		RemoteJID:         firstString(raw, []string{"key", "remoteJid"}, []string{"remoteJid"}),
		PushName:          str(raw["pushName"]),
		Content:           content,
	}
	if ts, ok := timestamp(raw["messageTimestamp"]); ok {
		msg.Timestamp = ts
	}
	if status, ok := models.ParseStatus(raw["status"]); ok {
		msg.Status = status
	}
	return msg, true
}

func baileysContent(m map[string]any, depth int) (models.Content, bool) {
	if m == nil || depth > 3 {
		return models.Content{}, false
	}

	if text := str(m["conversation"]); text != "" {
		return models.Content{Type: models.ContentText, Text: text}, true
	}
	if text := firstString(m, []string{"extendedTextMessage", "text"}); text != "" {
		return models.Content{Type: models.ContentText, Text: text}, true
	}

	for _, mk := range mediaKinds {
		media := object(m, mk.key)
		if media == nil {
			continue
		}
		return models.Content{
			Type:     mk.contentType,
			Text:     str(media["caption"]),
			MediaURL: str(media["url"]),
			MimeType: str(media["mimetype"]),
			FileName: firstString(media, []string{"fileName"}, []string{"title"}),
		}, true
	}

	if loc := object(m, "locationMessage"); loc != nil {
		lat, latOK := number(loc["degreesLatitude"])
		lng, lngOK := number(loc["degreesLongitude"])
		if !latOK || !lngOK {
			return models.Content{}, false
		}
		text := fmt.Sprintf("%g,%g", lat, lng)
		if name := str(loc["name"]); name != "" {
			text = name + " (" + text + ")"
		}
		return models.Content{Type: models.ContentLocation, Text: text}, true
	}

	if contact := object(m, "contactMessage"); contact != nil {
		name := str(contact["displayName"])
		if name == "" {
			return models.Content{}, false
		}
		return models.Content{Type: models.ContentContact, Text: name}, true
	}

	if reaction := object(m, "reactionMessage"); reaction != nil {
		return models.Content{Type: models.ContentReaction, Text: str(reaction["text"])}, true
	}

	for _, wk := range wrapperKeys {
		if inner := object(m, wk, "message"); inner != nil {
			return baileysContent(inner, depth+1)
		}
	}
	return models.Content{}, false
}
