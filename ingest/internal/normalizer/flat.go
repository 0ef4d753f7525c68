package normalizer

import (
	"strings"
	"time"

	"github.com/convohook/convohook/ingest/internal/models"
)

// FlatNormalizer handles records that keep identity and content at the top
// level.
type FlatNormalizer struct{}

func (FlatNormalizer) Supports(raw map[string]any) bool {
	return flatID(raw) != ""
}

func flatID(raw map[string]any) string {
	return firstString(raw, []string{"id"}, []string{"messageId"})
}

func (FlatNormalizer) Normalize(_ *models.Instance, raw map[string]any, _ time.Time) (*models.Message, bool) {
	id := flatID(raw)
	if id == "" {
		return nil, false
	}

	content, ok := flatContent(raw)
	if !ok {
		return nil, false
	}

	direction := flatDirection(raw)
	from := str(raw["from"])
	to := str(raw["to"])
	remote := from
	if direction == models.DirectionOutbound {
		remote = to
	}
	if remote == "" {
		remote = firstString(raw, []string{"remoteJid"}, []string{"chatId"}, []string{"from"}, []string{"to"})
	}

	msg := &models.Message{
		ProviderMessageID: id,
		Direction:         direction,
		RemoteJID:         remote,
		PushName:          firstString(raw, []string{"pushName"}, []string{"senderName"}),
		Content:           content,
	}
	for _, key := range []string{"messageTimestamp", "timestamp"} {
		if ts, ok := timestamp(raw[key]); ok {
			msg.Timestamp = ts
			break
		}
	}
	if status, ok := models.ParseStatus(raw["status"]); ok {
		msg.Status = status
	}
	return msg, true
}

func flatDirection(raw map[string]any) models.Direction {
	switch strings.ToLower(str(raw["direction"])) {
	case "outbound", "out", "outgoing", "sent":
		return models.DirectionOutbound
	case "inbound", "in", "incoming", "received":
		return models.DirectionInbound
	}
	if fromMe, _ := boolean(raw["fromMe"]); fromMe {
		return models.DirectionOutbound
	}
	return models.DirectionInbound
}

func flatContent(raw map[string]any) (models.Content, bool) {
	text := firstString(raw, []string{"text"}, []string{"body"}, []string{"text", "body"}, []string{"caption"})
	mediaURL := firstString(raw, []string{"mediaUrl"}, []string{"url"})

	ct := contentType(str(raw["type"]))
	switch {
	case mediaURL != "" && (ct == "" || ct == models.ContentText):
		ct = models.ContentDocument
		if mime := str(raw["mimetype"]); mime != "" {
			ct = contentTypeFromMime(mime)
		}
	case ct == "" && text != "":
		ct = models.ContentText
	}

	if text == "" && mediaURL == "" {
		return models.Content{}, false
	}
	if ct == "" {
		ct = models.ContentText
	}

	return models.Content{
		Type:     ct,
		Text:     text,
		MediaURL: mediaURL,
		MimeType: firstString(raw, []string{"mimetype"}, []string{"mimeType"}),
		FileName: firstString(raw, []string{"fileName"}, []string{"filename"}),
	}, true
}

func contentType(s string) models.ContentType {
	switch strings.ToLower(s) {
	case "text", "chat", "conversation":
		return models.ContentText
	case "image":
		return models.ContentImage
	case "video":
		return models.ContentVideo
	case "audio", "ptt", "voice":
		return models.ContentAudio
	case "document", "file":
		return models.ContentDocument
	case "sticker":
		return models.ContentSticker
	case "location":
		return models.ContentLocation
	case "contact", "vcard":
		return models.ContentContact
	default:
		return ""
	}
}

func contentTypeFromMime(mime string) models.ContentType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return models.ContentImage
	case strings.HasPrefix(mime, "video/"):
		return models.ContentVideo
	case strings.HasPrefix(mime, "audio/"):
		return models.ContentAudio
	default:
		return models.ContentDocument
	}
}
