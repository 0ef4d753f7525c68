package models

import "time"

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ContentType classifies the payload of a normalized message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentVideo    ContentType = "video"
	ContentAudio    ContentType = "audio"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentLocation ContentType = "location"
	ContentContact  ContentType = "contact"
	ContentReaction ContentType = "reaction"
)

// Content is the displayable part of a message.
type Content struct {
	Type     ContentType `json:"type"`
	Text     string      `json:"text,omitempty"`
	MediaURL string      `json:"media_url,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	FileName string      `json:"file_name,omitempty"`
}

// Message is the canonical record derived from one raw provider message.
// (InstanceID, ProviderMessageID) identifies it.
type Message struct {
	ProviderMessageID string    `json:"provider_message_id"`
	InstanceID        string    `json:"instance_id"`
	TenantID          string    `json:"tenant_id"`
	Direction         Direction `json:"direction"`
	RemoteJID         string    `json:"remote_jid"`
	PushName          string    `json:"push_name,omitempty"`
	Content           Content   `json:"content"`
	Timestamp         time.Time `json:"timestamp"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
	UpdatedAt         time.Time `json:"updated_at,omitempty"`
}

// StatusChange records a status transition that was applied to a stored
// message.
type StatusChange struct {
	ProviderMessageID string    `json:"provider_message_id"`
	InstanceID        string    `json:"instance_id"`
	TenantID          string    `json:"tenant_id"`
	Status            Status    `json:"status"`
	ChangedAt         time.Time `json:"changed_at"`
}
