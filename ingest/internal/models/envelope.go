package models

import (
	"encoding/json"
	"time"
)

// EventKind is the normalized provider event name, e.g. MESSAGES_UPSERT.
type EventKind string

// Provider event kinds the pipeline acts on.
const (
	EventMessagesUpsert EventKind = "MESSAGES_UPSERT"
	EventMessagesSet    EventKind = "MESSAGES_SET"
	EventSendMessage    EventKind = "SEND_MESSAGE"
	EventMessagesUpdate EventKind = "MESSAGES_UPDATE"
)

// Family groups event kinds by the processor operation they need.
type Family int

const (
	FamilyIgnored Family = iota
	FamilyCreated
	FamilyStatus
)

func (k EventKind) Family() Family {
	switch k {
	case EventMessagesUpsert, EventMessagesSet, EventSendMessage:
		return FamilyCreated
	case EventMessagesUpdate:
		return FamilyStatus
	default:
		return FamilyIgnored
	}
}

// JobEnvelope is the durable record of one accepted webhook delivery. JobID
// is assigned once at receipt and never changes across queue and
// dead-letter transitions.
type JobEnvelope struct {
	JobID      string          `json:"job_id"`
	EventKind  EventKind       `json:"event_kind"`
	ReceivedAt time.Time       `json:"received_at"`
	InstanceID string          `json:"instance_id"`
	TenantID   string          `json:"tenant_id"`
	RequestID  string          `json:"request_id,omitempty"`
	PathHint   string          `json:"path_hint,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// FailureInfo describes why processing a delivery failed.
type FailureInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// DeadLetterEntry is a JobEnvelope annotated with its failure. Entries never
// expire on their own.
type DeadLetterEntry struct {
	JobEnvelope
	Error    FailureInfo `json:"error"`
	FailedAt time.Time   `json:"failed_at"`
	Replays  int         `json:"replays,omitempty"`
}
