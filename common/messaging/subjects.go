package messaging

import "strings"

// Subjects follow {product}.{resource}.{action}.
const (
	SubjectMessageCreated = "convohook.message.created"
	SubjectMessageStatus  = "convohook.message.status"

	// SubjectDeadLetterPrefix is suffixed with the failure kind.
	SubjectDeadLetterPrefix = "convohook.dlq"

	// SubjectAll matches every subject the pipeline publishes.
	SubjectAll = "convohook.>"
)

// Header keys attached to published messages.
const (
	HeaderJobID      = "Convohook-Job-Id"
	HeaderInstanceID = "Convohook-Instance-Id"
	HeaderTenantID   = "Convohook-Tenant-Id"
)

// DeadLetterSubject returns the subject for a dead-lettered delivery of the
// given failure kind, e.g. convohook.dlq.storage.
func DeadLetterSubject(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	kind = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(kind)
	if kind == "" {
		kind = "unknown"
	}
	return SubjectDeadLetterPrefix + "." + kind
}
