package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Status is the delivery state of a message.
//
// pending -> sent -> delivered -> read, with failed reachable from any
// non-terminal state. Moves to an equal or lower rank are ignored because
// providers redeliver status events out of order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// Rank orders the non-failed states. Failed ranks above everything so the
// same "only move up" rule makes it terminal.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return -1
	}
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

func (s Status) Terminal() bool {
	return s == StatusFailed
}

// CanTransition reports whether a message in state s may move to next.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || s.Terminal() {
		return false
	}
	if !s.Valid() {
		return true
	}
	return next.Rank() > s.Rank()
}

// ParseStatus maps provider spellings, including Baileys numeric ack codes,
// to a Status. ok is false when the value is not recognized.
func ParseStatus(v any) (Status, bool) {
	switch t := v.(type) {
	case string:
		return parseStatusString(t)
	case json.Number:
		return parseStatusString(t.String())
	case float64:
		return parseStatusCode(int(t))
	case int:
		return parseStatusCode(t)
	case int64:
		return parseStatusCode(int(t))
	default:
		return "", false
	}
}

func parseStatusString(s string) (Status, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return parseStatusCode(n)
	}
	switch s {
	case "PENDING":
		return StatusPending, true
	case "SENT", "SERVER_ACK":
		return StatusSent, true
	case "DELIVERED", "DELIVERY_ACK":
		return StatusDelivered, true
	case "READ", "PLAYED":
		return StatusRead, true
	case "FAILED", "ERROR":
		return StatusFailed, true
	default:
		return "", false
	}
}

func parseStatusCode(code int) (Status, bool) {
	switch code {
	case 0:
		return StatusFailed, true
	case 1:
		return StatusPending, true
	case 2:
		return StatusSent, true
	case 3:
		return StatusDelivered, true
	case 4, 5:
		return StatusRead, true
	default:
		return "", false
	}
}
