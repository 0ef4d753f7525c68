// Package database holds the query deadlines shared by the SQL-backed
// stores.
package database

import (
	"context"
	"time"
)

const (
	// DefaultQueryTimeout bounds reads and credential lookups.
	DefaultQueryTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds inserts and status updates.
	DefaultWriteTimeout = 10 * time.Second
)

// QueryContext derives a context that expires after DefaultQueryTimeout.
func QueryContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultQueryTimeout)
}

// WriteContext derives a context that expires after DefaultWriteTimeout.
func WriteContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, DefaultWriteTimeout)
}

// WithTimeout is QueryContext with a caller-chosen deadline. A non-positive
// timeout falls back to DefaultQueryTimeout.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return context.WithTimeout(parent, timeout)
}
