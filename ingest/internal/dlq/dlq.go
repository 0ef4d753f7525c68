// Package dlq shapes processing failures into dead-letter annotations and
// mirrors dead-lettered deliveries to the message broker.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"github.com/convohook/convohook/ingest/internal/models"
)

// Failure kinds recorded on dead-letter entries.
const (
	KindTimeout     = "timeout"
	KindCanceled    = "canceled"
	KindDatabase    = "database"
	KindUnavailable = "unavailable"
	KindQueue       = "queue"
	KindInternal    = "internal"
)

// maxTraceDepth caps the recorded error chain.
const maxTraceDepth = 16

// Kinded lets an error choose its own failure kind.
type Kinded interface {
	FailureKind() string
}

// Classify turns a processing error into the annotation stored with a
// dead-lettered envelope. The trace lists the wrapped error chain, outermost
// first.
func Classify(err error) models.FailureInfo {
	if err == nil {
		return models.FailureInfo{Kind: KindInternal, Message: "unknown error"}
	}
	return models.FailureInfo{
		Kind:    kindOf(err),
		Message: err.Error(),
		Trace:   trace(err),
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return KindDatabase
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return KindUnavailable
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return KindQueue
	}

	var kinded Kinded
	if errors.As(err, &kinded) {
		if k := kinded.FailureKind(); k != "" {
			return k
		}
	}
	return KindInternal
}

func trace(err error) string {
	var lines []string
	walk(err, 0, &lines)
	return strings.Join(lines, "\n")
}

func walk(err error, depth int, lines *[]string) {
	if err == nil || depth >= maxTraceDepth || len(*lines) >= maxTraceDepth {
		return
	}

	*lines = append(*lines, fmt.Sprintf("%s%T: %s", strings.Repeat("  ", depth), err, err.Error()))

	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			walk(inner, depth+1, lines)
		}
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), depth+1, lines)
	}
}
