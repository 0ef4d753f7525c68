package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldService    = "service"
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldInstanceID = "instance_id"
	FieldTenantID   = "tenant_id"
	FieldEventKind  = "event_kind"
	FieldMessageID  = "message_id"
	FieldStatus     = "status"
	FieldCount      = "count"
	FieldPath       = "path"
	FieldError      = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func JobID(id string) slog.Attr {
	return slog.String(FieldJobID, id)
}

func InstanceID(id string) slog.Attr {
	return slog.String(FieldInstanceID, id)
}

func TenantID(id string) slog.Attr {
	return slog.String(FieldTenantID, id)
}

func EventKind(kind string) slog.Attr {
	return slog.String(FieldEventKind, kind)
}

func MessageID(id string) slog.Attr {
	return slog.String(FieldMessageID, id)
}

// Status returns an attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

// Error returns an attribute for err. A nil error renders as an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
