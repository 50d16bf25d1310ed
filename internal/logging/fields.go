package logging

import "log/slog"

// Common field names for consistent logging.
const (
	FieldService   = "service"
	FieldUsername  = "username"
	FieldHostname  = "hostname"
	FieldIP        = "ip"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldEventID   = "event_id"
	FieldSessionID = "session_uuid"
	FieldAction    = "action"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func Username(name string) slog.Attr {
	return slog.String(FieldUsername, name)
}

func Hostname(name string) slog.Attr {
	return slog.String(FieldHostname, name)
}

func IP(ip string) slog.Attr {
	return slog.String(FieldIP, ip)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

// Error returns a slog attribute for an error. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

func EventID(id int64) slog.Attr {
	return slog.Int64(FieldEventID, id)
}

func SessionID(id string) slog.Attr {
	return slog.String(FieldSessionID, id)
}

func Action(code string) slog.Attr {
	return slog.String(FieldAction, code)
}
