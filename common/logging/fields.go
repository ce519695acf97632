package logging

import "log/slog"

// Field names shared by the gateway, the worker and the CLI.
const (
	FieldService     = "service"
	FieldRequestID   = "request_id"
	FieldClientID    = "client_id"
	FieldDataPointID = "data_point_id"
	FieldCollector   = "collector"
	FieldSourceType  = "source_type"
	FieldChannel     = "channel"
	FieldTable       = "table"
	FieldAttempt     = "attempt"
	FieldError       = "error"
	FieldAddr        = "addr"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func ClientID(id string) slog.Attr {
	return slog.String(FieldClientID, id)
}

// DataPointID tags a log line with the record's uuid.
func DataPointID(id string) slog.Attr {
	return slog.String(FieldDataPointID, id)
}

func Collector(name string) slog.Attr {
	return slog.String(FieldCollector, name)
}

func SourceType(name string) slog.Attr {
	return slog.String(FieldSourceType, name)
}

// Channel is the queue channel (Redis list key).
func Channel(name string) slog.Attr {
	return slog.String(FieldChannel, name)
}

func Table(name string) slog.Attr {
	return slog.String(FieldTable, name)
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

func Addr(addr string) slog.Attr {
	return slog.String(FieldAddr, addr)
}

// Error returns a slog attribute for an error. A nil error logs as "<nil>".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "<nil>")
	}
	return slog.String(FieldError, err.Error())
}
