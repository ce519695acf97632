package store

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConnClosed is returned when an operation finds no usable connection.
	ErrConnClosed = errors.New("store connection closed")
	// ErrConnLost marks an operation error after which the connection died.
	ErrConnLost = errors.New("store connection lost")
)

// IsConnectivityError reports whether err means the connection to Postgres
// is unusable, as opposed to the server rejecting the statement. Only
// connectivity errors trigger a reconnect-and-retry.
func IsConnectivityError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrConnClosed) || errors.Is(err, ErrConnLost) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08: connection exception. 57P01-57P03: admin/crash shutdown,
		// cannot connect now.
		if strings.HasPrefix(pgErr.Code, "08") {
			return true
		}
		switch pgErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}
		return false
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
