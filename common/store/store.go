// Package store persists data points, processed records and processing
// errors in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/relic-hub/relic/common/config"
	"github.com/relic-hub/relic/common/database"
	"github.com/relic-hub/relic/common/logging"
	"github.com/relic-hub/relic/common/models"
	"github.com/relic-hub/relic/common/retry"
)

// Table names.
const (
	TableRaw       = "datum"
	TableProcessed = "engram"
	TableError     = "error"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS datum (
		uuid text PRIMARY KEY,
		unix_ts integer NOT NULL,
		iso_ts text NOT NULL,
		collector text NOT NULL,
		source_type text NOT NULL,
		data_json jsonb NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engram (
		uuid text PRIMARY KEY,
		unix_ts integer NOT NULL,
		iso_ts text NOT NULL,
		collector text NOT NULL,
		source_type text NOT NULL,
		data_json jsonb NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS "error" (
		id text PRIMARY KEY,
		unix_ts integer NOT NULL,
		iso_ts text NOT NULL,
		input_data text NOT NULL,
		error_message text NOT NULL
	)`,
}

// Conn is the subset of *pgx.Conn the store uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	IsClosed() bool
	Close(ctx context.Context) error
}

// Dialer opens a connection for dsn.
type Dialer func(ctx context.Context, dsn string) (Conn, error)

func dialPgx(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Option customizes a Store.
type Option func(*Store)

// WithDialer replaces the pgx dialer.
func WithDialer(d Dialer) Option {
	return func(s *Store) { s.dial = d }
}

// WithLogger sets the logger used for reconnect messages.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store owns a single connection. Every operation runs under a policy that
// reconnects and retries once on connectivity errors; any other error is
// returned as is. Raw and processed inserts are independent statements.
type Store struct {
	dsn    string
	dial   Dialer
	logger *logging.Logger
	policy retry.Policy

	mu   sync.Mutex
	conn Conn

	reconnects atomic.Int64
}

// Open connects to Postgres. A connection failure here is returned to the
// caller, which is expected to exit.
func Open(ctx context.Context, cfg config.PostgresConfig, opts ...Option) (*Store, error) {
	s := &Store{
		dsn:    cfg.DSN(),
		dial:   dialPgx,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy = retry.Policy{
		MaxAttempts: 2,
		Retryable:   IsConnectivityError,
		BeforeRetry: func(ctx context.Context, attempt int, err error) error {
			s.logger.Warn("store connection failed, reconnecting", logging.Error(err), logging.Attempt(attempt))
			return s.reconnect(ctx)
		},
	}

	conn, err := s.dial(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.conn = conn
	return s, nil
}

func (s *Store) reconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		_ = s.conn.Close(ctx)
		s.conn = nil
	}
	conn, err := s.dial(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to reconnect to postgres: %w", err)
	}
	s.conn = conn
	s.reconnects.Add(1)
	s.logger.Info("store reconnected")
	return nil
}

// Reconnects counts successful reconnections since Open.
func (s *Store) Reconnects() int64 {
	return s.reconnects.Load()
}

// withConn hands the live connection to fn. An error after which the
// connection reports closed is tagged ErrConnLost.
func (s *Store) withConn(fn func(Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		return ErrConnClosed
	}
	err := fn(s.conn)
	if err != nil && s.conn.IsClosed() {
		return fmt.Errorf("%w: %w", ErrConnLost, err)
	}
	return err
}

func (s *Store) withReconnect(ctx context.Context, op func(ctx context.Context) error) error {
	return s.policy.Do(ctx, op)
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	return s.withReconnect(ctx, func(ctx context.Context) error {
		ctx, cancel := database.WriteContext(ctx)
		defer cancel()
		return s.withConn(func(c Conn) error {
			_, err := c.Exec(ctx, sql, args...)
			return err
		})
	})
}

// Init creates the three tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		err := s.withReconnect(ctx, func(ctx context.Context) error {
			ctx, cancel := database.BulkContext(ctx)
			defer cancel()
			return s.withConn(func(c Conn) error {
				_, err := c.Exec(ctx, stmt)
				return err
			})
		})
		if err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

const insertRecordSQL = `INSERT INTO %s (uuid, unix_ts, iso_ts, collector, source_type, data_json)
	VALUES ($1, $2, $3, $4, $5, $6)`

// InsertDataPoint writes dp to the raw table.
func (s *Store) InsertDataPoint(ctx context.Context, dp *models.DataPoint) error {
	if err := s.insertRecord(ctx, TableRaw, dp); err != nil {
		return fmt.Errorf("failed to insert data point %s: %w", dp.UUID, err)
	}
	return nil
}

// InsertProcessedRecord writes rec to the processed table.
func (s *Store) InsertProcessedRecord(ctx context.Context, rec *models.ProcessedRecord) error {
	if err := s.insertRecord(ctx, TableProcessed, (*models.DataPoint)(rec)); err != nil {
		return fmt.Errorf("failed to insert processed record %s: %w", rec.UUID, err)
	}
	return nil
}

func (s *Store) insertRecord(ctx context.Context, table string, dp *models.DataPoint) error {
	payload, err := json.Marshal(dp.DataJSON)
	if err != nil {
		return fmt.Errorf("failed to encode data_json: %w", err)
	}
	return s.exec(ctx, fmt.Sprintf(insertRecordSQL, table),
		dp.UUID, dp.UnixTS, dp.ISOTS, dp.Collector, dp.SourceType, string(payload))
}

// InsertError writes rec to the error table.
func (s *Store) InsertError(ctx context.Context, rec *models.ErrorRecord) error {
	err := s.exec(ctx, `INSERT INTO "error" (id, unix_ts, iso_ts, input_data, error_message)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UnixTS, rec.ISOTS, rec.InputData, rec.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert error record %s: %w", rec.ID, err)
	}
	return nil
}

// RawBetween returns the payloads of raw rows with unix_ts in [from, to],
// oldest first.
func (s *Store) RawBetween(ctx context.Context, from, to int64) ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := s.withReconnect(ctx, func(ctx context.Context) error {
		ctx, cancel := database.BulkContext(ctx)
		defer cancel()
		out = nil
		return s.withConn(func(c Conn) error {
			rows, err := c.Query(ctx,
				`SELECT data_json::text FROM datum WHERE unix_ts BETWEEN $1 AND $2 ORDER BY unix_ts, uuid`, from, to)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var raw string
				if err := rows.Scan(&raw); err != nil {
					return err
				}
				out = append(out, json.RawMessage(raw))
			}
			return rows.Err()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query raw data points: %w", err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.withReconnect(ctx, func(ctx context.Context) error {
		ctx, cancel := database.QueryContext(ctx)
		defer cancel()
		return s.withConn(func(c Conn) error { return c.Ping(ctx) })
	})
}

// Close releases the connection.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close(ctx)
	s.conn = nil
	return err
}
