// Package sqlitestore provides an embedded SQLite implementation of
// store.Store for single-host deployments. All loops share one database
// file; every operation is one statement on a single connection, wrapped
// in lock retries and a circuit breaker.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"

	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

var tracer = otel.Tracer("github.com/linnemanlabs/dupwatch/internal/store/sqlitestore")

//go:embed schema.sql
var schema string

const (
	pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	insertAttempts = 3
)

// Options tunes resilience. The zero value uses the defaults.
type Options struct {
	Retry            RetryConfig
	BreakerThreshold int
	BreakerReset     time.Duration
	Clock            clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Retry.MaxRetries == 0 && o.Retry.BaseDelay == 0 {
		o.Retry = DefaultRetryConfig()
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerReset == 0 {
		o.BreakerReset = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}

// Store persists tasks, message history, alerts and the allow-list in one
// SQLite database.
type Store struct {
	db    *sql.DB
	cb    *CircuitBreaker
	retry RetryConfig
	sleep sleepFunc
}

// New opens (creating if needed) the database file at path.
func New(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open("file:"+path+"?"+pragmas, opts)
}

// NewInMemory opens a private in-memory database.
func NewInMemory(opts Options) (*Store, error) {
	return open("file::memory:?"+pragmas, opts)
}

func open(dsn string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time is all SQLite allows; a single connection also
	// keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	opts = opts.withDefaults()
	return &Store{
		db:    db,
		cb:    NewCircuitBreaker(opts.BreakerThreshold, opts.BreakerReset, opts.Clock),
		retry: opts.Retry,
		sleep: sleepCtx,
	}, nil
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.db.Close()
}

// BreakerState reports the circuit breaker state for diagnostics.
func (s *Store) BreakerState() string {
	return s.cb.State().String()
}

// do runs fn inside a span, through the breaker and the lock retries.
// Domain rejections pass through untouched and do not count as failures.
func (s *Store) do(ctx context.Context, name, op string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "sqlitestore."+name, trace.WithAttributes(
		attribute.String("db.system", "sqlite"),
		attribute.String("db.operation.name", op),
	))
	defer span.End()

	var rejection error
	err := s.cb.Execute(func() error {
		return retryOnBusy(ctx, s.retry, func() error {
			err := fn(ctx)
			if isRejection(err) {
				rejection = err
				return nil
			}
			rejection = nil
			return err
		}, s.sleep)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return rejection
}

var rejections = []error{
	task.ErrNotFound,
	task.ErrDuplicateLabel,
	alert.ErrNotFound,
	alert.ErrAlreadyReplied,
	alert.ErrAlreadyDelivered,
	alert.ErrNotReplied,
}

func isRejection(err error) bool {
	if err == nil {
		return false
	}
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
