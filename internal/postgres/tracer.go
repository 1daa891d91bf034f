package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// slowQuery is the threshold for logging successful queries. Failed
// queries are always logged.
const slowQuery = 50 * time.Millisecond

// Query outcomes reported to the observer.
const (
	OutcomeOK       = "ok"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

const pgUniqueViolation = "23505"

type ctxKey int

const (
	httpMethodKey ctxKey = iota
	originKey
	queryKey
)

// QueryObserver receives per-query metrics (wired by main for Prometheus).
// origin is the chi route pattern for API requests or the loop name for
// background work.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, origin, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, origin, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, origin, outcome string, dur time.Duration) {
	f(ctx, method, origin, outcome, dur)
}

type observerBox struct{ QueryObserver }

var observer atomic.Pointer[observerBox]

// SetQueryObserver installs the process-wide observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerBox{QueryObserver: o})
}

func currentObserver() QueryObserver {
	if b := observer.Load(); b != nil {
		return b.QueryObserver
	}
	return nil
}

// WithHTTPMethod stores the HTTP method in the context for query metrics labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey, method)
}

// WithOrigin names the loop or surface issuing queries on ctx, so ingest,
// notify and deliver traffic is told apart in logs and metrics.
func WithOrigin(ctx context.Context, origin string) context.Context {
	if origin == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey, origin)
}

func methodOf(ctx context.Context) string {
	if v, ok := ctx.Value(httpMethodKey).(string); ok {
		return v
	}
	return "NONE"
}

// originOf prefers the chi route pattern, so API queries group by route
// rather than by the generic "api" origin.
func originOf(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	if v, ok := ctx.Value(originKey).(string); ok {
		return v
	}
	return "unknown"
}

// outcomeOf maps a query error to a metrics label. Unique violations are
// split out because the stores use them to detect duplicate labels.
func outcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return OutcomeConflict
	}
	return OutcomeError
}

// queryInfo travels from TraceQueryStart to TraceQueryEnd.
type queryInfo struct {
	sql    string
	nargs  int
	start  time.Time
	caller string
	site   string
}

// queryTracer wraps another pgx.QueryTracer (otelpgx) with metrics and a
// log line for failed or slow queries. Query arguments are never logged
// since they carry chat message text.
type queryTracer struct {
	inner pgx.QueryTracer
	now   func() time.Time
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return &queryTracer{inner: inner, now: time.Now}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{sql: data.SQL, nargs: len(data.Args), start: t.now()}
	info.caller, info.site = callSite()

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		if info.caller != "" {
			span.SetAttributes(attribute.String("db.caller", info.caller))
		}
		if info.site != "" {
			span.SetAttributes(attribute.String("db.site", info.site))
		}
	}
	return context.WithValue(ctx, queryKey, info)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, ok := ctx.Value(queryKey).(*queryInfo)
	if !ok {
		return
	}
	dur := t.now().Sub(info.start)
	outcome := outcomeOf(data.Err)

	if obs := currentObserver(); obs != nil {
		obs.ObserveQuery(ctx, methodOf(ctx), originOf(ctx), outcome, dur)
	}

	if data.Err == nil && dur < slowQuery {
		return
	}

	fields := []any{
		"db.statement", info.sql,
		"db.arg_count", info.nargs,
		"db.duration", dur.Seconds(),
		"db.origin", originOf(ctx),
		"db.outcome", outcome,
	}
	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		fields = append(fields, "pg.command_tag", tag, "db.rows", data.CommandTag.RowsAffected())
	}
	if info.caller != "" {
		fields = append(fields, "db.caller", info.caller)
	}
	if info.site != "" {
		fields = append(fields, "db.site", info.site)
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// callSite walks the stack above the tracer. caller is the store method
// that issued the query; site is the first frame outside the store, the
// loop step or handler that asked for it.
func callSite() (caller, site string) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	for {
		fr, more := frames.Next()
		fn := fr.Function
		switch {
		case fn == "":
		case strings.HasPrefix(fn, "runtime."),
			strings.Contains(fn, "github.com/jackc/pgx/v5"),
			strings.Contains(fn, "github.com/exaring/otelpgx"),
			strings.Contains(fn, "/internal/postgres.(*queryTracer)"):
		case caller == "":
			caller = funcName(fn)
		case strings.Contains(fn, "/internal/store/"):
		default:
			return caller, funcName(fn)
		}
		if !more {
			return caller, site
		}
	}
}

// funcName trims the import path, keeping "pkg.(*Type).Method".
func funcName(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	return fn
}
