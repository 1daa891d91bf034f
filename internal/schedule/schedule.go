// Package schedule runs a job on a fixed interval until shutdown. Each
// cycle gets its own ULID for log correlation, and a cycle in flight when
// shutdown arrives runs to completion: the job's context is detached from
// cancellation and jobs poll Stopping between items instead.
package schedule

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

// Job is one cycle of work.
type Job func(ctx context.Context) error

type stopKey struct{}

// Stopping reports whether shutdown has begun for the cycle running on
// ctx. Jobs check it between batch items.
func Stopping(ctx context.Context) bool {
	done, ok := ctx.Value(stopKey{}).(<-chan struct{})
	if !ok {
		return ctx.Err() != nil
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// Runner drives a Job.
type Runner struct {
	name     string
	interval time.Duration
	job      Job
	clk      clock.Clock
	logger   log.Logger
	metrics  *Metrics
}

// New creates a Runner. metrics may be nil.
func New(name string, interval time.Duration, job Job, clk clock.Clock, logger log.Logger, metrics *Metrics) *Runner {
	if job == nil {
		panic(xerrors.New("schedule job is required"))
	}
	if interval <= 0 {
		panic(xerrors.New("schedule interval must be positive"))
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{name: name, interval: interval, job: job, clk: clk, logger: logger, metrics: metrics}
}

// Name returns the loop name.
func (r *Runner) Name() string { return r.name }

// Run executes the job once immediately, then every interval, until ctx
// is done. Job errors are logged and never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info(ctx, "loop started", "loop", r.name, "interval", r.interval.String())
	defer r.logger.Info(ctx, "loop stopped", "loop", r.name)

	ticker := r.clk.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes a single cycle and returns its error after logging it.
func (r *Runner) RunOnce(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	cycleID := ulid.Make().String()
	L := r.logger.With("loop", r.name, "cycle_id", cycleID)

	cctx := context.WithValue(context.WithoutCancel(ctx), stopKey{}, ctx.Done())
	cctx = log.WithContext(cctx, L)

	start := r.clk.Now()
	err := r.job(cctx)
	dur := r.clk.Now().Sub(start)
	r.metrics.observe(r.name, err, dur)

	if err != nil {
		L.Error(cctx, err, "loop cycle failed", "duration", dur.Seconds())
	}
	return err
}
