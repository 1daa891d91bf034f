package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/dupwatch/internal/clock"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

const (
	defaultPruneEvery = time.Minute
	pruneTimeout      = 30 * time.Second
)

// ErrEmptyText is returned for messages with nothing left after reduction.
var ErrEmptyText = errors.New("message text is empty")

// Verdict kinds reported to hooks.
const (
	VerdictUnique     = "unique"
	VerdictDuplicate  = "duplicate"
	VerdictRedelivery = "redelivery"
)

// Input is one message to evaluate.
type Input struct {
	ConversationID string
	MessageID      string
	Text           string
	SenderID       string
	SenderName     string
	ObservedAt     time.Time
}

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Duplicate bool

	// Redelivery is set when the held record is this very message, which
	// happens when the feed re-sends an event. It is never a duplicate.
	Redelivery bool

	OriginalMessageID string
	Digest            string
	Text              string
}

// Kind returns the verdict label used in logs and metrics.
func (v *Verdict) Kind() string {
	switch {
	case v.Duplicate:
		return VerdictDuplicate
	case v.Redelivery:
		return VerdictRedelivery
	default:
		return VerdictUnique
	}
}

// Hooks receives engine events, typically wired to Metrics.
type Hooks struct {
	OnVerdict func(kind string)
	OnPrune   func(deleted int64, err error)
}

// Engine evaluates messages against the message Store. It is safe for
// concurrent use and keeps no authoritative state: the only memory it
// holds is when each task was last pruned, which only throttles cleanup.
type Engine struct {
	store      Store
	clock      clock.Clock
	logger     log.Logger
	hooks      Hooks
	pruneEvery time.Duration

	mu        sync.Mutex
	lastPrune map[int64]time.Time
	pruning   map[int64]bool
	wg        sync.WaitGroup
}

// NewEngine creates an Engine. pruneEvery throttles the amortized cleanup
// per task; zero selects one minute.
func NewEngine(store Store, clk clock.Clock, logger log.Logger, hooks Hooks, pruneEvery time.Duration) *Engine {
	if store == nil {
		panic(xerrors.New("dedup store is required"))
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = log.Nop()
	}
	if pruneEvery <= 0 {
		pruneEvery = defaultPruneEvery
	}
	return &Engine{
		store:      store,
		clock:      clk,
		logger:     logger,
		hooks:      hooks,
		pruneEvery: pruneEvery,
		lastPrune:  make(map[int64]time.Time),
		pruning:    make(map[int64]bool),
	}
}

// Evaluate decides whether in duplicates a message already held for the
// task and conversation within the task's window, recording it when it
// does not. Only the caller whose insert lands sees Duplicate=false, and
// only a record observed strictly before the input counts against it.
func (e *Engine) Evaluate(ctx context.Context, t *task.Task, in Input) (*Verdict, error) {
	text := Reduce(t.Method, in.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	now := in.ObservedAt
	if now.IsZero() {
		now = e.clock.Now()
	}
	now = now.UTC()

	v := &Verdict{Digest: Digest(text), Text: text}
	rec := &Record{
		TaskID:         t.ID,
		ConversationID: in.ConversationID,
		MessageID:      in.MessageID,
		Digest:         v.Digest,
		Text:           text,
		SenderID:       in.SenderID,
		SenderName:     in.SenderName,
		ObservedAt:     now,
	}

	original, inserted, err := e.store.InsertMessage(ctx, rec, now.Add(-t.Window()))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	switch {
	case inserted:
	case original.MessageID == in.MessageID:
		v.Redelivery = true
	case !original.ObservedAt.Before(now):
		// only records strictly before now count as earlier occurrences
	default:
		v.Duplicate = true
		v.OriginalMessageID = original.MessageID
	}

	if e.hooks.OnVerdict != nil {
		e.hooks.OnVerdict(v.Kind())
	}
	e.schedulePrune(ctx, t)
	return v, nil
}

// Prune deletes the task's records observed more than twice its window
// before now.
func (e *Engine) Prune(ctx context.Context, t *task.Task, now time.Time) (int64, error) {
	n, err := e.store.PruneMessages(ctx, t.ID, now.UTC().Add(-2*t.Window()))
	if e.hooks.OnPrune != nil {
		e.hooks.OnPrune(n, err)
	}
	if err != nil {
		return 0, fmt.Errorf("prune task %d: %w", t.ID, err)
	}
	return n, nil
}

// PruneAll prunes every task in tasks, continuing past failures.
func (e *Engine) PruneAll(ctx context.Context, tasks []*task.Task) (int64, error) {
	var total int64
	var errs []error
	now := e.clock.Now()
	for _, t := range tasks {
		n, err := e.Prune(ctx, t, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
		e.markPruned(t.ID, now)
	}
	return total, errors.Join(errs...)
}

// Wait blocks until background prunes started by Evaluate have finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// schedulePrune starts a background prune for the task unless one ran
// within pruneEvery or is still running.
func (e *Engine) schedulePrune(ctx context.Context, t *task.Task) {
	now := e.clock.Now()

	e.mu.Lock()
	if e.pruning[t.ID] || now.Sub(e.lastPrune[t.ID]) < e.pruneEvery {
		e.mu.Unlock()
		return
	}
	e.pruning[t.ID] = true
	e.mu.Unlock()

	tk := t.Clone()
	pctx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		cctx, cancel := context.WithTimeout(pctx, pruneTimeout)
		defer cancel()

		n, err := e.Prune(cctx, tk, now)

		e.mu.Lock()
		delete(e.pruning, tk.ID)
		if err == nil {
			e.lastPrune[tk.ID] = now
		}
		e.mu.Unlock()

		if err != nil {
			e.logger.Error(pctx, err, "prune failed", "task_id", tk.ID)
			return
		}
		if n > 0 {
			e.logger.Info(pctx, "pruned message history", "task_id", tk.ID, "deleted", n)
		}
	}()
}

func (e *Engine) markPruned(taskID int64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastPrune[taskID] = at
}
