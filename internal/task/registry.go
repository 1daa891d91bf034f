package task

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/dupwatch/internal/clock"
)

// Registry is a read-through cache of tasks keyed by owner, plus an index
// of active tasks by conversation for the ingest path. It never holds
// authoritative state: every entry is loaded from the Store and dropped by
// Invalidate, which the Service calls after each mutation.
//
// maxAge bounds how long an entry may be served when the mutation
// happened in another process that cannot call Invalidate here.
type Registry struct {
	store  Store
	clock  clock.Clock
	maxAge time.Duration

	mu     sync.Mutex
	gen    uint64
	owners map[string]ownerEntry
	active *activeEntry
}

type ownerEntry struct {
	tasks    []*Task
	loadedAt time.Time
}

type activeEntry struct {
	byConversation map[string][]*Task
	loadedAt       time.Time
}

// NewRegistry creates a Registry. A maxAge of zero disables expiry.
func NewRegistry(store Store, clk clock.Clock, maxAge time.Duration) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	return &Registry{
		store:  store,
		clock:  clk,
		maxAge: maxAge,
		owners: make(map[string]ownerEntry),
	}
}

// ForOwner returns copies of all tasks owned by ownerID.
func (r *Registry) ForOwner(ctx context.Context, ownerID string) ([]*Task, error) {
	r.mu.Lock()
	e, ok := r.owners[ownerID]
	gen := r.gen
	r.mu.Unlock()
	if ok && r.fresh(e.loadedAt) {
		return cloneAll(e.tasks), nil
	}

	tasks, err := r.store.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.owners[ownerID] = ownerEntry{tasks: tasks, loadedAt: r.clock.Now()}
	}
	r.mu.Unlock()
	return cloneAll(tasks), nil
}

// Watching returns copies of the active tasks that monitor conversationID.
func (r *Registry) Watching(ctx context.Context, conversationID string) ([]*Task, error) {
	r.mu.Lock()
	e := r.active
	gen := r.gen
	r.mu.Unlock()
	if e != nil && r.fresh(e.loadedAt) {
		return cloneAll(e.byConversation[conversationID]), nil
	}

	tasks, err := r.store.ListActiveTasks(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string][]*Task)
	for _, t := range tasks {
		for _, c := range t.ConversationIDs {
			idx[c] = append(idx[c], t)
		}
	}

	r.mu.Lock()
	if r.gen == gen {
		r.active = &activeEntry{byConversation: idx, loadedAt: r.clock.Now()}
	}
	r.mu.Unlock()
	return cloneAll(idx[conversationID]), nil
}

// Invalidate drops the cached tasks of ownerID and the active index.
// Loads that started before the call are not cached when they finish.
func (r *Registry) Invalidate(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	delete(r.owners, ownerID)
	r.active = nil
}

func (r *Registry) fresh(loadedAt time.Time) bool {
	return r.maxAge <= 0 || r.clock.Now().Sub(loadedAt) < r.maxAge
}

func cloneAll(tasks []*Task) []*Task {
	out := make([]*Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
