// Package store names the full persistence surface each backend
// implements. The backends live in subpackages: pgstore (PostgreSQL),
// sqlitestore (embedded SQLite) and memstore (single process, tests).
package store

import (
	"context"

	"github.com/linnemanlabs/dupwatch/internal/access"
	"github.com/linnemanlabs/dupwatch/internal/alert"
	"github.com/linnemanlabs/dupwatch/internal/dedup"
	"github.com/linnemanlabs/dupwatch/internal/task"
)

// Store is the union of the domain store interfaces. It is the only state
// shared by the ingest, notify and deliver loops.
type Store interface {
	task.Store
	dedup.Store
	alert.Store
	access.Store

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close()
}
