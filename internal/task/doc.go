// Package task manages monitor tasks: the per-owner configurations that
// select which conversations are watched and how duplicates are detected.
// It defines the domain model, the Store interface, a read-through
// Registry keyed by owner, and the Service used by operator surfaces.
package task
