// Package alert defines the duplicate alert lifecycle: the closed Status
// enumeration, the forward-only transition rules, the Store interface each
// backend implements with single guarded statements, and the Queue that
// the polling loops and reply intake drive.
package alert
