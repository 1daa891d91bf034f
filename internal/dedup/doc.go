// Package dedup decides whether a message duplicates one seen earlier in
// the same task and conversation inside the task's window. Uniqueness is
// decided by the Store's atomic insert-or-conflict primitive, never by a
// read followed by a write.
package dedup
