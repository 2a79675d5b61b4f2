// Package ctxlock provides locking abstractions based on context cancellation.
//
// Locks must be consistent cluster-wide to be useful: every dogmad instance
// writing to a repository must serialize through the same lock. The
// Postgres-backed [Locker] does that using advisory locks; [Local] is a
// process-local stand-in for single-instance deployments and tests.
package ctxlock

import "context"

// ContextLock abstracts over how repository-serializing locks are obtained.
//
// Lock and TryLock take an exclusive lock keyed by name and return a Context
// that is canceled if the parent Context is canceled, or if the lock is lost
// for some other reason (connection drop, in the Postgres-backed case).
type ContextLock interface {
	// Lock waits to acquire the named lock. The returned Context may be
	// canceled if the implementation loses confidence the lock is still
	// held.
	Lock(ctx context.Context, key string) (context.Context, context.CancelFunc)
	// TryLock returns an already-canceled Context if acquiring the lock
	// would require waiting.
	TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc)
}
