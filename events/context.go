package events

// ExecutionContext is the explicit value passed into a worker task in
// place of thread-local storage (spec.md §9): the caller's exception-throw
// flag and user data map, snapshotted at submit time so a worker never
// races the caller's goroutine over shared mutable state.
type ExecutionContext struct {
	// ThrowOnError controls whether executeInternal re-raises a callback
	// failure (true, the default) or swallows it and returns a nil
	// sentinel for that result index (false). Default true per spec.md §7.
	ThrowOnError bool

	// UserData is caller-scoped data propagated into the worker; the
	// engine never reads or writes it, it's pure carry-over for the
	// callback and event sink to consult.
	UserData map[string]any
}

// DefaultExecutionContext returns the spec-mandated default: errors are
// raised to the caller.
func DefaultExecutionContext() ExecutionContext {
	return ExecutionContext{ThrowOnError: true}
}

// Snapshot returns a shallow copy of ctx, safe to hand to a worker goroutine.
// UserData is not deep-copied: per spec.md the map is caller-scoped data the
// engine carries over, not data it owns or mutates.
func (ctx ExecutionContext) Snapshot() ExecutionContext {
	return ctx
}
