// Package registry implements the two process-wide (or, per spec.md §9's
// recommendation, instance-scoped) mappings the backend protocol machine
// needs: channel identity -> backend ConnectionId, and ConnectionId -> the
// single outstanding ResponseFuture a caller is awaiting. Both are
// concurrent read-mostly maps with per-key atomic insert/remove.
package registry

import (
	"fmt"
	"sync"

	"github.com/mevdschee/shardexec/resultset"
)

// ConnectionID is the backend-assigned 32-bit identifier sent in the
// handshake packet.
type ConnectionID uint32

// Future is a single-producer/single-consumer slot carrying a
// *resultset.Result: created by the caller before sending the request,
// completed by the response state machine, consumed exactly once by the
// caller (spec.md §3).
type Future struct {
	ch   chan futureOutcome
	once sync.Once
}

type futureOutcome struct {
	result *resultset.Result
	err    error
}

// NewFuture returns an uncompleted future.
func NewFuture() *Future {
	return &Future{ch: make(chan futureOutcome, 1)}
}

// Complete resolves the future with a result. It is a caller bug to
// complete a future twice (testable property 3: a future completes exactly
// once); a second call is a no-op rather than a panic, so a racing
// fatal-disconnect path and a normal response can't bring the process down.
func (f *Future) Complete(result *resultset.Result) {
	f.once.Do(func() {
		f.ch <- futureOutcome{result: result}
	})
}

// Fail resolves the future with a connection-level error (spec.md §4.3.2:
// a malformed packet, sequence gap, or truncated frame completes any
// waiting future with a connection-level error).
func (f *Future) Fail(err error) {
	f.once.Do(func() {
		f.ch <- futureOutcome{err: err}
	})
}

// Await blocks the caller's goroutine until the future completes. This is
// the suspension point spec.md §5 allows (the response state machine
// itself never blocks; only the caller does).
func (f *Future) Await() (*resultset.Result, error) {
	out := <-f.ch
	return out.result, out.err
}

// ChannelRegistry maps a backend connection's local transport-channel
// identity (e.g. a net.Conn, keyed by a caller-chosen comparable token) to
// the ConnectionID the backend assigned at handshake.
type ChannelRegistry struct {
	m sync.Map // key: any (channel identity) -> ConnectionID
}

// NewChannelRegistry returns an empty registry.
func NewChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{}
}

// Set records the ConnectionID for a channel identity once, at handshake
// completion.
func (r *ChannelRegistry) Set(channel any, id ConnectionID) {
	r.m.Store(channel, id)
}

// Get looks up the ConnectionID for a channel identity.
func (r *ChannelRegistry) Get(channel any) (ConnectionID, bool) {
	v, ok := r.m.Load(channel)
	if !ok {
		return 0, false
	}
	return v.(ConnectionID), true
}

// Delete removes a channel's mapping, e.g. on disconnect.
func (r *ChannelRegistry) Delete(channel any) {
	r.m.Delete(channel)
}

// FutureRegistry maps a ConnectionID to the single outstanding Future a
// caller is awaiting. At most one in-flight future per ConnectionID;
// violating that is a caller bug and must fail loudly (spec.md §4.4).
type FutureRegistry struct {
	m sync.Map // key: ConnectionID -> *Future
}

// NewFutureRegistry returns an empty registry.
func NewFutureRegistry() *FutureRegistry {
	return &FutureRegistry{}
}

// Put registers fut as the one outstanding future for id. It returns an
// error if a future is already registered for id, since at most one may be
// in flight at a time.
func (r *FutureRegistry) Put(id ConnectionID, fut *Future) error {
	if _, loaded := r.m.LoadOrStore(id, fut); loaded {
		return fmt.Errorf("registry: connection %d already has an outstanding future", id)
	}
	return nil
}

// Take removes and returns the future registered for id, if any. The
// response state machine calls this at a response boundary to resolve and
// clear the slot atomically.
func (r *FutureRegistry) Take(id ConnectionID) (*Future, bool) {
	v, ok := r.m.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(*Future), true
}

// Peek returns the future registered for id without removing it, used by
// the streaming contract where a future is completed at columns-EOF but the
// slot is only cleared at rows-EOF.
func (r *FutureRegistry) Peek(id ConnectionID) (*Future, bool) {
	v, ok := r.m.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Future), true
}

// Clear removes id's future registration without resolving it.
func (r *FutureRegistry) Clear(id ConnectionID) {
	r.m.Delete(id)
}
