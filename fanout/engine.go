// Package fanout implements the execution fan-out engine: given N
// StatementUnits bound to possibly-distinct data sources, it runs the
// first synchronously on the caller's goroutine and the rest on a worker
// pool, collects results in input order, serializes units that share a
// physical connection, and publishes lifecycle events around each unit
// and the call as a whole (spec.md §4.5).
package fanout

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mevdschee/shardexec/events"
	"github.com/mevdschee/shardexec/fanerr"
)

// drainTimeout bounds how long Close waits for in-flight units before
// logging and returning anyway; workers are daemon-like and simply get
// abandoned, mirroring writebatch.Manager's best-effort shutdown.
const drainTimeout = 5 * time.Second

// Engine runs StatementUnits across a worker pool. The zero value is not
// usable; construct with NewEngine.
type Engine struct {
	pool   *workerPool
	sink   events.Sink
	closed atomic.Bool
	wg     sync.WaitGroup

	connLocksMu sync.Mutex
	connLocks   map[any]*sync.Mutex
}

// NewEngine returns an Engine backed by a worker pool sized executorSize.
// executorSize == 0 requests an unbounded pool (one goroutine per
// dispatched unit, spec.md §4.5's default recommendation for a proxy that
// doesn't want to hand-tune a fixed size); executorSize > 0 requests a
// fixed pool of that many workers draining an unbounded FIFO queue. sink
// receives every lifecycle event; pass events.NoopSink{} to discard them.
func NewEngine(executorSize int, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.NoopSink{}
	}
	return &Engine{
		pool:      newWorkerPool(executorSize),
		sink:      sink,
		connLocks: make(map[any]*sync.Mutex),
	}
}

// Close shuts the engine down: it stops accepting new dispatch and waits
// up to drainTimeout for in-flight units to finish before giving up.
// Close is idempotent and safe to call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.pool.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		log.Printf("[fanout] Close: %s elapsed, abandoning in-flight units", drainTimeout)
		return fmt.Errorf("fanout: close timed out after %s with units still in flight", drainTimeout)
	}
}

func (e *Engine) connLock(handle any) *sync.Mutex {
	e.connLocksMu.Lock()
	defer e.connLocksMu.Unlock()
	mu, ok := e.connLocks[handle]
	if !ok {
		mu = &sync.Mutex{}
		e.connLocks[handle] = mu
	}
	return mu
}

// outcome carries one unit's result back from the pool to Execute's
// collection loop, tagged with its original index so results can be
// reassembled in input order regardless of completion order.
type outcome[T any] struct {
	index    int
	result   T
	report   error
	original error
}

// Execute runs units against callback, unit 0 synchronously on the
// caller's goroutine and the remainder on the engine's pool, and returns
// their results in the same order as units. sqlType selects which
// per-unit event variant (UnitDQL/UnitDML) is published.
//
// ec.ThrowOnError controls failure behavior (spec.md §7): true (the
// default) re-raises an error from Execute. A failure of the synchronous
// leg is returned at once, without waiting on the async units, whose
// results are discarded; otherwise Execute waits for every async unit and
// returns the error of the lowest-index unit that failed. false swallows
// per-unit failures, leaving a zero-value T at the failed index, and
// Execute returns a full-length result slice with a nil error. Either
// way, an Overall FAILURE event is published whenever any unit failed,
// even if the failure was swallowed.
func Execute[T any](e *Engine, ec events.ExecutionContext, sqlType events.SqlType, units []Unit, callback ExecuteCallback[T]) ([]T, error) {
	if len(units) == 0 {
		return nil, nil
	}
	if e.closed.Load() {
		return nil, &fanerr.ExecutionError{Op: "execute", Err: fmt.Errorf("fanout: engine is closed")}
	}
	ec = ec.Snapshot()

	e.sink.Publish(events.Event{Kind: events.Overall, Phase: events.Before, SqlType: sqlType, UnitCount: len(units)})

	results := make([]T, len(units))
	originalErrs := make([]error, len(units))
	asyncCh := make(chan outcome[T], len(units)-1)

	for i := 1; i < len(units); i++ {
		i := i
		unit := units[i]
		e.wg.Add(1)
		e.pool.Submit(func() {
			defer e.wg.Done()
			res, report, original := executeInternal(e, ec, sqlType, unit, callback)
			asyncCh <- outcome[T]{index: i, result: res, report: report, original: original}
		})
	}

	res0, report0, original0 := executeInternal(e, ec, sqlType, units[0], callback)
	results[0] = res0
	originalErrs[0] = original0

	if report0 != nil {
		go func() {
			for i := 1; i < len(units); i++ {
				<-asyncCh
			}
		}()
		e.sink.Publish(events.Event{Kind: events.Overall, Phase: events.Failure, SqlType: sqlType, Err: report0, UnitCount: len(units)})
		return nil, report0
	}

	pending := make(map[int]outcome[T], len(units)-1)
	for received := 0; received < len(units)-1; received++ {
		out := <-asyncCh
		pending[out.index] = out
	}
	for i := 1; i < len(units); i++ {
		out := pending[i]
		originalErrs[i] = out.original
		if out.report != nil {
			e.sink.Publish(events.Event{Kind: events.Overall, Phase: events.Failure, SqlType: sqlType, Err: out.report, UnitCount: len(units)})
			return nil, out.report
		}
		results[i] = out.result
	}

	if err := events.FirstError(originalErrs); err != nil {
		e.sink.Publish(events.Event{Kind: events.Overall, Phase: events.Failure, SqlType: sqlType, Err: err, UnitCount: len(units)})
		return results, nil
	}

	e.sink.Publish(events.Event{Kind: events.Overall, Phase: events.Success, SqlType: sqlType, UnitCount: len(units)})
	return results, nil
}

// executeInternal is the single code path shared by the synchronous leg
// and every async dispatch. It publishes a BEFORE/SUCCESS/FAILURE event
// per parameter set bound on unit, holds the unit's connection lock for
// the duration of the callback invocation, and applies ec.ThrowOnError to
// decide whether a callback failure is reported to the caller (the first
// return value) or swallowed. original is always the callback's
// unswallowed error (nil on success), used for Overall event bookkeeping
// regardless of the flag.
func executeInternal[T any](e *Engine, ec events.ExecutionContext, sqlType events.SqlType, unit Unit, callback ExecuteCallback[T]) (result T, report error, original error) {
	eventKind := events.UnitDML
	if sqlType == events.DQL {
		eventKind = events.UnitDQL
	}

	paramSets := unit.Params
	if len(paramSets) == 0 {
		paramSets = [][]any{nil}
	}

	for _, params := range paramSets {
		e.sink.Publish(events.Event{
			Kind: eventKind, SqlType: sqlType, Phase: events.Before,
			DataSourceID: unit.DataSourceID, SqlUnit: unit.SQL, Params: params,
		})
	}

	lock := e.connLock(unit.Handle)
	lock.Lock()
	result, original = callback(unit)
	lock.Unlock()

	phase := events.Success
	if original != nil {
		phase = events.Failure
	}
	for _, params := range paramSets {
		e.sink.Publish(events.Event{
			Kind: eventKind, SqlType: sqlType, Phase: phase,
			DataSourceID: unit.DataSourceID, SqlUnit: unit.SQL, Params: params,
			Err: events.AsSqlError(original),
		})
	}

	if original != nil {
		if ec.ThrowOnError {
			return result, original, original
		}
		var zero T
		return zero, nil, original
	}
	return result, nil, nil
}
