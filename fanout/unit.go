package fanout

// Unit is an immutable descriptor of one physical execution: the target
// data source identity, an opaque prepared-statement/connection handle,
// and the parameter sets to bind (spec.md §3's StatementUnit). The
// connection handle must stay valid for the lifetime of the unit's
// execution; Handle must be comparable, since the engine uses it to key
// per-connection mutual exclusion (spec.md §4.5, §5).
type Unit struct {
	DataSourceID string
	SQL          string
	Handle       any
	Params       [][]any
}

// ExecuteCallback is the caller-supplied strategy that, given a Unit,
// produces a T (typically a row cursor or update count). It is the only
// component that touches the underlying database API (spec.md §3).
type ExecuteCallback[T any] func(unit Unit) (T, error)
