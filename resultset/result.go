// Package resultset implements the per-connection query result assembler:
// a non-concurrent accumulator that turns a sequence of backend packets
// (OK | ERR | column-count + column defs + EOF + rows + EOF) into one
// logical Result. It is owned by exactly one backend connection's read
// path and must never be shared across goroutines.
package resultset

import "fmt"

// Phase is the assembler's state, mirroring spec.md's QueryResult.phase.
type Phase int

const (
	// AwaitFirst is the initial phase: the next packet is OK, ERR, or a
	// column-count header.
	AwaitFirst Phase = iota
	// Columns is entered on a column-count header; exactly ColumnCount
	// column definitions precede the EOF that advances to Rows.
	Columns
	// Rows is entered once all column definitions plus their EOF have
	// been consumed; arbitrary row packets precede a terminal EOF.
	Rows
	// Done is terminal: either a generic OK/ERR, or the rows-EOF was fed.
	Done
)

func (p Phase) String() string {
	switch p {
	case AwaitFirst:
		return "AWAIT_FIRST"
	case Columns:
		return "COLUMNS"
	case Rows:
		return "ROWS"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Generic carries the semantics of an OK or ERR packet: a terminal result
// with no row data.
type Generic struct {
	IsError      bool
	AffectedRows uint64
	LastInsertID uint64
	ErrorCode    uint16
	ErrorMessage string
}

// ColumnDefinition is one column's metadata, as decoded from a column
// definition packet.
type ColumnDefinition struct {
	Name    string
	Type    byte
	Charset uint16
	Flags   uint16
}

// Row is one text-protocol row: one length-encoded (or NULL) string per
// column, in column order.
type Row []string

// Result is the mutable per-request accumulator described in spec.md §3.
// It is not safe for concurrent use; the owning connection's single I/O
// goroutine is the only writer, and per DESIGN.md the same goroutine is
// also the first reader (the future is handed a pointer to this Result,
// not a copy, and it keeps growing until rows-EOF — see the "streamable
// result" decision in SPEC_FULL.md §9).
type Result struct {
	phase Phase

	generic *Generic

	columnCount int
	columns     []ColumnDefinition

	rows []Row
}

// New returns a fresh assembler in AwaitFirst.
func New() *Result {
	return &Result{phase: AwaitFirst}
}

// Phase returns the current state.
func (r *Result) Phase() Phase {
	return r.phase
}

// Generic returns the OK/ERR semantics, or nil if this result is a
// result-set (columns were fed instead).
func (r *Result) Generic() *Generic {
	return r.generic
}

// Columns returns the column definitions seen so far.
func (r *Result) Columns() []ColumnDefinition {
	return r.columns
}

// ColumnCount returns the declared column count (0 before FeedColumnCount).
func (r *Result) ColumnCount() int {
	return r.columnCount
}

// Rows returns the rows accumulated so far. Safe to call while the
// assembler is still in Rows phase if the caller is the connection's own
// goroutine (the streaming contract described above); any other caller
// must wait for Done.
func (r *Result) Rows() []Row {
	return r.rows
}

// columnsFinished reports whether exactly ColumnCount column definitions
// have been received.
func (r *Result) columnsFinished() bool {
	return len(r.columns) == r.columnCount
}

// NeedColumnDefinition reports whether the assembler is awaiting further
// column definitions (testable property 4: true iff phase==Columns and
// received < declared).
func (r *Result) NeedColumnDefinition() bool {
	return r.phase == Columns && len(r.columns) < r.columnCount
}

// FeedGeneric records an OK or ERR packet's semantics and completes the
// result: phase := Done.
func (r *Result) FeedGeneric(g Generic) error {
	if r.phase != AwaitFirst {
		return fmt.Errorf("resultset: FeedGeneric in phase %s, want %s", r.phase, AwaitFirst)
	}
	r.generic = &g
	r.phase = Done
	return nil
}

// FeedColumnCount records the declared column count and transitions
// AwaitFirst -> Columns. n must be > 0.
func (r *Result) FeedColumnCount(n int) error {
	if r.phase != AwaitFirst {
		return fmt.Errorf("resultset: FeedColumnCount in phase %s, want %s", r.phase, AwaitFirst)
	}
	if n <= 0 {
		return fmt.Errorf("resultset: FeedColumnCount requires n > 0, got %d", n)
	}
	r.columnCount = n
	r.columns = make([]ColumnDefinition, 0, n)
	r.phase = Columns
	return nil
}

// FeedColumnDefinition appends one column definition. Fails if the
// assembler isn't in Columns phase, or if the column vector is already
// full (the terminal EOF must come next in that case).
func (r *Result) FeedColumnDefinition(def ColumnDefinition) error {
	if r.phase != Columns {
		return fmt.Errorf("resultset: FeedColumnDefinition in phase %s, want %s", r.phase, Columns)
	}
	if r.columnsFinished() {
		return fmt.Errorf("resultset: FeedColumnDefinition called with all %d columns already received", r.columnCount)
	}
	r.columns = append(r.columns, def)
	return nil
}

// FeedColumnsEOF requires that all declared columns have been received,
// and transitions Columns -> Rows.
func (r *Result) FeedColumnsEOF() error {
	if r.phase != Columns {
		return fmt.Errorf("resultset: FeedColumnsEOF in phase %s, want %s", r.phase, Columns)
	}
	if !r.columnsFinished() {
		return fmt.Errorf("resultset: FeedColumnsEOF with %d/%d columns received", len(r.columns), r.columnCount)
	}
	r.phase = Rows
	return nil
}

// FeedRow appends a row. Fails if the assembler isn't in Rows phase.
func (r *Result) FeedRow(row Row) error {
	if r.phase != Rows {
		return fmt.Errorf("resultset: FeedRow in phase %s, want %s", r.phase, Rows)
	}
	r.rows = append(r.rows, row)
	return nil
}

// FeedRowsEOF transitions Rows -> Done.
func (r *Result) FeedRowsEOF() error {
	if r.phase != Rows {
		return fmt.Errorf("resultset: FeedRowsEOF in phase %s, want %s", r.phase, Rows)
	}
	r.phase = Done
	return nil
}
