// Package events implements the fan-out engine's publish-only event sink
// (spec.md §3/§6) and the execution context that's snapshotted at submit
// time and threaded into worker tasks instead of relying on goroutine-local
// state (spec.md §9's design note on thread-local carry-over).
package events

import "github.com/mevdschee/shardexec/fanerr"

// Kind distinguishes the three event variants spec.md enumerates.
type Kind int

const (
	// Overall is published once per execute() call, before dispatch and
	// again on the synchronous/aggregate outcome.
	Overall Kind = iota
	// UnitDQL is published per parameter set for a DQL statement unit.
	UnitDQL
	// UnitDML is published per parameter set for a DML statement unit.
	UnitDML
)

func (k Kind) String() string {
	switch k {
	case Overall:
		return "Overall"
	case UnitDQL:
		return "UnitDQL"
	case UnitDML:
		return "UnitDML"
	default:
		return "Unknown"
	}
}

// Phase is the execution phase an event reports.
type Phase int

const (
	Before Phase = iota
	Success
	Failure
)

func (p Phase) String() string {
	switch p {
	case Before:
		return "BEFORE"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// SqlType tags which event variant a statement unit should emit.
type SqlType int

const (
	DQL SqlType = iota
	DML
	DDL
	DCL
	TCL
)

func (s SqlType) String() string {
	switch s {
	case DQL:
		return "DQL"
	case DML:
		return "DML"
	case DDL:
		return "DDL"
	case DCL:
		return "DCL"
	case TCL:
		return "TCL"
	default:
		return "UNKNOWN"
	}
}

// Event is the single flat struct carrying every field any of the three
// event variants needs; unused fields are zero-valued, following the
// teacher's preference for flat structs (WriteResult, ParsedQuery) over an
// interface hierarchy.
type Event struct {
	Kind         Kind
	SqlType      SqlType
	DataSourceID string
	SqlUnit      string
	Params       []any
	Phase        Phase
	Err          error

	// UnitCount is populated on Overall events only.
	UnitCount int
}

// Sink is the publish-only interface subscribers implement; spec.md
// treats the bus as a global singleton but this repo injects it per
// spec.md §9's recommendation.
type Sink interface {
	Publish(Event)
}

// NoopSink discards every event. It's the fan-out engine's zero-value
// default so a caller that doesn't care about lifecycle events doesn't have
// to provide one.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}

// FirstError is a small helper Overall-event callers use to pick which
// error to attach when several units failed: spec.md §7 says "Overall
// events always carry the first error observed".
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// AsSqlError coerces err into a *fanerr.SqlError for attaching to a
// per-unit event, preserving it unchanged if it already is one.
func AsSqlError(err error) error {
	if err == nil {
		return nil
	}
	var se *fanerr.SqlError
	if ok := asSqlError(err, &se); ok {
		return se
	}
	return &fanerr.SqlError{Message: err.Error()}
}

func asSqlError(err error, target **fanerr.SqlError) bool {
	se, ok := err.(*fanerr.SqlError)
	if ok {
		*target = se
	}
	return ok
}
