// Package sqlengine defines the collaborator contract spec.md §1
// treats as out of scope ("prepare/bind/step/finalize and file-based
// backup/restore"), plus a minimal in-memory reference implementation
// sufficient to exercise the applier and this repo's tests. A
// production deployment swaps Engine for a cgo-backed SQLite or
// similar; nothing above this package depends on the reference
// implementation's internals.
package sqlengine

import (
	"context"
	"fmt"
)

// Value is a single typed column value. Exactly one of the fields is
// meaningful, selected by Kind.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBlob
)

type Value struct {
	Kind Kind
	Int  int64
	Flt  float64
	Text string
	Blob []byte
}

// Row is one result row, positional per the prepared statement's
// column list.
type Row []Value

// Columns describes the shape of a result set.
type Columns []string

// Result is the outcome of stepping a statement to completion.
type Result struct {
	Changed    int64
	LastInsert int64
	Columns    Columns
	Rows       []Row
}

// Stmt is a single prepared statement bound to one Engine connection.
// Binding is by name (":name") or by 1-based index.
type Stmt interface {
	BindIndex(pos int, v Value) error
	BindName(name string, v Value) error
	Step(ctx context.Context) (Result, error)
	Reset()
	Finalize() error
	SQL() string
}

// Clock is the deterministic time source the applier installs before
// stepping any statement, so CURRENT_TIMESTAMP/datetime() resolve to
// the replicated realtime/monotonic clocks rather than the wall clock
// (spec.md §4.7's determinism requirement).
type Clock interface {
	Now() (realtime int64, monotonic int64)
}

// RNG is the deterministic source random()/randomblob(n) are routed
// through.
type RNG interface {
	Int63() int64
	Bytes(n int) []byte
}

// ConfigFunc is invoked for `SELECT resql(command, arg)` calls
// (spec.md §4.7's "Config function"). The applier installs one backed
// by applier.ConfigCallbacks before stepping any statement, the same
// way it installs Clock/RNG.
type ConfigFunc func(command, arg string) error

// Engine is one SQL-engine connection: prepare/bind/step/finalize plus
// file-based backup/restore, and a pluggable Clock/RNG/ConfigFunc used
// for deterministic replication and runtime reconfiguration.
type Engine interface {
	Prepare(sql string) (Stmt, error)
	Exec(ctx context.Context, sql string) error
	Begin() error
	Commit() error
	Rollback() error

	SetClock(Clock)
	SetRNG(RNG)
	SetConfigFunc(ConfigFunc)

	// Backup serializes the full database to path; Restore replaces
	// the current database wholesale from path.
	Backup(path string) error
	Restore(path string) error

	Close() error
}

// ErrNoRows is returned by Stmt.Step callers' Result.Rows being empty
// is not itself an error; this sentinel exists for engines that
// distinguish "no more rows" from "zero-row result" at the iterator
// level. The reference engine never returns it since Step always runs
// to completion and returns the full Result.
var ErrNoRows = fmt.Errorf("sqlengine: no rows")
