package client

import (
	"context"
	"fmt"

	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/wire"
)

// Param is one bound parameter for a statement, constructed with
// Named or Positional rather than built by hand so callers never touch
// the wire-level bind_kind/param_type tags directly.
type Param struct {
	byName bool
	name   string
	index  uint32
	value  sqlengine.Value
}

// Named binds v to the ":name" placeholder in a statement.
func Named(name string, v any) (Param, error) {
	val, err := toValue(v)
	if err != nil {
		return Param{}, err
	}
	return Param{byName: true, name: name, value: val}, nil
}

// Positional binds v to the 1-based index-th placeholder in a
// statement.
func Positional(index int, v any) (Param, error) {
	val, err := toValue(v)
	if err != nil {
		return Param{}, err
	}
	return Param{byName: false, index: uint32(index), value: val}, nil
}

func toValue(v any) (sqlengine.Value, error) {
	switch t := v.(type) {
	case nil:
		return sqlengine.Value{Kind: sqlengine.KindNull}, nil
	case int:
		return sqlengine.Value{Kind: sqlengine.KindInt, Int: int64(t)}, nil
	case int64:
		return sqlengine.Value{Kind: sqlengine.KindInt, Int: t}, nil
	case float64:
		return sqlengine.Value{Kind: sqlengine.KindFloat, Flt: t}, nil
	case string:
		return sqlengine.Value{Kind: sqlengine.KindText, Text: t}, nil
	case []byte:
		return sqlengine.Value{Kind: sqlengine.KindBlob, Blob: t}, nil
	default:
		return sqlengine.Value{}, fmt.Errorf("client: unsupported parameter type %T", v)
	}
}

func (p Param) wireParam() wire.Param {
	if p.byName {
		return wire.Param{Bind: wire.BindName, Name: p.name, Value: p.value}
	}
	return wire.Param{Bind: wire.BindIndex, Index: p.index, Value: p.value}
}

// Result is one operation's outcome: rows affected (for a write) plus
// any returned rows (for a query).
type Result struct {
	Changes   int32
	LastRowID int64
	Columns   []string
	Rows      [][]any
}

func fromOpResult(r wire.OpResult) Result {
	rows := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		vals := make([]any, len(row))
		for j, v := range row {
			vals[j] = fromValue(v)
		}
		rows[i] = vals
	}
	return Result{
		Changes:   r.Changes,
		LastRowID: r.LastRowID,
		Columns:   r.Columns,
		Rows:      rows,
	}
}

func fromValue(v sqlengine.Value) any {
	switch v.Kind {
	case sqlengine.KindInt:
		return v.Int
	case sqlengine.KindFloat:
		return v.Flt
	case sqlengine.KindText:
		return v.Text
	case sqlengine.KindBlob:
		return v.Blob
	default:
		return nil
	}
}

func opWithParams(op wire.Op, params []Param) wire.Op {
	if len(params) == 0 {
		return op
	}
	op.Params = make([]wire.Param, len(params))
	for i, p := range params {
		op.Params[i] = p.wireParam()
	}
	return op
}

// Exec runs sql as a write operation and returns its outcome once the
// entry has committed and been applied (spec.md §4.9 ordering
// guarantee (3)).
func (c *Client) Exec(ctx context.Context, sql string, params ...Param) (Result, error) {
	results, err := c.execBatch(ctx, false, wire.Batch{
		Ops: []wire.Op{opWithParams(wire.Op{Kind: wire.OpStmt, SQL: sql}, params)},
	})
	if err != nil {
		return Result{}, err
	}
	return oneResult(results)
}

// Query runs sql as a readonly operation via the read-index protocol
// (spec.md §4 "Readonly client requests"), observing every write
// committed before the call was made without appending to the log.
func (c *Client) Query(ctx context.Context, sql string, params ...Param) (Result, error) {
	results, err := c.execBatch(ctx, true, wire.Batch{
		Ops: []wire.Op{opWithParams(wire.Op{Kind: wire.OpStmt, SQL: sql}, params)},
	})
	if err != nil {
		return Result{}, err
	}
	return oneResult(results)
}

// ExecBatch runs several statements as a single atomic CLIENT_REQ,
// returning one Result per operation in order.
func (c *Client) ExecBatch(ctx context.Context, readonly bool, ops []wire.Op) ([]Result, error) {
	results, err := c.execBatch(ctx, readonly, wire.Batch{Ops: ops})
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(results))
	for i, r := range results {
		out[i] = fromOpResult(r)
	}
	return out, nil
}

func oneResult(results []wire.OpResult) (Result, error) {
	if len(results) == 0 {
		return Result{}, fmt.Errorf("client: server returned no result for a single-operation batch")
	}
	return fromOpResult(results[0]), nil
}

// Stmt is a prepared statement: sql is registered once on the leader
// (surviving snapshots, per spec.md §4 "Session") and referenced by id
// on every subsequent execution, avoiding re-parsing and letting the
// applier content-address identical statement text across sessions.
type Stmt struct {
	c  *Client
	id uint64
}

// Prepare registers sql and returns a handle reusable across calls,
// including after a reconnect (the id is stable: a log index, per
// spec.md §4 "Statements maps a prepared-statement id ... to its
// source SQL text").
func (c *Client) Prepare(ctx context.Context, sql string) (*Stmt, error) {
	results, err := c.execBatch(ctx, false, wire.Batch{
		Ops: []wire.Op{{Kind: wire.OpStmtPrepare, SQL: sql}},
	})
	if err != nil {
		return nil, err
	}
	r, err := oneResult(results)
	if err != nil {
		return nil, err
	}
	return &Stmt{c: c, id: uint64(r.LastRowID)}, nil
}

// Exec runs the prepared statement with params bound by index or name.
func (s *Stmt) Exec(ctx context.Context, params ...Param) (Result, error) {
	results, err := s.c.execBatch(ctx, false, wire.Batch{
		Ops: []wire.Op{opWithParams(wire.Op{Kind: wire.OpStmtID, StmtID: s.id}, params)},
	})
	if err != nil {
		return Result{}, err
	}
	return oneResult(results)
}

// Close deletes the server-side prepared-statement registration.
func (s *Stmt) Close(ctx context.Context) error {
	_, err := s.c.execBatch(ctx, false, wire.Batch{
		Ops: []wire.Op{{Kind: wire.OpStmtDelPrepared, StmtID: s.id}},
	})
	return err
}
