package applier

import (
	"github.com/resql/resql/pkg/buffer"
	"github.com/resql/resql/pkg/sqlengine"
)

// OpKind distinguishes the four statement operations a REQUEST batch
// may carry (spec.md §4.7 "Request application").
type OpKind uint8

const (
	OpStmt OpKind = iota
	OpStmtID
	OpStmtPrepare
	OpStmtDelPrepared
)

// ParamKind distinguishes name-bound from index-bound parameters.
type ParamKind uint8

const (
	ParamByIndex ParamKind = iota
	ParamByName
)

// Param is one bound parameter in an operation.
type Param struct {
	Kind  ParamKind
	Index int
	Name  string
	Value sqlengine.Value
}

// Op is one operation within a REQUEST batch.
type Op struct {
	Kind   OpKind
	SQL    string // OpStmt, OpStmtPrepare
	StmtID uint64 // OpStmtID, OpStmtDelPrepared
	Params []Param
}

// Batch is the decoded payload of a REQUEST entry: one or more
// operations executed in order within a single transaction.
type Batch struct {
	Ops []Op
}

func putValue(b *buffer.Buffer, v sqlengine.Value) {
	b.PutU8(uint8(v.Kind))
	switch v.Kind {
	case sqlengine.KindNull:
	case sqlengine.KindInt:
		b.PutU64(uint64(v.Int))
	case sqlengine.KindFloat:
		b.PutF64(v.Flt)
	case sqlengine.KindText:
		b.PutString(v.Text)
	case sqlengine.KindBlob:
		b.PutBlob(v.Blob)
	}
}

func getValue(b *buffer.Buffer) sqlengine.Value {
	kind := sqlengine.Kind(b.GetU8())
	switch kind {
	case sqlengine.KindInt:
		return sqlengine.Value{Kind: kind, Int: int64(b.GetU64())}
	case sqlengine.KindFloat:
		return sqlengine.Value{Kind: kind, Flt: b.GetF64()}
	case sqlengine.KindText:
		text, _ := b.GetString()
		return sqlengine.Value{Kind: kind, Text: text}
	case sqlengine.KindBlob:
		return sqlengine.Value{Kind: kind, Blob: b.GetBlob()}
	default:
		return sqlengine.Value{Kind: sqlengine.KindNull}
	}
}

// EncodeBatch serializes a Batch to its wire/log payload form.
func EncodeBatch(batch Batch) []byte {
	b := buffer.New(256)
	b.PutU32(uint32(len(batch.Ops)))
	for _, op := range batch.Ops {
		b.PutU8(uint8(op.Kind))
		switch op.Kind {
		case OpStmt, OpStmtPrepare:
			b.PutString(op.SQL)
		case OpStmtID, OpStmtDelPrepared:
			b.PutU64(op.StmtID)
		}
		b.PutU32(uint32(len(op.Params)))
		for _, p := range op.Params {
			b.PutU8(uint8(p.Kind))
			if p.Kind == ParamByName {
				b.PutString(p.Name)
			} else {
				b.PutU32(uint32(p.Index))
			}
			putValue(b, p.Value)
		}
	}
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

// DecodeBatch parses a REQUEST entry payload into a Batch.
func DecodeBatch(payload []byte) (Batch, bool) {
	b := buffer.Wrap(payload)
	count := b.GetU32()
	ops := make([]Op, 0, count)
	for i := uint32(0); i < count; i++ {
		var op Op
		op.Kind = OpKind(b.GetU8())
		switch op.Kind {
		case OpStmt, OpStmtPrepare:
			op.SQL, _ = b.GetString()
		case OpStmtID, OpStmtDelPrepared:
			op.StmtID = b.GetU64()
		}
		paramCount := b.GetU32()
		op.Params = make([]Param, 0, paramCount)
		for j := uint32(0); j < paramCount; j++ {
			var p Param
			p.Kind = ParamKind(b.GetU8())
			if p.Kind == ParamByName {
				p.Name, _ = b.GetString()
			} else {
				p.Index = int(b.GetU32())
			}
			p.Value = getValue(b)
			op.Params = append(op.Params, p)
		}
		ops = append(ops, op)
	}
	if !b.Valid() {
		return Batch{}, false
	}
	return Batch{Ops: ops}, true
}

// ResponseOK/ResponseErr are the single-byte result flags prefixing a
// REQUEST response (spec.md §4.7).
const (
	ResponseOK  uint8 = 0
	ResponseErr uint8 = 1
)

// EncodeErrorResponse builds the single-flag-byte-plus-error-string
// response spec.md §4.7 specifies for a rolled-back transaction.
func EncodeErrorResponse(msg string) []byte {
	b := buffer.New(len(msg) + 8)
	b.PutU8(ResponseErr)
	b.PutString(msg)
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

// StmtResult is one operation's serialized outcome within a response.
type StmtResult struct {
	Changed    int64
	LastInsert int64
	Columns    []string
	Rows       []sqlengine.Row
}

// EncodeResponse serializes a successful batch's per-statement results:
// flag byte, then for each statement changed-count, last-insert-id, a
// row-block header (column count + names), and a row-count-prefixed
// sequence of typed column values, terminated implicitly by the
// encoded op count (MSG_END is the framing layer's concern, not this
// payload's).
func EncodeResponse(results []StmtResult) []byte {
	b := buffer.New(256)
	b.PutU8(ResponseOK)
	b.PutU32(uint32(len(results)))
	for _, r := range results {
		b.PutU64(uint64(r.Changed))
		b.PutU64(uint64(r.LastInsert))
		b.PutU32(uint32(len(r.Columns)))
		for _, c := range r.Columns {
			b.PutString(c)
		}
		b.PutU32(uint32(len(r.Rows)))
		for _, row := range r.Rows {
			for _, v := range row {
				putValue(b, v)
			}
		}
	}
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

// DecodeResponse reverses EncodeResponse, or reports the error string
// carried by an error response.
func DecodeResponse(payload []byte) (ok bool, results []StmtResult, errMsg string) {
	b := buffer.Wrap(payload)
	flag := b.GetU8()
	if flag == ResponseErr {
		msg, _ := b.GetString()
		return false, nil, msg
	}
	count := b.GetU32()
	results = make([]StmtResult, 0, count)
	for i := uint32(0); i < count; i++ {
		var r StmtResult
		r.Changed = int64(b.GetU64())
		r.LastInsert = int64(b.GetU64())
		colCount := b.GetU32()
		r.Columns = make([]string, colCount)
		for j := range r.Columns {
			r.Columns[j], _ = b.GetString()
		}
		rowCount := b.GetU32()
		r.Rows = make([]sqlengine.Row, rowCount)
		for j := range r.Rows {
			row := make(sqlengine.Row, colCount)
			for k := range row {
				row[k] = getValue(b)
			}
			r.Rows[j] = row
		}
		results = append(results, r)
	}
	return b.Valid(), results, ""
}
