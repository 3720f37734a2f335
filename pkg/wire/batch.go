package wire

import (
	"fmt"

	"github.com/resql/resql/pkg/buffer"
	"github.com/resql/resql/pkg/sqlengine"
)

// Batch framing markers (spec.md §6 "Client request batch body").
const (
	markerOp       uint8 = 0x06
	markerOpEnd    uint8 = 0x07
	markerMsgEnd   uint8 = 0x09
	markerBindEnd  uint8 = 0x02
	markerOKFlag   uint8 = 0x00
	markerErrFlag  uint8 = 0x01
	markerRowFlag  uint8 = 0x08
)

// OpKind is one client-request batch operation kind.
type OpKind uint8

const (
	OpStmt            OpKind = 0x02
	OpStmtID          OpKind = 0x03
	OpStmtPrepare     OpKind = 0x04
	OpStmtDelPrepared OpKind = 0x05
)

// BindKind distinguishes name-bound from index-bound parameters.
type BindKind uint8

const (
	BindName  BindKind = 0x00
	BindIndex BindKind = 0x01
)

// ParamType tags a bound value's wire representation.
type ParamType uint8

const (
	ParamInt   ParamType = 0x00
	ParamFloat ParamType = 0x01
	ParamText  ParamType = 0x02
	ParamBlob  ParamType = 0x03
	ParamNull  ParamType = 0x04
)

// Param is one bound parameter.
type Param struct {
	Bind  BindKind
	Name  string
	Index uint32
	Value sqlengine.Value
}

// Op is one batch operation.
type Op struct {
	Kind   OpKind
	SQL    string // OpStmt, OpStmtPrepare
	StmtID uint64 // OpStmtID, OpStmtDelPrepared
	Params []Param
}

// Batch is the decoded client-request batch body.
type Batch struct {
	Ops []Op
}

func paramTypeOf(v sqlengine.Value) ParamType {
	switch v.Kind {
	case sqlengine.KindInt:
		return ParamInt
	case sqlengine.KindFloat:
		return ParamFloat
	case sqlengine.KindText:
		return ParamText
	case sqlengine.KindBlob:
		return ParamBlob
	default:
		return ParamNull
	}
}

func putParamValue(b *buffer.Buffer, v sqlengine.Value) {
	pt := paramTypeOf(v)
	b.PutU8(uint8(pt))
	switch pt {
	case ParamInt:
		b.PutU64(uint64(v.Int))
	case ParamFloat:
		b.PutF64(v.Flt)
	case ParamText:
		b.PutString(v.Text)
	case ParamBlob:
		b.PutBlob(v.Blob)
	}
}

func getParamValue(b *buffer.Buffer) sqlengine.Value {
	pt := ParamType(b.GetU8())
	switch pt {
	case ParamInt:
		return sqlengine.Value{Kind: sqlengine.KindInt, Int: int64(b.GetU64())}
	case ParamFloat:
		return sqlengine.Value{Kind: sqlengine.KindFloat, Flt: b.GetF64()}
	case ParamText:
		s, _ := b.GetString()
		return sqlengine.Value{Kind: sqlengine.KindText, Text: s}
	case ParamBlob:
		return sqlengine.Value{Kind: sqlengine.KindBlob, Blob: b.GetBlob()}
	default:
		return sqlengine.Value{Kind: sqlengine.KindNull}
	}
}

// EncodeBatch writes batch using the exact byte layout spec.md §6
// describes for a client request batch body.
func EncodeBatch(batch Batch) []byte {
	b := buffer.New(256)
	for _, op := range batch.Ops {
		b.PutU8(markerOp)
		b.PutU8(uint8(op.Kind))
		switch op.Kind {
		case OpStmt, OpStmtPrepare:
			b.PutString(op.SQL)
		case OpStmtID, OpStmtDelPrepared:
			b.PutU64(op.StmtID)
		}
		for _, p := range op.Params {
			b.PutU8(uint8(p.Bind))
			if p.Bind == BindName {
				b.PutString(p.Name)
			} else {
				b.PutU32(p.Index)
			}
			putParamValue(b, p.Value)
		}
		b.PutU8(markerBindEnd)
		b.PutU8(markerOpEnd)
	}
	b.PutU8(markerMsgEnd)
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

// DecodeBatch parses a client request batch body.
func DecodeBatch(payload []byte) (Batch, error) {
	b := buffer.Wrap(payload)
	var ops []Op
	for {
		marker := b.GetU8()
		if !b.Valid() {
			return Batch{}, fmt.Errorf("wire: truncated batch")
		}
		if marker == markerMsgEnd {
			break
		}
		if marker != markerOp {
			return Batch{}, fmt.Errorf("wire: expected op marker, got 0x%02x", marker)
		}
		var op Op
		op.Kind = OpKind(b.GetU8())
		switch op.Kind {
		case OpStmt, OpStmtPrepare:
			op.SQL, _ = b.GetString()
		case OpStmtID, OpStmtDelPrepared:
			op.StmtID = b.GetU64()
		default:
			return Batch{}, fmt.Errorf("wire: unknown op kind 0x%02x", op.Kind)
		}
		for {
			bindMarker := b.Peek(1)
			if len(bindMarker) == 1 && bindMarker[0] == markerBindEnd {
				b.Advance(1)
				break
			}
			var p Param
			p.Bind = BindKind(b.GetU8())
			if p.Bind == BindName {
				p.Name, _ = b.GetString()
			} else {
				p.Index = b.GetU32()
			}
			p.Value = getParamValue(b)
			op.Params = append(op.Params, p)
			if !b.Valid() {
				return Batch{}, fmt.Errorf("wire: truncated batch while reading params")
			}
		}
		opEnd := b.GetU8()
		if opEnd != markerOpEnd {
			return Batch{}, fmt.Errorf("wire: expected OP_END, got 0x%02x", opEnd)
		}
		ops = append(ops, op)
	}
	return Batch{Ops: ops}, nil
}

// Row is one result row.
type Row = sqlengine.Row

// OpResult is one operation's outcome within a response batch.
type OpResult struct {
	Changes    int32
	LastRowID  int64
	Columns    []string
	Rows       []Row
}

// EncodeResponse writes either an error response (`ERROR=0x01` + text
// + MSG_END) or a success response with one OpResult per batch
// operation, per spec.md §6 "Response batch body".
func EncodeResponse(results []OpResult, errMsg string) []byte {
	b := buffer.New(256)
	if errMsg != "" {
		b.PutU8(markerErrFlag)
		b.PutString(errMsg)
		b.PutU8(markerMsgEnd)
		out := make([]byte, b.Len())
		copy(out, b.Bytes())
		return out
	}
	b.PutU8(markerOKFlag)
	for _, r := range results {
		encodeOpResult(b, r)
	}
	b.PutU8(markerOpEnd)
	b.PutU8(markerMsgEnd)
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

func encodeOpResult(b *buffer.Buffer, r OpResult) {
	b.PutU8(1) // OP marker for a result entry
	inner := buffer.New(64)
	writeOpResultBody(inner, r)
	b.PutU32(uint32(inner.Len()))
	b.PutRaw(inner.Bytes())
}

func writeOpResultBody(b *buffer.Buffer, r OpResult) {
	b.PutU32(uint32(int32(r.Changes)))
	// i64 last_row_id
	b.PutU64(uint64(r.LastRowID))
	if r.Columns == nil {
		b.PutU8(0) // subflag: no row block
		return
	}
	b.PutU8(markerRowFlag)
	b.PutU32(uint32(len(r.Columns)))
	for _, c := range r.Columns {
		b.PutString(c)
	}
	b.PutU32(uint32(len(r.Rows)))
	for _, row := range r.Rows {
		for _, v := range row {
			putParamValue(b, v)
		}
	}
}

// DecodeResponse parses a response batch body.
func DecodeResponse(payload []byte) (ok bool, results []OpResult, errMsg string, err error) {
	b := buffer.Wrap(payload)
	flag := b.GetU8()
	if flag == markerErrFlag {
		msg, _ := b.GetString()
		return false, nil, msg, nil
	}
	if flag != markerOKFlag {
		return false, nil, "", fmt.Errorf("wire: unknown response flag 0x%02x", flag)
	}
	for {
		marker := b.Peek(1)
		if len(marker) == 1 && marker[0] == markerOpEnd {
			b.Advance(1)
			break
		}
		opMarker := b.GetU8()
		if opMarker != 1 {
			return false, nil, "", fmt.Errorf("wire: expected result op marker, got 0x%02x", opMarker)
		}
		resultLen := b.GetU32()
		body := b.GetRaw(int(resultLen))
		inner := buffer.Wrap(body)
		var r OpResult
		r.Changes = int32(inner.GetU32())
		r.LastRowID = int64(inner.GetU64())
		subflag := inner.GetU8()
		if subflag == markerRowFlag {
			colCount := inner.GetU32()
			r.Columns = make([]string, colCount)
			for i := range r.Columns {
				r.Columns[i], _ = inner.GetString()
			}
			rowCount := inner.GetU32()
			r.Rows = make([]Row, rowCount)
			for i := range r.Rows {
				row := make(Row, colCount)
				for j := range row {
					row[j] = getParamValue(inner)
				}
				r.Rows[i] = row
			}
		}
		results = append(results, r)
		if !b.Valid() {
			return false, nil, "", fmt.Errorf("wire: truncated response")
		}
	}
	msgEnd := b.GetU8()
	if msgEnd != markerMsgEnd {
		return false, nil, "", fmt.Errorf("wire: expected MSG_END, got 0x%02x", msgEnd)
	}
	return true, results, "", nil
}
