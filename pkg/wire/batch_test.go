package wire

import (
	"testing"

	"github.com/resql/resql/pkg/sqlengine"
)

func TestBatchEncodeDecodeRoundTrip(t *testing.T) {
	batch := Batch{Ops: []Op{
		{
			Kind: OpStmt,
			SQL:  "INSERT INTO t (id, name) VALUES (?, ?)",
			Params: []Param{
				{Bind: BindIndex, Index: 1, Value: sqlengine.Value{Kind: sqlengine.KindInt, Int: 7}},
				{Bind: BindName, Name: "name", Value: sqlengine.Value{Kind: sqlengine.KindText, Text: "alice"}},
			},
		},
		{Kind: OpStmtID, StmtID: 42},
	}}

	encoded := EncodeBatch(batch)
	decoded, err := DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(decoded.Ops))
	}
	if decoded.Ops[0].SQL != batch.Ops[0].SQL {
		t.Fatalf("sql mismatch: %q", decoded.Ops[0].SQL)
	}
	if len(decoded.Ops[0].Params) != 2 {
		t.Fatalf("expected 2 params, got %d", len(decoded.Ops[0].Params))
	}
	if decoded.Ops[0].Params[0].Value.Int != 7 {
		t.Fatalf("param 0 value mismatch: %+v", decoded.Ops[0].Params[0])
	}
	if decoded.Ops[0].Params[1].Name != "name" || decoded.Ops[0].Params[1].Value.Text != "alice" {
		t.Fatalf("param 1 mismatch: %+v", decoded.Ops[0].Params[1])
	}
	if decoded.Ops[1].StmtID != 42 {
		t.Fatalf("expected stmt id 42, got %d", decoded.Ops[1].StmtID)
	}
}

func TestBatchDecodeRejectsTruncatedPayload(t *testing.T) {
	batch := Batch{Ops: []Op{{Kind: OpStmt, SQL: "SELECT 1"}}}
	encoded := EncodeBatch(batch)
	if _, err := DecodeBatch(encoded[:len(encoded)-2]); err == nil {
		t.Fatalf("expected truncated batch to error")
	}
}

func TestResponseEncodeDecodeSuccessRoundTrip(t *testing.T) {
	results := []OpResult{
		{
			Changes:   1,
			LastRowID: 99,
			Columns:   []string{"id", "name"},
			Rows: []Row{
				{sqlengine.Value{Kind: sqlengine.KindInt, Int: 1}, sqlengine.Value{Kind: sqlengine.KindText, Text: "alice"}},
			},
		},
	}
	encoded := EncodeResponse(results, "")
	ok, decoded, errMsg, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok response")
	}
	if errMsg != "" {
		t.Fatalf("expected no error message, got %q", errMsg)
	}
	if len(decoded) != 1 || decoded[0].LastRowID != 99 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
	if decoded[0].Rows[0][1].Text != "alice" {
		t.Fatalf("unexpected row value: %+v", decoded[0].Rows[0])
	}
}

func TestResponseEncodeDecodeErrorRoundTrip(t *testing.T) {
	encoded := EncodeResponse(nil, "denylisted write")
	ok, results, errMsg, err := DecodeResponse(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok {
		t.Fatalf("expected error response")
	}
	if errMsg != "denylisted write" {
		t.Fatalf("expected error message, got %q", errMsg)
	}
	if results != nil {
		t.Fatalf("expected no results on error response")
	}
}
