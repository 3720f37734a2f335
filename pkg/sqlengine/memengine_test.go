package sqlengine

import (
	"context"
	"path/filepath"
	"testing"
)

func TestCreateInsertSelectRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	if err := e.Exec(ctx, "CREATE TABLE t (id INTEGER, name TEXT)"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.Exec(ctx, "INSERT INTO t (id, name) VALUES (1, 'alice')"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	st, err := e.Prepare("SELECT id, name FROM t WHERE id = ?")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	defer st.Finalize()
	st.BindIndex(1, Value{Kind: KindInt, Int: 1})
	res, err := st.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][1].Text != "alice" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()

	e.Exec(ctx, "CREATE TABLE t (id INTEGER, name TEXT)")
	e.Exec(ctx, "INSERT INTO t (id, name) VALUES (1, 'alice')")
	e.Exec(ctx, "INSERT INTO t (id, name) VALUES (2, 'bob')")

	st, _ := e.Prepare("UPDATE t SET name = 'carol' WHERE id = ?")
	st.BindIndex(1, Value{Kind: KindInt, Int: 2})
	res, err := st.Step(ctx)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if res.Changed != 1 {
		t.Fatalf("expected 1 row changed, got %d", res.Changed)
	}

	st2, _ := e.Prepare("DELETE FROM t WHERE id = ?")
	st2.BindIndex(1, Value{Kind: KindInt, Int: 1})
	res2, err := st2.Step(ctx)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res2.Changed != 1 {
		t.Fatalf("expected 1 row deleted, got %d", res2.Changed)
	}

	st3, _ := e.Prepare("SELECT id FROM t")
	res3, _ := st3.Step(ctx)
	if len(res3.Rows) != 1 || res3.Rows[0][0].Int != 2 {
		t.Fatalf("expected only bob's row (id=2) remaining: %+v", res3)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()
	e.Exec(ctx, "CREATE TABLE t (id INTEGER, name TEXT)")
	e.Exec(ctx, "INSERT INTO t (id, name) VALUES (1, 'alice')")

	path := filepath.Join(t.TempDir(), "snap.db")
	if err := e.Backup(path); err != nil {
		t.Fatalf("backup: %v", err)
	}

	e2 := New()
	defer e2.Close()
	if err := e2.Restore(path); err != nil {
		t.Fatalf("restore: %v", err)
	}
	st, _ := e2.Prepare("SELECT id, name FROM t")
	res, err := st.Step(ctx)
	if err != nil {
		t.Fatalf("select after restore: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0][1].Text != "alice" {
		t.Fatalf("restored data mismatch: %+v", res)
	}
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	e := New()
	defer e.Close()
	e.Exec(ctx, "CREATE TABLE t (id INTEGER)")

	if err := e.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	e.Exec(ctx, "INSERT INTO t (id) VALUES (1)")
	if err := e.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	st, _ := e.Prepare("SELECT id FROM t")
	res, _ := st.Step(ctx)
	if len(res.Rows) != 0 {
		t.Fatalf("expected rollback to discard the insert, got %+v", res)
	}
}

func TestUnsupportedStatementShapeRejected(t *testing.T) {
	e := New()
	defer e.Close()
	if _, err := e.Prepare("NOT A STATEMENT"); err == nil {
		t.Fatalf("expected unsupported statement shape to be rejected")
	}
}
