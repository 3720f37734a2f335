package server

import (
	"context"
	"errors"
	"testing"

	"github.com/resql/resql/pkg/snapshot"
	"github.com/resql/resql/pkg/sqlengine"
)

func TestOnSnapshotDoneInstallsBoundaryOnSuccess(t *testing.T) {
	srv := newLeaderTestServer(t)
	before := srv.node.LastLogIndex()

	srv.onSnapshotDone(snapshot.Result{OK: true, Term: srv.node.Term(), Index: before})

	if srv.applier.SSIndex != before {
		t.Fatalf("expected applier.SSIndex to advance to %d, got %d", before, srv.applier.SSIndex)
	}
	if srv.applier.SSTerm != srv.node.Term() {
		t.Fatalf("expected applier.SSTerm to record the compaction's term")
	}
}

func TestOnSnapshotDoneDiscardsFailure(t *testing.T) {
	srv := newLeaderTestServer(t)
	beforeSSIndex := srv.applier.SSIndex

	srv.onSnapshotDone(snapshot.Result{OK: false, Err: errors.New("boom")})

	if srv.applier.SSIndex != beforeSSIndex {
		t.Fatalf("expected a failed compaction to leave SSIndex untouched, got %d (was %d)", srv.applier.SSIndex, beforeSSIndex)
	}
}

func TestInstallSnapshotRestoresEngineAndBoundary(t *testing.T) {
	srv := newLeaderTestServer(t)

	snapDir := t.TempDir()
	srv.snapshots = snapshot.New(snapDir, func() sqlengine.Engine { return sqlengine.New() })

	seed := sqlengine.New()
	if err := seed.Exec(context.Background(), "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if err := seed.Backup(srv.snapshots.CanonicalPath()); err != nil {
		t.Fatalf("backup: %v", err)
	}

	srv.installSnapshot(7, 42)

	if srv.applier.SSTerm != 7 || srv.applier.SSIndex != 42 {
		t.Fatalf("expected SSTerm/SSIndex = 7/42, got %d/%d", srv.applier.SSTerm, srv.applier.SSIndex)
	}
	if srv.applier.Index != 42 || srv.applier.Term != 7 {
		t.Fatalf("expected applier.Index/Term to adopt the installed boundary, got %d/%d", srv.applier.Index, srv.applier.Term)
	}
}
