package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/buffer"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/page"
	"github.com/resql/resql/pkg/sqlengine"
)

func encodedEntryFor(term, seq, cid uint64, flags entry.Flag, payload []byte) []byte {
	b := buffer.New(entry.HeaderSize + len(payload))
	entry.Encode(b, term, seq, cid, flags, payload)
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}

func buildPage(t *testing.T, dir string) *page.Page {
	t.Helper()
	p, err := page.Open(filepath.Join(dir, "page.0.resql"), 0, 0)
	if err != nil {
		t.Fatalf("open page: %v", err)
	}

	initPayload := make([]byte, 32)
	initPayload[0] = 7
	appendEntry(t, p, 1, 0, 0, entry.FlagInit, initPayload)

	batch := applier.EncodeBatch(applier.Batch{Ops: []applier.Op{{Kind: applier.OpStmt, SQL: "CREATE TABLE t (id INTEGER)"}}})
	appendEntry(t, p, 1, 1, 0, entry.FlagRequest, batch)
	return p
}

func appendEntry(t *testing.T, p *page.Page, term, seq, cid uint64, flags entry.Flag, payload []byte) {
	t.Helper()
	b := encodedEntryFor(term, seq, cid, flags, payload)
	if !p.Append(b) {
		t.Fatalf("append entry failed")
	}
}

func TestCompactionProducesCanonicalSnapshot(t *testing.T) {
	dir := t.TempDir()
	p := buildPage(t, dir)
	defer p.Close()

	eng := New(dir, func() sqlengine.Engine { return sqlengine.New() })
	job := Job{Page: p, Term: 1, Index: p.LastIndex(), Cluster: "cluster1"}
	if !eng.Take(job) {
		t.Fatalf("expected Take to accept the first job")
	}

	result := eng.Wait()
	if !result.OK {
		t.Fatalf("compaction failed: %v", result.Err)
	}
	if _, err := os.Stat(eng.CanonicalPath()); err != nil {
		t.Fatalf("expected canonical snapshot file to exist: %v", err)
	}
}

func TestTakeRejectsSecondJobWhileBusy(t *testing.T) {
	dir := t.TempDir()
	p := buildPage(t, dir)
	defer p.Close()

	eng := New(dir, func() sqlengine.Engine { return sqlengine.New() })
	job := Job{Page: p, Term: 1, Index: p.LastIndex(), Cluster: "cluster1"}
	if !eng.Take(job) {
		t.Fatalf("first Take should succeed")
	}
	if eng.Take(job) {
		t.Fatalf("second Take while busy should be rejected")
	}
	eng.Wait()

	// A short pause gives the worker loop a chance to return to its
	// ready state before asserting the slot is free again.
	time.Sleep(10 * time.Millisecond)
	if !eng.Take(job) {
		t.Fatalf("Take should succeed again once the prior job's result was drained")
	}
	eng.Wait()
}

func TestStreamingInstallAssemblesAndRenames(t *testing.T) {
	dir := t.TempDir()
	eng := New(dir, func() sqlengine.Engine { return sqlengine.New() })

	r1 := eng.Recv(5, 100, false, 0, []byte("hello "))
	if !r1.OK || r1.Done {
		t.Fatalf("expected first chunk to be accepted and not done: %+v", r1)
	}
	r2 := eng.Recv(5, 100, true, 6, []byte("world"))
	if !r2.OK || !r2.Done {
		t.Fatalf("expected final chunk to complete the install: %+v", r2)
	}

	data, err := os.ReadFile(eng.CanonicalPath())
	if err != nil {
		t.Fatalf("read canonical snapshot: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("expected assembled content %q, got %q", "hello world", data)
	}
}

func TestStreamingInstallDiscardsOnTermChange(t *testing.T) {
	dir := t.TempDir()
	eng := New(dir, func() sqlengine.Engine { return sqlengine.New() })

	eng.Recv(5, 100, false, 0, []byte("stale"))
	firstScratch := eng.installing.path
	if _, err := os.Stat(firstScratch); err != nil {
		t.Fatalf("expected first scratch file to exist: %v", err)
	}

	eng.Recv(6, 101, false, 0, []byte("fresh"))
	if _, err := os.Stat(firstScratch); !os.IsNotExist(err) {
		t.Fatalf("expected stale scratch file to be discarded")
	}
}
