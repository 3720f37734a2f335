package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/consensus"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/wire"
)

type fakeTransport struct{}

func (fakeTransport) SendPrevoteReq(string, wire.VoteReq)  {}
func (fakeTransport) SendVoteReq(string, wire.VoteReq)     {}
func (fakeTransport) SendAppendReq(string, wire.AppendReq) {}

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	meta := clustermeta.New("c1")
	if err := meta.Add("n1", "tcp://u@host:1001"); err != nil {
		t.Fatalf("add n1: %v", err)
	}

	dir := t.TempDir()
	store, err := logstore.Open(dir, 0, 0)
	if err != nil {
		t.Fatalf("open logstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st := applier.New("c1", sqlengine.New())
	node := consensus.New(consensus.Config{
		Self: "n1", Cluster: "c1", Heartbeat: 100,
		Log: store, Applier: st, Meta: meta, Transport: fakeTransport{},
	})

	return NewCollector(node, st, store)
}

func TestCollectorSetsGauges(t *testing.T) {
	c := newTestCollector(t)

	c.collect()

	if got := testutil.ToFloat64(VotersTotal); got != 1 {
		t.Errorf("VotersTotal = %v, want 1", got)
	}
	if got := testutil.ToFloat64(IsLeader); got != 0 {
		t.Errorf("IsLeader = %v, want 0 (fresh node is a follower)", got)
	}
}

func TestCollectorStartStop(t *testing.T) {
	c := newTestCollector(t)
	c.Start()
	time.Sleep(10 * time.Millisecond)
	c.Stop()
}
