package consensus

import (
	"testing"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/wire"
)

type fakeTransport struct {
	prevotes []string
	votes    []string
	appends  []string
}

func (f *fakeTransport) SendPrevoteReq(peer string, req wire.VoteReq) { f.prevotes = append(f.prevotes, peer) }
func (f *fakeTransport) SendVoteReq(peer string, req wire.VoteReq)    { f.votes = append(f.votes, peer) }
func (f *fakeTransport) SendAppendReq(peer string, req wire.AppendReq) {
	f.appends = append(f.appends, peer)
}

func newThreeVoterMeta(t *testing.T) *clustermeta.Meta {
	t.Helper()
	m := clustermeta.New("c1")
	for i, name := range []string{"n1", "n2", "n3"} {
		if err := m.Add(name, "tcp://u@host:100"+string(rune('1'+i))); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	return m
}

func newTestNode(t *testing.T, self string, meta *clustermeta.Meta) (*Node, *fakeTransport) {
	t.Helper()
	dir := t.TempDir()
	store, err := logstore.Open(dir, 0, 0)
	if err != nil {
		t.Fatalf("open logstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	st := applier.New("c1", sqlengine.New())
	trans := &fakeTransport{}
	n := New(Config{Self: self, Cluster: "c1", Heartbeat: 100, Log: store, Applier: st, Meta: meta, Transport: trans})
	for _, p := range n.peers {
		p.Connected = true
	}
	return n, trans
}

func TestStartPrevoteBroadcastsToConnectedPeers(t *testing.T) {
	meta := newThreeVoterMeta(t)
	n, trans := newTestNode(t, "n1", meta)

	n.startPrevote(1000)

	if n.role != RolePrevoteCandidate {
		t.Fatalf("expected prevote-candidate role, got %v", n.role)
	}
	if len(trans.prevotes) != 2 {
		t.Fatalf("expected 2 prevote requests, got %d", len(trans.prevotes))
	}
}

func TestElectionReachesLeaderOnQuorumGrants(t *testing.T) {
	meta := newThreeVoterMeta(t)
	n, trans := newTestNode(t, "n1", meta)

	n.startPrevote(1000)
	n.HandlePrevoteResponse("n2", wire.VoteResp{Term: n.currentTerm + 1, Granted: true})

	if n.role != RoleCandidate {
		t.Fatalf("expected candidate role after prevote quorum, got %v", n.role)
	}
	if len(trans.votes) != 2 {
		t.Fatalf("expected 2 vote requests, got %d", len(trans.votes))
	}

	n.HandleVoteResponse("n2", wire.VoteResp{Term: n.currentTerm, Granted: true})

	if n.role != RoleLeader {
		t.Fatalf("expected leader role after vote quorum, got %v", n.role)
	}
	if n.lastLogIndex() != 3 {
		t.Fatalf("expected INIT+META+TERM appended (3 entries), got last index %d", n.lastLogIndex())
	}
}

func TestHandleVoteRequestRejectsStaleTerm(t *testing.T) {
	meta := newThreeVoterMeta(t)
	n, _ := newTestNode(t, "n1", meta)
	n.currentTerm = 5

	resp := n.HandleVoteRequest(0, "n2", wire.VoteReq{Term: 3})
	if resp.Granted {
		t.Fatalf("expected stale-term vote request to be rejected")
	}
}

func TestHandleVoteRequestGrantsOncePerTerm(t *testing.T) {
	meta := newThreeVoterMeta(t)
	n, _ := newTestNode(t, "n1", meta)

	first := n.HandleVoteRequest(0, "n2", wire.VoteReq{Term: 1})
	if !first.Granted {
		t.Fatalf("expected first vote in term to be granted")
	}
	second := n.HandleVoteRequest(0, "n3", wire.VoteReq{Term: 1})
	if second.Granted {
		t.Fatalf("expected second vote request in the same term to be rejected")
	}
}

func TestHandleAppendRequestStepsDownAndAdoptsTerm(t *testing.T) {
	meta := newThreeVoterMeta(t)
	n, _ := newTestNode(t, "n1", meta)
	n.role = RoleCandidate
	n.currentTerm = 1

	resp := n.HandleAppendRequest(0, "n2", wire.AppendReq{Term: 2})
	if !resp.Success {
		t.Fatalf("expected append with no prior entries to succeed")
	}
	if n.role != RoleFollower || n.currentTerm != 2 || n.leader != "n2" {
		t.Fatalf("expected step-down to follower of n2 at term 2, got role=%v term=%d leader=%q", n.role, n.currentTerm, n.leader)
	}
}
