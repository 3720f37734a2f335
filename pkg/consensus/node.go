// Package consensus implements the Raft-style consensus core of
// spec.md §4.7: leader election with a prevote phase, append-entry
// replication with per-peer progress tracking, commit advancement via
// median match-index among voters, the read-index round protocol for
// linearizable readonly requests, and joint-state configuration
// changes gated through clustermeta.Meta's Prev pointer.
//
// A Node owns no socket or timer of its own; it is driven by the
// server event loop (pkg/server) through its Handle*/Tick
// entry points and reports outbound work via the Transport it was
// constructed with. This mirrors the teacher's own separation of a
// pure state machine (pkg/manager's FSM) from the I/O that drives it.
package consensus

import (
	"context"
	"fmt"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/status"
	"github.com/resql/resql/pkg/wire"
)

// Transport is how a Node sends outbound messages to peers. The
// server event loop implements this over real sockets; tests supply a
// fake that records calls.
type Transport interface {
	SendPrevoteReq(peer string, req wire.VoteReq)
	SendVoteReq(peer string, req wire.VoteReq)
	SendAppendReq(peer string, req wire.AppendReq)
}

// Config is the fixed configuration a Node is constructed with.
type Config struct {
	Self      string
	Cluster   string
	Heartbeat int64 // milliseconds

	Log       *logstore.Store
	Applier   *applier.State
	Meta      *clustermeta.Meta
	Transport Transport
}

// Node is one replica's consensus state: role, term, vote record,
// per-peer replication progress, and read-index bookkeeping.
type Node struct {
	self      string
	cluster   string
	heartbeat int64

	log     *logstore.Store
	applier *applier.State
	meta    *clustermeta.Meta
	trans   Transport

	role        Role
	currentTerm uint64
	votedFor    string
	leader      string

	peers map[string]*PeerState

	prevoteGrants map[string]bool
	voteGrants    map[string]bool

	// round is the monotonic read-index round counter; roundMatch is
	// the last round known acknowledged by a voter majority (spec.md
	// §4.7 "Read-index round").
	round      uint64
	roundMatch uint64

	electionDeadline int64 // next monotonic instant a timeout fires
	now              int64 // last monotonic instant observed via Tick
}

// New returns a Node in the follower role, with one PeerState seeded
// per non-self voter in meta.
func New(cfg Config) *Node {
	n := &Node{
		self:      cfg.Self,
		cluster:   cfg.Cluster,
		heartbeat: cfg.Heartbeat,
		log:       cfg.Log,
		applier:   cfg.Applier,
		meta:      cfg.Meta,
		trans:     cfg.Transport,
		role:      RoleFollower,
		peers:     make(map[string]*PeerState),
	}
	n.syncPeers()
	return n
}

// syncPeers reconciles n.peers against the current meta's voter list,
// adding newly-joined peers and dropping removed ones (called after
// every applied META entry).
func (n *Node) syncPeers() {
	seen := make(map[string]bool, len(n.meta.Nodes))
	for _, node := range n.meta.Nodes {
		seen[node.Name] = true
		if node.Name == n.self {
			continue
		}
		if _, ok := n.peers[node.Name]; !ok {
			n.peers[node.Name] = newPeer(node.Name, n.log.LastIndex())
		}
	}
	for name := range n.peers {
		if !seen[name] {
			delete(n.peers, name)
		}
	}
}

// Role reports the node's current role.
func (n *Node) Role() Role { return n.role }

// Term reports the node's current term.
func (n *Node) Term() uint64 { return n.currentTerm }

// Leader reports the currently known leader name, or "" if none.
func (n *Node) Leader() string { return n.leader }

// IsLeader reports whether this node believes itself to be leader.
func (n *Node) IsLeader() bool { return n.role == RoleLeader }

// CommitIndex reports the highest index this node knows committed (0
// if it is not the leader — only a leader tracks it directly; a
// follower learns committed state only as far as AppendReq's
// LeaderCommit has told it, which callers can read from its applier).
func (n *Node) CommitIndex() uint64 { return n.commitIndex() }

// LastLogIndex reports this replica's log tip.
func (n *Node) LastLogIndex() uint64 { return n.lastLogIndex() }

// ConnectedPeerCount reports how many of the current voter set's
// peers (excluding self) this node considers connected.
func (n *Node) ConnectedPeerCount() int {
	count := 0
	for _, p := range n.peers {
		if p.Connected {
			count++
		}
	}
	return count
}

// VoterCount reports the current voter-set size, including self.
func (n *Node) VoterCount() int { return n.meta.Voters }

// quorum is the smallest majority of the current voter set, including
// non-connected voters (they still count toward the denominator).
func (n *Node) quorum() int { return n.meta.Voters/2 + 1 }

// lastLogTerm/lastLogIndex describe this replica's log tip, used by
// both prevote/vote log-freshness checks and AppendReq construction.
func (n *Node) lastLogIndex() uint64 { return n.log.LastIndex() }

func (n *Node) lastLogTerm() uint64 {
	idx := n.lastLogIndex()
	if idx == 0 {
		return 0
	}
	if e, ok := n.log.EntryAt(idx); ok {
		return e.Term
	}
	return n.log.PrevTermOf(idx + 1)
}

// resetElectionDeadline schedules the next randomized election timeout
// relative to now (spec.md §4.7: "[heartbeat, 2*heartbeat+rand]").
func (n *Node) resetElectionDeadline(now int64) {
	n.now = now
	n.electionDeadline = now + electionTimeout(n.heartbeat)
}

// Tick advances the node's notion of monotonic time and starts a
// prevote round if the election deadline has elapsed without contact
// from a leader. The server event loop calls this once per timer-wheel
// sweep.
func (n *Node) Tick(ctx context.Context, now int64) {
	n.now = now
	if n.role == RoleLeader {
		return
	}
	if now >= n.electionDeadline {
		n.startPrevote(now)
	}
}

// onLeaderContact records that a valid AppendReq (or a granted vote
// acknowledgment from a leader) was seen this term, stepping down from
// any candidate role and postponing the next election timeout.
func (n *Node) onLeaderContact(term uint64, leader string, now int64) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = ""
	}
	n.leader = leader
	n.role = RoleFollower
	n.resetElectionDeadline(now)
}

func (n *Node) applyIndex(ctx context.Context, index uint64, e entry.Entry) error {
	if err := n.applier.Apply(ctx, index, e); err != nil {
		return status.New(status.KindPeerFatal, fmt.Errorf("consensus: apply index %d: %w", index, err))
	}
	return nil
}
