package consensus

import (
	"context"
	crand "crypto/rand"

	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/wire"
)

// startPrevote enters the prevote role at term+1 and broadcasts
// PREVOTE_REQ without persisting anything (spec.md §4.7: a prevote
// round never advances currentTerm or votedFor by itself).
func (n *Node) startPrevote(now int64) {
	n.role = RolePrevoteCandidate
	n.prevoteGrants = map[string]bool{n.self: true}
	n.resetElectionDeadline(now)

	req := wire.VoteReq{Term: n.currentTerm + 1, LastTerm: n.lastLogTerm(), LastIdx: n.lastLogIndex()}
	for name, peer := range n.peers {
		if peer.Connected {
			n.trans.SendPrevoteReq(name, req)
		}
	}
	n.maybeWinPrevote()
}

func (n *Node) maybeWinPrevote() {
	if n.role != RolePrevoteCandidate {
		return
	}
	if len(n.prevoteGrants) >= n.quorum() {
		n.startElection(n.now)
	}
}

// HandlePrevoteRequest grants a prevote iff the requester's log is at
// least as up-to-date as ours and we have not heard from a leader
// within the election timeout (spec.md §4.7).
func (n *Node) HandlePrevoteRequest(now int64, req wire.VoteReq) wire.VoteResp {
	granted := now >= n.electionDeadline && n.logUpToDate(req.LastTerm, req.LastIdx)
	return wire.VoteResp{Term: req.Term, Idx: n.lastLogIndex(), Granted: granted}
}

// HandlePrevoteResponse records a prevote grant and, on reaching
// quorum, starts the real election.
func (n *Node) HandlePrevoteResponse(from string, resp wire.VoteResp) {
	if n.role != RolePrevoteCandidate || resp.Term != n.currentTerm+1 || !resp.Granted {
		return
	}
	n.prevoteGrants[from] = true
	n.maybeWinPrevote()
}

// startElection persists term+1/votedFor=self and broadcasts
// REQVOTE_REQ.
func (n *Node) startElection(now int64) {
	n.currentTerm++
	n.votedFor = n.self
	n.role = RoleCandidate
	n.voteGrants = map[string]bool{n.self: true}
	n.resetElectionDeadline(now)

	req := wire.VoteReq{Term: n.currentTerm, LastTerm: n.lastLogTerm(), LastIdx: n.lastLogIndex()}
	for name, peer := range n.peers {
		if peer.Connected {
			n.trans.SendVoteReq(name, req)
		}
	}
	n.maybeWinElection()
}

func (n *Node) maybeWinElection() {
	if n.role != RoleCandidate {
		return
	}
	if len(n.voteGrants) >= n.quorum() {
		n.becomeLeader()
	}
}

// HandleVoteRequest grants a vote iff the term is current-or-newer, we
// have not already voted this term for someone else, and the
// candidate's log is at least as up-to-date as ours. candidate is the
// name of the peer the request arrived from.
func (n *Node) HandleVoteRequest(now int64, candidate string, req wire.VoteReq) wire.VoteResp {
	if req.Term < n.currentTerm {
		return wire.VoteResp{Term: n.currentTerm, Idx: n.lastLogIndex(), Granted: false}
	}
	if req.Term > n.currentTerm {
		n.currentTerm = req.Term
		n.votedFor = ""
		n.role = RoleFollower
	}
	granted := (n.votedFor == "" || n.votedFor == candidate) && n.logUpToDate(req.LastTerm, req.LastIdx)
	if granted {
		n.votedFor = candidate
		n.resetElectionDeadline(now)
	}
	return wire.VoteResp{Term: n.currentTerm, Idx: n.lastLogIndex(), Granted: granted}
}

// HandleVoteResponse records a vote grant and, on reaching quorum,
// promotes this candidate to leader.
func (n *Node) HandleVoteResponse(from string, resp wire.VoteResp) {
	if n.role != RoleCandidate || resp.Term != n.currentTerm || !resp.Granted {
		return
	}
	n.voteGrants[from] = true
	n.maybeWinElection()
}

// logUpToDate reports whether a candidate whose log ends at
// (lastTerm, lastIdx) is at least as up-to-date as ours.
func (n *Node) logUpToDate(lastTerm, lastIdx uint64) bool {
	myTerm := n.lastLogTerm()
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIdx >= n.lastLogIndex()
}

// becomeLeader appends, in order, an INIT entry (if the log is still
// empty), a META entry recording self as leader, and a TERM entry —
// the term is only considered "up" once the TERM entry commits
// (spec.md §4.7).
func (n *Node) becomeLeader() {
	n.role = RoleLeader
	n.leader = n.self
	n.meta.SetLeader(n.self)
	n.syncPeers()
	for _, p := range n.peers {
		p.NextIndex = n.lastLogIndex() + 1
		p.MatchIndex = 0
	}

	if n.lastLogIndex() == 0 {
		seed := make([]byte, 32)
		crand.Read(seed)
		n.appendLocal(entry.FlagInit, seed)
	}
	metaPayload, _ := clustermeta.Encode(n.meta)
	n.appendLocal(entry.FlagMeta, metaPayload)
	n.appendLocal(entry.FlagTerm, nil)
}

func (n *Node) appendLocal(flag entry.Flag, payload []byte) {
	index, err := n.log.CreateEntry(n.currentTerm, 0, 0, flag, payload)
	if err != nil {
		return
	}
	e, ok := n.log.EntryAt(index)
	if !ok {
		return
	}
	n.applyIndex(context.Background(), index, e)
}
