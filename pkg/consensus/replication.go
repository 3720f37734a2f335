package consensus

import (
	"context"

	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/wire"
)

// commitIndex is the highest index known committed: the median of
// MatchIndex across all voters, including the leader's own log tip
// (spec.md §4.7 "commit advancement via median match-index").
func (n *Node) commitIndex() uint64 {
	if n.role != RoleLeader {
		return 0
	}
	matches := make([]uint64, 0, len(n.peers)+1)
	matches = append(matches, n.lastLogIndex())
	for _, p := range n.peers {
		matches = append(matches, p.MatchIndex)
	}
	return median(matches)
}

// BroadcastAppend builds and sends one AppendReq per connected peer,
// called on the heartbeat tick and whenever new entries are appended.
func (n *Node) BroadcastAppend() {
	if n.role != RoleLeader {
		return
	}
	for name, peer := range n.peers {
		if !peer.Connected {
			continue
		}
		n.trans.SendAppendReq(name, n.buildAppendReq(peer))
	}
}

func (n *Node) buildAppendReq(peer *PeerState) wire.AppendReq {
	prevIndex := peer.NextIndex - 1
	prevTerm := n.log.PrevTermOf(peer.NextIndex)
	data, _ := n.log.GetRange(peer.NextIndex, 1<<20)
	return wire.AppendReq{
		Term:         n.currentTerm,
		PrevIndex:    prevIndex,
		PrevTerm:     prevTerm,
		LeaderCommit: n.commitIndex(),
		Round:        n.round,
		Entries:      data,
	}
}

// HandleAppendRequest is the follower-side consistency check and log
// reconciliation of spec.md §4.7.
func (n *Node) HandleAppendRequest(now int64, leader string, req wire.AppendReq) wire.AppendResp {
	if req.Term < n.currentTerm {
		return wire.AppendResp{Term: n.currentTerm, Success: false}
	}
	n.onLeaderContact(req.Term, leader, now)

	if req.PrevIndex > 0 {
		e, ok := n.log.EntryAt(req.PrevIndex)
		haveIt := ok || req.PrevIndex <= n.log.SnapshotBoundary()
		matchesTerm := ok && e.Term == req.PrevTerm
		if !haveIt || (ok && !matchesTerm) {
			return wire.AppendResp{Term: n.currentTerm, Round: req.Round, Success: false}
		}
	}

	n.log.RemoveAfter(req.PrevIndex)
	n.appendEntries(req.PrevIndex, req.Entries)

	return wire.AppendResp{Term: n.currentTerm, Index: n.lastLogIndex(), Round: req.Round, Success: true}
}

// appendEntries decodes a contiguous run of encoded entries (as
// produced by logstore.Store.GetRange) and replays each into both the
// log and the applier in order.
func (n *Node) appendEntries(prevIndex uint64, data []byte) {
	index := prevIndex
	offset := 0
	for offset < len(data) {
		if offset+entry.HeaderSize > len(data) {
			break
		}
		total := int(le32(data[offset+4:]))
		if total <= 0 || offset+total > len(data) {
			break
		}
		raw := data[offset : offset+total]
		index++
		if err := n.log.PutEntry(index, raw); err != nil {
			break
		}
		if e, ok := n.log.EntryAt(index); ok {
			n.applyIndex(context.Background(), index, e)
		}
		offset += total
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// HandleAppendResponse advances the sender's replication progress, the
// read-index round watermark, and the leader's commit index.
func (n *Node) HandleAppendResponse(from string, now int64, resp wire.AppendResp) {
	if resp.Term > n.currentTerm {
		n.onLeaderContact(resp.Term, "", now)
		return
	}
	peer, ok := n.peers[from]
	if !ok || n.role != RoleLeader {
		return
	}
	peer.LastContact = now
	if resp.Success {
		peer.MatchIndex = resp.Index
		peer.NextIndex = resp.Index + 1
	} else if peer.NextIndex > 1 {
		peer.NextIndex--
	}
	if resp.Round > peer.Round {
		peer.Round = resp.Round
	}
	n.advanceRoundMatch()
}
