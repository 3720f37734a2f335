package consensus

// NewReadRound bumps the round counter for a new readonly request and
// returns (roundIndex, commitIndex) to stamp onto it (spec.md §4.7
// "Read-index round"). commitIndex is the index the request must see
// applied before it is safe to execute.
func (n *Node) NewReadRound() (roundIndex, commitIndex uint64) {
	n.round++
	return n.round, n.lastLogIndex()
}

// advanceRoundMatch recomputes roundMatch as the median round
// acknowledged across all voters, including the leader's own current
// round.
func (n *Node) advanceRoundMatch() {
	if n.role != RoleLeader {
		return
	}
	rounds := make([]uint64, 0, len(n.peers)+1)
	rounds = append(rounds, n.round)
	for _, p := range n.peers {
		rounds = append(rounds, p.Round)
	}
	n.roundMatch = median(rounds)
}

// IsReadSafe reports whether a readonly request stamped with
// (roundIndex, commitIndex) may now execute locally: its round must
// have reached the round-match watermark, and its commit requirement
// must be no greater than what has actually been applied.
func (n *Node) IsReadSafe(roundIndex, requiredCommit, appliedIndex uint64) bool {
	return roundIndex <= n.roundMatch && requiredCommit <= appliedIndex
}
