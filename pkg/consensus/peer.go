package consensus

// PeerState is everything the leader tracks about one other voter:
// replication progress, read-index round acknowledgement, and basic
// liveness (spec.md §4.7 "Append replication" and "Read-index round").
type PeerState struct {
	Name string

	// NextIndex is the index of the next entry to send this peer.
	// MatchIndex is the highest index known to be replicated there.
	NextIndex  uint64
	MatchIndex uint64

	// Round is the last read-index round this peer has acknowledged
	// via an AppendResp echo.
	Round uint64

	Connected   bool
	LastContact int64 // monotonic timestamp of the last message received
}

// newPeer seeds NextIndex at lastIndex+1, the standard Raft
// optimistic guess corrected on the first AppendResp mismatch.
func newPeer(name string, lastIndex uint64) *PeerState {
	return &PeerState{Name: name, NextIndex: lastIndex + 1}
}

// median returns the middle value of a descending-sorted copy of vs,
// used both for commit advancement (match indices) and read-index
// advancement (rounds): spec.md §4.7 states both as "sort descending,
// take the median entry" over the voter set including the leader.
func median(vs []uint64) uint64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), vs...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] < sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}
