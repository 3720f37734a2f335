package server

import (
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/metrics"
	"github.com/resql/resql/pkg/snapshot"
)

// maybeTakeSnapshot starts a compaction when P0 is sealed (P1 is
// non-empty) and no compaction is already in flight. Called once per
// heartbeat tick; Take itself enforces the at-most-one contract.
func (s *Server) maybeTakeSnapshot() {
	page, pending := s.log.SealedPage()
	if !pending {
		return
	}
	s.snapshotTimer = metrics.NewTimer()
	s.snapshots.Take(snapshot.Job{
		Page:     page,
		Term:     s.node.Term(),
		Index:    page.LastIndex(),
		Cluster:  s.cfg.ClusterName,
		Meta:     s.meta,
		Sessions: s.applier.Sessions,
	})
}

// onSnapshotDone installs a completed compaction's result: rotating
// the log pages past the new boundary on success, logging and
// discarding on failure (the next sealed page still satisfies
// maybeTakeSnapshot's precondition, so a failed attempt is retried).
func (s *Server) onSnapshotDone(r snapshot.Result) {
	if s.snapshotTimer != nil {
		s.snapshotTimer.ObserveDuration(metrics.SnapshotDuration)
		s.snapshotTimer = nil
	}
	if !r.OK {
		log.Errorf("server: snapshot compaction failed", r.Err)
		return
	}
	s.log.SnapshotTaken(r.Term, r.Index)
	s.applier.SSTerm = r.Term
	s.applier.SSIndex = r.Index
}

// installSnapshot adopts a fully-streamed snapshot install on a
// follower: the SQL engine is restored from the canonical snapshot
// file and the log boundary advances to match. Meta and session state
// at the boundary are carried forward from whatever this replica
// already applied — a follower far enough behind to need a streamed
// install is expected to be caught up on meta/session entries by the
// AppendReq stream that resumes once its log tip reaches the new
// boundary.
func (s *Server) installSnapshot(ssTerm, ssIndex uint64) {
	if err := s.applier.Engine.Restore(s.snapshots.CanonicalPath()); err != nil {
		log.Errorf("server: restore installed snapshot", err)
		return
	}
	s.applier.Index = ssIndex
	s.applier.Term = ssTerm
	s.applier.SSTerm = ssTerm
	s.applier.SSIndex = ssIndex
	s.log.SnapshotTaken(ssTerm, ssIndex)
}
