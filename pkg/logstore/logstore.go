// Package logstore implements the two-page log store of spec.md §4.4:
// P0 and P1 rotate so that P1 is always the current (writable) page
// once non-empty, and compacting P0 into a snapshot frees it for the
// next rotation.
package logstore

import (
	"fmt"
	"path/filepath"

	"github.com/resql/resql/pkg/buffer"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/page"
	"github.com/resql/resql/pkg/status"
)

// Store owns exactly two log pages and the snapshot boundary they
// rotate around.
type Store struct {
	dir string
	p0  *page.Page
	p1  *page.Page

	ssTerm  uint64
	ssIndex uint64
}

// Open opens (or creates) page.0.resql and page.1.resql under dir.
// ssTerm/ssIndex are the term/index recorded in the last-installed
// snapshot (0 if none yet), used by PrevTermOf below the boundary.
func Open(dir string, ssTerm, ssIndex uint64) (*Store, error) {
	p0, err := page.Open(filepath.Join(dir, "page.0.resql"), 0, ssIndex)
	if err != nil {
		return nil, err
	}
	p1, err := page.Open(filepath.Join(dir, "page.1.resql"), 0, p0.LastIndex())
	if err != nil {
		p0.Close()
		return nil, err
	}
	return &Store{dir: dir, p0: p0, p1: p1, ssTerm: ssTerm, ssIndex: ssIndex}, nil
}

// current returns the page new entries are appended to: P1 if it is
// non-empty, else P0 (spec.md §3 "Log store" invariant).
func (s *Store) current() *page.Page {
	if !s.p1.IsEmpty() {
		return s.p1
	}
	return s.p0
}

// LastIndex returns the index of the last entry across both pages.
func (s *Store) LastIndex() uint64 {
	return s.current().LastIndex()
}

// SnapshotBoundary returns last_index(P0) if P1 is non-empty (meaning
// a rotation is pending/in flight), or +Inf (represented as the
// maximum uint64) if no rotation is pending.
func (s *Store) SnapshotBoundary() uint64 {
	if !s.p1.IsEmpty() {
		return s.p0.LastIndex()
	}
	return ^uint64(0)
}

// PutEntry appends entryBytes to the current page at the given index,
// expanding or switching pages as needed. index must equal
// LastIndex()+1.
func (s *Store) PutEntry(index uint64, entryBytes []byte) error {
	if index != s.LastIndex()+1 {
		return status.New(status.KindPeerFatal, fmt.Errorf("logstore: out-of-order put, want index %d got %d", s.LastIndex()+1, index))
	}
	return s.append(entryBytes)
}

func (s *Store) append(entryBytes []byte) error {
	cur := s.current()
	if cur.Append(entryBytes) {
		return nil
	}
	if cur.Expand() && cur.Append(entryBytes) {
		return nil
	}
	// cur didn't fit even after one expansion. If we were writing to
	// P0 (P1 still empty) we can hand off to P1 instead of failing.
	if cur == s.p0 && s.p1.IsEmpty() {
		if s.p1.Append(entryBytes) {
			return nil
		}
		if s.p1.Expand() && s.p1.Append(entryBytes) {
			return nil
		}
	}
	return status.New(status.KindFull, fmt.Errorf("logstore: no room for entry even after expansion"))
}

// CreateEntry encodes and appends a new entry, assigning it the next
// log index.
func (s *Store) CreateEntry(term, seq, cid uint64, flags entry.Flag, payload []byte) (uint64, error) {
	index := s.LastIndex() + 1
	b := buffer.New(entry.HeaderSize + len(payload))
	entry.Encode(b, term, seq, cid, flags, payload)
	if !b.Valid() {
		return 0, status.New(status.KindDiskFatal, fmt.Errorf("logstore: failed to encode entry"))
	}
	if err := s.append(b.Bytes()); err != nil {
		return 0, err
	}
	return index, nil
}

// EntryAt looks up the entry at index, consulting P0 then falling
// back to P1.
func (s *Store) EntryAt(index uint64) (entry.Entry, bool) {
	if e, ok := s.p0.EntryAt(index); ok {
		return e, true
	}
	return s.p1.EntryAt(index)
}

// PrevTermOf returns the term of the entry at index-1, or ssTerm when
// index is at or below the snapshot boundary.
func (s *Store) PrevTermOf(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	if index-1 <= s.ssIndex {
		return s.ssTerm
	}
	if e, ok := s.EntryAt(index - 1); ok {
		return e.Term
	}
	return s.ssTerm
}

// GetRange returns up to byteLimit bytes of raw entry data starting at
// index, consulting whichever page holds it.
func (s *Store) GetRange(index uint64, byteLimit int) (data []byte, count int) {
	if index > s.p0.PrevIndex() && index <= s.p0.LastIndex() {
		return s.p0.GetRange(index, byteLimit)
	}
	return s.p1.GetRange(index, byteLimit)
}

// SnapshotTaken clears P0 and swaps P0<->P1, establishing a fresh
// empty P1 for the next rotation. ssTerm/ssIndex record the boundary
// the just-completed snapshot folded up to.
func (s *Store) SnapshotTaken(ssTerm, ssIndex uint64) {
	s.ssTerm = ssTerm
	s.ssIndex = ssIndex
	s.p0.Clear(ssIndex)
	s.p0, s.p1 = s.p1, s.p0
	if s.p0.IsEmpty() {
		s.p0.Clear(ssIndex)
	}
}

// RemoveAfter truncates the suffix on both pages after index.
func (s *Store) RemoveAfter(index uint64) {
	s.p0.TruncateAfter(index)
	s.p1.TruncateAfter(index)
}

// Flush msyncs both pages.
func (s *Store) Flush() error {
	if err := s.p0.Flush(); err != nil {
		return err
	}
	return s.p1.Flush()
}

// Close unmaps and closes both pages.
func (s *Store) Close() error {
	err0 := s.p0.Close()
	err1 := s.p1.Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// SealedPage returns P0 for the snapshot engine to compact, along with
// whether a rotation is actually pending (P1 non-empty). The snapshot
// worker only ever reads a sealed, otherwise-immutable page.
func (s *Store) SealedPage() (*page.Page, bool) {
	return s.p0, !s.p1.IsEmpty()
}

// SizeBytes reports the combined mapped capacity of both pages, an
// approximation of on-disk log size exported for metrics.
func (s *Store) SizeBytes() int64 {
	return int64(s.p0.Capacity() + s.p1.Capacity())
}
