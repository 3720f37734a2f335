package logstore

import (
	"testing"

	"github.com/resql/resql/pkg/entry"
)

func mustCreate(t *testing.T, s *Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := s.CreateEntry(1, uint64(i), 1, entry.FlagRequest, []byte("row")); err != nil {
			t.Fatalf("create entry %d: %v", i, err)
		}
	}
}

func TestRotationAfterSnapshot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	mustCreate(t, s, 10)
	if s.LastIndex() != 10 {
		t.Fatalf("expected last index 10, got %d", s.LastIndex())
	}

	ssIndex := s.LastIndex()
	s.SnapshotTaken(1, ssIndex)

	mustCreate(t, s, 5)
	if s.LastIndex() != ssIndex+5 {
		t.Fatalf("expected last_index == ss_index+5 (%d), got %d", ssIndex+5, s.LastIndex())
	}

	for i := uint64(1); i <= 5; i++ {
		e, ok := s.EntryAt(ssIndex + i)
		if !ok {
			t.Fatalf("expected entry at %d after rotation", ssIndex+i)
		}
		_ = e
	}
}

func TestPrevTermOfUsesSnapshotBoundary(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 7, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if got := s.PrevTermOf(100); got != 7 {
		t.Fatalf("PrevTermOf at boundary = %d, want 7", got)
	}
	if got := s.PrevTermOf(50); got != 7 {
		t.Fatalf("PrevTermOf below boundary = %d, want 7", got)
	}
}

func TestRemoveAfterTruncatesBothPages(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	mustCreate(t, s, 20)
	s.RemoveAfter(12)
	if s.LastIndex() != 12 {
		t.Fatalf("expected last index 12 after truncate, got %d", s.LastIndex())
	}
	if _, ok := s.EntryAt(13); ok {
		t.Fatalf("entry 13 should be gone")
	}
}
