package clustermeta

import "testing"

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.Load(); err != nil || ok {
		t.Fatalf("expected no meta on fresh store, got ok=%v err=%v", ok, err)
	}

	m := New("cluster1")
	m.Add("node0", "tcp://node0@127.0.0.1:7600")
	m.Index = 1
	if err := s.Save(m); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := s.Load()
	if err != nil || !ok {
		t.Fatalf("load after save: ok=%v err=%v", ok, err)
	}
	if !m.Equal(loaded) {
		t.Fatalf("loaded meta does not match saved meta")
	}
}

func TestStoreReopenPersists(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	m := New("cluster1")
	m.Add("node0", "tcp://node0@127.0.0.1:7600")
	if err := s.Save(m); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	loaded, ok, err := reopened.Load()
	if err != nil || !ok {
		t.Fatalf("load after reopen: ok=%v err=%v", ok, err)
	}
	if !m.Equal(loaded) {
		t.Fatalf("reopened meta does not match saved meta")
	}
}
