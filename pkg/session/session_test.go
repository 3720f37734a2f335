package session

import "testing"

func TestConnectCreatesNewSessionWithLogIndexID(t *testing.T) {
	tbl := New()
	s := tbl.Connect("client-a", "127.0.0.1:1", "127.0.0.1:2", 42, 1000)
	if s.ID != 42 {
		t.Fatalf("expected id 42, got %d", s.ID)
	}
	if got, ok := tbl.ByID(42); !ok || got != s {
		t.Fatalf("ByID lookup failed after connect")
	}
}

func TestReconnectTransfersIDAndSeq(t *testing.T) {
	tbl := New()
	s := tbl.Connect("client-a", "l1", "r1", 10, 1000)
	s.RecordResponse(1, []byte("ok"))
	tbl.Disconnect("client-a", false, 1001)

	s2 := tbl.Connect("client-a", "l2", "r2", 99, 1002)
	if s2.ID != 10 {
		t.Fatalf("expected reconnect to keep original id 10, got %d", s2.ID)
	}
	if s2.Seq != 1 {
		t.Fatalf("expected reconnect to keep seq 1, got %d", s2.Seq)
	}
	if s2.DisconnectTime != 0 {
		t.Fatalf("expected reconnect to clear disconnect time")
	}
}

func TestCleanDisconnectRemovesSession(t *testing.T) {
	tbl := New()
	tbl.Connect("client-a", "l", "r", 1, 1000)
	tbl.Disconnect("client-a", true, 1001)
	if _, ok := tbl.ByName("client-a"); ok {
		t.Fatalf("expected clean disconnect to remove the session")
	}
}

func TestDuplicateSeqReturnsCache(t *testing.T) {
	tbl := New()
	s := tbl.Connect("client-a", "l", "r", 1, 1000)
	if s.CheckDuplicate(5) {
		t.Fatalf("fresh session should not report a duplicate before any response recorded")
	}
	if err := s.RecordResponse(5, []byte("result")); err != nil {
		t.Fatalf("record response: %v", err)
	}
	if !s.CheckDuplicate(5) {
		t.Fatalf("expected seq 5 replay to be detected as duplicate")
	}
	if s.CheckDuplicate(6) {
		t.Fatalf("seq 6 must not be treated as a duplicate of seq 5")
	}
}

func TestPrepareContentAddressesByText(t *testing.T) {
	tbl := New()
	s1 := tbl.Connect("c1", "l", "r", 1, 1000)
	s2 := tbl.Connect("c2", "l", "r", 2, 1000)

	id1, isNew1 := tbl.Prepare(s1, "SELECT 1", 100)
	if !isNew1 {
		t.Fatalf("first prepare of a statement should be new")
	}
	id2, isNew2 := tbl.Prepare(s2, "SELECT 1", 200)
	if isNew2 {
		t.Fatalf("second prepare of identical SQL should reuse the existing id")
	}
	if id1 != id2 {
		t.Fatalf("expected shared id for identical SQL text, got %d and %d", id1, id2)
	}
}

func TestDeletePreparedDropsCanonicalMapping(t *testing.T) {
	tbl := New()
	s := tbl.Connect("c1", "l", "r", 1, 1000)
	id, _ := tbl.Prepare(s, "SELECT 1", 10)
	tbl.DeletePrepared(s, id)

	if _, isNew := tbl.Prepare(s, "SELECT 1", 20); !isNew {
		t.Fatalf("expected a fresh prepare after delete to mint a new id")
	}
}

func TestExpireIdleRemovesOldDisconnectedSessions(t *testing.T) {
	tbl := New()
	tbl.Connect("c1", "l", "r", 1, 1000)
	tbl.Disconnect("c1", false, 1000)

	tbl.ExpireIdle(1030, 60)
	if _, ok := tbl.ByName("c1"); !ok {
		t.Fatalf("session should still be retained within the idle window")
	}

	tbl.ExpireIdle(1061, 60)
	if _, ok := tbl.ByName("c1"); ok {
		t.Fatalf("session should be expired past the idle window")
	}
}

func TestDisconnectAllSoftMarksLiveSessionsOnly(t *testing.T) {
	tbl := New()
	tbl.Connect("c1", "l", "r", 1, 1000)
	s2 := tbl.Connect("c2", "l", "r", 2, 1000)
	tbl.Disconnect("c2", false, 1000)

	tbl.DisconnectAllSoft(2000)
	s1, _ := tbl.ByName("c1")
	if s1.DisconnectTime != 2000 {
		t.Fatalf("expected live session to be soft-disconnected at term change")
	}
	if s2.DisconnectTime != 1000 {
		t.Fatalf("already-disconnected session's time should not be overwritten")
	}
}
