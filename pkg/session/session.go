// Package session implements the per-named-client session table of
// spec.md §4.8: connect/disconnect bookkeeping, sequence-number dedup,
// response caching, and a content-addressed prepared-statement map.
// The table is not written into a snapshot file, which holds only the
// SQL engine's contents.
package session

import "fmt"

// Session is a durable per-client record.
type Session struct {
	Name   string
	ID     uint64 // log index at which the client connected
	Seq    uint64 // last acknowledged sequence number
	Local  string
	Remote string

	ConnectTime    int64
	DisconnectTime int64 // 0 while live

	// Resp caches the response bytes of the last committed REQUEST,
	// returned verbatim when a retry arrives with the same Seq.
	Resp []byte

	// Statements maps a prepared-statement id (the log index at which
	// it was replicated) to its source SQL text, so a Table can
	// content-address by text without touching the SQL engine.
	Statements map[uint64]string
}

func (s *Session) disconnected() bool { return s.DisconnectTime != 0 }

// Table indexes sessions by name and by id, and indexes prepared
// statements by their SQL text for content-addressing.
type Table struct {
	byName map[string]*Session
	byID   map[uint64]*Session
	byText map[string]uint64 // SQL text -> statement id, across all sessions
}

// New returns an empty session table.
func New() *Table {
	return &Table{
		byName: make(map[string]*Session),
		byID:   make(map[uint64]*Session),
		byText: make(map[string]uint64),
	}
}

// Connect returns the existing session for name, transferring its id
// and seq forward, or creates a new one with id = logIndex. Either way
// the returned session is marked connected at logIndex's apply time.
func (t *Table) Connect(name, local, remote string, logIndex uint64, now int64) *Session {
	if s, ok := t.byName[name]; ok {
		s.Local, s.Remote = local, remote
		s.ConnectTime = now
		s.DisconnectTime = 0
		return s
	}
	s := &Session{
		Name:        name,
		ID:          logIndex,
		Local:       local,
		Remote:      remote,
		ConnectTime: now,
		Statements:  make(map[uint64]string),
	}
	t.byName[name] = s
	t.byID[s.ID] = s
	return s
}

// Disconnect marks name's session disconnected (retained for 60s
// reconnect-with-continuity) or, if clean is true, removes it and its
// prepared statements outright.
func (t *Table) Disconnect(name string, clean bool, now int64) {
	s, ok := t.byName[name]
	if !ok {
		return
	}
	if clean {
		t.remove(s)
		return
	}
	s.DisconnectTime = now
}

func (t *Table) remove(s *Session) {
	delete(t.byName, s.Name)
	delete(t.byID, s.ID)
	for id, text := range s.Statements {
		if t.byText[text] == id {
			delete(t.byText, text)
		}
	}
}

// ExpireIdle removes every disconnected session whose disconnect
// happened more than idleSeconds ago as of nowUnix (spec.md §4.7
// TIMESTAMP handling).
func (t *Table) ExpireIdle(nowUnix int64, idleSeconds int64) {
	for _, s := range t.byID {
		if s.disconnected() && nowUnix-s.DisconnectTime > idleSeconds {
			t.remove(s)
		}
	}
}

// DisconnectAllSoft marks every live session disconnected without
// removing it, used on a new TERM entry (spec.md §4.7 TERM handling).
func (t *Table) DisconnectAllSoft(now int64) {
	for _, s := range t.byID {
		if !s.disconnected() {
			s.DisconnectTime = now
		}
	}
}

// ByName looks up a session by client name.
func (t *Table) ByName(name string) (*Session, bool) {
	s, ok := t.byName[name]
	return s, ok
}

// ByID looks up a session by id.
func (t *Table) ByID(id uint64) (*Session, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// CheckDuplicate reports whether seq has already been applied for
// this session (the response is cached and should be replayed as-is
// instead of re-executing), per spec.md §3's session invariant.
func (s *Session) CheckDuplicate(seq uint64) bool {
	return seq == s.Seq && s.Resp != nil
}

// RecordResponse advances Seq and stores the response bytes for the
// applied request at seq.
func (s *Session) RecordResponse(seq uint64, resp []byte) error {
	if seq <= s.Seq && s.Resp != nil {
		return fmt.Errorf("session: seq %d is not newer than last applied %d for %q", seq, s.Seq, s.Name)
	}
	s.Seq = seq
	s.Resp = resp
	return nil
}

// Prepare content-addresses sql: if an identical statement was already
// prepared (by any session, since the map is shared by text), its id
// is returned and reused (isNew=false). Otherwise a new id of
// logIndex is minted.
func (t *Table) Prepare(s *Session, sql string, logIndex uint64) (id uint64, isNew bool) {
	if existing, ok := t.byText[sql]; ok {
		s.Statements[existing] = sql
		return existing, false
	}
	s.Statements[logIndex] = sql
	t.byText[sql] = logIndex
	return logIndex, true
}

// DeletePrepared removes a prepared statement id from s, and drops the
// shared text mapping if this session owned the canonical entry.
func (t *Table) DeletePrepared(s *Session, id uint64) {
	text, ok := s.Statements[id]
	if !ok {
		return
	}
	delete(s.Statements, id)
	if t.byText[text] == id {
		delete(t.byText, text)
	}
}

// Len returns the number of sessions currently tracked (live or
// soft-disconnected).
func (t *Table) Len() int { return len(t.byID) }

// All returns every tracked session (live or soft-disconnected), for
// read-only enumeration by the admin plane. Callers must not mutate
// the returned sessions.
func (t *Table) All() []*Session {
	out := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	return out
}
