// Package applier implements the state applier of spec.md §4.7: it
// receives committed (index, entry) pairs in strict log order and
// dispatches on the entry's command flag, advancing every piece of
// replicated state (meta, sessions, the SQL engine, the deterministic
// clock and RNG) identically on every replica.
package applier

import (
	"context"
	"fmt"
	"strings"

	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/session"
	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/status"
)

const sessionIdleSeconds = 60

// ConfigCallbacks are invoked by the `resql(command, arg)` scalar SQL
// function (spec.md §4.7 "Config function"). The consensus core
// supplies these; invocations enqueue out-of-band work for the next
// main-loop turn rather than executing inline, since the applier must
// stay a pure function of (state, entry).
type ConfigCallbacks struct {
	AddNode    func(arg string)
	RemoveNode func(arg string)
	Shutdown   func(arg string)
	MaxSize    func(arg string)
}

// deniedPrefix is the table-name prefix user SQL may never write, and
// resql_clients.resp is the one column it may never read (spec.md
// §4.7 "Authorization denylist").
const deniedPrefix = "resql"

// State is all replicated state the applier owns and advances.
type State struct {
	Index uint64
	Term  uint64

	SSTerm  uint64
	SSIndex uint64

	Cluster     string
	Meta        *clustermeta.Meta
	Sessions    *session.Table
	Engine      sqlengine.Engine
	Realtime    int64
	Monotonic   int64
	writeRNG    *rng
	initialized bool

	Callbacks ConfigCallbacks
}

// New returns an applier State bound to the given engine and an empty
// meta/session table. Callers restoring from a snapshot should instead
// populate State's fields directly from the snapshot blob.
func New(cluster string, engine sqlengine.Engine) *State {
	return &State{
		Cluster:  cluster,
		Meta:     clustermeta.New(cluster),
		Sessions: session.New(),
		Engine:   engine,
	}
}

// Apply applies one committed entry. Precondition: index == s.Index+1.
func (s *State) Apply(ctx context.Context, index uint64, e entry.Entry) error {
	if index != s.Index+1 {
		return status.New(status.KindPeerFatal, fmt.Errorf("applier: out-of-order apply, want %d got %d", s.Index+1, index))
	}

	switch e.Flags {
	case entry.FlagInit:
		if err := s.applyInit(e); err != nil {
			return err
		}
	case entry.FlagMeta:
		s.applyMeta(index, e)
	case entry.FlagTerm:
		s.applyTerm(e)
	case entry.FlagTimestamp:
		s.applyTimestamp(e)
	case entry.FlagConnect:
		s.applyConnect(index, e)
	case entry.FlagDisconnect:
		s.applyDisconnect(e)
	case entry.FlagInfo:
		s.applyInfo(e)
	case entry.FlagLog:
		// Audit message: nothing beyond bookkeeping is required of the
		// in-memory state; resql_log persistence lives in the SQL
		// engine's own tables via a direct insert, not modeled here.
	case entry.FlagRequest:
		if _, err := s.ApplyRequest(ctx, e); err != nil {
			return err
		}
	default:
		return status.New(status.KindPeerFatal, fmt.Errorf("applier: unknown flag %v at index %d", e.Flags, index))
	}

	s.Index = index
	s.Term = e.Term
	return nil
}

// applyInit seeds the deterministic RNG from the first 8 payload bytes.
// Exactly once per cluster lifetime (spec.md §4.7). It does not set the
// clocks: Realtime and Monotonic keep their zero values until the first
// TIMESTAMP entry is applied.
func (s *State) applyInit(e entry.Entry) error {
	if s.initialized {
		return status.New(status.KindPeerFatal, fmt.Errorf("applier: duplicate INIT entry"))
	}
	if len(e.Payload) < 8 {
		return status.New(status.KindPeerFatal, fmt.Errorf("applier: INIT payload too short"))
	}
	var seed uint64
	for i := 0; i < 8; i++ {
		seed |= uint64(e.Payload[i]) << (8 * i)
	}
	s.writeRNG = newRNG(seed)
	s.initialized = true
	return nil
}

// applyMeta adopts or reconciles membership. Applying a META entry at
// the same index it was proposed at clears Meta.Prev, completing an
// in-flight membership change (spec.md §4.7).
func (s *State) applyMeta(index uint64, e entry.Entry) {
	decoded, err := clustermeta.Decode(e.Payload)
	if err != nil {
		return
	}
	s.Meta = decoded
	if s.Meta.Index == index {
		s.Meta.CompleteChange()
	}
}

// applyTerm records a new leader term and soft-disconnects every live
// session (they may resume within the idle window).
func (s *State) applyTerm(e entry.Entry) {
	s.Sessions.DisconnectAllSoft(s.Realtime)
}

// applyTimestamp advances the replicated clocks and reaps idle
// disconnected sessions.
func (s *State) applyTimestamp(e entry.Entry) {
	if len(e.Payload) < 16 {
		return
	}
	var realtime, monotonic int64
	for i := 0; i < 8; i++ {
		realtime |= int64(e.Payload[i]) << (8 * i)
	}
	for i := 0; i < 8; i++ {
		monotonic |= int64(e.Payload[8+i]) << (8 * i)
	}
	s.Realtime = realtime
	s.Monotonic = monotonic
	s.Sessions.ExpireIdle(s.Realtime, sessionIdleSeconds)
}

type connectPayload struct {
	Name, Local, Remote string
}

func decodeConnect(payload []byte) connectPayload {
	parts := strings.SplitN(string(payload), "\x00", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return connectPayload{Name: parts[0], Local: parts[1], Remote: parts[2]}
}

// EncodeConnectPayload builds a CONNECT entry payload from its three
// NUL-separated fields.
func EncodeConnectPayload(name, local, remote string) []byte {
	return []byte(name + "\x00" + local + "\x00" + remote)
}

func (s *State) applyConnect(index uint64, e entry.Entry) {
	p := decodeConnect(e.Payload)
	s.Sessions.Connect(p.Name, p.Local, p.Remote, index, s.Realtime)
}

// EncodeDisconnectPayload builds a DISCONNECT entry payload.
func EncodeDisconnectPayload(name string, clean bool) []byte {
	flag := byte(0)
	if clean {
		flag = 1
	}
	return append([]byte(name+"\x00"), flag)
}

func (s *State) applyDisconnect(e entry.Entry) {
	if len(e.Payload) == 0 {
		return
	}
	body := e.Payload[:len(e.Payload)-1]
	clean := e.Payload[len(e.Payload)-1] != 0
	s.Sessions.Disconnect(string(body), clean, s.Realtime)
}

func (s *State) applyInfo(e entry.Entry) {
	// Per-node metrics are absorbed into resql_info via a direct
	// engine insert in the full system; the in-memory State has no
	// separate metrics table to update here.
}

// ApplyRequest runs a REQUEST entry's operation batch: prepare/bind/
// step each operation inside one transaction, serializing results or
// rolling back and producing an error response on the first failure.
// It also implements the session-level dedup and response-cache
// invariant of spec.md §3 when sess is non-nil.
func (s *State) ApplyRequest(ctx context.Context, e entry.Entry) ([]byte, error) {
	sess, hasSession := s.Sessions.ByID(e.CID)
	if hasSession && sess.CheckDuplicate(e.Seq) {
		return sess.Resp, nil
	}

	batch, ok := DecodeBatch(e.Payload)
	if !ok {
		return nil, status.New(status.KindPeerFatal, fmt.Errorf("applier: malformed REQUEST payload at cid=%d seq=%d", e.CID, e.Seq))
	}

	s.installDeterminism(false)

	if err := s.Engine.Begin(); err != nil {
		return nil, status.New(status.KindDiskFatal, err)
	}

	newIndex := s.Index + 1
	var applySess *session.Session
	if hasSession {
		applySess = sess
	}
	results, execErr := s.runBatch(ctx, batch, applySess, newIndex)
	var resp []byte
	if execErr != nil {
		s.Engine.Rollback()
		resp = EncodeErrorResponse(execErr.Error())
	} else {
		if err := s.Engine.Commit(); err != nil {
			return nil, status.New(status.KindDiskFatal, err)
		}
		resp = EncodeResponse(results)
	}

	if hasSession {
		sess.RecordResponse(e.Seq, resp)
	}
	return resp, nil
}

// ApplyReadonly executes a batch without a log entry and without
// mutating Index/Term, using a read-RNG reseeded from the write-RNG's
// current state (spec.md §4.7's read-vs-write RNG split).
func (s *State) ApplyReadonly(ctx context.Context, batch Batch) ([]byte, error) {
	s.installDeterminism(true)
	if err := s.Engine.Begin(); err != nil {
		return nil, status.New(status.KindDiskFatal, err)
	}
	results, err := s.runBatch(ctx, batch, nil, 0)
	if err != nil {
		s.Engine.Rollback()
		return EncodeErrorResponse(err.Error()), nil
	}
	s.Engine.Rollback() // readonly: never persist, even on success
	return EncodeResponse(results), nil
}

func (s *State) installDeterminism(readonly bool) {
	s.Engine.SetClock(&clock{realtime: s.Realtime, monotonic: s.Monotonic})
	if s.writeRNG == nil {
		s.writeRNG = newRNG(0)
	}
	if readonly {
		s.Engine.SetRNG(newRNG(s.writeRNG.seedFrom()))
	} else {
		s.Engine.SetRNG(s.writeRNG)
	}
	s.Engine.SetConfigFunc(s.dispatchConfig)
}

// dispatchConfig backs the `resql(command, arg)` scalar SQL function
// (spec.md §4.7 "Config function"): it routes to whichever callback
// the consensus core registered in Callbacks, enqueueing the actual
// membership change or shutdown for the next main-loop turn rather
// than acting inline, since Apply must stay a pure function of
// (state, entry).
func (s *State) dispatchConfig(command, arg string) error {
	switch strings.ToLower(command) {
	case "add-node":
		if s.Callbacks.AddNode == nil {
			return fmt.Errorf("applier: add-node is not available on this node")
		}
		s.Callbacks.AddNode(arg)
	case "remove-node":
		if s.Callbacks.RemoveNode == nil {
			return fmt.Errorf("applier: remove-node is not available on this node")
		}
		s.Callbacks.RemoveNode(arg)
	case "shutdown":
		if s.Callbacks.Shutdown == nil {
			return fmt.Errorf("applier: shutdown is not available on this node")
		}
		s.Callbacks.Shutdown(arg)
	case "max-size":
		if s.Callbacks.MaxSize == nil {
			return fmt.Errorf("applier: max-size is not available on this node")
		}
		s.Callbacks.MaxSize(arg)
	default:
		return fmt.Errorf("applier: unknown resql() command %q", command)
	}
	return nil
}

// runBatch executes batch within the already-open engine transaction.
// sess/index are the owning session and the log index this batch is
// being applied at (both zero-valued for a readonly batch, which
// never touches prepared-statement bookkeeping); they let an
// OpStmtPrepare op register its id in the session table at the same
// index on every replica; the id is assigned here, at apply time, not
// when the leader resolves the client's wire batch. A prepare never
// executes the statement (spec.md §8 S2 prepares, then separately
// executes, the same statement); its result carries only the assigned
// id, smuggled through the result's LastInsert field since the wire
// response batch body has no dedicated slot for it.
func (s *State) runBatch(ctx context.Context, batch Batch, sess *session.Session, index uint64) ([]StmtResult, error) {
	results := make([]StmtResult, 0, len(batch.Ops))
	for _, op := range batch.Ops {
		switch op.Kind {
		case OpStmtPrepare:
			if err := checkAuthorization(op.SQL); err != nil {
				return nil, err
			}
			var id uint64
			if sess != nil {
				id, _ = s.Sessions.Prepare(sess, op.SQL, index)
			}
			results = append(results, StmtResult{LastInsert: int64(id)})
		case OpStmt:
			if err := checkAuthorization(op.SQL); err != nil {
				return nil, err
			}
			r, err := s.execOp(ctx, op)
			if err != nil {
				return nil, err
			}
			results = append(results, r)
		case OpStmtID:
			// A leader resolves OpStmtID against the session's
			// prepared-statement text before proposing the entry
			// (pkg/consensus.ResolveClientBatch), so a REQUEST entry
			// should never carry one of these by the time it is
			// applied here.
			return nil, fmt.Errorf("applier: unresolved prepared statement id %d", op.StmtID)
		case OpStmtDelPrepared:
			if sess != nil {
				s.Sessions.DeletePrepared(sess, op.StmtID)
			}
			results = append(results, StmtResult{})
		}
	}
	return results, nil
}

func (s *State) execOp(ctx context.Context, op Op) (StmtResult, error) {
	stmt, err := s.Engine.Prepare(op.SQL)
	if err != nil {
		return StmtResult{}, err
	}
	defer stmt.Finalize()
	for _, p := range op.Params {
		if p.Kind == ParamByName {
			if err := stmt.BindName(p.Name, p.Value); err != nil {
				return StmtResult{}, err
			}
		} else if err := stmt.BindIndex(p.Index, p.Value); err != nil {
			return StmtResult{}, err
		}
	}
	res, err := stmt.Step(ctx)
	if err != nil {
		return StmtResult{}, err
	}
	return StmtResult{Changed: res.Changed, LastInsert: res.LastInsert, Columns: res.Columns, Rows: res.Rows}, nil
}

// checkAuthorization enforces spec.md §4.7's denylist: no reading
// resql_clients.resp, no writing any resql-prefixed table.
func checkAuthorization(sql string) error {
	lower := strings.ToLower(sql)
	if strings.Contains(lower, "resql_clients") && strings.Contains(lower, "resp") {
		return fmt.Errorf("applier: access to resql_clients.resp is not permitted")
	}
	for _, kw := range []string{"insert into", "update", "delete from", "create table", "drop table", "alter table"} {
		if idx := strings.Index(lower, kw); idx >= 0 {
			rest := strings.TrimSpace(lower[idx+len(kw):])
			if strings.HasPrefix(rest, deniedPrefix) {
				return fmt.Errorf("applier: writes to %s-prefixed tables are not permitted", deniedPrefix)
			}
		}
	}
	return nil
}
