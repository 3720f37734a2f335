package consensus

import (
	"context"
	"fmt"

	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/entry"
	"github.com/resql/resql/pkg/session"
	"github.com/resql/resql/pkg/wire"
)

// ResolveClientBatch converts a client-facing wire.Batch into the
// denser applier.Batch persisted in REQUEST entries (spec.md §6 vs
// §4.7: two deliberately distinct codecs). An OpStmtID is resolved
// here, against sess's own prepared-statement text, into a plain
// OpStmt — every replica then applies an already-flattened statement
// and never repeats the id lookup.
func ResolveClientBatch(sess *session.Session, batch wire.Batch) (applier.Batch, error) {
	out := applier.Batch{Ops: make([]applier.Op, 0, len(batch.Ops))}
	for _, op := range batch.Ops {
		switch op.Kind {
		case wire.OpStmt:
			out.Ops = append(out.Ops, applier.Op{Kind: applier.OpStmt, SQL: op.SQL, Params: convertParams(op.Params)})
		case wire.OpStmtPrepare:
			out.Ops = append(out.Ops, applier.Op{Kind: applier.OpStmtPrepare, SQL: op.SQL, Params: convertParams(op.Params)})
		case wire.OpStmtID:
			sql, ok := sess.Statements[op.StmtID]
			if !ok {
				return applier.Batch{}, fmt.Errorf("consensus: unknown prepared statement id %d for session %q", op.StmtID, sess.Name)
			}
			out.Ops = append(out.Ops, applier.Op{Kind: applier.OpStmt, SQL: sql, Params: convertParams(op.Params)})
		case wire.OpStmtDelPrepared:
			out.Ops = append(out.Ops, applier.Op{Kind: applier.OpStmtDelPrepared, StmtID: op.StmtID})
		default:
			return applier.Batch{}, fmt.Errorf("consensus: unknown batch op kind 0x%02x", op.Kind)
		}
	}
	return out, nil
}

func convertParams(ps []wire.Param) []applier.Param {
	if len(ps) == 0 {
		return nil
	}
	out := make([]applier.Param, len(ps))
	for i, p := range ps {
		if p.Bind == wire.BindName {
			out[i] = applier.Param{Kind: applier.ParamByName, Name: p.Name, Value: p.Value}
		} else {
			out[i] = applier.Param{Kind: applier.ParamByIndex, Index: int(p.Index), Value: p.Value}
		}
	}
	return out
}

// ProposeRequest resolves a connected client's batch against sess,
// appends it as a REQUEST entry at the leader's log tip, applies it
// locally (the same eager-apply-then-replicate idiom becomeLeader
// uses for INIT/META/TERM), and returns the response bytes the
// session cached for this seq. Returns ok=false if this node is not
// currently the leader — callers must reply NOT_LEADER in that case.
func (n *Node) ProposeRequest(sess *session.Session, seq uint64, batch wire.Batch) (resp []byte, ok bool, err error) {
	if n.role != RoleLeader {
		return nil, false, nil
	}
	if sess.CheckDuplicate(seq) {
		return sess.Resp, true, nil
	}

	resolved, err := ResolveClientBatch(sess, batch)
	if err != nil {
		return nil, true, err
	}
	payload := applier.EncodeBatch(resolved)

	index, cerr := n.log.CreateEntry(n.currentTerm, seq, sess.ID, entry.FlagRequest, payload)
	if cerr != nil {
		return nil, true, cerr
	}
	e, found := n.log.EntryAt(index)
	if !found {
		return nil, true, fmt.Errorf("consensus: appended entry %d not readable back", index)
	}
	if aerr := n.applyIndex(context.Background(), index, e); aerr != nil {
		return nil, true, aerr
	}
	n.BroadcastAppend()
	return sess.Resp, true, nil
}

// ProposeConnect appends and locally applies a CONNECT entry for a
// newly accepted client, the same eager-apply-then-replicate idiom
// ProposeRequest uses. Returns ok=false if not currently leader.
func (n *Node) ProposeConnect(name, local, remote string) (ok bool, err error) {
	if n.role != RoleLeader {
		return false, nil
	}
	payload := applier.EncodeConnectPayload(name, local, remote)
	index, cerr := n.log.CreateEntry(n.currentTerm, 0, 0, entry.FlagConnect, payload)
	if cerr != nil {
		return true, cerr
	}
	e, found := n.log.EntryAt(index)
	if !found {
		return true, fmt.Errorf("consensus: appended entry %d not readable back", index)
	}
	if aerr := n.applyIndex(context.Background(), index, e); aerr != nil {
		return true, aerr
	}
	n.BroadcastAppend()
	return true, nil
}

// ProposeDisconnect appends and locally applies a DISCONNECT entry for
// a client that has hung up or sent DISCONNECT_REQ.
func (n *Node) ProposeDisconnect(name string, clean bool) (ok bool, err error) {
	if n.role != RoleLeader {
		return false, nil
	}
	payload := applier.EncodeDisconnectPayload(name, clean)
	index, cerr := n.log.CreateEntry(n.currentTerm, 0, 0, entry.FlagDisconnect, payload)
	if cerr != nil {
		return true, cerr
	}
	e, found := n.log.EntryAt(index)
	if !found {
		return true, fmt.Errorf("consensus: appended entry %d not readable back", index)
	}
	if aerr := n.applyIndex(context.Background(), index, e); aerr != nil {
		return true, aerr
	}
	n.BroadcastAppend()
	return true, nil
}
