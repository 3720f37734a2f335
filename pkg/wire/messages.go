package wire

import "github.com/resql/resql/pkg/buffer"

// ConnectReq is CONNECT_REQ's body: u32 flags | str protocol | str
// cluster | str name.
type ConnectReq struct {
	Flags    uint32
	Protocol string
	Cluster  string
	Name     string
}

func (m ConnectReq) Encode() []byte {
	b := buffer.New(64)
	b.PutU32(m.Flags)
	b.PutString(m.Protocol)
	b.PutString(m.Cluster)
	b.PutString(m.Name)
	return finish(b)
}

func DecodeConnectReq(body []byte) (ConnectReq, bool) {
	b := buffer.Wrap(body)
	var m ConnectReq
	m.Flags = b.GetU32()
	m.Protocol, _ = b.GetString()
	m.Cluster, _ = b.GetString()
	m.Name, _ = b.GetString()
	return m, b.Valid()
}

// ConnectResp is CONNECT_RESP's body: u8 rc | u64 seq | u64 term | str
// nodes.
type ConnectResp struct {
	RC    RC
	Seq   uint64
	Term  uint64
	Nodes string
}

func (m ConnectResp) Encode() []byte {
	b := buffer.New(64)
	b.PutU8(uint8(m.RC))
	b.PutU64(m.Seq)
	b.PutU64(m.Term)
	b.PutString(m.Nodes)
	return finish(b)
}

func DecodeConnectResp(body []byte) (ConnectResp, bool) {
	b := buffer.Wrap(body)
	var m ConnectResp
	m.RC = RC(b.GetU8())
	m.Seq = b.GetU64()
	m.Term = b.GetU64()
	m.Nodes, _ = b.GetString()
	return m, b.Valid()
}

// DisconnectReq/Resp share a body: u8 rc | u32 flags.
type DisconnectMsg struct {
	RC    RC
	Flags uint32
}

func (m DisconnectMsg) Encode() []byte {
	b := buffer.New(8)
	b.PutU8(uint8(m.RC))
	b.PutU32(m.Flags)
	return finish(b)
}

func DecodeDisconnectMsg(body []byte) (DisconnectMsg, bool) {
	b := buffer.Wrap(body)
	var m DisconnectMsg
	m.RC = RC(b.GetU8())
	m.Flags = b.GetU32()
	return m, b.Valid()
}

// ClientReq is CLIENT_REQ's body: u8 readonly | u64 seq | batch.
type ClientReq struct {
	Readonly bool
	Seq      uint64
	Batch    Batch
}

func (m ClientReq) Encode() []byte {
	b := buffer.New(128)
	if m.Readonly {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	b.PutU64(m.Seq)
	b.PutRaw(EncodeBatch(m.Batch))
	return finish(b)
}

func DecodeClientReq(body []byte) (ClientReq, error) {
	b := buffer.Wrap(body)
	var m ClientReq
	m.Readonly = b.GetU8() != 0
	m.Seq = b.GetU64()
	batch, err := DecodeBatch(b.RBytes())
	if err != nil {
		return ClientReq{}, err
	}
	m.Batch = batch
	return m, nil
}

// AppendReq is APPEND_REQ's body: u64 term | u64 prev_idx | u64
// prev_term | u64 leader_commit | u64 round | entries (raw bytes, a
// contiguous run of encoded log entries, see pkg/entry).
type AppendReq struct {
	Term         uint64
	PrevIndex    uint64
	PrevTerm     uint64
	LeaderCommit uint64
	Round        uint64
	Entries      []byte
}

func (m AppendReq) Encode() []byte {
	b := buffer.New(64 + len(m.Entries))
	b.PutU64(m.Term)
	b.PutU64(m.PrevIndex)
	b.PutU64(m.PrevTerm)
	b.PutU64(m.LeaderCommit)
	b.PutU64(m.Round)
	b.PutRaw(m.Entries)
	return finish(b)
}

func DecodeAppendReq(body []byte) (AppendReq, bool) {
	b := buffer.Wrap(body)
	var m AppendReq
	m.Term = b.GetU64()
	m.PrevIndex = b.GetU64()
	m.PrevTerm = b.GetU64()
	m.LeaderCommit = b.GetU64()
	m.Round = b.GetU64()
	m.Entries = append([]byte{}, b.RBytes()...)
	return m, b.Valid()
}

// AppendResp is APPEND_RESP's body: u64 term | u64 index | u64 round |
// u8 success.
type AppendResp struct {
	Term    uint64
	Index   uint64
	Round   uint64
	Success bool
}

func (m AppendResp) Encode() []byte {
	b := buffer.New(32)
	b.PutU64(m.Term)
	b.PutU64(m.Index)
	b.PutU64(m.Round)
	if m.Success {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	return finish(b)
}

func DecodeAppendResp(body []byte) (AppendResp, bool) {
	b := buffer.Wrap(body)
	var m AppendResp
	m.Term = b.GetU64()
	m.Index = b.GetU64()
	m.Round = b.GetU64()
	m.Success = b.GetU8() != 0
	return m, b.Valid()
}

// VoteReq is the shared PREVOTE_REQ/REQVOTE_REQ body: u64 term | u64
// last_term | u64 last_idx.
type VoteReq struct {
	Term     uint64
	LastTerm uint64
	LastIdx  uint64
}

func (m VoteReq) Encode() []byte {
	b := buffer.New(24)
	b.PutU64(m.Term)
	b.PutU64(m.LastTerm)
	b.PutU64(m.LastIdx)
	return finish(b)
}

func DecodeVoteReq(body []byte) (VoteReq, bool) {
	b := buffer.Wrap(body)
	var m VoteReq
	m.Term = b.GetU64()
	m.LastTerm = b.GetU64()
	m.LastIdx = b.GetU64()
	return m, b.Valid()
}

// VoteResp is the shared PREVOTE_RESP/REQVOTE_RESP body: u64 term |
// u64 idx | u8 granted.
type VoteResp struct {
	Term    uint64
	Idx     uint64
	Granted bool
}

func (m VoteResp) Encode() []byte {
	b := buffer.New(24)
	b.PutU64(m.Term)
	b.PutU64(m.Idx)
	if m.Granted {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	return finish(b)
}

func DecodeVoteResp(body []byte) (VoteResp, bool) {
	b := buffer.Wrap(body)
	var m VoteResp
	m.Term = b.GetU64()
	m.Idx = b.GetU64()
	m.Granted = b.GetU8() != 0
	return m, b.Valid()
}

// SnapshotReq is SNAPSHOT_REQ's body: u64 term | u64 ss_term | u64
// ss_idx | u64 offset | u8 done | bytes.
type SnapshotReq struct {
	Term    uint64
	SSTerm  uint64
	SSIndex uint64
	Offset  uint64
	Done    bool
	Bytes   []byte
}

func (m SnapshotReq) Encode() []byte {
	b := buffer.New(40 + len(m.Bytes))
	b.PutU64(m.Term)
	b.PutU64(m.SSTerm)
	b.PutU64(m.SSIndex)
	b.PutU64(m.Offset)
	if m.Done {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	b.PutRaw(m.Bytes)
	return finish(b)
}

func DecodeSnapshotReq(body []byte) (SnapshotReq, bool) {
	b := buffer.Wrap(body)
	var m SnapshotReq
	m.Term = b.GetU64()
	m.SSTerm = b.GetU64()
	m.SSIndex = b.GetU64()
	m.Offset = b.GetU64()
	m.Done = b.GetU8() != 0
	m.Bytes = append([]byte{}, b.RBytes()...)
	return m, b.Valid()
}

// SnapshotResp is SNAPSHOT_RESP's body: u64 term | u8 success | u8 done.
type SnapshotResp struct {
	Term    uint64
	Success bool
	Done    bool
}

func (m SnapshotResp) Encode() []byte {
	b := buffer.New(16)
	b.PutU64(m.Term)
	if m.Success {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	if m.Done {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	return finish(b)
}

func DecodeSnapshotResp(body []byte) (SnapshotResp, bool) {
	b := buffer.Wrap(body)
	var m SnapshotResp
	m.Term = b.GetU64()
	m.Success = b.GetU8() != 0
	m.Done = b.GetU8() != 0
	return m, b.Valid()
}

// ShutdownReq is SHUTDOWN_REQ's body: u8 now.
type ShutdownReq struct {
	Now bool
}

func (m ShutdownReq) Encode() []byte {
	b := buffer.New(1)
	if m.Now {
		b.PutU8(1)
	} else {
		b.PutU8(0)
	}
	return finish(b)
}

func DecodeShutdownReq(body []byte) (ShutdownReq, bool) {
	b := buffer.Wrap(body)
	var m ShutdownReq
	m.Now = b.GetU8() != 0
	return m, b.Valid()
}

func finish(b *buffer.Buffer) []byte {
	out := make([]byte, b.Len())
	copy(out, b.Bytes())
	return out
}
