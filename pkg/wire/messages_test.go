package wire

import "testing"

func TestConnectReqRoundTrip(t *testing.T) {
	m := ConnectReq{Flags: 3, Protocol: "resql1", Cluster: "cluster1", Name: "node-a"}
	decoded, ok := DecodeConnectReq(m.Encode())
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, m)
	}
}

func TestConnectRespRoundTrip(t *testing.T) {
	m := ConnectResp{RC: RCOk, Seq: 5, Term: 9, Nodes: "tcp://a:1 tcp://b:2"}
	decoded, ok := DecodeConnectResp(m.Encode())
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, m)
	}
}

func TestClientReqRoundTrip(t *testing.T) {
	m := ClientReq{
		Readonly: true,
		Seq:      12,
		Batch:    Batch{Ops: []Op{{Kind: OpStmt, SQL: "SELECT 1"}}},
	}
	encoded := m.Encode()
	decoded, err := DecodeClientReq(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Readonly != m.Readonly || decoded.Seq != m.Seq {
		t.Fatalf("scalar mismatch: %+v", decoded)
	}
	if len(decoded.Batch.Ops) != 1 || decoded.Batch.Ops[0].SQL != "SELECT 1" {
		t.Fatalf("batch mismatch: %+v", decoded.Batch)
	}
}

func TestAppendReqRoundTrip(t *testing.T) {
	m := AppendReq{Term: 4, PrevIndex: 10, PrevTerm: 3, LeaderCommit: 9, Round: 1, Entries: []byte("entrybytes")}
	decoded, ok := DecodeAppendReq(m.Encode())
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded.Term != m.Term || decoded.PrevIndex != m.PrevIndex || string(decoded.Entries) != string(m.Entries) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestAppendRespRoundTrip(t *testing.T) {
	m := AppendResp{Term: 4, Index: 11, Round: 1, Success: true}
	decoded, ok := DecodeAppendResp(m.Encode())
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != m {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, m)
	}
}

func TestVoteReqRespRoundTrip(t *testing.T) {
	req := VoteReq{Term: 6, LastTerm: 5, LastIdx: 20}
	decodedReq, ok := DecodeVoteReq(req.Encode())
	if !ok || decodedReq != req {
		t.Fatalf("vote req round trip mismatch: %+v", decodedReq)
	}

	resp := VoteResp{Term: 6, Idx: 20, Granted: true}
	decodedResp, ok := DecodeVoteResp(resp.Encode())
	if !ok || decodedResp != resp {
		t.Fatalf("vote resp round trip mismatch: %+v", decodedResp)
	}
}

func TestSnapshotReqRespRoundTrip(t *testing.T) {
	req := SnapshotReq{Term: 2, SSTerm: 1, SSIndex: 50, Offset: 1024, Done: true, Bytes: []byte("chunk")}
	decodedReq, ok := DecodeSnapshotReq(req.Encode())
	if !ok || decodedReq.SSIndex != req.SSIndex || string(decodedReq.Bytes) != string(req.Bytes) {
		t.Fatalf("snapshot req round trip mismatch: %+v", decodedReq)
	}

	resp := SnapshotResp{Term: 2, Success: true, Done: true}
	decodedResp, ok := DecodeSnapshotResp(resp.Encode())
	if !ok || decodedResp != resp {
		t.Fatalf("snapshot resp round trip mismatch: %+v", decodedResp)
	}
}

func TestShutdownReqRoundTrip(t *testing.T) {
	m := ShutdownReq{Now: true}
	decoded, ok := DecodeShutdownReq(m.Encode())
	if !ok || decoded != m {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDisconnectMsgRoundTrip(t *testing.T) {
	m := DisconnectMsg{RC: RCNotLeader, Flags: 1}
	decoded, ok := DecodeDisconnectMsg(m.Encode())
	if !ok || decoded != m {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
