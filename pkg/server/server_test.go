package server

import (
	"context"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/internal/conn"
	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/config"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/wire"
)

// newLeaderTestServer builds a single-voter Server and forces it to
// leadership the way a real one-node bootstrap would converge almost
// instantly: a lone voter's own prevote grant already satisfies
// quorum (pkg/consensus's startPrevote/startElection).
func newLeaderTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	meta := clustermeta.New("c1")
	if err := meta.Add("n1", "tcp://u@127.0.0.1:9001"); err != nil {
		t.Fatalf("add node: %v", err)
	}

	store, err := logstore.Open(dir, 0, 0)
	if err != nil {
		t.Fatalf("open logstore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := sqlengine.New()
	ap := applier.New("c1", engine)

	cfg := config.Config{
		Name:        "n1",
		ClusterName: "c1",
		BindURL:     "127.0.0.1:0",
		Heartbeat:   1000,
		Directory:   dir,
	}

	srv, err := New(cfg, store, ap, meta, engine)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.poller.Close() })

	srv.node.Tick(context.Background(), 1)
	if !srv.node.IsLeader() {
		t.Fatalf("expected lone voter to become leader on first tick")
	}
	return srv
}

// socketPairClient returns a conn.Client wrapping one end of a real,
// connected, non-blocking unix socketpair, and the raw fd of the
// other end for the test to read responses from directly.
func socketPairClient(t *testing.T) (*conn.Client, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return conn.NewClient(fds[0], "test-client"), fds[1]
}

// drainAndRead flushes c's outbound queue onto its socket and reads
// back the raw bytes visible on the peer end.
func drainAndRead(t *testing.T, c *conn.Client, peerFD int) []byte {
	t.Helper()
	if err := c.Drain(func(b []byte) (int, error) { return unix.Write(c.FD, b) }); err != nil {
		t.Fatalf("drain: %v", err)
	}
	buf := make([]byte, 64*1024)
	n, err := unix.Read(peerFD, buf)
	if err != nil {
		t.Fatalf("read peer end: %v", err)
	}
	return buf[:n]
}

func decodeOneFrame(t *testing.T, raw []byte) (wire.Type, []byte) {
	t.Helper()
	base := conn.NewBase(-1, conn.KindClient, "")
	msgs, err := base.Feed(raw)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(msgs))
	}
	return msgs[0].Type, msgs[0].Body
}

func TestHandleConnectReqGrantsOnLeader(t *testing.T) {
	srv := newLeaderTestServer(t)
	c, peerFD := socketPairClient(t)
	srv.clients[c.FD] = c

	srv.handleConnectReq(c, wire.ConnectReq{Cluster: "c1", Name: "alice"}.Encode())

	typ, body := decodeOneFrame(t, drainAndRead(t, c, peerFD))
	if typ != wire.TypeConnectResp {
		t.Fatalf("expected CONNECT_RESP, got 0x%02x", uint8(typ))
	}
	resp, ok := wire.DecodeConnectResp(body)
	if !ok {
		t.Fatalf("failed to decode CONNECT_RESP")
	}
	if resp.RC != wire.RCOk {
		t.Fatalf("expected RCOk, got %v", resp.RC)
	}
	if !c.Connected || c.Name != "alice" {
		t.Fatalf("expected client tagged connected as alice, got connected=%v name=%q", c.Connected, c.Name)
	}

	sess, ok := srv.applier.Sessions.ByName("alice")
	if !ok {
		t.Fatalf("expected a session registered for alice")
	}
	if sess.ID != c.SessionID {
		t.Fatalf("client SessionID %d does not match registered session %d", c.SessionID, sess.ID)
	}
}

func TestHandleConnectReqRejectsWrongCluster(t *testing.T) {
	srv := newLeaderTestServer(t)
	c, peerFD := socketPairClient(t)
	srv.clients[c.FD] = c

	srv.handleConnectReq(c, wire.ConnectReq{Cluster: "other", Name: "bob"}.Encode())

	typ, body := decodeOneFrame(t, drainAndRead(t, c, peerFD))
	if typ != wire.TypeConnectResp {
		t.Fatalf("expected CONNECT_RESP, got 0x%02x", uint8(typ))
	}
	resp, ok := wire.DecodeConnectResp(body)
	if !ok {
		t.Fatalf("failed to decode CONNECT_RESP")
	}
	if resp.RC != wire.RCClusterNameMismatch {
		t.Fatalf("expected RCClusterNameMismatch, got %v", resp.RC)
	}
	if c.Connected {
		t.Fatalf("client should not be tagged connected after a rejected CONNECT_REQ")
	}
}

func TestHandleClientReqExecutesAndCachesResponse(t *testing.T) {
	srv := newLeaderTestServer(t)
	c, peerFD := socketPairClient(t)
	srv.clients[c.FD] = c

	srv.handleConnectReq(c, wire.ConnectReq{Cluster: "c1", Name: "alice"}.Encode())
	drainAndRead(t, c, peerFD) // discard CONNECT_RESP

	batch := wire.Batch{Ops: []wire.Op{{Kind: wire.OpStmt, SQL: "CREATE TABLE t (id INTEGER)"}}}
	srv.handleClientReq(c, wire.ClientReq{Seq: 1, Batch: batch}.Encode())

	typ, _ := decodeOneFrame(t, drainAndRead(t, c, peerFD))
	if typ != wire.TypeClientResp {
		t.Fatalf("expected CLIENT_RESP, got 0x%02x", uint8(typ))
	}

	sess, ok := srv.applier.Sessions.ByName("alice")
	if !ok {
		t.Fatalf("expected session to still exist")
	}
	if !sess.CheckDuplicate(1) {
		t.Fatalf("expected seq 1 to be recorded as applied on the session")
	}
}

func TestHandleDisconnectReqRemovesSession(t *testing.T) {
	srv := newLeaderTestServer(t)
	c, peerFD := socketPairClient(t)
	srv.clients[c.FD] = c

	srv.handleConnectReq(c, wire.ConnectReq{Cluster: "c1", Name: "alice"}.Encode())
	drainAndRead(t, c, peerFD)

	srv.handleDisconnectReq(c, wire.DisconnectMsg{Flags: 0}.Encode())
	drainAndRead(t, c, peerFD)

	if _, ok := srv.applier.Sessions.ByName("alice"); ok {
		t.Fatalf("expected a clean disconnect to remove the session")
	}
}

func TestHostPortFromNodeURL(t *testing.T) {
	cases := []struct {
		in         string
		host, port string
	}{
		{"tcp://user@127.0.0.1:9001", "127.0.0.1", "9001"},
		{"127.0.0.1:9001", "127.0.0.1", "9001"},
		{"tcp://node1:7000", "node1", "7000"},
	}
	for _, tc := range cases {
		host, port := hostPortFromNodeURL(tc.in)
		if host != tc.host || port != tc.port {
			t.Errorf("hostPortFromNodeURL(%q) = (%q, %q), want (%q, %q)", tc.in, host, port, tc.host, tc.port)
		}
	}
}

func TestPeerAddrResolvesFromMeta(t *testing.T) {
	srv := newLeaderTestServer(t)
	if err := srv.meta.Add("n2", "tcp://u@10.0.0.2:9002"); err != nil {
		t.Fatalf("add node: %v", err)
	}

	host, port, err := srv.peerAddr("n2")
	if err != nil {
		t.Fatalf("peerAddr: %v", err)
	}
	if host != "10.0.0.2" || port != 9002 {
		t.Fatalf("peerAddr(n2) = (%q, %d), want (10.0.0.2, 9002)", host, port)
	}

	if _, _, err := srv.peerAddr("unknown"); err == nil {
		t.Fatalf("expected an error resolving an unknown peer")
	}
}
