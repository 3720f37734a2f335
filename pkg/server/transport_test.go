package server

import (
	"strconv"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/pkg/wire"
)

// newListener opens a loopback TCP listener on an OS-assigned port,
// returning its fd and the port so a test can dial it the same way
// dialPeer does.
func newListener(t *testing.T) (fd int, port int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := unix.Listen(fd, 4); err != nil {
		t.Fatalf("listen: %v", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected an IPv4 socket address")
	}
	return fd, in4.Port
}

func TestDialPeerConnectsAndRegistersWithPoller(t *testing.T) {
	srv := newLeaderTestServer(t)
	_, port := newListener(t)

	if err := srv.meta.Add("n2", portURL(port)); err != nil {
		t.Fatalf("add node: %v", err)
	}

	fd, err := srv.dialPeer("n2")
	if err != nil {
		t.Fatalf("dialPeer: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })

	if _, ok := srv.peers[fd]; !ok {
		t.Fatalf("expected dialPeer to register a Peer for fd %d", fd)
	}
	if gotFD, ok := srv.peerFD["n2"]; !ok || gotFD != fd {
		t.Fatalf("expected peerFD[n2] = %d, got %d (ok=%v)", fd, gotFD, ok)
	}
}

func TestSendToPeerDialsOnDemandAndEnqueues(t *testing.T) {
	srv := newLeaderTestServer(t)
	listenFD, port := newListener(t)

	if err := srv.meta.Add("n2", portURL(port)); err != nil {
		t.Fatalf("add node: %v", err)
	}

	srv.SendVoteReq("n2", wire.VoteReq{Term: 3})

	fd, ok := srv.peerFD["n2"]
	if !ok {
		t.Fatalf("expected sendToPeer to have dialed n2")
	}
	p := srv.peers[fd]
	if !p.HasPending() {
		t.Fatalf("expected the REQVOTE_REQ to be queued on the new peer connection")
	}

	acceptedFD, _, err := unix.Accept(listenFD)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { unix.Close(acceptedFD) })

	if err := p.Drain(func(b []byte) (int, error) { return unix.Write(fd, b) }); err != nil {
		t.Fatalf("drain: %v", err)
	}
	buf := make([]byte, 4096)
	n, err := unix.Read(acceptedFD, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	typ, _ := decodeOneFrame(t, buf[:n])
	if typ != wire.TypeReqVoteReq {
		t.Fatalf("expected REQVOTE_REQ on the wire, got 0x%02x", uint8(typ))
	}
}

func TestPeerAddrUnknownPeerErrors(t *testing.T) {
	srv := newLeaderTestServer(t)
	if _, _, err := srv.peerAddr("ghost"); err == nil {
		t.Fatalf("expected an error for an unregistered peer name")
	}
}

func portURL(port int) string {
	return "tcp://u@127.0.0.1:" + strconv.Itoa(port)
}
