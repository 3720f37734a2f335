package server

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/internal/conn"
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/wire"
)

// SendPrevoteReq implements consensus.Transport.
func (s *Server) SendPrevoteReq(peer string, req wire.VoteReq) {
	s.sendToPeer(peer, wire.TypePrevoteReq, req.Encode())
}

// SendVoteReq implements consensus.Transport.
func (s *Server) SendVoteReq(peer string, req wire.VoteReq) {
	s.sendToPeer(peer, wire.TypeReqVoteReq, req.Encode())
}

// SendAppendReq implements consensus.Transport.
func (s *Server) SendAppendReq(peer string, req wire.AppendReq) {
	s.sendToPeer(peer, wire.TypeAppendReq, req.Encode())
}

// sendToPeer enqueues typ/body on peer's connection, dialing it first
// if no connection is currently open. A dial failure just drops the
// message: the next heartbeat tick's BroadcastAppend (or the next
// election timeout) will try again, the same tolerance the teacher's
// gossip transport has for a momentarily unreachable peer.
func (s *Server) sendToPeer(peer string, typ wire.Type, body []byte) {
	fd, ok := s.peerFD[peer]
	if !ok {
		var err error
		fd, err = s.dialPeer(peer)
		if err != nil {
			log.Errorf("server: dial peer "+peer, err)
			return
		}
	}
	p, ok := s.peers[fd]
	if !ok {
		return
	}
	p.Enqueue(typ, body)
	if err := s.poller.Modify(fd, true); err != nil {
		log.Errorf("server: watch peer writable", err)
	}
}

// dialPeer opens a non-blocking connection to the named peer, using
// the first URL registered for it in cluster meta, and registers the
// resulting fd with the poller and peer bookkeeping before the
// connect's completion is even known (spec.md §5: non-blocking
// connect completes asynchronously, observed as a writability event).
func (s *Server) dialPeer(peer string) (int, error) {
	host, port, err := s.peerAddr(peer)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, err
	}
	addr := unix.SockaddrInet4{Port: port}
	ip := net.ParseIP(host)
	if ip == nil {
		ip, err = resolveHost(host)
		if err != nil {
			unix.Close(fd)
			return 0, err
		}
	}
	copy(addr.Addr[:], ip.To4())

	err = unix.Connect(fd, &addr)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return 0, err
	}

	p := conn.NewPeer(fd, net.JoinHostPort(host, strconv.Itoa(port)), peer)
	s.peers[fd] = p
	s.peerFD[peer] = fd
	if err := s.poller.Add(fd, true); err != nil {
		delete(s.peers, fd)
		delete(s.peerFD, peer)
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

func resolveHost(host string) (net.IP, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, &net.AddrError{Err: "no A record", Addr: host}
}

// peerAddr resolves a peer name to a dialable host:port via the
// node's first registered URL.
func (s *Server) peerAddr(name string) (string, int, error) {
	for _, node := range s.meta.Nodes {
		if node.Name != name || len(node.URLs) == 0 {
			continue
		}
		host, portStr := hostPortFromNodeURL(node.URLs[0])
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}
	return "", 0, &net.AddrError{Err: "unknown peer", Addr: name}
}
