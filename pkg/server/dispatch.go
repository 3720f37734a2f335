package server

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/internal/conn"
	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/consensus"
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/metrics"
	"github.com/resql/resql/pkg/wire"
)

func errUnexpectedType(t wire.Type) error {
	return fmt.Errorf("server: unexpected message type 0x%02x", uint8(t))
}

// handleConnEvent services one readiness event on an accepted client
// or peer fd: draining pending writes, reading and dispatching newly
// arrived frames, and tearing the connection down on Hup or a read
// error (spec.md §4.9's partial-message/lost-connection handling).
func (s *Server) handleConnEvent(ev Event) {
	if c, ok := s.clients[ev.FD]; ok {
		s.handleClientEvent(ev, c)
		return
	}
	if p, ok := s.peers[ev.FD]; ok {
		s.handlePeerEvent(ev, p)
		return
	}
}

func (s *Server) handleClientEvent(ev Event, c *conn.Client) {
	if ev.Writable {
		if err := c.Drain(func(b []byte) (int, error) { return unix.Write(c.FD, b) }); err != nil {
			s.closeClient(c.FD)
			return
		}
		if !c.HasPending() {
			s.poller.Modify(c.FD, false)
		}
	}
	if ev.Hup {
		s.closeClient(c.FD)
		return
	}
	if !ev.Readable {
		return
	}

	buf := make([]byte, 64*1024)
	n, err := unix.Read(c.FD, buf)
	if n == 0 || (err != nil && err != unix.EAGAIN) {
		s.closeClient(c.FD)
		return
	}
	msgs, ferr := c.Feed(buf[:n])
	if ferr != nil {
		s.closeClient(c.FD)
		return
	}
	for _, m := range msgs {
		s.dispatchClientMessage(c, m)
	}
	if c.HasPending() {
		s.poller.Modify(c.FD, true)
	}
}

func (s *Server) dispatchClientMessage(c *conn.Client, m wire.Message) {
	switch m.Type {
	case wire.TypeConnectReq:
		s.handleConnectReq(c, m.Body)
	case wire.TypeDisconnectReq:
		s.handleDisconnectReq(c, m.Body)
	case wire.TypeClientReq:
		s.handleClientReq(c, m.Body)
	case wire.TypeShutdownReq:
		s.Shutdown()
	default:
		log.Errorf("server: unexpected client message type", errUnexpectedType(m.Type))
	}
}

func (s *Server) handleConnectReq(c *conn.Client, body []byte) {
	req, ok := wire.DecodeConnectReq(body)
	if !ok {
		s.closeClient(c.FD)
		return
	}
	if req.Cluster != s.cfg.ClusterName {
		c.Enqueue(wire.TypeConnectResp, wire.ConnectResp{RC: wire.RCClusterNameMismatch}.Encode())
		s.poller.Modify(c.FD, true)
		return
	}

	proposed, err := s.node.ProposeConnect(req.Name, c.Remote, c.Remote)
	if err != nil {
		c.Enqueue(wire.TypeConnectResp, wire.ConnectResp{RC: wire.RCErr}.Encode())
		s.poller.Modify(c.FD, true)
		return
	}
	if !proposed {
		c.Enqueue(wire.TypeConnectResp, wire.ConnectResp{RC: wire.RCNotLeader, Nodes: s.meta.URLList()}.Encode())
		s.poller.Modify(c.FD, true)
		return
	}

	sess, ok := s.applier.Sessions.ByName(req.Name)
	if !ok {
		c.Enqueue(wire.TypeConnectResp, wire.ConnectResp{RC: wire.RCUnexpected}.Encode())
		s.poller.Modify(c.FD, true)
		return
	}
	c.Name = req.Name
	c.Connected = true
	c.SessionID = sess.ID

	c.Enqueue(wire.TypeConnectResp, wire.ConnectResp{
		RC:    wire.RCOk,
		Seq:   sess.Seq,
		Term:  s.node.Term(),
		Nodes: s.meta.URLList(),
	}.Encode())
	s.poller.Modify(c.FD, true)
}

func (s *Server) handleDisconnectReq(c *conn.Client, body []byte) {
	req, ok := wire.DecodeDisconnectMsg(body)
	if !ok {
		s.closeClient(c.FD)
		return
	}
	if c.Connected {
		s.node.ProposeDisconnect(c.Name, req.Flags == 0)
	}
	c.Enqueue(wire.TypeDisconnectResp, wire.DisconnectMsg{RC: wire.RCOk}.Encode())
	s.poller.Modify(c.FD, true)
}

func (s *Server) handleClientReq(c *conn.Client, body []byte) {
	req, err := wire.DecodeClientReq(body)
	if err != nil {
		s.closeClient(c.FD)
		return
	}
	if !c.Connected {
		s.closeClient(c.FD)
		return
	}
	sess, ok := s.applier.Sessions.ByID(c.SessionID)
	if !ok {
		s.closeClient(c.FD)
		return
	}

	timer := metrics.NewTimer()
	var resp []byte
	var proposed bool
	var rerr error
	if req.Readonly {
		var resolved applier.Batch
		resolved, rerr = consensus.ResolveClientBatch(sess, req.Batch)
		if rerr == nil {
			resp, rerr = s.applier.ApplyReadonly(context.Background(), resolved)
		}
		proposed = true
	} else {
		resp, proposed, rerr = s.node.ProposeRequest(sess, req.Seq, req.Batch)
	}
	timer.ObserveDuration(metrics.ApplyDuration)

	if !proposed {
		metrics.RequestsTotal.WithLabelValues("not_leader").Inc()
		c.Enqueue(wire.TypeClientResp, wire.EncodeResponse(nil, "not leader"))
		s.poller.Modify(c.FD, true)
		return
	}
	if rerr != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		c.Enqueue(wire.TypeClientResp, wire.EncodeResponse(nil, rerr.Error()))
		s.poller.Modify(c.FD, true)
		return
	}

	metrics.RequestsTotal.WithLabelValues("ok").Inc()
	c.Enqueue(wire.TypeClientResp, resp)
	s.poller.Modify(c.FD, true)
}

func (s *Server) closeClient(fd int) {
	if c, ok := s.clients[fd]; ok {
		if c.Connected {
			s.node.ProposeDisconnect(c.Name, false)
		}
	}
	delete(s.clients, fd)
	s.poller.Remove(fd)
	unix.Close(fd)
}

func (s *Server) handlePeerEvent(ev Event, p *conn.Peer) {
	if ev.Writable {
		if err := p.Drain(func(b []byte) (int, error) { return unix.Write(p.FD, b) }); err != nil {
			s.closePeer(p.FD)
			return
		}
		if !p.HasPending() {
			s.poller.Modify(p.FD, false)
		}
	}
	if ev.Hup {
		s.closePeer(p.FD)
		return
	}
	if !ev.Readable {
		return
	}

	buf := make([]byte, 1<<20)
	n, err := unix.Read(p.FD, buf)
	if n == 0 || (err != nil && err != unix.EAGAIN) {
		s.closePeer(p.FD)
		return
	}
	msgs, ferr := p.Feed(buf[:n])
	if ferr != nil {
		s.closePeer(p.FD)
		return
	}
	for _, m := range msgs {
		s.dispatchPeerMessage(p, m)
	}
	if p.HasPending() {
		s.poller.Modify(p.FD, true)
	}
}

func (s *Server) dispatchPeerMessage(p *conn.Peer, m wire.Message) {
	now := nowMS()
	switch m.Type {
	case wire.TypePrevoteReq:
		req, ok := wire.DecodeVoteReq(m.Body)
		if !ok {
			return
		}
		resp := s.node.HandlePrevoteRequest(now, req)
		p.Enqueue(wire.TypePrevoteResp, resp.Encode())
		s.poller.Modify(p.FD, true)
	case wire.TypePrevoteResp:
		resp, ok := wire.DecodeVoteResp(m.Body)
		if ok {
			s.node.HandlePrevoteResponse(p.Name, resp)
		}
	case wire.TypeReqVoteReq:
		req, ok := wire.DecodeVoteReq(m.Body)
		if !ok {
			return
		}
		resp := s.node.HandleVoteRequest(now, p.Name, req)
		p.Enqueue(wire.TypeReqVoteResp, resp.Encode())
		s.poller.Modify(p.FD, true)
	case wire.TypeReqVoteResp:
		resp, ok := wire.DecodeVoteResp(m.Body)
		if ok {
			s.node.HandleVoteResponse(p.Name, resp)
		}
	case wire.TypeAppendReq:
		req, ok := wire.DecodeAppendReq(m.Body)
		if !ok {
			return
		}
		resp := s.node.HandleAppendRequest(now, p.Name, req)
		p.Enqueue(wire.TypeAppendResp, resp.Encode())
		s.poller.Modify(p.FD, true)
	case wire.TypeAppendResp:
		resp, ok := wire.DecodeAppendResp(m.Body)
		if ok {
			s.node.HandleAppendResponse(p.Name, now, resp)
		}
	case wire.TypeSnapshotReq:
		s.handleSnapshotReq(p, m.Body)
	case wire.TypeSnapshotResp:
		// Leader-side snapshot push is driven by the snapshot worker
		// directly (see snapshot.go); acknowledgements only confirm
		// forward progress and need no state change here.
	case wire.TypeShutdownReq:
		// A peer-broadcast SHUTDOWN_REQ (spec.md §4.9 "Shutdown"): set
		// the stop flag and let the main loop unwind, same as a client
		// shutdown request.
		s.Shutdown()
	default:
		log.Errorf("server: unexpected peer message type", errUnexpectedType(m.Type))
	}
}

func (s *Server) handleSnapshotReq(p *conn.Peer, body []byte) {
	req, ok := wire.DecodeSnapshotReq(body)
	if !ok {
		return
	}
	result := s.snapshots.Recv(req.SSTerm, req.SSIndex, req.Done, int64(req.Offset), req.Bytes)
	p.Enqueue(wire.TypeSnapshotResp, wire.SnapshotResp{Term: req.Term, Success: result.OK, Done: result.Done}.Encode())
	s.poller.Modify(p.FD, true)
	if result.OK && result.Done {
		s.installSnapshot(req.SSTerm, req.SSIndex)
	}
}

func (s *Server) closePeer(fd int) {
	var name string
	if p, ok := s.peers[fd]; ok {
		name = p.Name
	}
	delete(s.peers, fd)
	if name != "" {
		delete(s.peerFD, name)
	}
	s.poller.Remove(fd)
	unix.Close(fd)
}
