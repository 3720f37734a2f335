// Package server wires spec.md §5's concurrency model into a running
// process: a single-threaded cooperative event loop built from a
// socket Poller, a hierarchical timer Wheel, and a TaskPipe for the
// one extra goroutine the model permits (the snapshot worker). It
// drives pkg/consensus.Node's Tick/Handle* entry points over real
// non-blocking sockets, owns session/connection bookkeeping via
// internal/conn, and is the boundary where an incoming CLIENT_REQ's
// wire.Batch is resolved into the denser applier.Batch a REQUEST
// entry carries (pkg/consensus.ResolveClientBatch).
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/resql/resql/internal/conn"
	"github.com/resql/resql/pkg/applier"
	"github.com/resql/resql/pkg/clustermeta"
	"github.com/resql/resql/pkg/config"
	"github.com/resql/resql/pkg/consensus"
	"github.com/resql/resql/pkg/log"
	"github.com/resql/resql/pkg/logstore"
	"github.com/resql/resql/pkg/metrics"
	"github.com/resql/resql/pkg/snapshot"
	"github.com/resql/resql/pkg/sqlengine"
	"github.com/resql/resql/pkg/wire"
)

// maxTickMS bounds how long a single poller.Wait may sleep, so the
// loop still wakes periodically even with no timers due (to service
// the snapshot TryWait fallback and to bound shutdown latency).
const maxTickMS = 1000

// Server owns every piece of replicated state for one node and runs
// the single-threaded loop that drives them.
type Server struct {
	cfg config.Config

	log       *logstore.Store
	applier   *applier.State
	meta      *clustermeta.Meta
	node      *consensus.Node
	snapshots *snapshot.Engine

	poller Poller
	wheel  *Wheel
	tasks  *TaskPipe

	listenFD int

	clients map[int]*conn.Client
	peers   map[int]*conn.Peer
	peerFD  map[string]int // peer name -> fd, once connected

	metrics       *metrics.Collector
	snapshotTimer *metrics.Timer

	shutdown bool
}

// New assembles a Server from an already-loaded configuration, an
// opened log store, and a constructed applier/consensus pair. Callers
// (cmd/resql) are responsible for bootstrapping those pieces (§4.5's
// empty-cluster-vs-join distinction) before calling New.
func New(cfg config.Config, st *logstore.Store, ap *applier.State, meta *clustermeta.Meta, engine sqlengine.Engine) (*Server, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	tasks, err := NewTaskPipe()
	if err != nil {
		poller.Close()
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      st,
		applier:  ap,
		meta:     meta,
		poller:   poller,
		wheel:    NewWheel(cfg.Heartbeat/4, 4),
		tasks:    tasks,
		clients:  make(map[int]*conn.Client),
		peers:    make(map[int]*conn.Peer),
		peerFD:   make(map[string]int),
	}

	s.snapshots = snapshot.New(cfg.Directory, func() sqlengine.Engine { return engine })

	s.node = consensus.New(consensus.Config{
		Self:      cfg.Name,
		Cluster:   cfg.ClusterName,
		Heartbeat: cfg.Heartbeat,
		Log:       st,
		Applier:   ap,
		Meta:      meta,
		Transport: s,
	})

	s.metrics = metrics.NewCollector(s.node, ap, st)
	s.wireConfigCallbacks()

	return s, nil
}

// wireConfigCallbacks connects applier.ConfigCallbacks — driven by the
// `resql(command, arg)` scalar SQL function (spec.md §4.7) — to this
// node's consensus core and event loop, so add-node/remove-node/
// shutdown/max-size actually take effect instead of only validating.
func (s *Server) wireConfigCallbacks() {
	s.applier.Callbacks = applier.ConfigCallbacks{
		AddNode: func(arg string) {
			name, uri, ok := splitArg(arg)
			if !ok {
				log.Errorf("server: resql(add-node) malformed arg "+arg, fmt.Errorf("want \"name,uri\""))
				return
			}
			if err := s.node.ProposeAddNode(name, uri); err != nil {
				log.Errorf("server: resql(add-node) "+name, err)
			}
		},
		RemoveNode: func(arg string) {
			if err := s.node.ProposeRemoveNode(arg); err != nil {
				log.Errorf("server: resql(remove-node) "+arg, err)
			}
		},
		Shutdown: func(arg string) {
			s.broadcastShutdown(arg)
		},
		MaxSize: func(arg string) {
			// No runtime-adjustable log/page size limit exists yet
			// (pkg/page's page size is fixed at open time); record the
			// request so an operator watching logs can act on it.
			log.Info("server: resql(max-size) requested " + arg + "; not yet enforceable at runtime")
		},
	}
}

// splitArg splits an add-node argument of the form "name,uri".
func splitArg(arg string) (name, uri string, ok bool) {
	idx := -1
	for i := 0; i < len(arg); i++ {
		if arg[i] == ',' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", false
	}
	return arg[:idx], arg[idx+1:], true
}

// broadcastShutdown implements spec.md §4.9's "Shutdown": a
// resql('shutdown', target) call on the leader reaches every node
// named target ("*" for all) via a peer-to-peer SHUTDOWN_REQ, and sets
// this node's own stop flag when it is itself a target.
func (s *Server) broadcastShutdown(target string) {
	body := wire.ShutdownReq{Now: true}.Encode()
	if target == "*" || target == s.cfg.Name {
		s.Shutdown()
	}
	for _, node := range s.meta.Nodes {
		if node.Name == s.cfg.Name {
			continue
		}
		if target == "*" || target == node.Name {
			s.sendToPeer(node.Name, wire.TypeShutdownReq, body)
		}
	}
}

// listen opens the node's bind address as a non-blocking listening
// socket and registers it with the poller.
func (s *Server) listen() error {
	host, portStr, err := net.SplitHostPort(s.cfg.BindURL)
	if err != nil {
		// BindURL may be a full node URL (scheme://user@host:port);
		// fall back to parsing just the host:port tail.
		host, portStr = hostPortFromNodeURL(s.cfg.BindURL)
	}
	port, _ := strconv.Atoi(portStr)

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("server: setsockopt: %w", err)
	}
	addr := unix.SockaddrInet4{Port: port}
	ip := net.ParseIP(host)
	if ip == nil {
		ip = net.IPv4zero
	}
	copy(addr.Addr[:], ip.To4())
	if err := unix.Bind(fd, &addr); err != nil {
		return fmt.Errorf("server: bind %s:%d: %w", host, port, err)
	}
	if err := unix.Listen(fd, 256); err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fmt.Errorf("server: set nonblock: %w", err)
	}
	s.listenFD = fd
	return s.poller.Add(fd, false)
}

// hostPortFromNodeURL extracts the host:port tail of a node URL
// (tcp://user@host:port), used when BindURL was set to a node's full
// advertise-style URL rather than a bare host:port.
func hostPortFromNodeURL(raw string) (string, string) {
	idx := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == ':' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return raw, "0"
	}
	host := raw[:idx]
	if at := lastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}
	if slashes := lastIndexByte(host, '/'); slashes >= 0 {
		host = host[slashes+1:]
	}
	return host, raw[idx+1:]
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Run opens the listening socket, registers timers, and runs the
// event loop until Shutdown is called or accept/poller setup fails.
func (s *Server) Run() error {
	if err := s.listen(); err != nil {
		return err
	}
	defer unix.Close(s.listenFD)
	defer s.poller.Remove(s.listenFD)

	if err := s.poller.Add(s.tasks.ReadFD(), false); err != nil {
		return fmt.Errorf("server: register task pipe: %w", err)
	}
	defer s.poller.Remove(s.tasks.ReadFD())

	s.metrics.Start()
	defer s.metrics.Stop()

	s.scheduleHeartbeat()

	for !s.shutdown {
		now := nowMS()
		s.wheel.Advance(now)

		timeout := s.wheel.NextDeadline(now, maxTickMS)
		events, err := s.poller.Wait(int(timeout))
		if err != nil {
			return err
		}
		for _, ev := range events {
			s.handleEvent(ev)
		}
		if r, ok := s.snapshots.TryWait(); ok {
			s.onSnapshotDone(r)
		}
	}
	return nil
}

// Shutdown stops the loop at its next iteration.
func (s *Server) Shutdown() { s.shutdown = true }

// Node exposes the underlying consensus node so a sibling read-only
// plane (pkg/adminapi) can poll its accessor methods from its own
// goroutine, the same way pkg/metrics's Collector already does.
func (s *Server) Node() *consensus.Node { return s.node }

// Applier exposes the applier state so pkg/adminapi can enumerate
// sessions and membership without the event loop's involvement.
func (s *Server) Applier() *applier.State { return s.applier }

func (s *Server) scheduleHeartbeat() {
	var tick func()
	tick = func() {
		if s.shutdown {
			return
		}
		s.node.Tick(context.Background(), nowMS())
		s.node.BroadcastAppend()
		s.maybeTakeSnapshot()
		s.wheel.Schedule(s.cfg.Heartbeat, tick)
	}
	s.wheel.Schedule(s.cfg.Heartbeat, tick)
}

func (s *Server) handleEvent(ev Event) {
	switch {
	case ev.FD == s.listenFD:
		s.acceptLoop()
	case ev.FD == s.tasks.ReadFD():
		s.tasks.Drain()
	default:
		s.handleConnEvent(ev)
	}
}

func (s *Server) acceptLoop() {
	for {
		fd, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			log.Errorf("server: accept", err)
			return
		}
		unix.SetNonblock(fd, true)
		remote := remoteString(sa)
		c := conn.NewClient(fd, remote)
		s.clients[fd] = c
		if err := s.poller.Add(fd, false); err != nil {
			log.Errorf("server: register accepted conn", err)
			unix.Close(fd)
			delete(s.clients, fd)
		}
	}
}

func remoteString(sa unix.Sockaddr) string {
	if in4, ok := sa.(*unix.SockaddrInet4); ok {
		ip := net.IP(in4.Addr[:])
		return fmt.Sprintf("%s:%d", ip.String(), in4.Port)
	}
	return "unknown"
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
