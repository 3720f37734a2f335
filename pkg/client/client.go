// Package client is a Go SDK for resql's data-plane wire protocol
// (spec.md §6). It speaks the same hand-framed TCP codec pkg/server's
// dispatch.go decodes directly — there is no gRPC here, that transport
// is reserved for pkg/adminapi's read-only status plane.
package client

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/resql/resql/pkg/wire"
)

// notLeaderErr is the exact error text handleClientReq sends back when
// a request lands on a node that is not (or no longer) the leader.
// CLIENT_RESP carries a bare batch body with no dedicated rc field
// (spec.md §6), so this string is the only signal available to tell
// "retry against a new leader" apart from an ordinary SQL error.
const notLeaderErr = "not leader"

// Config configures a Client.
type Config struct {
	// Nodes seeds the initial set of addresses to try, each a bare
	// "host:port" or a full node URL ("tcp://name@host:port"). At
	// least one is required; reconnects after that prefer the node
	// list the server last returned in a CONNECT_RESP.
	Nodes []string
	// ClusterName must match the server's configured cluster name, or
	// the handshake fails with RCClusterNameMismatch (spec.md §8 S7).
	ClusterName string
	// Name identifies this client's session. Sessions are keyed by
	// name and survive reconnects for 60s (spec.md §4 "Session"
	// lifecycle). Defaults to a generated id if empty.
	Name string
	// DialTimeout bounds a single connection attempt. Default 5s.
	DialTimeout time.Duration
	// RequestTimeout bounds a single request round trip. Default 10s.
	RequestTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "resql-client-" + uuid.New().String()
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

// Client is a connection to one resql cluster. It is not safe for
// concurrent use by multiple goroutines; callers that need concurrency
// should pool Clients the way they would pool database/sql
// connections.
type Client struct {
	cfg Config

	mu    sync.Mutex
	conn  net.Conn
	r     *bufio.Reader
	nodes []string // leader-first URL list from the last CONNECT_RESP
	seq   uint64
}

// Connect dials the first reachable address in cfg.Nodes and completes
// the CONNECT_REQ/RESP handshake, following NOT_LEADER redirects
// through the node list the server returns.
func Connect(cfg Config) (*Client, error) {
	cfg.setDefaults()
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("client: at least one node address is required")
	}
	c := &Client{cfg: cfg, nodes: cfg.Nodes}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	return c, nil
}

// handshake dials candidates from c.nodes in order, retrying a full
// pass of the list with backoff, until one accepts the connection and
// grants CONNECT_RESP with RCOk, or a terminal error (cluster name
// mismatch) is returned.
func (c *Client) handshake() error {
	bo := newBackoff()
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		for _, addr := range c.nodes {
			conn, err := net.DialTimeout("tcp", hostPort(addr), c.cfg.DialTimeout)
			if err != nil {
				lastErr = err
				continue
			}
			r := bufio.NewReader(conn)
			if err := wire.WriteMessage(conn, wire.TypeConnectReq, wire.ConnectReq{
				Protocol: "resql",
				Cluster:  c.cfg.ClusterName,
				Name:     c.cfg.Name,
			}.Encode()); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
			msg, err := wire.ReadMessage(r)
			if err != nil {
				conn.Close()
				lastErr = err
				continue
			}
			if msg.Type != wire.TypeConnectResp {
				conn.Close()
				lastErr = fmt.Errorf("client: unexpected message type 0x%02x during handshake", uint8(msg.Type))
				continue
			}
			resp, ok := wire.DecodeConnectResp(msg.Body)
			if !ok {
				conn.Close()
				lastErr = fmt.Errorf("client: malformed CONNECT_RESP")
				continue
			}
			switch resp.RC {
			case wire.RCOk:
				c.conn = conn
				c.r = r
				c.seq = resp.Seq
				if resp.Nodes != "" {
					c.nodes = splitNodeList(resp.Nodes)
				}
				return nil
			case wire.RCClusterNameMismatch:
				conn.Close()
				return fmt.Errorf("client: cluster name mismatch")
			case wire.RCNotLeader:
				conn.Close()
				if resp.Nodes != "" {
					c.nodes = splitNodeList(resp.Nodes)
				}
				lastErr = fmt.Errorf("client: %s is not the leader", addr)
				continue
			default:
				conn.Close()
				lastErr = fmt.Errorf("client: connect rejected, rc=%d", resp.RC)
				continue
			}
		}
		time.Sleep(bo.next())
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("client: unable to reach any configured node")
	}
	return lastErr
}

// reconnect tears down the current connection and re-runs the
// handshake against c.nodes (the last-known node list, leader first),
// preserving the session name so the new leader resumes the same
// session instead of minting a fresh one.
func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return c.handshake()
}

// Close sends a clean DISCONNECT_REQ and closes the underlying socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = wire.WriteMessage(c.conn, wire.TypeDisconnectReq, wire.DisconnectMsg{Flags: 0}.Encode())
	_, _ = wire.ReadMessage(c.r) // best-effort DISCONNECT_RESP before the fd closes
	err := c.conn.Close()
	c.conn = nil
	return err
}

// send writes typ/body and blocks for exactly one reply frame,
// honoring spec.md §4.9 ordering guarantee (1): one message is fully
// processed before the next is sent on this connection.
func (c *Client) send(ctx context.Context, typ wire.Type, body []byte) (wire.Message, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.RequestTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return wire.Message{}, err
	}
	defer c.conn.SetDeadline(time.Time{})

	if err := wire.WriteMessage(c.conn, typ, body); err != nil {
		return wire.Message{}, err
	}
	return wire.ReadMessage(c.r)
}

// execBatch is the shared path for Exec and Query: it sends one
// CLIENT_REQ, decodes the CLIENT_RESP, and transparently reconnects
// and retries once with the same seq if the node answers "not leader"
// (spec.md §7: "clients whose in-flight request is lost to a leader
// failover reconnect to the new leader and retry with the same seq").
func (c *Client) execBatch(ctx context.Context, readonly bool, batch wire.Batch) ([]wire.OpResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var seq uint64
	if !readonly {
		c.seq++
		seq = c.seq
	}

	for attempt := 0; attempt < 2; attempt++ {
		msg, err := c.send(ctx, wire.TypeClientReq, wire.ClientReq{
			Readonly: readonly,
			Seq:      seq,
			Batch:    batch,
		}.Encode())
		if err != nil {
			if rerr := c.reconnect(); rerr != nil {
				return nil, fmt.Errorf("client: request failed and reconnect failed: %w (original: %v)", rerr, err)
			}
			continue
		}
		if msg.Type != wire.TypeClientResp {
			return nil, fmt.Errorf("client: unexpected message type 0x%02x for CLIENT_REQ", uint8(msg.Type))
		}
		ok, results, errMsg, derr := wire.DecodeResponse(msg.Body)
		if derr != nil {
			return nil, derr
		}
		if ok {
			return results, nil
		}
		if errMsg == notLeaderErr && attempt == 0 {
			if rerr := c.reconnect(); rerr != nil {
				return nil, fmt.Errorf("client: not leader and reconnect failed: %w", rerr)
			}
			continue
		}
		return nil, fmt.Errorf("client: %s", errMsg)
	}
	return nil, fmt.Errorf("client: exhausted retries against %v", c.nodes)
}

// splitNodeList parses the space-separated URL list a CONNECT_RESP
// carries (spec.md §6: "Membership list is a space-separated
// concatenation").
func splitNodeList(s string) []string {
	return strings.Fields(s)
}

// hostPort strips a node URL down to a dialable host:port, accepting
// both a bare "host:port" and a full "tcp://name@host:port" form.
func hostPort(raw string) string {
	s := raw
	if idx := strings.Index(s, "://"); idx >= 0 {
		s = s[idx+3:]
	}
	if at := strings.LastIndex(s, "@"); at >= 0 {
		s = s[at+1:]
	}
	return s
}

// backoff implements the reconnect schedule spec.md §4.9 describes for
// node-to-node sockets (base 64ms, cap 32s, jitter up to 256ms); the
// client reuses it verbatim for its own handshake retry loop.
type backoff struct {
	cur time.Duration
}

func newBackoff() *backoff {
	return &backoff{cur: 64 * time.Millisecond}
}

func (b *backoff) next() time.Duration {
	d := b.cur + time.Duration(rand.Int63n(int64(256*time.Millisecond)))
	b.cur *= 2
	if b.cur > 32*time.Second {
		b.cur = 32 * time.Second
	}
	return d
}
