// Package conn implements the tagged connection variant of spec.md
// §9: a single Base type owns the non-blocking I/O lifecycle shared
// by every socket the event loop drives (frame accumulation on read,
// a pending-frame queue on write), and the purpose-specific variants
// (Client, Peer) compose it rather than subclass it.
package conn

import (
	"encoding/binary"
	"fmt"

	"github.com/resql/resql/pkg/wire"
)

// Kind distinguishes what a connection is for, replacing the
// inheritance spec.md §9 calls out ("node vs client connection").
type Kind int

const (
	KindUnknown Kind = iota
	KindClient
	KindNode
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindNode:
		return "node"
	default:
		return "unknown"
	}
}

// Base is the non-blocking connection state every tagged variant
// embeds. It never performs a blocking read or write itself — the
// event loop feeds it bytes read from a readable fd and drains its
// outbound queue on a writable fd.
type Base struct {
	FD     int
	Kind   Kind
	Remote string

	in     []byte // bytes read but not yet assembled into a complete frame
	out    [][]byte
	outPos int // bytes of out[0] already written

	closed bool
}

// NewBase returns a Base wrapping an already-accepted, already
// non-blocking fd.
func NewBase(fd int, kind Kind, remote string) *Base {
	return &Base{FD: fd, Kind: kind, Remote: remote}
}

// Feed appends newly-read bytes to the accumulation buffer and
// extracts every complete frame now available, in arrival order.
// Partial frames remain buffered for the next call, the framed-read
// behavior spec.md §4.9 requires ("accumulate until a complete frame
// is available").
func (b *Base) Feed(data []byte) ([]wire.Message, error) {
	b.in = append(b.in, data...)
	var msgs []wire.Message
	for {
		if len(b.in) < wire.LengthFieldSize+1 {
			break
		}
		total := binary.LittleEndian.Uint32(b.in[:wire.LengthFieldSize])
		if total < uint32(wire.LengthFieldSize+1) {
			return msgs, fmt.Errorf("conn: total_length %d shorter than header", total)
		}
		if total > wire.MaxMessageSize {
			return msgs, fmt.Errorf("conn: total_length %d exceeds max message size", total)
		}
		if uint32(len(b.in)) < total {
			break
		}
		typ := wire.Type(b.in[wire.LengthFieldSize])
		bodyLen := int(total) - wire.LengthFieldSize - 1
		body := make([]byte, bodyLen)
		copy(body, b.in[wire.LengthFieldSize+1:total])
		msgs = append(msgs, wire.Message{Type: typ, Body: body})

		rest := make([]byte, len(b.in)-int(total))
		copy(rest, b.in[total:])
		b.in = rest
	}
	return msgs, nil
}

// Enqueue frames typ/body and appends it to the outbound queue.
func (b *Base) Enqueue(typ wire.Type, body []byte) {
	total := uint32(wire.LengthFieldSize + 1 + len(body))
	frame := make([]byte, wire.LengthFieldSize+1, total)
	binary.LittleEndian.PutUint32(frame[:wire.LengthFieldSize], total)
	frame[wire.LengthFieldSize] = byte(typ)
	frame = append(frame, body...)
	b.out = append(b.out, frame)
}

// HasPending reports whether any outbound bytes remain unwritten.
func (b *Base) HasPending() bool { return len(b.out) > 0 }

// Drain calls write with the next unwritten chunk of the outbound
// queue until the queue empties or write reports it would block (n==0,
// err==nil) or fails.
func (b *Base) Drain(write func([]byte) (int, error)) error {
	for len(b.out) > 0 {
		n, err := write(b.out[0][b.outPos:])
		if n > 0 {
			b.outPos += n
		}
		if err != nil {
			return err
		}
		if b.outPos == len(b.out[0]) {
			b.out = b.out[1:]
			b.outPos = 0
			continue
		}
		if n == 0 {
			break
		}
	}
	return nil
}

// Close marks the connection closed. The event loop is responsible
// for actually closing FD and removing it from the poller.
func (b *Base) Close() { b.closed = true }

// Closed reports whether Close has been called.
func (b *Base) Closed() bool { return b.closed }
