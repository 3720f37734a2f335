// Package wire implements the external wire protocol of spec.md §6:
// message framing (`u32 total_length | u8 type | body`), the message
// type table, response codes, and the client-request/response batch
// body formats. This is the sole byte layout client and peer
// connections speak; the admin/status gRPC plane is additive and
// never touches these bytes.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/resql/resql/pkg/status"
)

// Type identifies a message's body layout.
type Type uint8

const (
	TypeConnectReq    Type = 0x00
	TypeConnectResp   Type = 0x01
	TypeDisconnectReq Type = 0x02
	TypeDisconnectResp Type = 0x03
	TypeClientReq     Type = 0x04
	TypeClientResp    Type = 0x05
	TypeAppendReq     Type = 0x06
	TypeAppendResp    Type = 0x07
	TypePrevoteReq    Type = 0x08
	TypePrevoteResp   Type = 0x09
	TypeReqVoteReq    Type = 0x0A
	TypeReqVoteResp   Type = 0x0B
	TypeSnapshotReq   Type = 0x0C
	TypeSnapshotResp  Type = 0x0D
	TypeInfoReq       Type = 0x0E
	TypeShutdownReq   Type = 0x0F
)

// RC is a response/result code carried in several reply bodies.
type RC uint8

const (
	RCOk                   RC = 0
	RCErr                  RC = 1
	RCClusterNameMismatch  RC = 2
	RCCorrupt              RC = 3
	RCUnexpected           RC = 4
	RCTimeout              RC = 5
	RCNotLeader            RC = 6
	RCDiskFull             RC = 7
)

// MaxMessageSize is the largest a single framed message may be.
const MaxMessageSize = 2 << 30 // 2 GB

// LengthFieldSize is the width of the leading total_length field,
// which itself counts toward total_length.
const LengthFieldSize = 4

// Message is one decoded frame: its type and raw body bytes.
type Message struct {
	Type Type
	Body []byte
}

// WriteMessage frames and writes typ/body to w as
// `u32 total_length | u8 type | body`.
func WriteMessage(w io.Writer, typ Type, body []byte) error {
	total := uint32(LengthFieldSize + 1 + len(body))
	if int(total) < 0 || len(body) > MaxMessageSize {
		return status.New(status.KindClientUser, fmt.Errorf("wire: message body too large (%d bytes)", len(body)))
	}
	header := make([]byte, LengthFieldSize+1)
	binary.LittleEndian.PutUint32(header, total)
	header[LengthFieldSize] = byte(typ)
	if _, err := w.Write(header); err != nil {
		return status.New(status.KindTransientIO, err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return status.New(status.KindTransientIO, err)
		}
	}
	return nil
}

// ReadMessage reads one complete frame from r, blocking until enough
// bytes are available or the connection closes (spec.md §4.9 "Partial
// message on socket" failure semantics: the core accumulates until a
// complete frame is available).
func ReadMessage(r *bufio.Reader) (Message, error) {
	header := make([]byte, LengthFieldSize+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return Message{}, err
	}
	total := binary.LittleEndian.Uint32(header)
	if total < LengthFieldSize+1 {
		return Message{}, status.New(status.KindClientUser, fmt.Errorf("wire: total_length %d shorter than header", total))
	}
	bodyLen := int(total) - LengthFieldSize - 1
	if bodyLen > MaxMessageSize {
		return Message{}, status.New(status.KindClientUser, fmt.Errorf("wire: total_length %d exceeds max message size", total))
	}
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Message{}, err
		}
	}
	return Message{Type: Type(header[LengthFieldSize]), Body: body}, nil
}
