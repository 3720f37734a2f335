// Package entry implements the log entry format of spec.md §4.2: a
// fixed 36-byte header {crc, len, term, seq, cid, flags} followed by a
// variable payload, with crc covering everything but itself.
//
// Layout (all fields little-endian):
//
//	offset 0:  u32 crc
//	offset 4:  u32 len   (total encoded length, including header)
//	offset 8:  u64 term
//	offset 16: u64 seq
//	offset 24: u64 cid
//	offset 32: u32 flags
//	offset 36: payload (len-36 bytes)
package entry

import (
	"hash/crc32"

	"github.com/resql/resql/pkg/buffer"
)

// HeaderSize is the fixed entry header length in bytes.
const HeaderSize = 36

// MaxSize is the largest an encoded entry may be (spec.md §4.2: "max
// entry size ≈ 2 GiB").
const MaxSize = 1<<31 - 1

// Flag is the command carried by an entry.
type Flag uint32

const (
	FlagInit Flag = iota
	FlagMeta
	FlagTerm
	FlagRequest
	FlagConnect
	FlagDisconnect
	FlagTimestamp
	FlagInfo
	FlagLog
)

func (f Flag) String() string {
	switch f {
	case FlagInit:
		return "INIT"
	case FlagMeta:
		return "META"
	case FlagTerm:
		return "TERM"
	case FlagRequest:
		return "REQUEST"
	case FlagConnect:
		return "CONNECT"
	case FlagDisconnect:
		return "DISCONNECT"
	case FlagTimestamp:
		return "TIMESTAMP"
	case FlagInfo:
		return "INFO"
	case FlagLog:
		return "LOG"
	default:
		return "UNKNOWN"
	}
}

// Entry is a decoded log record. Payload aliases the buffer it was
// decoded from; callers that need to retain it past the next mutation
// of that buffer must copy it.
type Entry struct {
	CRC     uint32
	Len     uint32
	Term    uint64
	Seq     uint64
	CID     uint64
	Flags   Flag
	Payload []byte
}

// EncodedLen returns the total encoded length of an entry whose
// payload is payloadLen bytes.
func EncodedLen(payloadLen int) uint32 {
	return uint32(HeaderSize + payloadLen)
}

// Encode writes the full framed record to b, computing the CRC over
// everything after the CRC field itself.
func Encode(b *buffer.Buffer, term, seq, cid uint64, flags Flag, payload []byte) {
	total := EncodedLen(len(payload))

	crcStart := b.WPos()
	b.PutU32(0) // crc placeholder, patched below
	b.PutU32(total)
	b.PutU64(term)
	b.PutU64(seq)
	b.PutU64(cid)
	b.PutU32(uint32(flags))
	b.PutRaw(payload)

	if !b.Valid() {
		return
	}

	written := b.Bytes()[crcStart:b.WPos()]
	crc := crc32.ChecksumIEEE(written[4:]) // everything but the crc field
	patchU32(written, 0, crc)
}

func patchU32(buf []byte, off int, v uint32) {
	buf[off+0] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

// Decode reads one entry starting at b's current read position.
// Validates the length against the remaining buffer and the CRC
// against the decoded bytes; on success the read cursor advances by
// Len, on failure it is left untouched.
func Decode(b *buffer.Buffer) (Entry, bool) {
	start := b.RPos()
	remaining := b.Remaining()
	if remaining < HeaderSize {
		return Entry{}, false
	}

	header := b.Peek(HeaderSize)
	total := leU32(header, 4)
	if total < HeaderSize || int(total) > remaining {
		return Entry{}, false
	}

	full := b.Peek(int(total))
	if full == nil {
		return Entry{}, false
	}

	crc := leU32(full, 0)
	if crc32.ChecksumIEEE(full[4:]) != crc {
		return Entry{}, false
	}

	e := Entry{
		CRC:   crc,
		Len:   total,
		Term:  leU64(full, 8),
		Seq:   leU64(full, 16),
		CID:   leU64(full, 24),
		Flags: Flag(leU32(full, 32)),
	}
	payload := make([]byte, int(total)-HeaderSize)
	copy(payload, full[HeaderSize:total])
	e.Payload = payload

	b.SetRPos(start + int(total))
	return e, true
}

func leU32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

func leU64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}
