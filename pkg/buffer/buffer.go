// Package buffer implements the framed byte buffer described in
// spec.md §4.1: a little-endian codec with bounds-checked read/write
// cursors, a sticky error flag, and a growth policy that rounds
// requested capacity up to 4 KiB and caps it at 4 GiB.
//
// Buffer never hands out a slice that outlives its backing array: all
// reads return copies or sub-slices of the buffer's own storage, the
// zero-copy-view design note in spec.md §9 translated to a Go slice
// with explicit offset/length rather than manual pointer arithmetic.
package buffer

import (
	"encoding/binary"
	"math"
)

// ErrKind is the sticky error state of a Buffer.
type ErrKind int

const (
	ErrNone ErrKind = iota
	ErrCorrupt
	ErrOOM
)

const (
	growthQuantum = 4 * 1024
	maxCapacity   = 4 * 1024 * 1024 * 1024 // 4 GiB
	// NullStrLen is the sentinel length marking a null string.
	NullStrLen = math.MaxUint32
)

// Buffer is a typed put/get cursor over a byte slice. It either owns
// its backing store (grows on demand) or wraps an external one, in
// which case growth is never permitted.
type Buffer struct {
	data    []byte
	rpos    int
	wpos    int
	wrapped bool
	err     ErrKind
}

// New returns an owned Buffer with the given initial capacity, rounded
// up to the growth quantum.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, roundUp(capacity))}
}

// Wrap returns a Buffer over an external slice. It never grows; writes
// past the end of data set the OOM error.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, wpos: len(data), wrapped: true}
}

// WrapEmpty returns a wrapped Buffer over data with both cursors at 0,
// for encoding into an externally-owned region (e.g. an mmap view)
// that is not yet populated. Like Wrap it never grows, but unlike Wrap
// it starts with nothing marked readable, since data's contents are
// not yet meaningful. Decoding an already-populated region must use
// Wrap, not WrapEmpty: WrapEmpty leaves Remaining() at 0.
func WrapEmpty(data []byte) *Buffer {
	return &Buffer{data: data, wrapped: true}
}

func roundUp(n int) int {
	if n <= 0 {
		return growthQuantum
	}
	rounded := ((n + growthQuantum - 1) / growthQuantum) * growthQuantum
	if rounded > maxCapacity {
		rounded = maxCapacity
	}
	return rounded
}

// Valid reports whether the buffer is still in a usable state. Per
// the §4.1 contract, callers that performed any operation on a buffer
// that may have errored must check this before trusting the result.
func (b *Buffer) Valid() bool { return b.err == ErrNone }

// Err returns the sticky error flag.
func (b *Buffer) Err() ErrKind { return b.err }

// Len returns the number of written bytes.
func (b *Buffer) Len() int { return b.wpos }

// Remaining returns the number of unread bytes.
func (b *Buffer) Remaining() int { return b.wpos - b.rpos }

// Bytes returns the written portion of the buffer. The returned slice
// aliases the buffer's storage and must not be retained past the next
// mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.wpos] }

// RBytes returns the unread portion of the buffer.
func (b *Buffer) RBytes() []byte { return b.data[b.rpos:b.wpos] }

// Rewind resets both cursors to zero without discarding capacity.
func (b *Buffer) Rewind() {
	b.rpos = 0
	b.wpos = 0
	b.err = ErrNone
}

// SetRPos seeks the read cursor, used by callers replaying a region
// (e.g. page entry iteration) more than once.
func (b *Buffer) SetRPos(pos int) { b.rpos = pos }

func (b *Buffer) RPos() int { return b.rpos }
func (b *Buffer) WPos() int { return b.wpos }

func (b *Buffer) reserve(n int) bool {
	if b.err != ErrNone {
		return false
	}
	need := b.wpos + n
	if need <= len(b.data) {
		return true
	}
	if b.wrapped {
		b.err = ErrOOM
		return false
	}
	newCap := roundUp(need)
	if newCap < need {
		b.err = ErrOOM
		return false
	}
	grown := make([]byte, newCap)
	copy(grown, b.data[:b.wpos])
	b.data = grown
	return true
}

func (b *Buffer) ensure(n int) bool {
	if b.err != ErrNone {
		return false
	}
	if b.rpos+n > b.wpos {
		b.err = ErrCorrupt
		return false
	}
	return true
}

// PutU8 appends a single byte.
func (b *Buffer) PutU8(v uint8) {
	if !b.reserve(1) {
		return
	}
	b.data[b.wpos] = v
	b.wpos++
}

// PutU32 appends a little-endian uint32.
func (b *Buffer) PutU32(v uint32) {
	if !b.reserve(4) {
		return
	}
	binary.LittleEndian.PutUint32(b.data[b.wpos:], v)
	b.wpos += 4
}

// PutU64 appends a little-endian uint64.
func (b *Buffer) PutU64(v uint64) {
	if !b.reserve(8) {
		return
	}
	binary.LittleEndian.PutUint64(b.data[b.wpos:], v)
	b.wpos += 8
}

// PutF64 appends a little-endian IEEE-754 double.
func (b *Buffer) PutF64(v float64) {
	b.PutU64(math.Float64bits(v))
}

// PutRaw appends raw bytes verbatim (no length prefix).
func (b *Buffer) PutRaw(v []byte) {
	if !b.reserve(len(v)) {
		return
	}
	copy(b.data[b.wpos:], v)
	b.wpos += len(v)
}

// PutBlob appends a u32 length-prefixed blob.
func (b *Buffer) PutBlob(v []byte) {
	b.PutU32(uint32(len(v)))
	b.PutRaw(v)
}

// PutString appends a string as `u32 length | bytes | NUL`. It always
// writes a real string, "" included; the NullStrLen sentinel is
// written only by PutNullString.
func (b *Buffer) PutString(v string) {
	b.PutU32(uint32(len(v)))
	b.PutRaw([]byte(v))
	b.PutU8(0)
}

// PutNullString writes the null-string sentinel.
func (b *Buffer) PutNullString() {
	b.PutU32(NullStrLen)
}

// GetU8 reads a single byte. Returns 0 on error.
func (b *Buffer) GetU8() uint8 {
	if !b.ensure(1) {
		return 0
	}
	v := b.data[b.rpos]
	b.rpos++
	return v
}

// GetU32 reads a little-endian uint32. Returns 0 on error.
func (b *Buffer) GetU32() uint32 {
	if !b.ensure(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(b.data[b.rpos:])
	b.rpos += 4
	return v
}

// GetU64 reads a little-endian uint64. Returns 0 on error.
func (b *Buffer) GetU64() uint64 {
	if !b.ensure(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(b.data[b.rpos:])
	b.rpos += 8
	return v
}

// GetF64 reads a little-endian IEEE-754 double. Returns 0 on error.
func (b *Buffer) GetF64() float64 {
	return math.Float64frombits(b.GetU64())
}

// GetRaw reads n raw bytes, returning a copy. Returns nil on error.
func (b *Buffer) GetRaw(n int) []byte {
	if !b.ensure(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[b.rpos:b.rpos+n])
	b.rpos += n
	return out
}

// GetBlob reads a u32 length-prefixed blob.
func (b *Buffer) GetBlob() []byte {
	n := b.GetU32()
	if b.err != ErrNone {
		return nil
	}
	return b.GetRaw(int(n))
}

// GetString reads a length-prefixed, NUL-terminated string. Returns
// ("", true) for the null-string sentinel, ("", false) on error.
func (b *Buffer) GetString() (string, bool) {
	n := b.GetU32()
	if b.err != ErrNone {
		return "", false
	}
	if n == NullStrLen {
		return "", true
	}
	raw := b.GetRaw(int(n))
	if b.err != ErrNone {
		return "", false
	}
	b.GetU8() // NUL terminator
	if b.err != ErrNone {
		return "", false
	}
	return string(raw), true
}

// Peek returns the next n unread bytes without advancing rpos, or nil
// if fewer than n bytes remain.
func (b *Buffer) Peek(n int) []byte {
	if b.rpos+n > b.wpos {
		return nil
	}
	return b.data[b.rpos : b.rpos+n]
}

// Advance moves the read cursor forward n bytes without interpreting
// them, used by entry iteration once a record's length is known.
func (b *Buffer) Advance(n int) {
	if !b.ensure(n) {
		return
	}
	b.rpos += n
}
