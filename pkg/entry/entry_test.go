package entry

import (
	"testing"

	"github.com/resql/resql/pkg/buffer"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := buffer.New(64)
	Encode(b, 7, 42, 1001, FlagRequest, []byte("insert into t values (1)"))

	rb := buffer.Wrap(b.Bytes())
	got, ok := Decode(rb)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Term != 7 || got.Seq != 42 || got.CID != 1001 || got.Flags != FlagRequest {
		t.Fatalf("decoded header mismatch: %+v", got)
	}
	if string(got.Payload) != "insert into t values (1)" {
		t.Fatalf("payload mismatch: %q", got.Payload)
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	b := buffer.New(64)
	Encode(b, 1, 1, 1, FlagInit, []byte("payload"))
	raw := append([]byte(nil), b.Bytes()...)

	// Flip a byte in the payload; CRC must now fail.
	raw[HeaderSize] ^= 0xFF

	rb := buffer.Wrap(raw)
	if _, ok := Decode(rb); ok {
		t.Fatalf("expected decode to fail after corrupting a payload byte")
	}
}

func TestDecodeLeavesCursorOnFailure(t *testing.T) {
	b := buffer.New(64)
	Encode(b, 1, 1, 1, FlagInit, []byte("x"))
	raw := b.Bytes()[:HeaderSize+1-1] // truncate mid-entry

	rb := buffer.Wrap(raw)
	start := rb.RPos()
	if _, ok := Decode(rb); ok {
		t.Fatalf("expected decode to fail on truncated entry")
	}
	if rb.RPos() != start {
		t.Fatalf("read cursor must not advance on failed decode")
	}
}

func TestIterateContiguousEntries(t *testing.T) {
	b := buffer.New(128)
	Encode(b, 1, 1, 1, FlagInit, []byte("a"))
	Encode(b, 1, 2, 1, FlagRequest, []byte("bb"))
	Encode(b, 1, 3, 1, FlagRequest, []byte("ccc"))

	rb := buffer.Wrap(b.Bytes())
	var seqs []uint64
	for rb.Remaining() > 0 {
		e, ok := Decode(rb)
		if !ok {
			t.Fatalf("unexpected decode failure mid-iteration")
		}
		seqs = append(seqs, e.Seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Fatalf("unexpected sequence of decoded entries: %v", seqs)
	}
}
