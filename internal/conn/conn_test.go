package conn

import (
	"bytes"
	"testing"

	"github.com/resql/resql/pkg/wire"
)

func TestFeedAssemblesWholeFrame(t *testing.T) {
	b := NewBase(3, KindClient, "127.0.0.1:9001")
	body := []byte("hello")
	frame := encodeFrame(wire.TypeClientReq, body)

	msgs, err := b.Feed(frame)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Type != wire.TypeClientReq || !bytes.Equal(msgs[0].Body, body) {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
}

func TestFeedAccumulatesPartialFrame(t *testing.T) {
	b := NewBase(3, KindClient, "")
	frame := encodeFrame(wire.TypeConnectReq, []byte("0123456789"))

	msgs, err := b.Feed(frame[:4])
	if err != nil {
		t.Fatalf("feed head: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages from a partial header, got %d", len(msgs))
	}

	msgs, err = b.Feed(frame[4:])
	if err != nil {
		t.Fatalf("feed rest: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message once complete, got %d", len(msgs))
	}
}

func TestFeedTwoFramesBackToBack(t *testing.T) {
	b := NewBase(3, KindNode, "")
	data := append(encodeFrame(wire.TypeAppendReq, []byte("a")), encodeFrame(wire.TypeAppendResp, []byte("bb"))...)

	msgs, err := b.Feed(data)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Type != wire.TypeAppendReq || msgs[1].Type != wire.TypeAppendResp {
		t.Fatalf("unexpected message order: %+v", msgs)
	}
}

func TestEnqueueDrainRoundTrip(t *testing.T) {
	b := NewBase(3, KindClient, "")
	b.Enqueue(wire.TypeClientResp, []byte("payload"))
	b.Enqueue(wire.TypeShutdownReq, nil)

	var written bytes.Buffer
	if err := b.Drain(func(p []byte) (int, error) { return written.Write(p) }); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if b.HasPending() {
		t.Fatalf("expected outbound queue to drain fully")
	}

	reader := NewBase(3, KindClient, "")
	msgs, err := reader.Feed(written.Bytes())
	if err != nil {
		t.Fatalf("feed written bytes: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Type != wire.TypeClientResp || msgs[1].Type != wire.TypeShutdownReq {
		t.Fatalf("round trip mismatch: %+v", msgs)
	}
}

func TestDrainStopsOnShortWrite(t *testing.T) {
	b := NewBase(3, KindClient, "")
	b.Enqueue(wire.TypeClientResp, []byte("0123456789"))

	calls := 0
	err := b.Drain(func(p []byte) (int, error) {
		calls++
		if calls == 1 {
			return 2, nil // partial write, as a non-blocking socket would return
		}
		return 0, nil // would block
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if !b.HasPending() {
		t.Fatalf("expected bytes still queued after a short write")
	}
}

func encodeFrame(typ wire.Type, body []byte) []byte {
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, typ, body); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
