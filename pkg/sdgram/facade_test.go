package sdgram

import (
	"testing"

	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/stream"
)

var testPayload = []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

type collector struct {
	calls [][]byte
}

func (c *collector) ProcessMsg(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.calls = append(c.calls, cp)
}

func sendFrame(t *testing.T, eng *Engine, port proto.Port, payload []byte) {
	t.Helper()
	buf, ok := eng.AllocBuffer()
	if !ok {
		t.Fatal("AllocBuffer() failed")
	}
	copy(buf.Bytes(), payload)
	buf.Shrink(uint8(len(payload)))
	if status := eng.Send(port, buf); status != proto.Success {
		t.Fatalf("Send() = %v, want Success", status)
	}
}

// S1 — one frame.
func TestScenarioOneFrame(t *testing.T) {
	a, b := stream.NewLoopback(256)
	recvEng := New(a, Config{})
	sendEng := New(b, Config{})

	c := &collector{}
	recvEng.RegisterReceiver(1, c)

	sendFrame(t, sendEng, 1, testPayload)
	sendEng.Process()
	recvEng.Process()

	if len(c.calls) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(c.calls))
	}
	if string(c.calls[0]) != string(testPayload) {
		t.Fatalf("payload = %v, want %v", c.calls[0], testPayload)
	}
	stats := recvEng.RcvStats()
	if stats.Msgs != 1 || stats.Bytes != 18 {
		t.Fatalf("stats = %+v, want Msgs=1 Bytes=18", stats)
	}
	if stats.CRCError != 0 || stats.TrlError != 0 || stats.SizeError != 0 || stats.RcvError != 0 {
		t.Fatalf("stats = %+v, want all error counters 0", stats)
	}
}

// S2 — three frames batched.
func TestScenarioThreeFramesBatched(t *testing.T) {
	a, b := stream.NewLoopback(256)
	recvEng := New(a, Config{})
	sendEng := New(b, Config{})

	c := &collector{}
	recvEng.RegisterReceiver(1, c)

	for i := 0; i < 3; i++ {
		sendFrame(t, sendEng, 1, testPayload)
	}
	sendEng.Process()
	recvEng.Process()

	if len(c.calls) != 3 {
		t.Fatalf("handler calls = %d, want 3", len(c.calls))
	}
	for _, got := range c.calls {
		if string(got) != string(testPayload) {
			t.Fatalf("payload = %v, want %v", got, testPayload)
		}
	}
	stats := recvEng.RcvStats()
	if stats.Msgs != 3 || stats.Bytes != 54 {
		t.Fatalf("stats = %+v, want Msgs=3 Bytes=54", stats)
	}
}

// S3 — byte-at-a-time. A one-byte write window makes the sender emit
// exactly one byte per Send/Process, and the receiver ticks after each.
func TestScenarioByteAtATime(t *testing.T) {
	a, b := stream.NewLoopback(256)
	narrow := &narrowStream{Loopback: b, window: 1}
	recvEng := New(a, Config{})
	sendEng := New(narrow, Config{})

	c := &collector{}
	recvEng.RegisterReceiver(1, c)

	sendFrame(t, sendEng, 1, testPayload)
	recvEng.Process()

	for i := 1; i < 18; i++ {
		if len(c.calls) != 0 {
			t.Fatalf("handler called after %d of 18 bytes, want only after the last", i)
		}
		sendEng.Process()
		recvEng.Process()
	}

	if len(c.calls) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(c.calls))
	}
	stats := recvEng.RcvStats()
	if stats.Msgs != 1 || stats.Bytes != 18 {
		t.Fatalf("stats = %+v, want Msgs=1 Bytes=18", stats)
	}
}

// S6 — bad trailer recovered by next frame.
func TestScenarioBadTrailerRecovered(t *testing.T) {
	a, b := stream.NewLoopback(256)
	recvEng := New(a, Config{})
	sendEng := New(b, Config{})

	c := &collector{}
	recvEng.RegisterReceiver(1, c)

	badBuf, ok := sendEng.AllocBuffer()
	if !ok {
		t.Fatal("AllocBuffer() failed")
	}
	copy(badBuf.Bytes(), testPayload)
	badBuf.Shrink(uint8(len(testPayload)))
	sendEng.Prepare(1, &badBuf)
	badBuf.Bytes()[badBuf.Len()-1] ^= 0xFF // corrupt the last trailer byte
	sendEng.SendPrepared(badBuf)

	sendFrame(t, sendEng, 1, testPayload)
	sendEng.Process()
	recvEng.Process()

	if len(c.calls) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(c.calls))
	}
	stats := recvEng.RcvStats()
	if stats.TrlError != 1 {
		t.Fatalf("TrlError = %d, want 1", stats.TrlError)
	}
	if stats.DroppedBytes != 18 {
		t.Fatalf("DroppedBytes = %d, want 18", stats.DroppedBytes)
	}
}

// S7 — send through a narrow channel.
type narrowStream struct {
	*stream.Loopback
	window uint16
}

func (n *narrowStream) AvailableForWrite() uint16 {
	w := n.Loopback.AvailableForWrite()
	if w > n.window {
		return n.window
	}
	return w
}

func TestScenarioNarrowChannel(t *testing.T) {
	a, b := stream.NewLoopback(512)
	narrow := &narrowStream{Loopback: b, window: 1}

	recvEng := New(a, Config{})
	sendEng := New(narrow, Config{})

	c := &collector{}
	recvEng.RegisterReceiver(1, c)

	for i := 0; i < 4; i++ {
		sendFrame(t, sendEng, 1, testPayload)
	}

	for i := 0; i < 200 && len(c.calls) < 4; i++ {
		sendEng.Process()
		recvEng.Process()
	}

	if len(c.calls) != 4 {
		t.Fatalf("handler calls = %d, want 4", len(c.calls))
	}
	for _, got := range c.calls {
		if string(got) != string(testPayload) {
			t.Fatalf("payload = %v, want %v", got, testPayload)
		}
	}
	stats := recvEng.RcvStats()
	if stats.CRCError != 0 || stats.TrlError != 0 || stats.SizeError != 0 || stats.RcvError != 0 {
		t.Fatalf("stats = %+v, want all error counters 0", stats)
	}
}

func TestRegistrationDuplicateAndFull(t *testing.T) {
	a, _ := stream.NewLoopback(64)
	eng := New(a, Config{MaxReceivers: 2})

	c1, c2, c3 := &collector{}, &collector{}, &collector{}
	if status := eng.RegisterReceiver(1, c1); status != proto.Success {
		t.Fatalf("first Register() = %v, want Success", status)
	}
	if status := eng.RegisterReceiver(1, c2); status != proto.Duplicate {
		t.Fatalf("duplicate Register() = %v, want Duplicate", status)
	}
	if status := eng.RegisterReceiver(2, c2); status != proto.Success {
		t.Fatalf("second Register() = %v, want Success", status)
	}
	if status := eng.RegisterReceiver(3, c3); status != proto.NoMoreSpace {
		t.Fatalf("overflow Register() = %v, want NoMoreSpace", status)
	}
}

func TestPoolExhaustionAfterSlabCountAllocs(t *testing.T) {
	a, _ := stream.NewLoopback(64)
	eng := New(a, Config{SlabCount: 4})

	for i := 0; i < 4; i++ {
		if _, ok := eng.AllocBuffer(); !ok {
			t.Fatalf("alloc %d failed before exhaustion", i)
		}
	}
	if _, ok := eng.AllocBuffer(); ok {
		t.Fatal("AllocBuffer() succeeded past slab_count allocations")
	}
}
