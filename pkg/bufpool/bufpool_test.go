package bufpool

import (
	"testing"

	"github.com/librescoot/serial-datagram/pkg/proto"
)

func TestAllocReturnsPayloadView(t *testing.T) {
	p := New(4)
	buf, ok := p.Alloc()
	if !ok {
		t.Fatalf("Alloc failed on fresh pool")
	}
	if buf.Len() != proto.MaxPayload {
		t.Fatalf("Alloc() len = %d, want %d", buf.Len(), proto.MaxPayload)
	}
}

func TestExhaustion(t *testing.T) {
	p := New(4)
	for i := 0; i < 4; i++ {
		if _, ok := p.Alloc(); !ok {
			t.Fatalf("Alloc %d failed before exhaustion", i)
		}
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("Alloc should fail once the pool is exhausted")
	}
}

func TestFreeAllowsReuse(t *testing.T) {
	p := New(1)
	buf, ok := p.Alloc()
	if !ok {
		t.Fatalf("Alloc failed")
	}
	if _, ok := p.Alloc(); ok {
		t.Fatalf("second Alloc should fail with slab count 1")
	}
	p.Free(buf)
	if _, ok := p.Alloc(); !ok {
		t.Fatalf("Alloc should succeed again after Free")
	}
}

func TestFreeAfterFrameViewConversion(t *testing.T) {
	p := New(1)
	buf, _ := p.Alloc()
	buf.Shrink(10)
	buf.ToFrameView()
	if buf.Len() != 18 {
		t.Fatalf("frame view len = %d, want 18", buf.Len())
	}
	p.Free(buf)
	if _, ok := p.Alloc(); !ok {
		t.Fatalf("Alloc should succeed after freeing a reframed buffer")
	}
}

func TestNoFreeListLeakAcrossManyCycles(t *testing.T) {
	p := New(4)
	for round := 0; round < 1000; round++ {
		bufs := make([]proto.Buffer, 0, 4)
		for i := 0; i < 4; i++ {
			b, ok := p.Alloc()
			if !ok {
				t.Fatalf("round %d: Alloc %d failed", round, i)
			}
			bufs = append(bufs, b)
		}
		if _, ok := p.Alloc(); ok {
			t.Fatalf("round %d: pool should be exhausted", round)
		}
		for _, b := range bufs {
			p.Free(b)
		}
	}
}
