package stream

import "testing"

func TestLoopbackRoundTrip(t *testing.T) {
	a, b := NewLoopback(16)

	n := a.Write([]byte{1, 2, 3})
	if n != 3 {
		t.Fatalf("Write() = %d, want 3", n)
	}
	if got := b.Available(); got != 3 {
		t.Fatalf("b.Available() = %d, want 3", got)
	}
	for _, want := range []byte{1, 2, 3} {
		if got := b.ReadByte(); got != want {
			t.Fatalf("b.ReadByte() = %d, want %d", got, want)
		}
	}
	if got := b.Available(); got != 0 {
		t.Fatalf("b.Available() = %d, want 0", got)
	}
}

func TestLoopbackBackpressure(t *testing.T) {
	a, b := NewLoopback(4)

	n := a.Write([]byte{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Fatalf("Write() = %d, want 4 (capacity-limited)", n)
	}
	if got := a.AvailableForWrite(); got != 0 {
		t.Fatalf("a.AvailableForWrite() = %d, want 0", got)
	}
	b.ReadByte()
	if got := a.AvailableForWrite(); got != 1 {
		t.Fatalf("a.AvailableForWrite() = %d, want 1 after one read", got)
	}
}
