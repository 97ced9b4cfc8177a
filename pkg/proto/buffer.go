package proto

// SlabSize is the size of one pool slab: room for the header, the
// largest payload, and the trailer with nothing left over.
const SlabSize = HeaderSize + MaxPayload + TrailerSize

// Slab is one fixed-size region of the pool's static arena.
type Slab [SlabSize]byte

// Buffer is a descriptor referring to a contiguous region inside one
// pool slab. It is the Go analogue of the C++ {ptr, len} pair: instead
// of a raw pointer that gets walked backwards and forwards over the
// slab, it keeps the slab pointer plus an offset, and ToFrameView/Shrink
// narrow or widen that offset arithmetically. No bytes are ever copied
// when switching between the payload view and the frame view.
type Buffer struct {
	slab *Slab
	off  uint8
	n    uint8
}

// NewPayloadView builds the view AllocBuffer hands to callers: ptr
// advanced past the header region, len set to the maximum payload. The
// caller is expected to Shrink it down to the real payload length.
func NewPayloadView(slab *Slab) Buffer {
	return Buffer{slab: slab, off: HeaderSize, n: MaxPayload}
}

// Zero reports whether the descriptor refers to no slab at all, the
// Go equivalent of a null Buffer.
func (b Buffer) Zero() bool {
	return b.slab == nil
}

// Len is the number of bytes in the current view.
func (b Buffer) Len() uint8 {
	return b.n
}

// Bytes returns the current view as a slice over the underlying slab.
// The slice aliases the slab; callers must not retain it past the
// point where the slab could be reused (freed back to the pool or
// reframed).
func (b Buffer) Bytes() []byte {
	if b.slab == nil {
		return nil
	}
	return b.slab[b.off : b.off+b.n]
}

// Region returns an arbitrary off:off+n window over the same backing
// slab, regardless of the descriptor's current view. The sender uses
// this to reach the reserved header/trailer bytes that sit just outside
// the payload view.
func (b Buffer) Region(off, n uint8) []byte {
	return b.slab[off : off+n]
}

// Shrink reduces the payload view down to the caller's actual payload
// length. n must be <= MaxPayload.
func (b *Buffer) Shrink(n uint8) {
	b.n = n
}

// ToFrameView converts a payload view in place into a frame view: ptr
// moves back to the header magic, len becomes the total frame length.
// It is the arithmetic half of framing; the header and trailer bytes
// themselves are written separately via Region.
func (b *Buffer) ToFrameView() {
	n := FrameLen(b.n)
	b.off = 0
	b.n = uint8(n)
}

// SlabPtr exposes the backing slab's address for identity comparisons.
// Only the buffer pool needs this, to match a returned Buffer back to
// its slot in the static arena.
func (b Buffer) SlabPtr() *Slab {
	return b.slab
}
