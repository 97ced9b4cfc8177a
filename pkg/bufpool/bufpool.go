// Package bufpool implements the static, fixed-capacity slab pool that
// backs every buffer moving through the engine: no allocation happens
// past New.
package bufpool

import "github.com/librescoot/serial-datagram/pkg/proto"

// noSlab marks an empty free-list slot.
const noSlab = -1

// Pool hands out and reclaims fixed-size slabs from a static arena. The
// free list is a separate next-index array parallel to the arena rather
// than a pointer stitched into the slab's own bytes: Go's type system
// and garbage collector don't offer a safe way to alias a live value's
// memory with an untyped pointer, so a plain index array stands in for
// that intrusive trick.
type Pool struct {
	arena []proto.Slab
	next  []int
	index map[*proto.Slab]int
	free  int
}

// New returns a Pool with slabCount slabs, each sized to hold the
// largest possible frame (header + max payload + trailer).
func New(slabCount int) *Pool {
	p := &Pool{
		arena: make([]proto.Slab, slabCount),
		next:  make([]int, slabCount),
		index: make(map[*proto.Slab]int, slabCount),
		free:  noSlab,
	}
	for i := range p.arena {
		p.index[&p.arena[i]] = i
	}
	// Thread slabs in reverse order so the first allocation returns the
	// lowest-index (lowest-address) slab.
	for i := slabCount - 1; i >= 0; i-- {
		p.next[i] = p.free
		p.free = i
	}
	return p
}

// Alloc returns the payload view of a free slab, or the zero Buffer and
// false if the pool is exhausted.
func (p *Pool) Alloc() (proto.Buffer, bool) {
	if p.free == noSlab {
		return proto.Buffer{}, false
	}
	idx := p.free
	p.free = p.next[idx]
	return proto.NewPayloadView(&p.arena[idx]), true
}

// Free returns a slab to the head of the free list. buf must have been
// obtained from this Pool's Alloc (directly, or via a frame view derived
// from it); freeing anything else is a no-op.
func (p *Pool) Free(buf proto.Buffer) {
	idx, ok := p.index[buf.SlabPtr()]
	if !ok {
		return
	}
	p.next[idx] = p.free
	p.free = idx
}

// Cap returns the pool's total slab count.
func (p *Pool) Cap() int {
	return len(p.arena)
}
