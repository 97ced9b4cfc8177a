package stream

import (
	"sync"

	"github.com/librescoot/serial-datagram/pkg/squeue"
)

// memBuffer is a capacity-bounded byte queue used to simulate one
// direction of a serial channel, grounded on the original C++ test
// harness's MemoryBuffer (sdgram_test_x64/memory_buffer.h): a deque with
// a fixed capacity, available()/read()/availableForWrite()/write().
type memBuffer struct {
	mu    sync.Mutex
	queue *squeue.Queue[byte]
}

func newMemBuffer(capacity int) *memBuffer {
	return &memBuffer{queue: squeue.New[byte](capacity)}
}

func (m *memBuffer) available() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint16(m.queue.Len())
}

func (m *memBuffer) readByte() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Pop()
}

func (m *memBuffer) availableForWrite() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint16(m.queue.Cap() - m.queue.Len())
}

// drainChunk pops up to max buffered bytes in order, used by
// SerialStream's write pump to batch several queued bytes into one
// blocking port.Write call instead of writing one byte at a time.
func (m *memBuffer) drainChunk(max int) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.queue.Len()
	if n > max {
		n = max
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = m.queue.Pop()
	}
	return out
}

func (m *memBuffer) write(p []byte) uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	room := m.queue.Cap() - m.queue.Len()
	n := len(p)
	if n > room {
		n = room
	}
	for i := 0; i < n; i++ {
		m.queue.Push(p[i])
	}
	return uint16(n)
}

// Loopback is one endpoint of a pair of in-memory byte channels, the Go
// analogue of the C++ test harness's SerialMock: it reads from one
// memBuffer and writes to the other, so two Loopback endpoints created
// by NewLoopback talk to each other exactly as two ends of a real serial
// cable would.
type Loopback struct {
	read  *memBuffer
	write *memBuffer
}

// NewLoopback returns a connected pair of Loopback streams, each
// direction bounded to capacity bytes of in-flight data.
func NewLoopback(capacity int) (a, b *Loopback) {
	ab := newMemBuffer(capacity)
	ba := newMemBuffer(capacity)
	a = &Loopback{read: ba, write: ab}
	b = &Loopback{read: ab, write: ba}
	return a, b
}

// Available implements Stream.
func (l *Loopback) Available() uint16 { return l.read.available() }

// ReadByte implements Stream.
func (l *Loopback) ReadByte() byte { return l.read.readByte() }

// AvailableForWrite implements Stream.
func (l *Loopback) AvailableForWrite() uint16 { return l.write.availableForWrite() }

// Write implements Stream.
func (l *Loopback) Write(p []byte) uint16 { return l.write.write(p) }
