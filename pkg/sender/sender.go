// Package sender turns a borrowed payload buffer into an on-wire frame
// and drains it through a stream whose write window may be narrower
// than the frame, resuming a partial write on the next tick instead of
// re-sending already-accepted bytes.
package sender

import (
	"encoding/binary"

	"github.com/librescoot/serial-datagram/pkg/bufpool"
	"github.com/librescoot/serial-datagram/pkg/crc16usb"
	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/squeue"
	"github.com/librescoot/serial-datagram/pkg/stream"
)

// Sender composes and transmits datagrams. It owns no storage of its
// own beyond the in-flight queue and the written cursor: every buffer
// it touches was borrowed from a bufpool.Pool and is freed back to it
// as soon as the frame finishes draining.
type Sender struct {
	stream stream.Stream
	pool   *bufpool.Pool
	queue  *squeue.Queue[proto.Buffer]

	// written counts bytes of queue.Peek() already emitted to the
	// stream. It is meaningful only while the queue is non-empty and is
	// reset to 0 whenever the head frame finishes draining.
	written uint8
}

// New returns a Sender writing to s, borrowing and returning slabs from
// pool, with an in-flight queue sized for queueCap frames. queueCap
// should equal the pool's slab count so the queue can never overflow
// as long as callers only enqueue buffers obtained from that pool.
func New(s stream.Stream, pool *bufpool.Pool, queueCap int) *Sender {
	return &Sender{
		stream: s,
		pool:   pool,
		queue:  squeue.New[proto.Buffer](queueCap),
	}
}

// Send frames buf for port and attempts immediate transmission. It
// always reports Success: the buffer is owned by the sender from this
// call onward, and the queue is sized so it cannot overflow when the
// caller only ever sends buffers it got from the same pool. Whether the
// frame was written immediately or only queued is not observable from
// the return value.
func (s *Sender) Send(port proto.Port, buf proto.Buffer) proto.Status {
	s.Prepare(port, &buf)
	s.SendPrepared(buf)
	return proto.Success
}

// Prepare frames buf for port in place without attempting any
// transmission. It exists so tests and callers composing their own
// pipeline can hand a pre-framed buffer to SendPrepared directly.
func (s *Sender) Prepare(port proto.Port, buf *proto.Buffer) {
	createHdrAndTrl(buf, port)
}

// SendPrepared transmits an already-framed buffer: buf.Len() and
// buf.Bytes() must reflect the frame view (see Buffer.ToFrameView).
// If the queue already holds frames, buf is appended behind them and
// NoMoreSpace is returned only if the queue has no room — which cannot
// happen under the capacity invariant described on New. Otherwise
// an immediate write is attempted; a full write frees the slab, a
// partial write records progress and enqueues the remainder for
// Process to resume.
func (s *Sender) SendPrepared(buf proto.Buffer) proto.Status {
	if !s.queue.IsEmpty() {
		if s.queue.IsFull() {
			return proto.NoMoreSpace
		}
		s.queue.Push(buf)
		return proto.Success
	}

	written := s.writeData(buf, 0)
	if written == buf.Len() {
		s.pool.Free(buf)
		return proto.Success
	}

	s.written = written
	s.queue.Push(buf)
	return proto.Success
}

// Process drains the in-flight queue as far as the stream currently
// allows. It writes the head frame's remaining bytes, frees its slab
// and advances to the next frame whenever one finishes, and stops as
// soon as a write accepts zero bytes (the stream is full) or the queue
// empties.
func (s *Sender) Process() {
	for !s.queue.IsEmpty() {
		buf := s.queue.Peek()

		n := s.writeData(buf, s.written)
		if n == 0 {
			return
		}
		s.written += n

		if s.written < buf.Len() {
			return
		}

		s.queue.Pop()
		s.pool.Free(buf)
		s.written = 0
	}
}

// writeData writes as much of buf[offset:] as the stream's current
// write window allows and returns the number of bytes actually
// accepted.
func (s *Sender) writeData(buf proto.Buffer, offset uint8) uint8 {
	avail := s.stream.AvailableForWrite()
	if avail == 0 {
		return 0
	}

	remaining := buf.Bytes()[offset:]
	toWrite := len(remaining)
	if int(avail) < toWrite {
		toWrite = int(avail)
	}

	return uint8(s.stream.Write(remaining[:toWrite]))
}

// createHdrAndTrl frames buf in place for port: it writes the header
// at the reserved six bytes before the payload and the trailer magic
// just after it, converts buf to the frame view, then computes the
// CRC over the whole frame with the crc field held at zero and writes
// the result back into the header.
func createHdrAndTrl(buf *proto.Buffer, port proto.Port) {
	n := buf.Len()

	hdr := proto.Header{Magic: proto.HdrMagic, Size: n, Port: port, CRC: 0}
	hdr.Encode(buf.Region(0, proto.HeaderSize))
	proto.PutTrailerMagic(buf.Region(proto.HeaderSize+n, proto.TrailerSize))

	buf.ToFrameView()

	crc := crc16usb.Calc(buf.Bytes())
	binary.LittleEndian.PutUint16(buf.Region(4, 2), crc)
}
