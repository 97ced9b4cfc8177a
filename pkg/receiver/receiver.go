// Package receiver implements the datagram engine's core: a stream of
// bytes is turned into validated datagrams by a two-state
// resynchronising state machine that tolerates truncation, duplication,
// and corruption without losing the next valid frame.
package receiver

import (
	"encoding/binary"
	"log"

	"github.com/librescoot/serial-datagram/pkg/crc16usb"
	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/rcvtable"
	"github.com/librescoot/serial-datagram/pkg/stream"
)

type searchState int

const (
	searchStart searchState = iota
	searchEnd
)

// Stats tracks receive-path accounting. Counters saturate at the u16
// max rather than wrapping, so a runaway error condition reads as
// "pegged" instead of cycling back through zero.
type Stats struct {
	Msgs         uint16
	Bytes        uint16
	DroppedBytes uint16
	CRCError     uint16
	TrlError     uint16
	SizeError    uint16
	RcvError     uint16
}

// Clear zeroes every counter.
func (s *Stats) Clear() { *s = Stats{} }

func satAdd(field *uint16, delta int) {
	v := int(*field) + delta
	if v > 0xFFFF {
		v = 0xFFFF
	}
	*field = uint16(v)
}

// Receiver pulls bytes from a Stream and dispatches completed,
// validated datagrams to a rcvtable.Table. One Receiver owns one
// contiguous scratch buffer; it never allocates past New.
type Receiver struct {
	stream stream.Stream
	table  *rcvtable.Table

	state searchState
	next  int
	data  [proto.MaxFrameSize]byte

	stats Stats
}

// New returns a Receiver reading from s and dispatching to table.
func New(s stream.Stream, table *rcvtable.Table) *Receiver {
	return &Receiver{stream: s, table: table, state: searchStart}
}

// Process consumes every byte currently available on the stream and
// dispatches any datagrams that complete as a result. It returns once
// the stream has nothing left to offer and the state machine can make
// no further progress without more bytes.
func (r *Receiver) Process() {
	for r.readMoreData() {
		if r.state == searchStart {
			r.processSearchStart(0)
		} else {
			r.processSearchEnd()
		}
	}
}

// Stats returns the current receive-path counters.
func (r *Receiver) Stats() Stats { return r.stats }

// ClearStats zeroes every counter.
func (r *Receiver) ClearStats() { r.stats.Clear() }

func (r *Receiver) maxBytesToRead() uint16 {
	switch r.state {
	case searchStart:
		if r.next < proto.MinFrameSize {
			return uint16(proto.MinFrameSize - r.next)
		}
		return 0
	default: // searchEnd
		if r.next < proto.HeaderSize {
			return uint16(proto.MinFrameSize - r.next)
		}
		total := r.totalMsgSize()
		if total <= proto.MaxFrameSize {
			return uint16(total - r.next)
		}
		return 0
	}
}

// readMoreData pulls as many bytes as maxBytesToRead allows (bounded by
// what the stream actually has) into the scratch buffer. It returns
// false when no progress was possible this iteration: either bytes were
// wanted and none were available, or a read came back empty.
func (r *Receiver) readMoreData() bool {
	available := r.stream.Available()
	bytesToRead := r.maxBytesToRead()

	if available == 0 && bytesToRead != 0 {
		return false
	}
	if bytesToRead > available {
		bytesToRead = available
	}
	if bytesToRead != 0 {
		n := r.readBytes(bytesToRead)
		if n == 0 {
			return false
		}
		r.next += int(n)
	}
	return true
}

func (r *Receiver) readBytes(max uint16) uint16 {
	var read uint16
	for read < max && r.stream.Available() > 0 {
		r.data[r.next+int(read)] = r.stream.ReadByte()
		read++
	}
	return read
}

func (r *Receiver) totalMsgSize() int {
	size := r.data[2] // Header.Size sits at offset 2
	return int(size) + proto.HeaderSize + proto.TrailerSize
}

// processSearchStart scans data[curr:next-1] for the little-endian
// header magic. curr is 0 on a fresh tick and 2 when called from
// recover, which has already ruled out a magic hit at offset 0.
func (r *Receiver) processSearchStart(curr int) {
	if r.next < 2 {
		return
	}

	for curr < r.next-1 {
		val := binary.LittleEndian.Uint16(r.data[curr : curr+2])
		if val == proto.HdrMagic {
			if curr > 0 {
				copy(r.data[:], r.data[curr:r.next])
				r.next -= curr
				satAdd(&r.stats.DroppedBytes, curr)
			}

			r.state = searchEnd
			if r.next >= proto.HeaderSize {
				r.processSearchEnd()
			}
			return
		}
		curr++
	}

	// curr is now next-1: at most one byte might be the low half of a
	// magic word split across reads, so keep it and drop the rest.
	if curr != 0 {
		r.data[0] = r.data[curr]
		satAdd(&r.stats.DroppedBytes, curr)
		r.next = 1
	}
}

func (r *Receiver) processSearchEnd() {
	if r.next < proto.HeaderSize {
		return
	}

	total := r.totalMsgSize()

	if total > proto.MaxFrameSize {
		satAdd(&r.stats.SizeError, 1)
		r.recover()
		return
	}

	if r.next < total {
		return
	}

	hdr := proto.DecodeHeader(r.data[:proto.HeaderSize])
	trlOff := proto.HeaderSize + int(hdr.Size)
	if proto.TrailerMagic(r.data[trlOff:trlOff+proto.TrailerSize]) != proto.TrlMagic {
		satAdd(&r.stats.TrlError, 1)
		r.recover()
		return
	}

	if !r.checkCRC(hdr, total) {
		satAdd(&r.stats.CRCError, 1)
		r.recover()
		return
	}

	r.deliver(hdr, total)
	r.startNextMsg(total)
}

func (r *Receiver) checkCRC(hdr proto.Header, total int) bool {
	saved := hdr.CRC
	r.data[4] = 0
	r.data[5] = 0
	calc := crc16usb.Calc(r.data[:total])
	return calc == saved
}

func (r *Receiver) deliver(hdr proto.Header, total int) {
	payload := r.data[proto.HeaderSize : proto.HeaderSize+int(hdr.Size)]

	switch status := r.table.Deliver(hdr.Port, payload); status {
	case proto.Success:
		satAdd(&r.stats.Msgs, 1)
		satAdd(&r.stats.Bytes, total)
	case proto.NoReceiver:
		satAdd(&r.stats.RcvError, 1)
		satAdd(&r.stats.DroppedBytes, total)
	default:
		log.Printf("receiver: unexpected deliver status %v for port %d", status, hdr.Port)
	}
}

func (r *Receiver) startNextMsg(total int) {
	r.state = searchStart

	if r.next != total {
		copy(r.data[:], r.data[total:r.next])
		r.next -= total
	} else {
		r.next = 0
	}
}

// recover abandons the current candidate frame: it returns to
// searchStart and re-scans from offset 2, since a second header magic
// cannot begin at offset 0 (that's the stale one we just rejected).
func (r *Receiver) recover() {
	r.state = searchStart
	r.processSearchStart(2)
}
