// Package sdgram ties the buffer pool, receiver table, receiver and
// sender to a single stream, presenting the datagram engine as one
// cooperatively-ticked object.
package sdgram

import (
	"github.com/librescoot/serial-datagram/pkg/bufpool"
	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/rcvtable"
	"github.com/librescoot/serial-datagram/pkg/receiver"
	"github.com/librescoot/serial-datagram/pkg/sender"
	"github.com/librescoot/serial-datagram/pkg/stream"
)

// Config carries the engine's compile-time-sized parameters. Zero
// values fall back to the defaults used throughout the original spec:
// four slabs, four receivers.
type Config struct {
	SlabCount    int
	MaxReceivers int
}

const (
	defaultSlabCount    = 4
	defaultMaxReceivers = 4
)

// Engine owns one stream and everything needed to turn it into a
// message-oriented channel: a buffer pool, a receiver table, a
// receiver and a sender.
type Engine struct {
	pool     *bufpool.Pool
	table    *rcvtable.Table
	receiver *receiver.Receiver
	sender   *sender.Sender
}

// New constructs an Engine over s with the given Config. A zero Config
// uses the default slab and receiver counts.
func New(s stream.Stream, cfg Config) *Engine {
	if cfg.SlabCount == 0 {
		cfg.SlabCount = defaultSlabCount
	}
	if cfg.MaxReceivers == 0 {
		cfg.MaxReceivers = defaultMaxReceivers
	}

	pool := bufpool.New(cfg.SlabCount)
	table := rcvtable.New(cfg.MaxReceivers)

	return &Engine{
		pool:     pool,
		table:    table,
		receiver: receiver.New(s, table),
		sender:   sender.New(s, pool, cfg.SlabCount),
	}
}

// AllocBuffer borrows a payload-view buffer from the pool, or reports
// false if every slab is currently in use.
func (e *Engine) AllocBuffer() (proto.Buffer, bool) {
	return e.pool.Alloc()
}

// Send frames buf for port and attempts immediate transmission,
// handing the buffer's ownership to the engine. See sender.Sender.Send
// for the caveat on its always-Success return value.
func (e *Engine) Send(port proto.Port, buf proto.Buffer) proto.Status {
	return e.sender.Send(port, buf)
}

// Prepare frames buf for port in place without transmitting it.
func (e *Engine) Prepare(port proto.Port, buf *proto.Buffer) {
	e.sender.Prepare(port, buf)
}

// SendPrepared transmits an already-framed buffer (see Prepare).
func (e *Engine) SendPrepared(buf proto.Buffer) proto.Status {
	return e.sender.SendPrepared(buf)
}

// RegisterReceiver associates handler with port. See rcvtable.Table.Register.
func (e *Engine) RegisterReceiver(port proto.Port, handler rcvtable.Handler) proto.Status {
	return e.table.Register(port, handler)
}

// Process ticks the receiver, then the sender, draining as much work
// as the underlying stream currently permits in each direction.
func (e *Engine) Process() {
	e.receiver.Process()
	e.sender.Process()
}

// RcvStats returns the receiver's current accounting counters.
func (e *Engine) RcvStats() receiver.Stats {
	return e.receiver.Stats()
}

// ClearRcvStats zeroes the receiver's accounting counters.
func (e *Engine) ClearRcvStats() {
	e.receiver.ClearStats()
}
