// Package rcvtable maps incoming datagram ports to the handlers
// registered for them.
package rcvtable

import "github.com/librescoot/serial-datagram/pkg/proto"

// Handler processes one received datagram payload. The payload slice is
// only valid for the duration of the call: it aliases the receiver's
// scratch buffer, which gets reused or shifted as soon as the call
// returns. A handler that needs the bytes afterwards must copy them.
type Handler interface {
	ProcessMsg(payload []byte)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(payload []byte)

// ProcessMsg calls f(payload).
func (f HandlerFunc) ProcessMsg(payload []byte) { f(payload) }

type entry struct {
	port    proto.Port
	handler Handler
}

// Table is a fixed-capacity, linear-scan registry of port -> handler.
// Port proto.InvalidPort marks an empty slot.
type Table struct {
	entries []entry
}

// New returns a Table with room for exactly maxReceivers registrations.
func New(maxReceivers int) *Table {
	t := &Table{entries: make([]entry, maxReceivers)}
	for i := range t.entries {
		t.entries[i].port = proto.InvalidPort
	}
	return t
}

// Register associates handler with port. It returns Duplicate if port is
// already registered, NoMoreSpace if the table has no empty slot left,
// and Success otherwise.
func (t *Table) Register(port proto.Port, handler Handler) proto.Status {
	if t.find(port) >= 0 {
		return proto.Duplicate
	}
	slot := t.find(proto.InvalidPort)
	if slot < 0 {
		return proto.NoMoreSpace
	}
	t.entries[slot] = entry{port: port, handler: handler}
	return proto.Success
}

// Deliver invokes the handler registered for port with payload,
// synchronously. It returns NoReceiver if no handler is registered for
// port, and Success otherwise.
func (t *Table) Deliver(port proto.Port, payload []byte) proto.Status {
	slot := t.find(port)
	if slot < 0 {
		return proto.NoReceiver
	}
	t.entries[slot].handler.ProcessMsg(payload)
	return proto.Success
}

func (t *Table) find(port proto.Port) int {
	for i := range t.entries {
		if t.entries[i].port == port {
			return i
		}
	}
	return -1
}
