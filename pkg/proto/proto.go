// Package proto defines the datagram wire format, the buffer descriptor
// that moves through the pool/sender/receiver, and the flat Status
// taxonomy shared across the engine.
package proto

import "encoding/binary"

const (
	// HdrMagic marks the start of a frame on the wire.
	HdrMagic uint16 = 0xA357
	// TrlMagic marks the end of a frame on the wire.
	TrlMagic uint16 = 0xC69B

	// HeaderSize is the on-wire size of Header in bytes.
	HeaderSize = 6
	// TrailerSize is the on-wire size of the trailer magic in bytes.
	TrailerSize = 2

	// MaxPayload is the largest payload a single datagram may carry.
	MaxPayload = 56

	// MinFrameSize is the smallest possible frame: an empty payload.
	MinFrameSize = HeaderSize + TrailerSize

	// MaxFrameSize is the largest possible frame: HeaderSize + MaxPayload + TrailerSize.
	MaxFrameSize = HeaderSize + MaxPayload + TrailerSize

	// InvalidPort marks an empty receiver-table slot; it must never
	// appear on the wire as a real destination port.
	InvalidPort Port = 0xFF
)

// Port is the 8-bit logical destination key carried in every datagram
// header.
type Port = uint8

// Status is the flat error taxonomy used across the engine. It is not a
// Go error: it is a value returned by operations that are expected to be
// checked directly by callers, the way the original C++ enum class
// Status is.
type Status uint8

const (
	// Success means the operation completed.
	Success Status = iota
	// Failure is unspecified, reserved for future use.
	Failure
	// Duplicate means a port was already registered.
	Duplicate
	// NoMoreSpace means the receiver table or send queue is full.
	NoMoreSpace
	// NoReceiver means a valid datagram arrived for an unregistered port.
	NoReceiver
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Failure:
		return "Failure"
	case Duplicate:
		return "Duplicate"
	case NoMoreSpace:
		return "NoMoreSpace"
	case NoReceiver:
		return "NoReceiver"
	default:
		return "Unknown"
	}
}

// Header is the 6-byte little-endian datagram header: magic, payload
// size, destination port, and a CRC-16/USB computed over the whole frame
// with this field treated as zero.
type Header struct {
	Magic uint16
	Size  uint8
	Port  uint8
	CRC   uint16
}

// Encode writes h into dst[0:HeaderSize]. dst must have at least
// HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], h.Magic)
	dst[2] = h.Size
	dst[3] = h.Port
	binary.LittleEndian.PutUint16(dst[4:6], h.CRC)
}

// DecodeHeader reads a Header out of src[0:HeaderSize].
func DecodeHeader(src []byte) Header {
	return Header{
		Magic: binary.LittleEndian.Uint16(src[0:2]),
		Size:  src[2],
		Port:  src[3],
		CRC:   binary.LittleEndian.Uint16(src[4:6]),
	}
}

// TrailerMagic reads the 2-byte trailer magic at src[0:TrailerSize].
func TrailerMagic(src []byte) uint16 {
	return binary.LittleEndian.Uint16(src[0:2])
}

// PutTrailerMagic writes the trailer magic to dst[0:TrailerSize].
func PutTrailerMagic(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:2], TrlMagic)
}

// FrameLen returns the total on-wire length of a frame carrying a
// payload of size n bytes.
func FrameLen(n uint8) int {
	return int(n) + HeaderSize + TrailerSize
}
