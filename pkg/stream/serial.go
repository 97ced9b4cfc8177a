package stream

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Default ring sizes for the background bridge goroutines. A few frames'
// worth of slack is enough: the engine drains both directions every
// Process() tick.
const (
	defaultRXCapacity = 512
	defaultTXCapacity = 512

	readPollTimeout = 50 * time.Millisecond
)

// SerialStream bridges a real, blocking UART driver into the engine's
// non-blocking Stream contract. It is the production transport: a
// background goroutine reads the port one chunk at a time into a
// buffer, guarded by a stop channel and a WaitGroup, while a second
// goroutine drains an outbound buffer into blocking Writes.
type SerialStream struct {
	port serial.Port

	rx *memBuffer
	tx *memBuffer

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open opens devicePath at baud and starts the bridge goroutines. The
// returned SerialStream satisfies Stream immediately.
func Open(devicePath string, baud int) (*SerialStream, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(devicePath, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", devicePath, err)
	}
	if err := port.SetReadTimeout(readPollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", devicePath, err)
	}

	s := &SerialStream{
		port:   port,
		rx:     newMemBuffer(defaultRXCapacity),
		tx:     newMemBuffer(defaultTXCapacity),
		stopCh: make(chan struct{}),
	}

	s.wg.Add(2)
	go s.pumpRead()
	go s.pumpWrite()

	return s, nil
}

// Close stops the bridge goroutines and closes the underlying port.
func (s *SerialStream) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.port.Close()
}

// Available implements Stream.
func (s *SerialStream) Available() uint16 { return s.rx.available() }

// ReadByte implements Stream.
func (s *SerialStream) ReadByte() byte { return s.rx.readByte() }

// AvailableForWrite implements Stream.
func (s *SerialStream) AvailableForWrite() uint16 { return s.tx.availableForWrite() }

// Write implements Stream.
func (s *SerialStream) Write(p []byte) uint16 { return s.tx.write(p) }

func (s *SerialStream) pumpRead() {
	defer s.wg.Done()

	buf := make([]byte, 256)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Printf("serial: read error: %v", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		if n == 0 {
			continue
		}
		if written := s.rx.write(buf[:n]); int(written) < n {
			log.Printf("serial: rx buffer full, dropped %d bytes", n-int(written))
		}
	}
}

func (s *SerialStream) pumpWrite() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if s.tx.available() == 0 {
			time.Sleep(5 * time.Millisecond)
			continue
		}

		chunk := s.tx.drainChunk(256)
		if len(chunk) == 0 {
			continue
		}

		off := 0
		for off < len(chunk) {
			n, err := s.port.Write(chunk[off:])
			if err != nil {
				log.Printf("serial: write error: %v", err)
				break
			}
			off += n
		}
	}
}
