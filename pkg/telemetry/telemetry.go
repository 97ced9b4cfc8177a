// Package telemetry wires the datagram engine to Redis: it mirrors
// receive-path statistics and inbound CBOR-encoded payloads into Redis
// hashes and pub/sub channels, and turns a Redis command list into
// outbound datagrams, the same publish/subscribe/BRPOP vocabulary the
// original device-bridge service speaks against the vehicle's state
// store.
//
// The engine itself is single-threaded cooperative (see sdgram.Engine):
// nothing in pkg/bufpool, pkg/squeue, pkg/sender or pkg/receiver
// synchronizes its own state. Publisher and CommandWatcher therefore
// never touch an Engine directly from their own goroutines; Publisher
// is driven by a Tick the caller invokes from its own main loop, and
// CommandWatcher only decodes BRPOP results and hands them to the
// caller over a channel, the same loop that calls Engine.Process.
package telemetry

import (
	"encoding/hex"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/librescoot/serial-datagram/pkg/proto"
	"github.com/librescoot/serial-datagram/pkg/redis"
	"github.com/librescoot/serial-datagram/pkg/sdgram"
)

const (
	// KeyStats is the Redis hash the Publisher writes receive-path
	// counters to.
	KeyStats = "serial-datagram:stats"

	// KeyCommandList is the Redis list the CommandWatcher blocks on for
	// outbound datagram requests.
	KeyCommandList = "serial-datagram:commands"

	// KeyCommandDeadLetter is where commands that fail to decode are
	// preserved for later inspection instead of being dropped silently.
	KeyCommandDeadLetter = "serial-datagram:commands:invalid"

	// commandQueueDepth bounds how many decoded commands can be waiting
	// for the main loop to drain before CommandWatcher blocks handing
	// off the next one.
	commandQueueDepth = 16
)

// statFields lists the RcvStats counters mirrored to KeyStats, shared
// between publishOnce (which writes them) and ClearRemote (which
// removes them).
var statFields = []string{
	"msgs", "bytes", "dropped_bytes", "crc_error", "trl_error", "size_error", "rcv_error",
}

// Publisher mirrors the receiver's accounting counters into Redis,
// writing each field to a hash and publishing it on the hash's
// channel. It holds no goroutine of its own: Tick must be called
// periodically from the same loop that calls Engine.Process, since
// reading RcvStats concurrently with Process would race.
type Publisher struct {
	client   *redis.Client
	engine   *sdgram.Engine
	interval time.Duration
	lastRun  time.Time
}

// NewPublisher returns a Publisher that mirrors engine's RcvStats into
// client no more often than every interval.
func NewPublisher(client *redis.Client, engine *sdgram.Engine, interval time.Duration) *Publisher {
	return &Publisher{client: client, engine: engine, interval: interval}
}

// Tick publishes the current stats if interval has elapsed since the
// last publish. Call it from the same goroutine that ticks the engine.
func (p *Publisher) Tick() {
	now := time.Now()
	if !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.interval {
		return
	}
	p.lastRun = now
	p.publishOnce()
}

// ClearRemote removes every published stats field from Redis, mirroring
// a fresh Engine.ClearRcvStats() so a restarted bridge doesn't leave a
// previous run's counters visible.
func (p *Publisher) ClearRemote() {
	for _, field := range statFields {
		if _, err := p.client.HDel(KeyStats, field); err != nil {
			log.Printf("telemetry: failed to clear %s/%s: %v", KeyStats, field, err)
		}
	}
}

func (p *Publisher) publishOnce() {
	stats := p.engine.RcvStats()
	values := map[string]int{
		"msgs":          int(stats.Msgs),
		"bytes":         int(stats.Bytes),
		"dropped_bytes": int(stats.DroppedBytes),
		"crc_error":     int(stats.CRCError),
		"trl_error":     int(stats.TrlError),
		"size_error":    int(stats.SizeError),
		"rcv_error":     int(stats.RcvError),
	}
	for _, field := range statFields {
		if err := p.client.WriteAndPublishInt(KeyStats, field, values[field]); err != nil {
			log.Printf("telemetry: failed to publish %s: %v", field, err)
		}
	}
}

// Command is a decoded outbound datagram request waiting to be sent
// through an Engine.
type Command struct {
	Port    proto.Port
	Payload []byte
}

// CommandWatcher blocks on a Redis list for outbound datagram requests
// and decodes each one into a Command on its output channel. It never
// touches an Engine itself: the caller drains Commands() from the same
// loop that calls Engine.Process, so Engine.AllocBuffer/Send only ever
// run on one goroutine.
type CommandWatcher struct {
	client *redis.Client
	stopCh chan struct{}
	outCh  chan Command
}

// NewCommandWatcher returns a CommandWatcher reading from client.
func NewCommandWatcher(client *redis.Client) *CommandWatcher {
	return &CommandWatcher{
		client: client,
		stopCh: make(chan struct{}),
		outCh:  make(chan Command, commandQueueDepth),
	}
}

// Commands returns the channel decoded outbound requests are delivered
// on. The caller must drain it to make progress.
func (w *CommandWatcher) Commands() <-chan Command { return w.outCh }

// Stop ends a running CommandWatcher's Run loop.
func (w *CommandWatcher) Stop() { close(w.stopCh) }

// Run blocks on KeyCommandList for "port:hexpayload" entries and
// delivers each decoded one on Commands(). It returns once Stop is
// called. Entries that fail to decode are pushed onto
// KeyCommandDeadLetter instead of being silently discarded.
func (w *CommandWatcher) Run() {
	log.Printf("telemetry: watching command list %s", KeyCommandList)
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		result, err := w.client.BRPop(time.Second, KeyCommandList)
		if err != nil {
			log.Printf("telemetry: BRPOP on %s failed: %v", KeyCommandList, err)
			time.Sleep(time.Second)
			continue
		}
		if result == nil {
			continue // timeout, loop back around to check stopCh
		}

		raw := result[1]
		port, payload, err := decodeCommand(raw)
		if err != nil {
			log.Printf("telemetry: dropping command %q: %v", raw, err)
			if pushErr := w.client.LPush(KeyCommandDeadLetter, raw); pushErr != nil {
				log.Printf("telemetry: failed to record invalid command %q: %v", raw, pushErr)
			}
			continue
		}

		select {
		case w.outCh <- Command{Port: port, Payload: payload}:
		case <-w.stopCh:
			return
		}
	}
}

// decodeCommand parses a "port:hexpayload" command string, e.g.
// "1:0a0b0c", into a destination port and payload bytes.
func decodeCommand(command string) (proto.Port, []byte, error) {
	parts := strings.SplitN(command, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("malformed command %q, want \"port:hexpayload\"", command)
	}

	portNum, err := strconv.Atoi(parts[0])
	if err != nil || portNum < 0 || portNum > 0xFE {
		return 0, nil, fmt.Errorf("invalid port in command %q", command)
	}

	payload, err := hex.DecodeString(parts[1])
	if err != nil {
		return 0, nil, fmt.Errorf("invalid hex payload in command %q: %w", command, err)
	}
	if len(payload) > proto.MaxPayload {
		return 0, nil, fmt.Errorf("payload too large (%d bytes, max %d)", len(payload), proto.MaxPayload)
	}

	return proto.Port(portNum), payload, nil
}

// Handler decodes CBOR-encoded telemetry payloads and mirrors each
// field into Redis. A payload is a two-level map: from a namespace id
// to a map of field id to integer value, the receive-side
// counterpart of the device-bridge's own CBOR encoding of outbound
// messages.
type Handler struct {
	client    *redis.Client
	keyPrefix string
}

// NewHandler returns a Handler that writes decoded fields under keys
// prefixed with keyPrefix.
func NewHandler(client *redis.Client, keyPrefix string) *Handler {
	return &Handler{client: client, keyPrefix: keyPrefix}
}

// ProcessMsg implements rcvtable.Handler. It runs synchronously inside
// the caller's Engine.Process call, the same as every other handler, so
// it is under no concurrency obligation of its own.
func (h *Handler) ProcessMsg(payload []byte) {
	var msg map[uint16]map[uint16]int64
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		log.Printf("telemetry: failed to decode CBOR payload: %v", err)
		log.Printf("telemetry: raw payload: %x", payload)
		return
	}

	for namespace, fields := range msg {
		key := fmt.Sprintf("%s%04x", h.keyPrefix, namespace)
		for field, value := range fields {
			fieldName := fmt.Sprintf("%04x", field)
			if err := h.client.WriteAndPublishInt(key, fieldName, int(value)); err != nil {
				log.Printf("telemetry: failed to write %s/%s: %v", key, fieldName, err)
			}
		}
	}
}
