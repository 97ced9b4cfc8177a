package telemetry

import (
	"testing"

	"github.com/librescoot/serial-datagram/pkg/proto"
)

func TestDecodeCommand(t *testing.T) {
	port, payload, err := decodeCommand("1:0a0b0c")
	if err != nil {
		t.Fatalf("decodeCommand() error = %v", err)
	}
	if port != proto.Port(1) {
		t.Fatalf("port = %d, want 1", port)
	}
	want := []byte{0x0a, 0x0b, 0x0c}
	if string(payload) != string(want) {
		t.Fatalf("payload = %v, want %v", payload, want)
	}
}

func TestDecodeCommandMalformed(t *testing.T) {
	cases := []string{
		"",
		"nocolon",
		"abc:0a0b",     // non-numeric port
		"1:zz",         // invalid hex
		"-1:0a",        // negative port
		"255:0a",       // reserved InvalidPort
	}
	for _, c := range cases {
		if _, _, err := decodeCommand(c); err == nil {
			t.Errorf("decodeCommand(%q) succeeded, want error", c)
		}
	}
}

func TestDecodeCommandPayloadTooLarge(t *testing.T) {
	big := make([]byte, (proto.MaxPayload+1)*2)
	for i := range big {
		big[i] = '0'
	}
	if _, _, err := decodeCommand("1:" + string(big)); err == nil {
		t.Fatal("decodeCommand() succeeded for an oversize payload, want error")
	}
}
