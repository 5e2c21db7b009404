package station

import (
	"bytes"
	"testing"
)

func TestCRCEmptyAndShort(t *testing.T) {
	if got := crc16(nil); got != 0x0000 {
		t.Errorf("crc16(nil) = 0x%04X, want 0x0000", got)
	}
	if got := crc16([]byte{0x53}); got != 0x0000 {
		t.Errorf("crc16 of one byte = 0x%04X, want 0x0000", got)
	}
}

func TestCRCTwoBytes(t *testing.T) {
	// A two-byte payload is its own checksum: no words follow the
	// initial one.
	if got := crc16([]byte{0x53, 0x09}); got != 0x5309 {
		t.Errorf("crc16(53 09) = 0x%04X, want 0x5309", got)
	}
}

func TestCRCReferenceVector(t *testing.T) {
	// The worked example from the SPORTident PC programmer's
	// documentation.
	data := []byte{0x53, 0x00, 0x05, 0x01, 0x0F, 0xB5, 0x00, 0x00, 0x1E, 0x08}
	if got := crc16(data); got != 0x2C12 {
		t.Errorf("crc16(doc example) = 0x%04X, want 0x2C12", got)
	}
}

func TestCRCKnownPayloads(t *testing.T) {
	tests := []struct {
		payload []byte
		want    uint16
	}{
		{[]byte{0xF0, 0x01, 0x4D}, 0x6D0A},             // SET_MS master request
		{[]byte{0xF0, 0x03, 0x00, 0x2A, 0x4D}, 0x0DEB}, // SET_MS reply from station 42
	}
	for _, tc := range tests {
		if got := crc16(tc.payload); got != tc.want {
			t.Errorf("crc16(% X) = 0x%04X, want 0x%04X", tc.payload, got, tc.want)
		}
	}
}

func TestCRCRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x83, 0x02, 0x00, 0x80},
		{0xB1, 0x00},
		{0x81, 0x04, 0x00, 0x01, 0x00, 0x80},
		bytes.Repeat([]byte{0xA5}, 131),
	}
	for _, p := range payloads {
		if !crcCheck(p, crcBytes(p)) {
			t.Errorf("crcCheck failed for % X", p)
		}
	}
}

func TestCRCBytesOrder(t *testing.T) {
	b := crcBytes([]byte{0xF0, 0x01, 0x4D})
	if b[0] != 0x6D || b[1] != 0x0A {
		t.Errorf("crcBytes = % X, want high byte first", b)
	}
}
