// internal/driver/station/frame.go
// Assembly and parsing of the STX-framed request/response envelope, in
// both directions:
//
//	request:  WAKEUP? STX CMD LEN PARAMS CRC_HI CRC_LO ETX
//	response: STX CMD LEN STATION_HI STATION_LO DATA CRC_HI CRC_LO ETX
//
// LEN of a response counts STATION..last data byte, so the data length
// is LEN - 2. A NAK byte instead of STX signals an invalid command; a
// lone WAKEUP byte may precede the STX and is skipped.
package station

import (
	"time"
)

// frame is a parsed response.
type frame struct {
	cmd     byte
	station uint16
	data    []byte
}

// buildCommand assembles a request frame. The wakeup preamble byte is
// normally included; tight readout sequences suppress it because the
// station is known awake.
func buildCommand(cmd byte, params []byte, wakeup bool) []byte {
	payload := make([]byte, 0, 2+len(params))
	payload = append(payload, cmd, byte(len(params)))
	payload = append(payload, params...)

	out := make([]byte, 0, len(payload)+5)
	if wakeup {
		out = append(out, charWakeup)
	}
	out = append(out, charSTX)
	out = append(out, payload...)
	out = append(out, crcBytes(payload)...)
	out = append(out, charETX)
	return out
}

// readFrame reads and verifies one response frame from the transport.
func readFrame(t *transport, timeout time.Duration) (frame, error) {
	first, err := t.readByte(timeout)
	if err != nil {
		return frame{}, err
	}
	if first == charWakeup {
		// Stations are not known to send WAKEUP, but it does not hurt
		// to check for it.
		if first, err = t.readByte(timeout); err != nil {
			return frame{}, err
		}
	}

	switch {
	case first == charNAK:
		return frame{}, ErrInvalidCommand
	case first != charSTX:
		t.flush()
		return frame{}, &FramingError{Byte: first, Pos: "start"}
	}

	head, err := t.read(2, timeout) // cmd, length
	if err != nil {
		return frame{}, err
	}
	cmd, length := head[0], int(head[1])
	if length < 2 {
		// The length must at least cover the station code.
		t.flush()
		return frame{}, &FramingError{Byte: byte(length), Pos: "length"}
	}

	body, err := t.read(length+3, timeout) // station(2) + data + crc(2) + etx(1)
	if err != nil {
		return frame{}, err
	}
	station := body[:2]
	data := body[2:length]
	crc := body[length : length+2]
	etx := body[length+2]

	if etx != charETX {
		t.flush()
		return frame{}, &FramingError{Byte: etx, Pos: "end"}
	}
	payload := make([]byte, 0, 2+length)
	payload = append(payload, cmd, byte(length))
	payload = append(payload, station...)
	payload = append(payload, data...)
	if !crcCheck(payload, crc) {
		return frame{}, ErrChecksum
	}

	return frame{cmd: cmd, station: uint16(toInt(station)), data: data}, nil
}
