package station

import (
	"io"
	"time"
)

// fakePort is an in-memory serial port. Incoming data is served one
// chunk per Read call so frames arrive with realistic boundaries; a
// script hook can enqueue responses when a request is written.
type fakePort struct {
	chunks  [][]byte
	written [][]byte
	flushes int
	closed  bool

	// script, if set, is called for every Write and may enqueue
	// response chunks.
	script func(req []byte, p *fakePort)
}

func (p *fakePort) queue(chunks ...[]byte) {
	p.chunks = append(p.chunks, chunks...)
}

func (p *fakePort) Read(b []byte) (int, error) {
	if len(p.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	w := append([]byte{}, b...)
	p.written = append(p.written, w)
	if p.script != nil {
		p.script(w, p)
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func (p *fakePort) Flush() error {
	p.flushes++
	p.chunks = nil
	return nil
}

// responseFrame builds a station response frame for tests.
func responseFrame(cmd byte, stationCode uint16, data []byte) []byte {
	payload := []byte{cmd, byte(len(data) + 2), byte(stationCode >> 8), byte(stationCode)}
	payload = append(payload, data...)
	out := []byte{charSTX}
	out = append(out, payload...)
	out = append(out, crcBytes(payload)...)
	out = append(out, charETX)
	return out
}

// testSession wires a session directly over a fake port, bypassing the
// open/probe sequence.
func testSession(p *fakePort) *Session {
	return &Session{
		tr:     newTransport(p, "fake", 38400),
		direct: true,
	}
}

// sysvalImage builds a full system-value response payload: the filler
// byte plus 128 block bytes with the given offset overrides.
func sysvalImage(overrides map[byte][]byte) []byte {
	img := make([]byte, 1+0x80)
	for off, val := range overrides {
		copy(img[1+int(off):], val)
	}
	return img
}

// sysvalScript answers every cmdGetSysVal request with the given image
// and acknowledges cmdSetSysVal writes, mirroring them into the image.
func sysvalScript(code uint16, img []byte) func([]byte, *fakePort) {
	return func(req []byte, p *fakePort) {
		// Skip the wakeup preamble if present.
		if len(req) > 0 && req[0] == charWakeup {
			req = req[1:]
		}
		if len(req) < 3 || req[0] != charSTX {
			return
		}
		switch req[1] {
		case cmdGetSysVal:
			p.queue(responseFrame(cmdGetSysVal, code, img))
		case cmdSetSysVal:
			offset := req[3]
			value := req[4 : 4+int(req[2])-1]
			copy(img[1+int(offset):], value)
			p.queue(responseFrame(cmdSetSysVal, code, []byte{offset}))
		case cmdSetMS:
			p.queue(responseFrame(cmdSetMS, code, []byte{req[3]}))
		}
	}
}

// shortTimeout keeps scripted tests fast; responses are always queued
// before the read happens.
const shortTimeout = 20 * time.Millisecond
