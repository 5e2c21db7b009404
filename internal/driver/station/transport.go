// internal/driver/station/transport.go
// Serial byte stream under the frame codec. The port is owned
// exclusively by its session; requests and responses strictly alternate.
package station

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// Port is the minimal serial interface the transport drives. It is
// satisfied by *serial.Port and by the in-memory fakes in the tests.
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// readSlice is the per-Read timeout configured on the serial port. The
// transport loops reads in slices of this size up to the caller's
// deadline, so per-call timeouts work without reopening the port.
const readSlice = 50 * time.Millisecond

// DefaultTimeout is the read timeout used when a caller passes none.
const DefaultTimeout = 2 * time.Second

type transport struct {
	port     Port
	portName string
	baud     int

	// Bytes read from the port but not yet consumed by a frame parse.
	pending []byte
}

// openTransport opens the named serial port at the given baud rate,
// 8-N-1, RTS/DTR unused.
func openTransport(name string, baud int) (*transport, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readSlice,
	})
	if err != nil {
		return nil, fmt.Errorf("station: could not open port %q: %w", name, err)
	}
	return &transport{port: port, portName: name, baud: baud}, nil
}

// newTransport wraps an already-open port. Used by tests.
func newTransport(port Port, name string, baud int) *transport {
	return &transport{port: port, portName: name, baud: baud}
}

func (t *transport) close() error {
	return t.port.Close()
}

// setBaud switches the host-side baud rate. Serial ports are configured
// at open, so the port is reopened.
func (t *transport) setBaud(baud int) error {
	if err := t.port.Close(); err != nil {
		return fmt.Errorf("station: close before baud switch: %w", err)
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        t.portName,
		Baud:        baud,
		ReadTimeout: readSlice,
	})
	if err != nil {
		return fmt.Errorf("station: reopen at %d baud: %w", baud, err)
	}
	t.port = port
	t.baud = baud
	return nil
}

// flush discards buffered input and output, including bytes already
// pulled into the pending buffer.
func (t *transport) flush() error {
	t.pending = nil
	return t.port.Flush()
}

// write sends raw bytes to the station.
func (t *transport) write(p []byte) error {
	if _, err := t.port.Write(p); err != nil {
		return fmt.Errorf("station: could not send command: %w", err)
	}
	return nil
}

// inputEmpty reports whether any unconsumed response bytes are buffered.
// A request must not be sent while a previous response is still pending.
func (t *transport) inputEmpty() bool {
	return len(t.pending) == 0
}

// readByte returns the next response byte, waiting up to timeout.
func (t *transport) readByte(timeout time.Duration) (byte, error) {
	b, err := t.read(1, timeout)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// read returns exactly n response bytes, waiting up to timeout for the
// whole group. Reads drain whatever the port has available so
// unsolicited frames are not lost between commands.
func (t *transport) read(n int, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	buf := make([]byte, 512)
	for len(t.pending) < n {
		m, err := t.port.Read(buf)
		if m > 0 {
			t.pending = append(t.pending, buf[:m]...)
			continue
		}
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("station: error reading response: %w", err)
		}
		// A zero-length read is the port's read slice expiring.
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
	}
	out := t.pending[:n]
	t.pending = t.pending[n:]
	return out, nil
}
