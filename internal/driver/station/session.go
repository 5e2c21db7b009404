// internal/driver/station/session.go
// Session layer: connect, baud negotiation, direct/remote routing and
// the cached protocol configuration.
package station

import (
	"fmt"
	"log"
	"time"
)

// ProtoConfig mirrors the station's protocol configuration byte and
// operating mode. It reflects the last known station state; any command
// that can change it re-fetches the system-value block.
type ProtoConfig struct {
	Extended  bool // extended protocol framing
	AutoSend  bool // station pushes punch records unsolicited
	Handshake bool // only valid for card readout
	Password  bool // access with password only
	PunchRead bool // read out card after punch
	Mode      Mode
}

// TraceSink receives every frame that crosses the wire, for the
// append-only debug log.
type TraceSink interface {
	Send(frame []byte)
	Recv(frame []byte)
}

// Options configure Open.
type Options struct {
	Debug     bool      // hex-dump frames via the standard logger
	NoConnect bool      // open the port but skip the station probe
	LowSpeed  bool      // start at 4800 baud instead of 38400
	Trace     TraceSink // optional wire log, may be nil
}

// Session is an exclusive connection to one station. Sessions are not
// safe for concurrent use; the protocol is strictly request/response.
type Session struct {
	tr   *transport
	opts Options

	proto       ProtoConfig
	stationCode uint16
	serialNo    uint32
	direct      bool
	sysval      []byte // cached 128-byte system-value image

	// onFrame is invoked for every received frame before any other
	// policy fires. The readout state machine uses it to intercept
	// card insert/remove events.
	onFrame func(frame) error
}

// Open connects to the station on the given serial port.
func Open(port string, opts Options) (*Session, error) {
	s := &Session{direct: true}
	s.opts = opts
	if err := s.connect(port); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenAny tries each candidate port in order and returns a session for
// the first that accepts the probe. Fails with *NoReaderError carrying
// the per-port errors otherwise.
func OpenAny(ports []string, opts Options) (*Session, error) {
	attempts := make(map[string]error)
	for _, port := range ports {
		s, err := Open(port, opts)
		if err == nil {
			return s, nil
		}
		attempts[port] = err
	}
	return nil, &NoReaderError{Attempts: attempts}
}

func (s *Session) connect(port string) error {
	baud := 38400
	if s.opts.NoConnect || s.opts.LowSpeed {
		baud = 4800
	}

	tr, err := openTransport(port, baud)
	if err != nil {
		return err
	}
	s.tr = tr

	if err := tr.flush(); err != nil {
		// No real device behind this device node, most likely.
		tr.close()
		return fmt.Errorf("station: could not flush port %q: %w", port, err)
	}

	if !s.opts.NoConnect {
		// Probe at the optimistic baud rate; drop to 4800 on silence.
		if _, err := s.command(cmdSetMS, []byte{paramMSDirect}); err != nil {
			if tr.baud == 4800 {
				tr.close()
				return err
			}
			if err := tr.setBaud(4800); err != nil {
				tr.close()
				return err
			}
			if _, err := s.command(cmdSetMS, []byte{paramMSDirect}); err != nil {
				tr.close()
				return fmt.Errorf("station: this driver only works with BSM7/8 stations: %w", err)
			}
		}
	}

	if err := s.refreshConfig(); err != nil {
		if !s.opts.NoConnect {
			tr.close()
			return err
		}
	}
	return nil
}

// Disconnect closes the serial port.
func (s *Session) Disconnect() error {
	return s.tr.close()
}

// Reconnect closes the serial port and opens it again.
func (s *Session) Reconnect() error {
	if err := s.tr.close(); err != nil {
		return err
	}
	return s.connect(s.tr.portName)
}

// Port returns the serial port the session is connected to.
func (s *Session) Port() string { return s.tr.portName }

// Baud returns the current host-side baud rate.
func (s *Session) Baud() int { return s.tr.baud }

// Config returns the cached protocol configuration.
func (s *Session) Config() ProtoConfig { return s.proto }

// StationCode returns the station code from the most recent response.
func (s *Session) StationCode() uint16 { return s.stationCode }

// SerialNumber returns the station serial number.
func (s *Session) SerialNumber() uint32 { return s.serialNo }

// Direct reports whether the directly attached station is addressed
// (as opposed to a remote one reached through it).
func (s *Session) Direct() bool { return s.direct }

// command sends a request and reads its response with the default
// timeout and the wakeup preamble.
func (s *Session) command(cmd byte, params []byte) (frame, error) {
	return s.sendCommand(cmd, params, true, DefaultTimeout)
}

func (s *Session) sendCommand(cmd byte, params []byte, wakeup bool, timeout time.Duration) (frame, error) {
	if !s.tr.inputEmpty() {
		return frame{}, ErrBufferNotEmpty
	}
	raw := buildCommand(cmd, params, wakeup)
	if s.opts.Debug {
		log.Printf("==>> command 0x%02X, params % X, frame % X", cmd, params, raw)
	}
	if err := s.tr.write(raw); err != nil {
		return frame{}, err
	}
	if s.opts.Trace != nil {
		s.opts.Trace.Send(raw)
	}
	return s.readCommand(timeout)
}

// readCommand reads one frame from the station. Every frame received
// updates the cached station code before any other policy fires; the
// readout hook, if set, runs next.
func (s *Session) readCommand(timeout time.Duration) (frame, error) {
	f, err := readFrame(s.tr, timeout)
	if err != nil {
		return frame{}, err
	}
	s.stationCode = f.station
	if s.opts.Debug {
		log.Printf("<<== command 0x%02X, station %d, data % X", f.cmd, f.station, f.data)
	}
	if s.opts.Trace != nil {
		s.opts.Trace.Recv(rebuildFrame(f))
	}
	if s.onFrame != nil {
		if err := s.onFrame(f); err != nil {
			return f, err
		}
	}
	return f, nil
}

// rebuildFrame reassembles the wire form of a parsed frame for the
// trace log.
func rebuildFrame(f frame) []byte {
	payload := make([]byte, 0, 4+len(f.data))
	payload = append(payload, f.cmd, byte(len(f.data)+2), byte(f.station>>8), byte(f.station))
	payload = append(payload, f.data...)
	out := make([]byte, 0, len(payload)+4)
	out = append(out, charSTX)
	out = append(out, payload...)
	out = append(out, crcBytes(payload)...)
	out = append(out, charETX)
	return out
}

// refreshConfig re-reads the system-value block and refreshes the
// cached protocol configuration, serial number and sysval image.
func (s *Session) refreshConfig() error {
	if s.opts.NoConnect {
		s.proto = ProtoConfig{
			Extended: true,
			AutoSend: true,
			Mode:     ModeControl,
		}
		s.serialNo = 0
		s.stationCode = 0
		return nil
	}
	if err := s.RefreshSysval(); err != nil {
		return err
	}
	cfg := s.sysvalByte(sysProto)
	s.proto = ProtoConfig{
		Extended:  cfg&protoExtended != 0,
		AutoSend:  cfg&protoAutoSend != 0,
		Handshake: cfg&protoHandshake != 0,
		Password:  cfg&protoPassword != 0,
		PunchRead: cfg&protoPunchRead != 0,
		Mode:      Mode(s.sysvalByte(sysMode)),
	}
	s.serialNo = uint32(toInt(s.sysvalBytes(sysSerialNo, 4)))
	return nil
}

// setProtoConfig writes a mutated protocol configuration byte back to
// the station. The cached config is refreshed even when the write
// fails, to stay honest about the station state.
func (s *Session) setProtoConfig(cfg ProtoConfig) error {
	var b byte
	if cfg.Extended {
		b |= protoExtended
	}
	if cfg.AutoSend {
		b |= protoAutoSend
	}
	if cfg.Handshake {
		b |= protoHandshake
	}
	if cfg.Password {
		b |= protoPassword
	}
	if cfg.PunchRead {
		b |= protoPunchRead
	}
	_, cmdErr := s.command(cmdSetSysVal, []byte{sysProto, b})
	if err := s.refreshConfig(); err != nil && cmdErr == nil {
		cmdErr = err
	}
	return cmdErr
}

// SetExtendedProtocol switches the station between extended and legacy
// protocol framing.
func (s *Session) SetExtendedProtocol(extended bool) error {
	cfg := s.proto
	cfg.Extended = extended
	return s.setProtoConfig(cfg)
}

// SetAutoSend switches autosend mode. Enabling autosend disables
// handshake, and vice versa.
func (s *Session) SetAutoSend(autosend bool) error {
	cfg := s.proto
	cfg.AutoSend = autosend
	cfg.Handshake = !autosend
	return s.setProtoConfig(cfg)
}

// SetOperatingMode sets the station operating mode.
func (s *Session) SetOperatingMode(mode Mode) error {
	if !supportedModes[mode] {
		return fmt.Errorf("unsupported mode %q: %w", mode.String(), ErrInvalidArgument)
	}
	_, cmdErr := s.command(cmdSetSysVal, []byte{sysMode, byte(mode)})
	if err := s.refreshConfig(); err != nil && cmdErr == nil {
		cmdErr = err
	}
	return cmdErr
}

// SetStationCode sets the station control code, 1-1023. The low byte
// goes to the code register; the two high bits land in bits 7..6 of the
// feedback byte, whose remaining bits are left set.
func (s *Session) SetStationCode(code uint16) error {
	if code < 1 || code > 1023 {
		return fmt.Errorf("invalid control code %d, supported range 1-1023: %w", code, ErrInvalidArgument)
	}
	codeLow := byte(code & 0xFF)
	codeHigh := byte(code>>2) | 0b00111111
	_, cmdErr := s.command(cmdSetSysVal, []byte{sysStationCode, codeLow, codeHigh})
	if err := s.refreshConfig(); err != nil && cmdErr == nil {
		cmdErr = err
	}
	return cmdErr
}

// SetBaudRate sets the baud rate of the addressed station and, on
// success, switches the host side to match.
func (s *Session) SetBaudRate(baud int) error {
	var id byte
	switch baud {
	case 4800:
		id = 0x00
	case 38400:
		id = 0x01
	default:
		return fmt.Errorf("unsupported baud rate %d: %w", baud, ErrInvalidArgument)
	}
	if _, err := s.command(cmdSetBaud, []byte{id}); err != nil {
		return err
	}
	return s.tr.setBaud(baud)
}

// SetDirect addresses the directly attached (master) station.
func (s *Session) SetDirect() error {
	if _, err := s.command(cmdSetMS, []byte{paramMSDirect}); err != nil {
		return err
	}
	s.direct = true
	return nil
}

// SetRemote addresses the remote (slave) station attached through the
// direct one.
func (s *Session) SetRemote() error {
	if _, err := s.command(cmdSetMS, []byte{paramMSIndirect}); err != nil {
		return err
	}
	s.direct = false
	return nil
}

// GetTime reads the station's internal clock. Returns ok=false when the
// station reports an impossible date.
func (s *Session) GetTime() (time.Time, bool, error) {
	f, err := s.command(cmdGetTime, nil)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(f.data) < 7 {
		return time.Time{}, false, fmt.Errorf("station: short time response (%d bytes): %w", len(f.data), ErrUnexpectedCommand)
	}
	year := 2000 + int(f.data[0])
	month := int(f.data[1])
	day := int(f.data[2])
	amPM := int(f.data[3] & 0x01)
	secs := int(toInt(f.data[4:6]))
	hour := amPM*12 + secs/3600
	secs %= 3600
	minute := secs / 60
	second := secs % 60
	us := subSeconds(f.data[6])

	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 {
		return time.Time{}, false, nil
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, us*1000, time.Local)
	// Reject tuples time.Date silently normalised, like February 30.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetTime sets the station's internal clock. The wire format is
// YY MM DD PTD SECS_HI SECS_LO MS, where the PTD byte carries the ISO
// weekday (mod 7, shifted left one) and the AM/PM flag in bit 0.
func (s *Session) SetTime(t time.Time) error {
	isoWeekday := int(t.Weekday())
	if isoWeekday == 0 {
		isoWeekday = 7
	}
	ptd := byte((isoWeekday%7)<<1) | byte(t.Hour()/12)
	secs := (t.Hour()%12)*3600 + t.Minute()*60 + t.Second()
	ms := byte(int(float64(t.Nanosecond())/1e9*256 + 0.5))
	params := []byte{
		byte(t.Year() % 100),
		byte(t.Month()),
		byte(t.Day()),
		ptd,
		byte(secs >> 8),
		byte(secs),
		ms,
	}
	_, err := s.command(cmdSetTime, params)
	return err
}

// Beep makes the station beep and blink. Works without a card inserted.
func (s *Session) Beep(count int) error {
	if count < 1 || count > 255 {
		return fmt.Errorf("beep count %d out of range: %w", count, ErrInvalidArgument)
	}
	_, err := s.command(cmdBeep, []byte{byte(count)})
	return err
}

// PowerOff switches off the station.
func (s *Session) PowerOff() error {
	_, err := s.command(cmdOff, nil)
	return err
}

// EraseBackup erases the station's backup memory.
func (s *Session) EraseBackup() error {
	_, err := s.command(cmdEraseBackup, nil)
	return err
}

// ScanResult is one hit from ScanStations.
type ScanResult struct {
	Port string
	Code uint16
}

// ScanStations probes every candidate port concurrently and reports
// which ones answered, with the station code found there. Each probe
// opens and closes its own session; no state is shared between them.
func ScanStations(ports []string, lowspeed bool) []ScanResult {
	results := make(chan ScanResult, len(ports))
	for _, port := range ports {
		go func(port string) {
			s, err := Open(port, Options{LowSpeed: lowspeed})
			if err != nil {
				results <- ScanResult{}
				return
			}
			defer s.Disconnect()
			results <- ScanResult{Port: port, Code: s.StationCode()}
		}(port)
	}
	var found []ScanResult
	for range ports {
		if r := <-results; r.Port != "" {
			found = append(found, r)
		}
	}
	return found
}
