// internal/driver/station/poller.go
// Autosend punch poller for stations in control mode, with gap recovery
// from the backup memory.
package station

import (
	"errors"
	"fmt"
	"time"
)

// ControlPunch is one punch received from an autosending control.
type ControlPunch struct {
	CardNumber uint32     `json:"card_number"`
	Time       *time.Time `json:"time,omitempty"`
}

// Poller consumes unsolicited punch frames from a station in autosend
// mode. It tracks the backup memory offset of each record; a jump in
// the offset means punches were missed, and the gap is filled from the
// backup memory before the current punch is emitted.
type Poller struct {
	s *Session

	// Backup offset the next punch record is expected at. Unknown
	// until the first frame is seen.
	nextOffset uint32
	hasOffset  bool
}

// NewPoller attaches a punch poller to a session.
func NewPoller(s *Session) *Poller {
	return &Poller{s: s}
}

// Session returns the underlying session.
func (p *Poller) Session() *Session { return p.s }

// Poll collects all punches currently available. timeout bounds the
// wait for each frame, and Poll returns once no frame arrives within
// it; zero means return as soon as the port has nothing buffered.
// Recovered punches precede the current one in the returned list.
func (p *Poller) Poll(timeout time.Duration) ([]ControlPunch, error) {
	if !p.s.proto.Extended {
		return nil, fmt.Errorf("station must be in extended protocol mode: %w", ErrWrongMode)
	}
	if !p.s.proto.AutoSend {
		return nil, fmt.Errorf("station must be in autosend mode: %w", ErrWrongMode)
	}

	var punches []ControlPunch
	for {
		f, err := p.s.readCommand(timeout)
		if errors.Is(err, ErrTimeout) {
			return punches, nil
		}
		if err != nil {
			return punches, err
		}
		if f.cmd != cmdTransRec {
			return punches, fmt.Errorf("command 0x%02X while polling punches: %w", f.cmd, ErrUnexpectedCommand)
		}

		curOffset := uint32(toInt(f.data[transOffset : transOffset+3]))
		if p.hasOffset {
			for p.nextOffset < curOffset {
				// Recover punches lost between polls.
				punch, err := p.readPunch(p.nextOffset)
				if err != nil {
					return punches, err
				}
				punches = append(punches, punch)
				p.nextOffset += recLenExtended
			}
		}
		p.nextOffset = curOffset + recLenExtended
		p.hasOffset = true

		punch := ControlPunch{}
		if nr, err := decodeCardNumber(f.data[transCN : transCN+4]); err == nil {
			punch.CardNumber = nr
		} else {
			return punches, err
		}
		if t, ok := decodeTime(f.data[transTime:transTime+2], -1, time.Time{}); ok {
			punch.Time = &t
		}
		punches = append(punches, punch)
	}
}

// readPunch fetches one record from the backup memory during gap
// recovery. Only firmwares 5.55+ use this record format.
func (p *Poller) readPunch(offset uint32) (ControlPunch, error) {
	params := []byte{
		byte(offset >> 16), byte(offset >> 8), byte(offset),
		recLenExtended,
	}
	f, err := p.s.command(cmdGetBackup, params)
	if err != nil {
		return ControlPunch{}, err
	}

	punch := ControlPunch{}
	nr, err := decodeCardNumber(append([]byte{0x00}, f.data[backupCN:backupCN+3]...))
	if err != nil {
		return ControlPunch{}, err
	}
	punch.CardNumber = nr
	if t, ok := decodeTime(f.data[backupTime:backupTime+2], -1, time.Time{}); ok {
		punch.Time = &t
	}
	return punch, nil
}
