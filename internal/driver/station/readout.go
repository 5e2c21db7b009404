// internal/driver/station/readout.go
// Card readout state machine: tracks insert/remove events and drives
// the per-family multi-block read sequences.
package station

import (
	"errors"
	"fmt"
	"time"
)

// Readout reads whole SI-Cards from a station in readout mode. The
// state is updated exclusively by card insert/remove frames seen in the
// response stream.
type Readout struct {
	s *Session

	present bool
	family  CardFamily
	cardID  uint32
}

// NewReadout attaches a readout state machine to a session. The
// session's frame stream is intercepted for card events from here on.
func NewReadout(s *Session) *Readout {
	r := &Readout{s: s}
	s.onFrame = r.intercept
	return r
}

// Session returns the underlying session.
func (r *Readout) Session() *Session { return r.s }

// Card returns the current card state.
func (r *Readout) Card() (family CardFamily, id uint32, present bool) {
	return r.family, r.cardID, r.present
}

// intercept inspects every received frame for card insert/remove
// events. Card events update the state and short-circuit whatever
// command was in flight with ErrCardChanged.
func (r *Readout) intercept(f frame) error {
	switch f.cmd {
	case cmdSIRem:
		r.present = false
		r.family = FamilyNone
		r.cardID = 0
		return fmt.Errorf("card removed during command: %w", ErrCardChanged)
	case cmdSI5Det:
		nr, err := decodeCardNumber(f.data)
		if err != nil {
			return err
		}
		r.present = true
		r.family = FamilySI5
		r.cardID = nr
		return fmt.Errorf("card inserted during command: %w", ErrCardChanged)
	case cmdSI6Det:
		r.present = true
		r.family = FamilySI6
		r.cardID = uint32(toInt(f.data))
		return fmt.Errorf("card inserted during command: %w", ErrCardChanged)
	case cmdSI9Det:
		// The first data byte of this frame is corrupt and dropped.
		id := uint32(toInt(f.data[1:]))
		family, err := familyForNumber(id)
		if err != nil {
			return err
		}
		r.present = true
		r.family = family
		r.cardID = id
		return fmt.Errorf("card inserted during command: %w", ErrCardChanged)
	}
	return nil
}

// familyForNumber deduces the card family from the printed number range
// reported by a cmdSI9Det frame.
func familyForNumber(id uint32) (CardFamily, error) {
	switch {
	case id >= 1000000 && id <= 1999999:
		return FamilySI9, nil
	case id >= 2000000 && id <= 2999999:
		return FamilySI8, nil
	case id >= 4000000 && id <= 4999999:
		return FamilyPCard, nil
	case id >= 7000000 && id <= 9999999:
		return FamilySI10, nil
	default:
		return FamilyNone, fmt.Errorf("card number %d: %w", id, ErrUnknownCardType)
	}
}

// checkMode verifies the station is in readout mode with the extended
// protocol.
func (r *Readout) checkMode() error {
	if !r.s.proto.Extended {
		return fmt.Errorf("station must be in extended protocol mode: %w", ErrWrongMode)
	}
	if r.s.proto.Mode != ModeReadout {
		return fmt.Errorf("station must be in readout operating mode: %w", ErrWrongMode)
	}
	return nil
}

// Poll consumes all buffered card events and reports whether the card
// state changed since the last poll.
func (r *Readout) Poll() (bool, error) {
	if err := r.checkMode(); err != nil {
		return false, err
	}

	wasPresent, oldID := r.present, r.cardID
	for {
		_, err := r.s.readCommand(0)
		if err == nil || errors.Is(err, ErrCardChanged) {
			continue
		}
		if errors.Is(err, ErrTimeout) {
			break
		}
		return false, err
	}
	return wasPresent != r.present || oldID != r.cardID, nil
}

// Read reads out the card currently in the station. The card must have
// been detected with Poll first. ref anchors time reconstruction; the
// zero value means "now plus a safety margin".
func (r *Readout) Read(ref time.Time) (*CardRecord, error) {
	if err := r.checkMode(); err != nil {
		return nil, err
	}

	var raw []byte
	switch r.family {
	case FamilySI5:
		f, err := r.s.command(cmdGetSI5, nil)
		if err != nil {
			return nil, err
		}
		raw = f.data
	case FamilySI6:
		blocks, err := r.readBlocks(cmdGetSI6, paramSI6CB, 3)
		if err != nil {
			return nil, err
		}
		raw = blocks
	case FamilySI8, FamilySI9, FamilyPCard:
		bc := cardLayouts[r.family].blockCount
		for b := 0; b < bc; b++ {
			f, err := r.s.command(cmdGetSI9, []byte{byte(b)})
			if err != nil {
				return nil, err
			}
			raw = append(raw, f.data[1:]...)
		}
	case FamilySI10:
		// Reading SI10/11 block by block proved unreliable and slow;
		// block number 0x08 streams the relevant blocks like SI6.
		blocks, err := r.readBlocks(cmdGetSI9, paramSI6CB, 5)
		if err != nil {
			return nil, err
		}
		raw = blocks
	default:
		return nil, ErrNoCard
	}

	return decodeCard(raw, r.family, ref)
}

// readBlocks issues one block-streaming command and collects the
// initial response plus its follow-up frames, stripping the leading
// filler byte of each block.
func (r *Readout) readBlocks(cmd, param byte, total int) ([]byte, error) {
	f, err := r.s.command(cmd, []byte{param})
	if err != nil {
		return nil, err
	}
	raw := append([]byte{}, f.data[1:]...)
	for i := 1; i < total; i++ {
		f, err := r.s.readCommand(DefaultTimeout)
		if err != nil {
			return nil, err
		}
		raw = append(raw, f.data[1:]...)
	}
	return raw, nil
}

// Ack beeps and blinks the station to signal a successful readout. The
// ACK byte is sent bare, outside any frame.
func (r *Readout) Ack() error {
	return r.s.tr.write([]byte{charACK})
}
