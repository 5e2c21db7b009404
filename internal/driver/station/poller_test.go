package station

import (
	"errors"
	"testing"
	"time"
)

func controlStation(t *testing.T) (*Poller, *fakePort) {
	t.Helper()
	port := &fakePort{}
	img := testStationImage()
	img[1+int(sysMode)] = byte(ModeControl)
	img[1+int(sysProto)] = protoExtended | protoAutoSend
	port.script = sysvalScript(0x2A, img)
	s := testSession(port)
	if err := s.refreshConfig(); err != nil {
		t.Fatalf("refreshConfig: %v", err)
	}
	return NewPoller(s), port
}

// backupPunchData builds the data of a gap-recovery backup response:
// a 3-byte card number at backupCN and a 2-byte time at backupTime.
func backupPunchData(nr uint32, secs int) []byte {
	data := make([]byte, 10)
	copy(data[backupCN:], toBytes(uint64(nr), 3))
	copy(data[backupTime:], toBytes(uint64(secs), 2))
	return data
}

// transRecFrame builds an autosend punch record for card nr at secs
// past midnight (AM), stored at the given backup offset.
func transRecFrame(nr uint32, secs int, offset uint32) []byte {
	data := make([]byte, 12)
	copy(data[transCN:], toBytes(uint64(nr), 4))
	copy(data[transTime:], toBytes(uint64(secs), 2))
	copy(data[transOffset:], toBytes(uint64(offset), 3))
	return responseFrame(cmdTransRec, 0x2A, data)
}

func TestPollPunchesEmpty(t *testing.T) {
	p, _ := controlStation(t)
	punches, err := p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(punches) != 0 {
		t.Errorf("punches = %+v", punches)
	}
}

func TestPollPunchesRequiresAutosend(t *testing.T) {
	s, _ := testStation(t) // handshake configuration
	_, err := NewPoller(s).Poll(0)
	if !errors.Is(err, ErrWrongMode) {
		t.Errorf("err = %v, want ErrWrongMode", err)
	}
}

func TestPollSinglePunch(t *testing.T) {
	p, port := controlStation(t)
	port.queue(transRecFrame(0x0F4240, 2*3600, 0x100))

	punches, err := p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(punches) != 1 {
		t.Fatalf("punches = %+v", punches)
	}
	if punches[0].CardNumber != 1000000 {
		t.Errorf("card = %d", punches[0].CardNumber)
	}
	if punches[0].Time == nil {
		t.Fatal("punch has no time")
	}
	if p.nextOffset != 0x100+recLenExtended || !p.hasOffset {
		t.Errorf("nextOffset = 0x%X", p.nextOffset)
	}
}

func TestPollGapRecovery(t *testing.T) {
	p, port := controlStation(t)

	// First punch at offset 0x100 establishes the expected offset.
	port.queue(transRecFrame(0x0F4240, 2*3600, 0x100))
	if _, err := p.Poll(0); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	// Next frame reports offset 0x118: two records were missed.
	recovered := map[uint32][]byte{
		0x108: backupPunchData(0x0F4241, 3*3600),
		0x110: backupPunchData(0x0F4242, 3*3600+60),
	}
	prev := port.script
	port.script = func(req []byte, fp *fakePort) {
		r := req
		if r[0] == charWakeup {
			r = r[1:]
		}
		if r[0] == charSTX && r[1] == cmdGetBackup {
			addr := uint32(toInt(r[3:6]))
			fp.queue(responseFrame(cmdGetBackup, 0x2A, recovered[addr]))
			return
		}
		prev(req, fp)
	}
	port.queue(transRecFrame(0x0F4243, 4*3600, 0x118))

	punches, err := p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(punches) != 3 {
		t.Fatalf("got %d punches, want 3 (2 recovered + current)", len(punches))
	}
	// Recovered punches come first, in backup order.
	want := []uint32{1000001, 1000002, 1000003}
	for i, w := range want {
		if punches[i].CardNumber != w {
			t.Errorf("punch %d card = %d, want %d", i, punches[i].CardNumber, w)
		}
	}
	if p.nextOffset != 0x118+recLenExtended {
		t.Errorf("nextOffset = 0x%X", p.nextOffset)
	}
}

func TestPollUnexpectedCommand(t *testing.T) {
	p, port := controlStation(t)
	port.queue(responseFrame(cmdSI5Det, 0x2A, []byte{0x00, 0x01, 0x20, 0x5B}))
	_, err := p.Poll(0)
	if !errors.Is(err, ErrUnexpectedCommand) {
		t.Errorf("err = %v, want ErrUnexpectedCommand", err)
	}
}

func TestPollPunchTimeHalfDay(t *testing.T) {
	// Autosend times carry no PTD byte; the punch lands within the 12
	// hours before the reference.
	p, port := controlStation(t)
	port.queue(transRecFrame(0x0F4240, 1*3600, 0x100))

	punches, err := p.Poll(0)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if punches[0].Time == nil {
		t.Fatal("punch has no time")
	}
	ref := time.Now().Add(2 * time.Hour)
	if punches[0].Time.After(ref) {
		t.Errorf("punch time %v after reference %v", punches[0].Time, ref)
	}
}
