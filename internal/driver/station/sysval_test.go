package station

import (
	"errors"
	"testing"
)

func testStationImage() []byte {
	return sysvalImage(map[byte][]byte{
		sysSerialNo:    {0x00, 0x04, 0x9A, 0xB2}, // 301746
		sysFirmware:    []byte("656"),
		sysBuildDate:   {23, 4, 12},
		sysModelID:     {0x91, 0x98},
		sysMemSize:     {128},
		sysBatDate:     {22, 1, 30},
		sysBatCap:      {0x38, 0x40}, // 14400 * 16/225 = 1024 mAh
		sysBackupPtrHi: {0x00, 0x00},
		sysBackupPtrLo: {0x01, 0x40},
		sysBatVolt:     {0xB5, 0xC2}, // 46530 * 5/65536 = ~3.55 V
		sysMode:        {byte(ModeReadout)},
		sysStationCode: {0x2A},
		sysFeedback:    {0x05},
		sysProto:       {protoExtended | protoHandshake},
		sysActiveTime:  {0x00, 0x78}, // 120 minutes
	})
}

func testStation(t *testing.T) (*Session, *fakePort) {
	t.Helper()
	port := &fakePort{}
	port.script = sysvalScript(0x2A, testStationImage())
	s := testSession(port)
	if err := s.refreshConfig(); err != nil {
		t.Fatalf("refreshConfig: %v", err)
	}
	return s, port
}

func TestSysvalGetters(t *testing.T) {
	s, _ := testStation(t)

	if serno, _ := s.SysSerialNumber(); serno != 301746 {
		t.Errorf("serial = %d", serno)
	}
	if fw, _ := s.SysFirmwareVersion(); fw != "656" {
		t.Errorf("firmware = %q", fw)
	}
	if model, _ := s.SysModelName(); model != "BSM8-USB/SRR" {
		t.Errorf("model = %q", model)
	}
	if date, _ := s.SysBuildDate(); date != "2023-04-12" {
		t.Errorf("build date = %q", date)
	}
	if kb, _ := s.SysMemSizeKB(); kb != 128 {
		t.Errorf("mem size = %d", kb)
	}
	if capacity, _ := s.SysBatteryCapacity(); capacity != 1024 {
		t.Errorf("battery capacity = %f", capacity)
	}
	if volt, _ := s.SysBatteryVoltage(); volt < 3.54 || volt > 3.56 {
		t.Errorf("battery voltage = %f", volt)
	}
	if mode, _ := s.SysMode(); mode != ModeReadout {
		t.Errorf("mode = %v", mode)
	}
	if minutes, _ := s.SysActiveTime(); minutes != 120 {
		t.Errorf("active time = %d", minutes)
	}
}

func TestSysCodeHighBits(t *testing.T) {
	port := &fakePort{}
	img := testStationImage()
	img[1+int(sysStationCode)] = 0x01
	img[1+int(sysFeedback)] = 0xC5 // high bits set: code 0x301
	port.script = sysvalScript(0x2A, img)
	s := testSession(port)

	code, err := s.SysCode()
	if err != nil {
		t.Fatalf("SysCode: %v", err)
	}
	if code != 0x301 {
		t.Errorf("code = %d, want %d", code, 0x301)
	}
	if s.StationCode() != 0x301 {
		t.Errorf("cached code not refreshed")
	}
}

func TestProtoConfigParsed(t *testing.T) {
	s, _ := testStation(t)
	cfg := s.Config()
	if !cfg.Extended || cfg.AutoSend || !cfg.Handshake {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Mode != ModeReadout {
		t.Errorf("mode = %v", cfg.Mode)
	}
}

func TestSetSysvalRoundTrip(t *testing.T) {
	s, _ := testStation(t)

	// Idempotence: writing back what was read must not change the image.
	before, err := s.SysvalImage()
	if err != nil {
		t.Fatalf("SysvalImage: %v", err)
	}
	val, err := s.Sysval(sysActiveTime, 2)
	if err != nil {
		t.Fatalf("Sysval: %v", err)
	}
	if err := s.SetSysval(sysActiveTime, val); err != nil {
		t.Fatalf("SetSysval: %v", err)
	}
	after, _ := s.SysvalImage()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("image changed at offset %d", i)
		}
	}
}

func TestSetActiveTime(t *testing.T) {
	s, _ := testStation(t)
	if err := s.SetActiveTime(300); err != nil {
		t.Fatalf("SetActiveTime: %v", err)
	}
	if minutes, _ := s.SysActiveTime(); minutes != 300 {
		t.Errorf("active time = %d, want 300", minutes)
	}
	if err := s.SetActiveTime(6000); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("out-of-range err = %v", err)
	}
}

func TestSetFeedbackPreservesCodeBits(t *testing.T) {
	port := &fakePort{}
	img := testStationImage()
	img[1+int(sysFeedback)] = 0xC0
	port.script = sysvalScript(0x2A, img)
	s := testSession(port)

	if err := s.SetFeedback(true, true); err != nil {
		t.Fatalf("SetFeedback: %v", err)
	}
	fb, _ := s.SysFeedback()
	if fb != 0xC5 {
		t.Errorf("feedback = 0x%02X, want 0xC5", fb)
	}
}

func TestSetStationCode(t *testing.T) {
	s, port := testStation(t)

	if err := s.SetStationCode(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("code 0 err = %v", err)
	}
	if err := s.SetStationCode(1024); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("code 1024 err = %v", err)
	}

	if err := s.SetStationCode(0x301); err != nil {
		t.Fatalf("SetStationCode: %v", err)
	}
	// Find the write: offset, low byte, high byte.
	var wrote []byte
	for _, w := range port.written {
		req := w
		if req[0] == charWakeup {
			req = req[1:]
		}
		if req[1] == cmdSetSysVal && req[3] == sysStationCode {
			wrote = req[4:6]
		}
	}
	if wrote == nil {
		t.Fatal("no station code write seen")
	}
	if wrote[0] != 0x01 {
		t.Errorf("low byte = 0x%02X", wrote[0])
	}
	if wrote[1] != (0x301>>2)|0x3F {
		t.Errorf("high byte = 0x%02X", wrote[1])
	}
}

func TestSet192Punches(t *testing.T) {
	s, _ := testStation(t)
	if err := s.Set192Punches(true); err != nil {
		t.Fatalf("Set192Punches: %v", err)
	}
	if on, _ := s.Sys192Punches(); !on {
		t.Error("192 punches not enabled")
	}
	if err := s.Set192Punches(false); err != nil {
		t.Fatalf("Set192Punches: %v", err)
	}
	if on, _ := s.Sys192Punches(); on {
		t.Error("192 punches not disabled")
	}
}

func TestBackupPointer(t *testing.T) {
	s, _ := testStation(t)
	ptr, err := s.BackupPointer()
	if err != nil {
		t.Fatalf("BackupPointer: %v", err)
	}
	if ptr != 0x140 {
		t.Errorf("backup pointer = 0x%X, want 0x140", ptr)
	}
}
