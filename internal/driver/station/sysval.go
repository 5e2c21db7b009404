// internal/driver/station/sysval.go
// Accessors for the 128-byte system-value block. The station prefixes
// the block with a filler byte, so every offset indexes payload[1+off].
package station

import (
	"fmt"
)

// RefreshSysval fetches the whole system-value block and caches it.
func (s *Session) RefreshSysval() error {
	f, err := s.command(cmdGetSysVal, []byte{0x00, 0x80})
	if err != nil {
		return err
	}
	if len(f.data) < 0x80+1 {
		return fmt.Errorf("station: short system-value block (%d bytes): %w", len(f.data), ErrUnexpectedCommand)
	}
	s.sysval = f.data
	return nil
}

// ensureSysval loads the system-value image if it has not been read yet.
func (s *Session) ensureSysval() error {
	if len(s.sysval) >= 0x80+1 {
		return nil
	}
	return s.RefreshSysval()
}

// sysvalBytes slices the cached image at the given block offset.
func (s *Session) sysvalBytes(offset byte, n int) []byte {
	return s.sysval[1+int(offset) : 1+int(offset)+n]
}

func (s *Session) sysvalByte(offset byte) byte {
	return s.sysvalBytes(offset, 1)[0]
}

// SysvalImage returns a copy of the cached system-value block without
// the filler byte, fetching it first if needed.
func (s *Session) SysvalImage() ([]byte, error) {
	if err := s.ensureSysval(); err != nil {
		return nil, err
	}
	img := make([]byte, 0x80)
	copy(img, s.sysval[1:])
	return img, nil
}

// Sysval returns n raw bytes of the cached system-value block at the
// given offset, fetching the block first if needed.
func (s *Session) Sysval(offset byte, n int) ([]byte, error) {
	if int(offset)+n > 0x80 {
		return nil, fmt.Errorf("sysval read %d+%d out of range: %w", offset, n, ErrInvalidArgument)
	}
	if err := s.ensureSysval(); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, s.sysvalBytes(offset, n))
	return out, nil
}

// SetSysval writes raw bytes into the system-value block and refreshes
// the cached image.
func (s *Session) SetSysval(offset byte, value []byte) error {
	if int(offset)+len(value) > 0x80 {
		return fmt.Errorf("sysval write %d+%d out of range: %w", offset, len(value), ErrInvalidArgument)
	}
	params := append([]byte{offset}, value...)
	_, cmdErr := s.command(cmdSetSysVal, params)
	if err := s.refreshConfig(); err != nil && cmdErr == nil {
		cmdErr = err
	}
	return cmdErr
}

// SysSerialNumber returns the station serial number.
func (s *Session) SysSerialNumber() (uint32, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return uint32(toInt(s.sysvalBytes(sysSerialNo, 4))), nil
}

// SysFirmwareVersion returns the firmware version, a 3-character string
// like "656".
func (s *Session) SysFirmwareVersion() (string, error) {
	if err := s.ensureSysval(); err != nil {
		return "", err
	}
	return string(s.sysvalBytes(sysFirmware, 3)), nil
}

// SysModelID returns the station model id.
func (s *Session) SysModelID() (uint16, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return uint16(toInt(s.sysvalBytes(sysModelID, 2))), nil
}

// SysModelName returns the station model as a string, or the hex id for
// unrecognised models.
func (s *Session) SysModelName() (string, error) {
	id, err := s.SysModelID()
	if err != nil {
		return "", err
	}
	if name, ok := ModelName[id]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%04x", id), nil
}

func (s *Session) sysvalDate(offset byte) (string, error) {
	if err := s.ensureSysval(); err != nil {
		return "", err
	}
	d := s.sysvalBytes(offset, 3)
	return fmt.Sprintf("20%02d-%02d-%02d", d[0], d[1], d[2]), nil
}

// SysBuildDate returns the station build date as YYYY-MM-DD.
func (s *Session) SysBuildDate() (string, error) {
	return s.sysvalDate(sysBuildDate)
}

// SysBatteryDate returns the battery date as YYYY-MM-DD.
func (s *Session) SysBatteryDate() (string, error) {
	return s.sysvalDate(sysBatDate)
}

// SysMemSizeKB returns the station's memory size in kB.
func (s *Session) SysMemSizeKB() (int, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return int(s.sysvalByte(sysMemSize)), nil
}

// SysBatteryVoltage returns the battery voltage in volts.
func (s *Session) SysBatteryVoltage() (float64, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return float64(toInt(s.sysvalBytes(sysBatVolt, 2))) * 5.0 / 65536.0, nil
}

// SysBatteryCapacity returns the battery capacity in mAh.
func (s *Session) SysBatteryCapacity() (float64, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return float64(toInt(s.sysvalBytes(sysBatCap, 2))) * 16.0 / 225.0, nil
}

// SysUsedBatteryPercent returns the used battery capacity as a
// fraction of full.
func (s *Session) SysUsedBatteryPercent() (float64, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return float64(toInt(s.sysvalBytes(sysUsedBatCap, 3))) * 2.778e-5, nil
}

// SysMemOverflow reports whether the backup memory has overflowed.
func (s *Session) SysMemOverflow() (bool, error) {
	if err := s.ensureSysval(); err != nil {
		return false, err
	}
	return s.sysvalByte(sysMemOverflow) != 0x00, nil
}

// SysMode returns the station operating mode.
func (s *Session) SysMode() (Mode, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return Mode(s.sysvalByte(sysMode)), nil
}

// SysCode returns the station code, 1-1023, assembled from the code
// register and the feedback byte's two high bits. The session's cached
// station code is refreshed as a side effect.
func (s *Session) SysCode() (uint16, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	codeLow := uint16(s.sysvalByte(sysStationCode))
	feedback := uint16(s.sysvalByte(sysFeedback))
	s.stationCode = codeLow + (feedback&0b11000000)<<2
	return s.stationCode, nil
}

// SysFeedback returns the raw feedback byte.
func (s *Session) SysFeedback() (byte, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return s.sysvalByte(sysFeedback), nil
}

// SysProtocol returns the raw protocol configuration byte.
func (s *Session) SysProtocol() (byte, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return s.sysvalByte(sysProto), nil
}

// Sys192Punches reports whether the station reads SI6 cards with all 8
// blocks (192 punches).
func (s *Session) Sys192Punches() (bool, error) {
	if err := s.ensureSysval(); err != nil {
		return false, err
	}
	switch s.sysvalByte(sysSI6CB) {
	case 0x08, 0xFF:
		return true, nil
	default:
		return false, nil
	}
}

// SysActiveTime returns the station active time in minutes.
func (s *Session) SysActiveTime() (int, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	return int(toInt(s.sysvalBytes(sysActiveTime, 2))), nil
}

// SetFeedback sets the optical and audible feedback bits, preserving
// the rest of the feedback byte (including the station code high bits).
func (s *Session) SetFeedback(audible, optical bool) error {
	if err := s.ensureSysval(); err != nil {
		return err
	}
	feedback := s.sysvalByte(sysFeedback)
	if optical {
		feedback |= 0b00000001
	} else {
		feedback &^= 0b00000001
	}
	if audible {
		feedback |= 0b00000100
	} else {
		feedback &^= 0b00000100
	}
	return s.SetSysval(sysFeedback, []byte{feedback})
}

// SetActiveTime sets the station active time in minutes, 0-5759.
func (s *Session) SetActiveTime(minutes int) error {
	if minutes < 0 || minutes > 5759 {
		return fmt.Errorf("active time %d out of range 0-5759: %w", minutes, ErrInvalidArgument)
	}
	return s.SetSysval(sysActiveTime, []byte{byte(minutes >> 8), byte(minutes)})
}

// Set192Punches configures whether SI6 cards are read with all 8
// blocks (192 punches).
func (s *Session) Set192Punches(enable bool) error {
	v := byte(0xC1)
	if enable {
		v = 0xFF
	}
	return s.SetSysval(sysSI6CB, []byte{v})
}

// BackupPointer assembles the end pointer of the station's circular
// punch log from the two split system-value fields.
func (s *Session) BackupPointer() (uint32, error) {
	if err := s.ensureSysval(); err != nil {
		return 0, err
	}
	hi := s.sysvalBytes(sysBackupPtrHi, 2)
	lo := s.sysvalBytes(sysBackupPtrLo, 2)
	return uint32(toInt(append(append([]byte{}, hi...), lo...))), nil
}
