// internal/driver/station/backup.go
// Paginated readout of the station's circular punch log, with
// per-protocol record decoding and calendar reconstruction.
package station

import (
	"fmt"
	"time"
)

// BackupRecord is one decoded punch from the backup memory. Error is
// empty for well-formed records; records the station itself flagged
// carry a tag like "Err3", and corrupted month fields add "ErrDate".
// For flagged records, Time is midnight or noon of the decoded date.
type BackupRecord struct {
	Time       time.Time `json:"time"`
	CardNumber uint32    `json:"card_number"`
	Error      string    `json:"error,omitempty"`
}

// The device always starts backup reads at this address.
const backupStart = 0x100

// Backup pages are fetched in chunks of at most this many bytes.
const backupChunk = 0x80

// ReadBackup reads out the entire backup memory of a station configured
// as control, check, clear, start or finish. The directly attached
// station has to be in extended protocol mode; the addressed one may be
// in either, and its protocol decides the record format. Partial
// failures mid-read surface to the caller; nothing is retried.
func (s *Session) ReadBackup() ([]BackupRecord, error) {
	if err := s.refreshConfig(); err != nil {
		return nil, err
	}
	if !backupModes[s.proto.Mode] {
		return nil, fmt.Errorf("station is in unsupported mode %q: %w", s.proto.Mode.String(), ErrWrongMode)
	}

	endPtr, err := s.BackupPointer()
	if err != nil {
		return nil, err
	}

	// The station serves at most 0x80 bytes per request, so the used
	// memory is fetched in pages. Each response carries a two-byte
	// record header plus the filler byte, which are stripped.
	var bakmem []byte
	first, step := buxFirst, buxSize
	if !s.proto.Extended {
		first, step = bulFirst, bulSize
	}
	readPtr := uint32(backupStart)
	for readPtr < endPtr {
		count := uint32(backupChunk)
		if endPtr-readPtr < count {
			count = endPtr - readPtr
		}
		params := []byte{
			byte(readPtr >> 16), byte(readPtr >> 8), byte(readPtr),
			byte(count),
		}
		f, err := s.command(cmdGetBackup, params)
		if err != nil {
			return nil, err
		}
		bakmem = append(bakmem, f.data[first+1:]...)
		readPtr += count
	}

	now := time.Now()
	var records []BackupRecord
	for i := 0; i+step <= len(bakmem); i += step {
		punch := bakmem[i : i+step]
		var rec BackupRecord
		if s.proto.Extended {
			rec = decodeBackupExtended(punch)
		} else {
			rec = decodeBackupLegacy(punch, now)
		}
		records = append(records, rec)
	}
	return records, nil
}

// decodeBackupExtended decodes one 8-byte extended-protocol record:
// CN[3] | YM | MDAP | SECS[2] | MS. A SECS high byte of 0xF0 or above
// is an error code instead of a time.
func decodeBackupExtended(punch []byte) BackupRecord {
	var rec BackupRecord

	cardnr, err := decodeCardNumber([]byte{0x00, punch[buxCN], punch[buxCN+1], punch[buxCN+2]})
	if err == nil {
		rec.CardNumber = cardnr
	}

	year := 2000 + int(punch[buxYM]>>2)
	month := int(punch[buxYM]&0x3)<<2 + int(punch[buxMDAP]>>6)
	day := int(punch[buxMDAP]&0x3F) >> 1
	amPM := int(punch[buxMDAP] & 0x01)

	var secs, us int
	if punch[buxSecs] >= 0xF0 {
		rec.Error = fmt.Sprintf("Err%X", punch[buxSecs]&0xF)
	} else {
		secs = int(toInt(punch[buxSecs : buxSecs+2]))
		us = subSeconds(punch[buxMS])
	}
	// Month zero has been seen in the field, presumably corrupted
	// memory; month thirteen would be the symmetric corruption.
	if month == 0 {
		month += 12
		year--
		rec.Error += "ErrDate"
	}
	if month > 12 {
		month -= 12
		year++
		rec.Error += "ErrDate"
	}
	secs += 12 * 3600 * amPM

	rec.Time = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local).
		Add(time.Duration(secs)*time.Second + time.Duration(us)*time.Microsecond)
	return rec
}

// decodeBackupLegacy decodes one 6-byte legacy-protocol record:
// CN[2] | SECS[2] | PTD | CNS. Only the weekday is known, so the punch
// is assumed to have happened within the past seven days of now, with
// an hour of slack for host/station clock drift.
func decodeBackupLegacy(punch []byte, now time.Time) BackupRecord {
	var rec BackupRecord

	cardnr, err := decodeCardNumber([]byte{0x00, punch[bulCNS], punch[bulCN], punch[bulCN+1]})
	if err == nil {
		rec.CardNumber = cardnr
	}

	weekday := ((int(punch[bulPTD]&0x0E)>>1)-1+7) % 7 // Monday = 0
	amPM := int(punch[bulPTD] & 0x01)

	var secs int
	if punch[bulSecs] >= 0xF0 {
		rec.Error = fmt.Sprintf("Err%X", punch[bulSecs]&0xF)
	} else {
		secs = int(toInt(punch[bulSecs : bulSecs+2]))
	}
	secs += 12 * 3600 * amPM

	nowWeekday := pyWeekday(now)
	sinceMidnight := now.Sub(midnight(now))
	var dayOffset int
	if time.Duration(weekday*24*3600+secs)*time.Second < time.Duration(nowWeekday*24*3600)*time.Second+sinceMidnight+time.Hour {
		// Punch probably took place earlier this week.
		dayOffset = nowWeekday - weekday
	} else {
		// Last week.
		dayOffset = nowWeekday - weekday + 7
	}
	rec.Time = midnight(now).AddDate(0, 0, -dayOffset).Add(time.Duration(secs) * time.Second)
	return rec
}
