// internal/driver/station/decode.go
// Decoders for the bit-packed values found in card images, backup
// records and autosend frames.
package station

import (
	"time"
)

// toInt computes the unsigned big-endian integer value of a raw byte
// slice of up to 8 bytes.
func toInt(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// toBytes renders v as a big-endian byte string of the given length.
func toBytes(v uint64, n int) []byte {
	b := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// decodeCardNumber decodes a 4-byte card number. SI-Card numbering is a
// bit odd:
//
//	SI-Card 5:
//	  byte 0:   always 0 (not stored on the card)
//	  byte 1:   card series (stored on the card as CNS)
//	  byte 2,3: card number
//	  printed:  100'000*CNS + card number
//	SI-Card 6/8/9/10/11/pCard/tCard/fCard/SIAC1:
//	  byte 0:   card series
//	  byte 1-3: card number, printed as-is
//
// The number ranges guarantee no ambiguous values: 500'000 = 0x07A120 is
// above the highest value technically possible on a SI5 (0x04FFFF).
func decodeCardNumber(number []byte) (uint32, error) {
	if len(number) != 4 || number[0] != 0x00 {
		return 0, ErrUnknownCardSeries
	}

	nr := uint32(toInt(number[1:4]))
	if nr < 500000 {
		// SI5 card
		low := uint32(toInt(number[2:4]))
		if number[1] < 2 {
			// Series 0 and 1 do not have the series printed on the card.
			return low, nil
		}
		return uint32(number[1])*100000 + low, nil
	}
	// SI6/8/9/10/11/pCard
	return nr, nil
}

// decodeStationCode decodes the station code read from a card. For cards
// newer than SI5 the PTD byte carries two extra bits, allowing codes up
// to 1023. ptd < 0 means no PTD byte is available.
func decodeStationCode(raw byte, ptd int) uint16 {
	if ptd >= 0 {
		return uint16(byte(ptd)&0xC0)<<2 | uint16(raw)
	}
	return uint16(raw)
}

// pyWeekday converts a time.Time weekday to Monday=0..Sunday=6.
func pyWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// midnight returns t truncated to the start of its day.
func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// defaultRefTime is the reference used when the caller supplies none:
// two hours ahead of now, as a safety margin for cases where the host
// clock runs a bit behind the station's.
func defaultRefTime() time.Time {
	return time.Now().Add(2 * time.Hour)
}

// decodeTime decodes a raw two-byte time value from a card into the
// nearest matching time before ref. The two bytes count seconds since
// midnight or midday; the optional PTD byte carries AM/PM (bit 0) and
// the day of week (bits 3..1, Sunday=0). ptd < 0 means no PTD byte.
// Returns ok=false for the 0xEEEE "no time" sentinel.
func decodeTime(raw []byte, ptd int, ref time.Time) (time.Time, bool) {
	if len(raw) != 2 || toInt(raw) == timeReset {
		return time.Time{}, false
	}
	if ref.IsZero() {
		ref = defaultRefTime()
	}

	punch := time.Duration(toInt(raw)) * time.Second

	if ptd >= 0 {
		if ptd&0x01 != 0 {
			punch += 12 * time.Hour
		}

		// Day of week converted to Monday=0; the modulo takes care of
		// the Sunday underflow.
		dow := ((((ptd & 0x0E) >> 1) - 1) + 7) % 7

		refDayTime := time.Duration(ref.Hour())*time.Hour +
			time.Duration(ref.Minute())*time.Minute +
			time.Duration(ref.Second())*time.Second
		if pyWeekday(ref) == dow && punch > refDayTime {
			// Same weekday but the punch is later in the day: it must
			// have happened a week earlier.
			ref = ref.AddDate(0, 0, -7)
		} else {
			back := ((pyWeekday(ref)-dow)%7 + 7) % 7
			ref = ref.AddDate(0, 0, -back)
		}
		return midnight(ref).Add(punch), true
	}

	// No PTD byte: guess the closest 12 h slot before ref.
	refDay := midnight(ref)
	refHour := ref.Sub(refDay)
	noon := 12 * time.Hour

	if refHour < noon {
		if punch < refHour {
			// Between 00:00 and ref.
			return refDay.Add(punch), true
		}
		// Afternoon the day before.
		return refDay.Add(punch - noon), true
	}
	if punch < refHour-noon {
		// Between noon and ref.
		return refDay.Add(noon + punch), true
	}
	// Late morning.
	return refDay.Add(punch), true
}

// subSeconds converts the 1-byte fractional seconds field to microseconds.
func subSeconds(b byte) int {
	return int(float64(b)*1e6/256 + 0.5)
}
