package station

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeCardNumberSI5(t *testing.T) {
	// Series 1, number 0x205B = 8283: series 0 and 1 are not printed
	// on the card.
	nr, err := decodeCardNumber([]byte{0x00, 0x01, 0x20, 0x5B})
	if err != nil {
		t.Fatalf("decodeCardNumber: %v", err)
	}
	if nr != 8283 {
		t.Errorf("card number = %d, want 8283", nr)
	}

	// Series 3 is printed: 3*100000 + 8283.
	nr, err = decodeCardNumber([]byte{0x00, 0x03, 0x20, 0x5B})
	if err != nil {
		t.Fatalf("decodeCardNumber: %v", err)
	}
	if nr != 308283 {
		t.Errorf("card number = %d, want 308283", nr)
	}
}

func TestDecodeCardNumberModern(t *testing.T) {
	// 0x0F4240 = 1'000'000, an SI9; at or above 500'000 the three
	// bytes are the printed number.
	nr, err := decodeCardNumber([]byte{0x00, 0x0F, 0x42, 0x40})
	if err != nil {
		t.Fatalf("decodeCardNumber: %v", err)
	}
	if nr != 1000000 {
		t.Errorf("card number = %d, want 1000000", nr)
	}
}

func TestDecodeCardNumberBadSeries(t *testing.T) {
	_, err := decodeCardNumber([]byte{0x01, 0x00, 0x00, 0x01})
	if !errors.Is(err, ErrUnknownCardSeries) {
		t.Errorf("err = %v, want ErrUnknownCardSeries", err)
	}
}

func TestDecodeCardNumberRangesDisjoint(t *testing.T) {
	// 499'999 decodes by the SI5 rule, 500'000 by the modern rule.
	below, err := decodeCardNumber(toBytes(499999, 4))
	if err != nil {
		t.Fatalf("decodeCardNumber(499999): %v", err)
	}
	above, err := decodeCardNumber(toBytes(500000, 4))
	if err != nil {
		t.Fatalf("decodeCardNumber(500000): %v", err)
	}
	if above != 500000 {
		t.Errorf("500000 decoded to %d", above)
	}
	// 499999 = 0x07A11F: series byte 0x07 -> 7*100000 + 0xA11F.
	if below != 7*100000+0xA11F {
		t.Errorf("499999 decoded to %d", below)
	}
}

func TestDecodeStationCode(t *testing.T) {
	if got := decodeStationCode(0x2A, -1); got != 0x2A {
		t.Errorf("code without ptd = %d", got)
	}
	// PTD bits 7..6 extend the code beyond 255.
	if got := decodeStationCode(0x01, 0xC0); got != 0x301 {
		t.Errorf("code with ptd = %d, want %d", got, 0x301)
	}
}

func TestDecodeTimeReset(t *testing.T) {
	if _, ok := decodeTime([]byte{0xEE, 0xEE}, -1, time.Now()); ok {
		t.Error("0xEEEE should decode to no time")
	}
}

func TestDecodeTimeNoPTD(t *testing.T) {
	ref := time.Date(2024, 5, 14, 10, 0, 0, 0, time.Local)

	// 02:00 before a 10:00 reference stays in the same morning.
	got, ok := decodeTime([]byte{0x1C, 0x20}, -1, ref)
	if !ok {
		t.Fatal("expected a time")
	}
	want := time.Date(2024, 5, 14, 2, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}

	// 11:00 after a 10:00 reference is the previous afternoon.
	got, ok = decodeTime(toBytes(11*3600, 2), -1, ref)
	if !ok {
		t.Fatal("expected a time")
	}
	want = time.Date(2024, 5, 13, 23, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}

	// Afternoon reference, punch earlier the same afternoon.
	ref = time.Date(2024, 5, 14, 15, 0, 0, 0, time.Local)
	got, _ = decodeTime(toBytes(2*3600, 2), -1, ref)
	want = time.Date(2024, 5, 14, 14, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}

	// Afternoon reference, punch in the late morning.
	got, _ = decodeTime(toBytes(11*3600, 2), -1, ref)
	want = time.Date(2024, 5, 14, 11, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}
}

func TestDecodeTimeWithPTD(t *testing.T) {
	// PM punch at 14:00 on a Tuesday, reference Tuesday 10:00: the
	// punch must be from the previous week.
	ref := time.Date(2024, 5, 14, 10, 0, 0, 0, time.Local) // a Tuesday
	got, ok := decodeTime([]byte{0x1C, 0x20}, 0x05, ref)
	if !ok {
		t.Fatal("expected a time")
	}
	want := time.Date(2024, 5, 7, 14, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}

	// Same punch with a Friday reference lands on the Tuesday before.
	ref = time.Date(2024, 5, 17, 10, 0, 0, 0, time.Local)
	got, _ = decodeTime([]byte{0x1C, 0x20}, 0x05, ref)
	want = time.Date(2024, 5, 14, 14, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("decodeTime = %v, want %v", got, want)
	}
}

func TestDecodeTimeNeverAfterRef(t *testing.T) {
	ref := time.Date(2024, 5, 14, 10, 0, 0, 0, time.Local)
	for secs := 0; secs < 43200; secs += 977 {
		for _, ptd := range []int{-1, 0x00, 0x01, 0x04, 0x0D} {
			got, ok := decodeTime(toBytes(uint64(secs), 2), ptd, ref)
			if !ok {
				continue
			}
			if got.After(ref) {
				t.Fatalf("secs=%d ptd=%#x: %v after ref %v", secs, ptd, got, ref)
			}
			if ptd < 0 && ref.Sub(got) >= 12*time.Hour {
				t.Fatalf("secs=%d: %v more than 12h before ref", secs, got)
			}
		}
	}
}

func TestToIntToBytes(t *testing.T) {
	if got := toInt([]byte{0x01, 0x00, 0x2A}); got != 0x01002A {
		t.Errorf("toInt = %#x", got)
	}
	if got := toBytes(0x01002A, 3); got[0] != 0x01 || got[1] != 0x00 || got[2] != 0x2A {
		t.Errorf("toBytes = % X", got)
	}
}
