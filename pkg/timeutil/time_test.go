package timeutil

import (
	"testing"
	"time"
)

func TestNow_AlwaysUTC(t *testing.T) {
	now := Now()

	if now.Location() != time.UTC {
		t.Errorf("Now() returned non-UTC timezone: %v", now.Location())
	}
}

func TestToUTCPtr(t *testing.T) {
	if ToUTCPtr(nil) != nil {
		t.Error("ToUTCPtr(nil) should be nil")
	}

	est := time.FixedZone("EST", -5*3600)
	in := time.Date(2026, 1, 2, 7, 0, 0, 0, est)
	out := ToUTCPtr(&in)
	if out.Location() != time.UTC || !out.Equal(in) {
		t.Errorf("ToUTCPtr() = %v, want %v in UTC", out, in)
	}
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	if !clock.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), start)
	}

	got := clock.Advance(8 * 24 * time.Hour)
	want := start.Add(8 * 24 * time.Hour)
	if !got.Equal(want) || !clock.Now().Equal(want) {
		t.Errorf("Advance() = %v, want %v", got, want)
	}

	clock.Set(start)
	if !clock.Now().Equal(start) {
		t.Errorf("Set() did not move clock back to %v", start)
	}
}

func TestSystemClock_UTC(t *testing.T) {
	var c Clock = SystemClock{}
	if c.Now().Location() != time.UTC {
		t.Error("SystemClock must report UTC")
	}
}
