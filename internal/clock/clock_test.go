package clock

import (
	"testing"
	"time"
)

func TestFake_Advance(t *testing.T) {
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	f := NewFake(start)
	if !f.Now().Equal(start) {
		t.Fatalf("Now = %v, want %v", f.Now(), start)
	}
	f.Advance(6 * time.Minute)
	if got := f.Now().Sub(start); got != 6*time.Minute {
		t.Errorf("elapsed = %v, want 6m", got)
	}
}

func TestFake_SetNormalizesToUTC(t *testing.T) {
	f := NewFake(time.Time{})
	loc := time.FixedZone("UTC+2", 2*60*60)
	f.Set(time.Date(2026, 1, 5, 12, 0, 0, 0, loc))
	if f.Now().Location() != time.UTC {
		t.Errorf("location = %v, want UTC", f.Now().Location())
	}
	if f.Now().Hour() != 10 {
		t.Errorf("hour = %d, want 10", f.Now().Hour())
	}
}

func TestReal_IsUTC(t *testing.T) {
	if Real().Now().Location() != time.UTC {
		t.Error("Real clock should report UTC")
	}
}

func TestOr(t *testing.T) {
	if _, ok := Or(nil).(realClock); !ok {
		t.Error("Or(nil) should return the real clock")
	}
	f := NewFake(time.Now())
	if Or(f) != Clock(f) {
		t.Error("Or(f) should return f")
	}
}
