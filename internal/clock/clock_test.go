package clock

import (
	"testing"
	"time"
)

func TestFake(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := NewFake(start)

	if got := f.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	if got := f.Now(); !got.Equal(start) {
		t.Errorf("frozen clock moved: %v", got)
	}

	f.Advance(time.Minute)
	if got := f.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("after Advance Now() = %v, want %v", got, start.Add(time.Minute))
	}

	f.Set(start)
	if got := f.Now(); !got.Equal(start) {
		t.Errorf("after Set Now() = %v, want %v", got, start)
	}
}

func TestTicking(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewTicking(start, time.Millisecond)

	a, b, c := f.Now(), f.Now(), f.Now()
	if !a.Before(b) || !b.Before(c) {
		t.Errorf("ticking clock not strictly increasing: %v %v %v", a, b, c)
	}
	if got := c.Sub(a); got != 2*time.Millisecond {
		t.Errorf("c - a = %v, want 2ms", got)
	}
}

func TestOrReal(t *testing.T) {
	if OrReal(nil) == nil {
		t.Fatal("OrReal(nil) returned nil")
	}
	f := NewFake(time.Time{})
	if OrReal(f) != Clock(f) {
		t.Error("OrReal should return a non-nil clock unchanged")
	}
	if loc := Real().Now().Location(); loc != time.UTC {
		t.Errorf("Real().Now() location = %v, want UTC", loc)
	}
}
