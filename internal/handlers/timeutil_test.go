package handlers

import (
	"testing"
	"time"
)

func TestDayKey_LateEveningStaysOnLocalDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	old := orgLoc
	orgLoc = loc
	defer func() { orgLoc = old }()

	// 03:00 UTC is 22:00 or 23:00 the previous evening in New York.
	got := DayKey(time.Date(2026, 7, 5, 3, 0, 0, 0, time.UTC))
	if got != "2026-07-04" {
		t.Errorf("DayKey = %q, want 2026-07-04", got)
	}
}

func TestDayKey_Format(t *testing.T) {
	old := orgLoc
	orgLoc = time.UTC
	defer func() { orgLoc = old }()

	got := DayKey(time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC))
	if got != "2026-01-09" {
		t.Errorf("DayKey = %q, want zero-padded 2026-01-09", got)
	}
}
