package rules

import (
	"testing"
	"time"

	"github.com/lojf/kidsclub/internal/models"
)

func TestGenderAllowed(t *testing.T) {
	cases := []struct {
		gender, programType string
		want                bool
	}{
		{"Female", models.ProgramBoys, false},
		{"Female", models.ProgramGirls, true},
		{"Female", models.ProgramAll, true},
		{"Male", models.ProgramBoys, true},
		{"Male", models.ProgramGirls, false},
		{"Male", models.ProgramAll, true},
	}
	for _, c := range cases {
		if got := GenderAllowed(c.gender, c.programType); got != c.want {
			t.Errorf("GenderAllowed(%q, %q) = %v, want %v", c.gender, c.programType, got, c.want)
		}
	}
}

func TestHasCapacity(t *testing.T) {
	if HasCapacity(10, 10) {
		t.Error("full program reported as having capacity")
	}
	if !HasCapacity(9, 10) {
		t.Error("program with one seat left reported as full")
	}
	// Zero max means uncapped.
	if !HasCapacity(500, 0) {
		t.Error("uncapped program reported as full")
	}
}

func TestAge(t *testing.T) {
	birthday := time.Date(2015, 6, 15, 0, 0, 0, 0, time.UTC)

	if got := Age(birthday, time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)); got != 9 {
		t.Errorf("day before birthday: got %d, want 9", got)
	}
	if got := Age(birthday, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)); got != 10 {
		t.Errorf("on birthday: got %d, want 10", got)
	}
}

func TestWithinAgeLimit(t *testing.T) {
	birthday := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)
	on := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC) // kid is 13

	if WithinAgeLimit(&birthday, 12, on) {
		t.Error("13-year-old admitted to max-age-12 program")
	}
	if !WithinAgeLimit(&birthday, 13, on) {
		t.Error("13-year-old rejected from max-age-13 program")
	}
	if !WithinAgeLimit(nil, 12, on) {
		t.Error("unknown birthday should not block enrollment")
	}
	if !WithinAgeLimit(&birthday, 0, on) {
		t.Error("unbounded program rejected a kid")
	}
}
