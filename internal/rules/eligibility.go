// Package rules holds the pure eligibility checks shared by the enrollment
// engine and the attendance gate. No I/O here.
package rules

import (
	"time"

	"github.com/lojf/kidsclub/internal/models"
)

// ExpectedGender maps a program type to the gender it admits. An empty
// result means the program is unrestricted ("All" collaborations).
func ExpectedGender(programType string) string {
	switch programType {
	case models.ProgramBoys:
		return "Male"
	case models.ProgramGirls:
		return "Female"
	default:
		return ""
	}
}

// GenderAllowed reports whether a kid of the given gender may enroll in a
// program of the given type.
func GenderAllowed(kidGender, programType string) bool {
	want := ExpectedGender(programType)
	return want == "" || want == kidGender
}

// HasCapacity reports whether a program with the given counter can accept
// one more enrollment. Callers still need the guarded increment at the
// storage layer; this is the advisory pre-check.
func HasCapacity(enrollments, maxStudents int) bool {
	return maxStudents <= 0 || enrollments < maxStudents
}

// Age computes full years between birthday and the reference date.
func Age(birthday, on time.Time) int {
	years := on.Year() - birthday.Year()
	anniversary := birthday.AddDate(years, 0, 0)
	if anniversary.After(on) {
		years--
	}
	return years
}

// WithinAgeLimit reports whether a kid is young enough for the program.
// maxAge <= 0 means no age bound.
func WithinAgeLimit(birthday *time.Time, maxAge int, on time.Time) bool {
	if maxAge <= 0 || birthday == nil {
		return true
	}
	return Age(*birthday, on) <= maxAge
}
