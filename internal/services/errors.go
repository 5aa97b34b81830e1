package services

import (
	"errors"
	"fmt"
)

// Typed errors for the service layer. Handlers map these onto HTTP status
// codes in one place instead of sniffing SDK error types.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrEligibility = errors.New("not eligible")
	ErrCapacity    = errors.New("program is full")
	ErrForbidden   = errors.New("forbidden")

	ErrNotEnrolled          = errors.New("not enrolled in any program")
	ErrSubscriptionInactive = errors.New("subscription is not active")
	ErrAlreadyCheckedOut    = errors.New("already checked out today")
)

// DwellError rejects a checkout attempted before the minimum dwell time has
// passed. Remaining is whole minutes, rounded up.
type DwellError struct {
	Remaining int
}

func (e *DwellError) Error() string {
	return fmt.Sprintf("checkout is allowed after 10 minutes; please wait ~%d minute(s)", e.Remaining)
}
