package services

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/rules"
)

// StartSubscriptionInput is step one of the two-phase enrollment: open the
// remote subscription, hand the confirmation secret back, create nothing
// locally.
type StartSubscriptionInput struct {
	KidID           uint
	ProgramID       uint
	PaymentMethodID string
	PromotionCodeID string
}

// SubscriptionQuote is what the client needs to finish payment confirmation.
type SubscriptionQuote struct {
	ClientSecret   string `json:"clientSecret"`
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
}

// StartSubscription validates eligibility and opens an incomplete remote
// subscription. The local Enrollment is created later by ConfirmEnrollment,
// after the client has confirmed payment.
func StartSubscription(gdb *gorm.DB, gw billing.Gateway, parent *models.User, in StartSubscriptionInput) (*SubscriptionQuote, error) {
	var kid models.User
	err := gdb.Where("id = ? AND parent_id = ? AND status = ?", in.KidID, parent.ID, models.StatusActive).
		First(&kid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: kid", ErrNotFound)
		}
		return nil, err
	}

	var program models.Program
	if err := gdb.First(&program, in.ProgramID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: program", ErrNotFound)
		}
		return nil, err
	}

	if !rules.GenderAllowed(kid.Gender, program.Type) {
		return nil, fmt.Errorf("%w: kid gender does not match program type", ErrEligibility)
	}
	if !rules.WithinAgeLimit(kid.Birthday, program.MaxAge, time.Now()) {
		return nil, fmt.Errorf("%w: kid is above the program age limit", ErrEligibility)
	}

	var existing int64
	gdb.Model(&models.Enrollment{}).
		Where("kid_id = ? AND program_id = ? AND status IN ?",
			kid.ID, program.ID, []string{models.EnrollmentActive, models.EnrollmentTrialing}).
		Count(&existing)
	if existing > 0 {
		return nil, fmt.Errorf("%w: kid is already enrolled in this program", ErrConflict)
	}

	// Advisory only; the authoritative guard is the conditional increment
	// at confirmation time.
	if !rules.HasCapacity(program.Enrollments, program.MaxStudents) {
		return nil, ErrCapacity
	}

	cust, err := GetOrCreateCustomer(gdb, gw, parent.ID)
	if err != nil {
		return nil, err
	}

	card, err := billing.EnsurePaymentMethod(gw, cust.ID, in.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	sub, err := gw.CreateSubscription(billing.SubscriptionParams{
		CustomerID:      cust.ID,
		PriceID:         program.PriceID,
		PaymentMethodID: card.ID,
		PromotionCodeID: in.PromotionCodeID,
		Metadata: map[string]string{
			"userId":      strconv.FormatUint(uint64(parent.ID), 10),
			"kidId":       strconv.FormatUint(uint64(kid.ID), 10),
			"programId":   strconv.FormatUint(uint64(program.ID), 10),
			"programName": program.Name,
			"brand":       billing.CardLabel(card),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create subscription: %v", billing.ErrGateway, err)
	}

	return &SubscriptionQuote{
		ClientSecret:   billing.ConfirmationSecret(sub),
		SubscriptionID: sub.ID,
		Status:         string(sub.Status),
	}, nil
}

// ConfirmEnrollmentInput is step two: after client-side payment
// confirmation, materialize the local Enrollment.
type ConfirmEnrollmentInput struct {
	KidID           uint
	ContactID       uint
	ProgramID       uint
	SubscriptionID  string
	PaymentMethodID string
	PaymentMethod   string // display label
	ProgramPrice    int64
}

// ConfirmEnrollment verifies the subscription server-side, then atomically
// increments the program counter (capacity-guarded), creates the
// Enrollment, and points the kid at it. Safe to call more than once per
// subscription: a repeat returns the existing record untouched.
func ConfirmEnrollment(gdb *gorm.DB, gw billing.Gateway, in ConfirmEnrollmentInput) (*models.Enrollment, error) {
	sub, err := gw.GetSubscription(in.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve subscription: %v", billing.ErrGateway, err)
	}
	status := models.EnrollmentActive
	switch sub.Status {
	case stripe.SubscriptionStatusActive:
	case stripe.SubscriptionStatusTrialing:
		status = models.EnrollmentTrialing
	default:
		return nil, fmt.Errorf("%w: subscription is %s, not confirmed", ErrConflict, sub.Status)
	}

	// The subscription must be the one phase one opened for exactly this
	// kid and program; status alone would let a subscription priced for one
	// program confirm into another, or confirm someone else's subscription.
	if sub.Metadata["kidId"] != strconv.FormatUint(uint64(in.KidID), 10) ||
		sub.Metadata["programId"] != strconv.FormatUint(uint64(in.ProgramID), 10) {
		return nil, fmt.Errorf("%w: subscription was not created for this enrollment", ErrForbidden)
	}
	var contact models.User
	if err := gdb.First(&contact, in.ContactID).Error; err != nil {
		return nil, fmt.Errorf("%w: contact", ErrNotFound)
	}
	if contact.CustomerID != "" && sub.Customer != nil && sub.Customer.ID != contact.CustomerID {
		return nil, fmt.Errorf("%w: subscription belongs to another customer", ErrForbidden)
	}

	var enrollment models.Enrollment
	err = gdb.Transaction(func(tx *gorm.DB) error {
		// Idempotency: the unique index on subscription_id means at most
		// one confirm per subscription can ever land.
		if err := tx.Where("subscription_id = ?", in.SubscriptionID).
			First(&enrollment).Error; err == nil {
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := incrementEnrollments(tx, in.ProgramID); err != nil {
			return err
		}

		enrollment = models.Enrollment{
			ProgramID:       in.ProgramID,
			ContactID:       in.ContactID,
			KidID:           in.KidID,
			SubscriptionID:  in.SubscriptionID,
			PaymentMethodID: in.PaymentMethodID,
			PaymentMethod:   in.PaymentMethod,
			ProgramPrice:    in.ProgramPrice,
			Status:          status,
		}
		if err := tx.Create(&enrollment).Error; err != nil {
			return err
		}

		return tx.Model(&models.User{}).Where("id = ?", in.KidID).
			Update("enrollment_id", enrollment.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CancelEnrollment cancels remotely then mirrors locally. Idempotent: an
// already-canceled enrollment is a no-op success and the program counter is
// decremented at most once.
func CancelEnrollment(gdb *gorm.DB, gw billing.Gateway, enrollmentID uint) error {
	var enrollment models.Enrollment
	if err := gdb.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: enrollment", ErrNotFound)
		}
		return err
	}
	if enrollment.Status == models.EnrollmentCanceled ||
		enrollment.Status == models.EnrollmentRemoved {
		return nil
	}

	// Check remote state first: canceling an already-canceled subscription
	// is not an error.
	sub, err := gw.GetSubscription(enrollment.SubscriptionID)
	switch {
	case err != nil && billing.IsNotFound(err):
		// Unknown remotely; do not assume canceled, but nothing to cancel.
	case err != nil:
		return fmt.Errorf("%w: retrieve subscription: %v", billing.ErrGateway, err)
	case sub.Status != stripe.SubscriptionStatusCanceled:
		if err := gw.CancelSubscription(enrollment.SubscriptionID); err != nil {
			return fmt.Errorf("%w: cancel subscription: %v", billing.ErrGateway, err)
		}
	}

	return markCanceledLocally(gdb, &enrollment)
}

// markCanceledLocally flips the enrollment to canceled with a status guard
// so the counter decrement can never be applied twice, then clears the
// kid's current-enrollment reference. Only live statuses flip: canceled
// and removed have already been counted out.
func markCanceledLocally(gdb *gorm.DB, enrollment *models.Enrollment) error {
	return gdb.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Enrollment{}).
			Where("id = ? AND status IN ?", enrollment.ID,
				[]string{models.EnrollmentActive, models.EnrollmentTrialing}).
			Update("status", models.EnrollmentCanceled)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil // someone else already canceled; no second decrement
		}
		if err := decrementEnrollments(tx, enrollment.ProgramID); err != nil {
			return err
		}
		return tx.Model(&models.User{}).
			Where("id = ? AND enrollment_id = ?", enrollment.KidID, enrollment.ID).
			Update("enrollment_id", nil).Error
	})
}

// RemoveFromProfile hides a canceled enrollment from the contact's profile.
// Billing state is untouched: only canceled enrollments can be removed, and
// removing twice is a conflict.
func RemoveFromProfile(gdb *gorm.DB, enrollmentID uint) error {
	var enrollment models.Enrollment
	if err := gdb.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: enrollment", ErrNotFound)
		}
		return err
	}
	switch enrollment.Status {
	case models.EnrollmentRemoved:
		return fmt.Errorf("%w: enrollment is already removed", ErrConflict)
	case models.EnrollmentCanceled:
	default:
		return fmt.Errorf("%w: only canceled enrollments can be removed", ErrConflict)
	}
	return gdb.Model(&enrollment).Update("status", models.EnrollmentRemoved).Error
}

// RenewEnrollment turns off a pending period-end cancellation and mirrors
// the remote status locally.
func RenewEnrollment(gdb *gorm.DB, gw billing.Gateway, enrollmentID uint) error {
	return SetAutoRenew(gdb, gw, enrollmentID, true)
}

// SetAutoRenew toggles cancel-at-period-end on the remote subscription.
// autoRenew=true keeps the subscription renewing; false lets it lapse.
func SetAutoRenew(gdb *gorm.DB, gw billing.Gateway, enrollmentID uint, autoRenew bool) error {
	var enrollment models.Enrollment
	if err := gdb.First(&enrollment, enrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: enrollment", ErrNotFound)
		}
		return err
	}

	sub, err := gw.UpdateSubscription(enrollment.SubscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(!autoRenew),
	})
	if err != nil {
		return fmt.Errorf("%w: update subscription: %v", billing.ErrGateway, err)
	}

	// Mirror the remote status as a cache refresh; the webhook reconciler
	// remains the authority.
	if billing.IsAccessStatus(sub.Status) && enrollment.Status == models.EnrollmentCanceled {
		return MarkSubscriptionActive(gdb, enrollment.SubscriptionID)
	}
	return nil
}

// TransferInput moves an enrollment to a new program.
type TransferInput struct {
	EnrollmentID uint
	NewProgramID uint
	TrialDays    int64
	InvoicePDF   string
}

// TransferProgram creates the replacement subscription first and cancels
// the old one only after that succeeds, so a failure never leaves the kid
// without an active subscription.
func TransferProgram(gdb *gorm.DB, gw billing.Gateway, in TransferInput) error {
	var enrollment models.Enrollment
	if err := gdb.First(&enrollment, in.EnrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: enrollment", ErrNotFound)
		}
		return err
	}
	if enrollment.ProgramID == in.NewProgramID {
		return fmt.Errorf("%w: enrollment is already in this program", ErrConflict)
	}

	var newProgram models.Program
	if err := gdb.First(&newProgram, in.NewProgramID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: new program", ErrNotFound)
		}
		return err
	}
	var contact models.User
	if err := gdb.First(&contact, enrollment.ContactID).Error; err != nil {
		return fmt.Errorf("%w: contact", ErrNotFound)
	}

	current, err := gw.GetSubscription(enrollment.SubscriptionID)
	if err != nil {
		return fmt.Errorf("%w: retrieve current subscription: %v", billing.ErrGateway, err)
	}

	pmID := ""
	if current.DefaultPaymentMethod != nil {
		pmID = current.DefaultPaymentMethod.ID
	}

	newSub, err := gw.CreateSubscription(billing.SubscriptionParams{
		CustomerID:      contact.CustomerID,
		PriceID:         newProgram.PriceID,
		PaymentMethodID: pmID,
		TrialDays:       in.TrialDays,
		Metadata: map[string]string{
			"userId":      strconv.FormatUint(uint64(contact.ID), 10),
			"kidId":       strconv.FormatUint(uint64(enrollment.KidID), 10),
			"programId":   strconv.FormatUint(uint64(newProgram.ID), 10),
			"programName": newProgram.Name,
			"brand":       billing.CardLabel(current.DefaultPaymentMethod),
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create replacement subscription: %v", billing.ErrGateway, err)
	}

	if err := gw.CancelSubscription(enrollment.SubscriptionID); err != nil {
		return fmt.Errorf("%w: cancel old subscription: %v", billing.ErrGateway, err)
	}

	oldProgramID := enrollment.ProgramID
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := incrementEnrollments(tx, newProgram.ID); err != nil {
			return err
		}
		if err := decrementEnrollments(tx, oldProgramID); err != nil {
			return err
		}
		updates := map[string]any{
			"program_id":      newProgram.ID,
			"subscription_id": newSub.ID,
			"program_price":   newProgram.Price,
		}
		if in.InvoicePDF != "" {
			updates["invoice_pdf"] = in.InvoicePDF
		}
		return tx.Model(&models.Enrollment{}).Where("id = ?", enrollment.ID).
			Updates(updates).Error
	})
}

// incrementEnrollments is the capacity guard: a single conditional UPDATE
// so concurrent confirmations cannot blow past max_students.
func incrementEnrollments(tx *gorm.DB, programID uint) error {
	res := tx.Exec(
		`UPDATE programs SET enrollments = enrollments + 1
		 WHERE id = ? AND (max_students <= 0 OR enrollments < max_students)`,
		programID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCapacity
	}
	return nil
}

// decrementEnrollments never drives the counter below zero.
func decrementEnrollments(tx *gorm.DB, programID uint) error {
	return tx.Exec(
		`UPDATE programs SET enrollments = enrollments - 1
		 WHERE id = ? AND enrollments > 0`,
		programID,
	).Error
}
