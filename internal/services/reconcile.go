package services

import (
	"errors"
	"log/slog"

	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/models"
)

// ApplySubscriptionEvent maps a billing subscription status onto the local
// enrollment. Events for unknown subscriptions and statuses we do not track
// are swallowed: webhook delivery retries must not pile up on them.
func ApplySubscriptionEvent(gdb *gorm.DB, subscriptionID, status string) error {
	switch status {
	case "canceled", "unpaid", "incomplete_expired":
		return MarkSubscriptionCanceled(gdb, subscriptionID)
	case "active":
		return markSubscriptionLive(gdb, subscriptionID, models.EnrollmentActive)
	case "trialing":
		return markSubscriptionLive(gdb, subscriptionID, models.EnrollmentTrialing)
	default:
		return nil
	}
}

// MarkSubscriptionCanceled is the webhook-side cancel path. Set-to-status
// rather than toggle: replaying the same event is harmless, and the guarded
// flip means the program counter is decremented exactly once.
func MarkSubscriptionCanceled(gdb *gorm.DB, subscriptionID string) error {
	var enrollment models.Enrollment
	err := gdb.Where("subscription_id = ?", subscriptionID).First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A subscription we never tracked, e.g. created before this
			// system or from another product. Ack and move on.
			slog.Info("reconcile: no enrollment for subscription, ignoring",
				"subscription_id", subscriptionID)
			return nil
		}
		return err
	}
	return markCanceledLocally(gdb, &enrollment)
}

// MarkSubscriptionActive reactivates the local enrollment, e.g. after a
// past-due invoice is paid. It does not touch the program counter unless
// the enrollment was previously counted out.
func MarkSubscriptionActive(gdb *gorm.DB, subscriptionID string) error {
	return markSubscriptionLive(gdb, subscriptionID, models.EnrollmentActive)
}

// markSubscriptionLive moves an enrollment into an access-granting cached
// status (active or trialing). Both arrival statuses run the same restore:
// an enrollment coming back from canceled/removed re-takes its program seat
// and the kid's enrollment reference, so out-of-order delivery cannot leak
// a counted-out seat.
func markSubscriptionLive(gdb *gorm.DB, subscriptionID, status string) error {
	var enrollment models.Enrollment
	err := gdb.Where("subscription_id = ?", subscriptionID).First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Info("reconcile: no enrollment for subscription, ignoring",
				"subscription_id", subscriptionID)
			return nil
		}
		return err
	}
	if enrollment.Status == status {
		return nil
	}

	wasOut := enrollment.Status == models.EnrollmentCanceled ||
		enrollment.Status == models.EnrollmentRemoved
	return gdb.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Enrollment{}).
			Where("id = ? AND status <> ?", enrollment.ID, status).
			Update("status", status)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if wasOut {
			if err := incrementEnrollments(tx, enrollment.ProgramID); err != nil {
				return err
			}
			if err := tx.Model(&models.User{}).Where("id = ?", enrollment.KidID).
				Update("enrollment_id", enrollment.ID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
