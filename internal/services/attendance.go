package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/models"
)

// minDwell is the shortest stay between check-in and check-out. A scan
// inside this window is treated as an accidental double-tap, not a
// check-out.
const minDwell = 10 * time.Minute

// ScanResult tells the kiosk what the scan did. WaitMinutes is the dwell
// window the kiosk shows after a check-in; zero on check-out.
type ScanResult struct {
	Action      string             `json:"action"` // "check-in" or "check-out"
	Kid         *models.User       `json:"kid"`
	Record      *models.Attendance `json:"record"`
	DateKey     string             `json:"dateKey"`
	WaitMinutes int                `json:"waitMinutesBeforeCheckout,omitempty"`
}

// Scan processes one QR scan. The first scan of the kid's day checks in,
// the next checks out, provided at least the minimum dwell has elapsed.
// Attendance requires a live subscription: the enrollment must exist
// locally and its subscription must be in an access-granting status
// remotely. A gateway failure blocks the scan rather than guessing.
func Scan(gdb *gorm.DB, gw billing.Gateway, code string, now time.Time, loc *time.Location) (*ScanResult, error) {
	var qr models.QRCode
	if err := gdb.Where("code = ?", code).First(&qr).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: qr code", ErrNotFound)
		}
		return nil, err
	}

	var kid models.User
	if err := gdb.First(&kid, qr.KidID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: kid", ErrNotFound)
		}
		return nil, err
	}
	if kid.Status != models.StatusActive || kid.EnrollmentID == nil {
		return nil, ErrNotEnrolled
	}

	var enrollment models.Enrollment
	if err := gdb.First(&enrollment, *kid.EnrollmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if enrollment.Status == models.EnrollmentCanceled {
		return nil, ErrSubscriptionInactive
	}

	sub, err := gw.GetSubscription(enrollment.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%w: verify subscription: %v", billing.ErrGateway, err)
	}
	if !billing.IsAccessStatus(sub.Status) {
		return nil, ErrSubscriptionInactive
	}

	local := now.In(loc)
	dateKey := local.Format("2006-01-02")

	var record models.Attendance
	err = gdb.Where("kid_id = ? AND date_key = ?", kid.ID, dateKey).First(&record).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		record = models.Attendance{
			KidID:       kid.ID,
			DateKey:     dateKey,
			CheckedInAt: &now,
		}
		if err := gdb.Create(&record).Error; err != nil {
			return nil, err
		}
		return &ScanResult{
			Action: "check-in", Kid: &kid, Record: &record, DateKey: dateKey,
			WaitMinutes: int(minDwell.Minutes()),
		}, nil
	case err != nil:
		return nil, err
	}

	if record.CheckedOutAt != nil {
		return nil, ErrAlreadyCheckedOut
	}

	if record.CheckedInAt == nil {
		// Manually created row for the day with no check-in time; backfill.
		if err := gdb.Model(&record).Update("checked_in_at", now).Error; err != nil {
			return nil, err
		}
		record.CheckedInAt = &now
		return &ScanResult{
			Action: "check-in", Kid: &kid, Record: &record, DateKey: dateKey,
			WaitMinutes: int(minDwell.Minutes()),
		}, nil
	}

	elapsed := now.Sub(*record.CheckedInAt)
	if elapsed < minDwell {
		remaining := int(math.Ceil((minDwell - elapsed).Minutes()))
		return nil, &DwellError{Remaining: remaining}
	}

	if err := gdb.Model(&record).Update("checked_out_at", now).Error; err != nil {
		return nil, err
	}
	record.CheckedOutAt = &now
	return &ScanResult{Action: "check-out", Kid: &kid, Record: &record, DateKey: dateKey}, nil
}

// CorrectionInput is an admin edit of one attendance day.
type CorrectionInput struct {
	KidID        uint
	DateKey      string
	CheckedInAt  *time.Time
	CheckedOutAt *time.Time
	Delete       bool
}

// ManualCorrection lets staff fix a day's record: create, overwrite, or
// remove. Corrections bypass the dwell rule but not the day-uniqueness
// index.
func ManualCorrection(gdb *gorm.DB, in CorrectionInput) (*models.Attendance, error) {
	var record models.Attendance
	err := gdb.Where("kid_id = ? AND date_key = ?", in.KidID, in.DateKey).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if in.Delete {
			return nil, fmt.Errorf("%w: attendance record", ErrNotFound)
		}
		record = models.Attendance{
			KidID:        in.KidID,
			DateKey:      in.DateKey,
			CheckedInAt:  in.CheckedInAt,
			CheckedOutAt: in.CheckedOutAt,
		}
		if err := gdb.Create(&record).Error; err != nil {
			return nil, err
		}
		return &record, nil
	}
	if err != nil {
		return nil, err
	}

	if in.Delete {
		if err := gdb.Delete(&record).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}

	updates := map[string]any{
		"checked_in_at":  in.CheckedInAt,
		"checked_out_at": in.CheckedOutAt,
	}
	if err := gdb.Model(&record).Updates(updates).Error; err != nil {
		return nil, err
	}
	record.CheckedInAt = in.CheckedInAt
	record.CheckedOutAt = in.CheckedOutAt
	return &record, nil
}

// MonthRecords returns a kid's attendance for one month, month given as
// "2006-01".
func MonthRecords(gdb *gorm.DB, kidID uint, month string) ([]models.Attendance, error) {
	var records []models.Attendance
	err := gdb.Where("kid_id = ? AND date_key LIKE ?", kidID, month+"-%").
		Order("date_key").
		Find(&records).Error
	return records, err
}

// DayRoster returns every attendance record for one day, newest check-in
// first.
func DayRoster(gdb *gorm.DB, dateKey string) ([]models.Attendance, error) {
	var records []models.Attendance
	err := gdb.Where("date_key = ?", dateKey).
		Order("checked_in_at DESC").
		Find(&records).Error
	return records, err
}
