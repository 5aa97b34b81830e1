package services

import (
	"errors"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/billing/billingtest"
	"github.com/lojf/kidsclub/internal/models"
	"gorm.io/gorm"
)

func seedEnrolledKidWithQR(t *testing.T, gdb *gorm.DB, gw *billingtest.Fake) (*models.User, string) {
	t.Helper()
	parent, kid, program := seedParentKidProgram(t, gdb, models.ProgramBoys, 10)
	addProgramSubscription(gw, "sub_att", stripe.SubscriptionStatusActive, kid.ID, program.ID)
	_, err := ConfirmEnrollment(gdb, gw, ConfirmEnrollmentInput{
		KidID: kid.ID, ContactID: parent.ID, ProgramID: program.ID, SubscriptionID: "sub_att",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	qr := &models.QRCode{KidID: kid.ID, Code: "QR-TEST-1"}
	if err := gdb.Create(qr).Error; err != nil {
		t.Fatal(err)
	}
	return kid, qr.Code
}

func TestScan_CheckInThenCheckOut(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	kid, code := seedEnrolledKidWithQR(t, gdb, gw)
	loc := time.UTC
	checkin := time.Date(2026, 3, 7, 14, 0, 0, 0, loc)

	res, err := Scan(gdb, gw, code, checkin, loc)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if res.Action != "check-in" {
		t.Fatalf("action = %q, want check-in", res.Action)
	}
	if res.DateKey != "2026-03-07" {
		t.Errorf("dateKey = %q, want 2026-03-07", res.DateKey)
	}
	if res.Kid.ID != kid.ID {
		t.Errorf("scanned kid %d, want %d", res.Kid.ID, kid.ID)
	}

	res, err = Scan(gdb, gw, code, checkin.Add(45*time.Minute), loc)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if res.Action != "check-out" {
		t.Fatalf("action = %q, want check-out", res.Action)
	}
	if res.Record.CheckedOutAt == nil {
		t.Error("checkout time not recorded")
	}

	_, err = Scan(gdb, gw, code, checkin.Add(2*time.Hour), loc)
	if !errors.Is(err, ErrAlreadyCheckedOut) {
		t.Fatalf("third scan: expected ErrAlreadyCheckedOut, got %v", err)
	}
}

func TestScan_DwellWindow(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	loc := time.UTC
	checkin := time.Date(2026, 3, 7, 14, 0, 0, 0, loc)

	if _, err := Scan(gdb, gw, code, checkin, loc); err != nil {
		t.Fatalf("check-in: %v", err)
	}

	// One second short of the window is still a double-tap.
	_, err := Scan(gdb, gw, code, checkin.Add(10*time.Minute-time.Second), loc)
	var dwell *DwellError
	if !errors.As(err, &dwell) {
		t.Fatalf("expected DwellError, got %v", err)
	}
	if dwell.Remaining != 1 {
		t.Errorf("remaining = %d minute(s), want 1", dwell.Remaining)
	}

	// Exactly at the boundary checks out.
	res, err := Scan(gdb, gw, code, checkin.Add(10*time.Minute), loc)
	if err != nil {
		t.Fatalf("scan at dwell boundary: %v", err)
	}
	if res.Action != "check-out" {
		t.Errorf("action = %q, want check-out", res.Action)
	}
}

func TestScan_CheckInAnnouncesDwellWindow(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	loc := time.UTC
	checkin := time.Date(2026, 3, 7, 14, 0, 0, 0, loc)

	res, err := Scan(gdb, gw, code, checkin, loc)
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.WaitMinutes != 10 {
		t.Errorf("waitMinutesBeforeCheckout = %d, want 10", res.WaitMinutes)
	}

	res, err = Scan(gdb, gw, code, checkin.Add(30*time.Minute), loc)
	if err != nil {
		t.Fatalf("check-out: %v", err)
	}
	if res.WaitMinutes != 0 {
		t.Errorf("check-out should not carry a wait window, got %d", res.WaitMinutes)
	}
}

func TestScan_DwellRemainingRoundsUp(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	loc := time.UTC
	checkin := time.Date(2026, 3, 7, 14, 0, 0, 0, loc)

	if _, err := Scan(gdb, gw, code, checkin, loc); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	_, err := Scan(gdb, gw, code, checkin.Add(3*time.Minute+10*time.Second), loc)
	var dwell *DwellError
	if !errors.As(err, &dwell) {
		t.Fatalf("expected DwellError, got %v", err)
	}
	if dwell.Remaining != 7 {
		t.Errorf("remaining = %d, want 7 (6m50s rounded up)", dwell.Remaining)
	}
}

func TestScan_DayKeyUsesOrgTimezone(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// 02:30 UTC on March 8 is still the evening of March 7 in New York.
	res, err := Scan(gdb, gw, code, time.Date(2026, 3, 8, 2, 30, 0, 0, time.UTC), loc)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.DateKey != "2026-03-07" {
		t.Errorf("dateKey = %q, want 2026-03-07", res.DateKey)
	}
}

func TestScan_RequiresEnrollment(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, kid, _ := seedParentKidProgram(t, gdb, models.ProgramBoys, 10)
	qr := &models.QRCode{KidID: kid.ID, Code: "QR-NOENROLL"}
	if err := gdb.Create(qr).Error; err != nil {
		t.Fatal(err)
	}

	_, err := Scan(gdb, gw, qr.Code, time.Now(), time.UTC)
	if !errors.Is(err, ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	var count int64
	gdb.Model(&models.Attendance{}).Count(&count)
	if count != 0 {
		t.Errorf("no attendance record should exist, got %d", count)
	}
}

func TestScan_RejectsInactiveSubscription(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	gw.Subscriptions["sub_att"].Status = stripe.SubscriptionStatusUnpaid

	_, err := Scan(gdb, gw, code, time.Now(), time.UTC)
	if !errors.Is(err, ErrSubscriptionInactive) {
		t.Fatalf("expected ErrSubscriptionInactive, got %v", err)
	}
}

func TestScan_GatewayFailureBlocksScan(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, code := seedEnrolledKidWithQR(t, gdb, gw)
	gw.Errs["GetSubscription"] = errors.New("network down")

	_, err := Scan(gdb, gw, code, time.Now(), time.UTC)
	if !errors.Is(err, billing.ErrGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	var count int64
	gdb.Model(&models.Attendance{}).Count(&count)
	if count != 0 {
		t.Error("scan must not record attendance when verification fails")
	}
}

func TestScan_UnknownCode(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	_, err := Scan(gdb, gw, "QR-NOPE", time.Now(), time.UTC)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestManualCorrection_CreateUpdateDelete(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	kid, _ := seedEnrolledKidWithQR(t, gdb, gw)
	in := time.Date(2026, 3, 7, 14, 0, 0, 0, time.UTC)
	out := in.Add(2 * time.Hour)

	record, err := ManualCorrection(gdb, CorrectionInput{
		KidID: kid.ID, DateKey: "2026-03-07", CheckedInAt: &in,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.CheckedOutAt != nil {
		t.Error("checkout should be unset")
	}

	record, err = ManualCorrection(gdb, CorrectionInput{
		KidID: kid.ID, DateKey: "2026-03-07", CheckedInAt: &in, CheckedOutAt: &out,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if record.CheckedOutAt == nil {
		t.Error("checkout should be set after correction")
	}

	if _, err := ManualCorrection(gdb, CorrectionInput{
		KidID: kid.ID, DateKey: "2026-03-07", Delete: true,
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var count int64
	gdb.Model(&models.Attendance{}).Where("kid_id = ?", kid.ID).Count(&count)
	if count != 0 {
		t.Errorf("record should be gone, got %d", count)
	}
}

func TestMonthRecords(t *testing.T) {
	gdb := openTestDB(t)
	gw := billingtest.New()
	kid, _ := seedEnrolledKidWithQR(t, gdb, gw)
	for _, key := range []string{"2026-03-07", "2026-03-14", "2026-04-04"} {
		at := time.Now()
		if err := gdb.Create(&models.Attendance{KidID: kid.ID, DateKey: key, CheckedInAt: &at}).Error; err != nil {
			t.Fatal(err)
		}
	}

	records, err := MonthRecords(gdb, kid.ID, "2026-03")
	if err != nil {
		t.Fatalf("MonthRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d March records, want 2", len(records))
	}
	if records[0].DateKey != "2026-03-07" || records[1].DateKey != "2026-03-14" {
		t.Errorf("records out of order: %s, %s", records[0].DateKey, records[1].DateKey)
	}
}
