package handlers

import (
	"net/http"
	"time"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/services"
)

// POST /api/admin/attendance/scan
// The kiosk endpoint. One scan checks in, the next checks out.
func ScanAttendance(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeJSON(r, &body); err != nil || body.Code == "" {
			writeError(w, http.StatusBadRequest, "code is required")
			return
		}

		res, err := services.Scan(db.Conn(), gw, body.Code, time.Now(), orgLoc)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/admin/attendance?date=2006-01-02
// The day's roster with kid names, defaulting to today.
func AttendanceByDay(w http.ResponseWriter, r *http.Request) {
	dateKey := r.URL.Query().Get("date")
	if dateKey == "" {
		dateKey = DayKey(time.Now())
	}
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		writeError(w, http.StatusBadRequest, "date must look like 2026-01-02")
		return
	}

	records, err := services.DayRoster(db.Conn(), dateKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	type rosterRow struct {
		models.Attendance
		KidName string `json:"kidName"`
	}
	rows := make([]rosterRow, len(records))
	for i, rec := range records {
		rows[i].Attendance = rec
		var kid models.User
		if db.Conn().First(&kid, rec.KidID).Error == nil {
			rows[i].KidName = kid.FullName()
		}
	}
	writeJSON(w, http.StatusOK, rows)
}

// POST /api/admin/attendance/correct
// Staff fix-up of a day's record: create, overwrite or delete.
func CorrectAttendance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		KidID        uint       `json:"kidId"`
		Date         string     `json:"date"`
		CheckedInAt  *time.Time `json:"checkedInAt"`
		CheckedOutAt *time.Time `json:"checkedOutAt"`
		Delete       bool       `json:"delete"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.KidID == 0 {
		writeError(w, http.StatusBadRequest, "kidId is required")
		return
	}
	if _, err := time.Parse("2006-01-02", body.Date); err != nil {
		writeError(w, http.StatusBadRequest, "date must look like 2026-01-02")
		return
	}

	record, err := services.ManualCorrection(db.Conn(), services.CorrectionInput{
		KidID:        body.KidID,
		DateKey:      body.Date,
		CheckedInAt:  body.CheckedInAt,
		CheckedOutAt: body.CheckedOutAt,
		Delete:       body.Delete,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if record == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
		return
	}
	writeJSON(w, http.StatusOK, record)
}
