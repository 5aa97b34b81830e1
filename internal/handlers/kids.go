package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/services"
)

type kidInput struct {
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Gender    string     `json:"gender"`
	Birthday  *time.Time `json:"birthday"`
	Allergies string     `json:"allergies"`
	Avatar    string     `json:"avatar"`
	Notes     string     `json:"notes"`
}

// GET /api/kids
func ListKids(w http.ResponseWriter, r *http.Request) {
	user := CurrentUser(r)
	var kids []models.User
	if err := db.Conn().
		Where("parent_id = ? AND role = ? AND status = ?", user.ID, models.RoleKid, models.StatusActive).
		Order("first_name").
		Find(&kids).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kids)
}

// POST /api/kids
func CreateKid(w http.ResponseWriter, r *http.Request) {
	var in kidInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.FirstName == "" {
		writeError(w, http.StatusBadRequest, "firstName is required")
		return
	}
	if in.Gender != "Male" && in.Gender != "Female" {
		writeError(w, http.StatusBadRequest, "gender must be Male or Female")
		return
	}

	user := CurrentUser(r)
	kid := models.User{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Gender:    in.Gender,
		Birthday:  in.Birthday,
		Allergies: in.Allergies,
		Avatar:    in.Avatar,
		Notes:     in.Notes,
		Role:      models.RoleKid,
		Status:    models.StatusActive,
		ParentID:  &user.ID,
	}
	if err := db.Conn().Create(&kid).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kid)
}

// PUT /api/kids/{id}
func UpdateKid(w http.ResponseWriter, r *http.Request) {
	kid, ok := ownedKid(w, r)
	if !ok {
		return
	}
	var in kidInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.FirstName == "" {
		writeError(w, http.StatusBadRequest, "firstName is required")
		return
	}

	updates := map[string]any{
		"first_name": in.FirstName,
		"last_name":  in.LastName,
		"birthday":   in.Birthday,
		"allergies":  in.Allergies,
		"avatar":     in.Avatar,
		"notes":      in.Notes,
	}
	// Gender edits are blocked while enrolled: the program gate was checked
	// at enrollment time.
	if in.Gender != "" && in.Gender != kid.Gender {
		if kid.EnrollmentID != nil {
			writeError(w, http.StatusConflict, "cannot change gender while enrolled")
			return
		}
		updates["gender"] = in.Gender
	}
	if err := db.Conn().Model(kid).Updates(updates).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	db.Conn().First(kid, kid.ID)
	writeJSON(w, http.StatusOK, kid)
}

// DELETE /api/kids/{id}
// Soft delete. Refused while the kid has a live enrollment; cancel first.
func DeleteKid(w http.ResponseWriter, r *http.Request) {
	kid, ok := ownedKid(w, r)
	if !ok {
		return
	}
	if kid.EnrollmentID != nil {
		var enrollment models.Enrollment
		if db.Conn().First(&enrollment, *kid.EnrollmentID).Error == nil &&
			enrollment.Status != models.EnrollmentCanceled {
			writeError(w, http.StatusConflict, "kid has an active enrollment; cancel it first")
			return
		}
	}
	if err := db.Conn().Model(kid).Update("status", models.StatusInactive).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	// Retire the badge so a found card can't check anyone in.
	db.Conn().Where("kid_id = ?", kid.ID).Delete(&models.QRCode{})
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusInactive})
}

// GET /api/kids/{id}/attendance?month=2006-01
func KidAttendance(w http.ResponseWriter, r *http.Request) {
	kid, ok := ownedKid(w, r)
	if !ok {
		return
	}
	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().In(orgLoc).Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		writeError(w, http.StatusBadRequest, "month must look like 2026-01")
		return
	}
	records, err := services.MonthRecords(db.Conn(), kid.ID, month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type qrStyleInput struct {
	EyeColor  string `json:"eyeColor"`
	BgColor   string `json:"bgColor"`
	FgColor   string `json:"fgColor"`
	QRStyle   string `json:"qrStyle"`
	LogoWidth int    `json:"logoWidth"`
	EyeRadius int    `json:"eyeRadius"`
}

// POST /api/kids/{id}/qrcode
// Creates the kid's badge code on first call; later calls update the
// style only, never the code (printed badges stay valid).
func UpsertKidQR(baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kid, ok := ownedKid(w, r)
		if !ok {
			return
		}
		var in qrStyleInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		var qr models.QRCode
		err := db.Conn().Where("kid_id = ?", kid.ID).First(&qr).Error
		if err != nil {
			code := strings.ToUpper(uuid.NewString())
			qr = models.QRCode{
				KidID:     kid.ID,
				Code:      code,
				ScanURL:   baseURL + "/qr/" + code + ".png",
				EyeColor:  in.EyeColor,
				BgColor:   in.BgColor,
				FgColor:   in.FgColor,
				QRStyle:   in.QRStyle,
				LogoWidth: in.LogoWidth,
				EyeRadius: in.EyeRadius,
			}
			if err := db.Conn().Create(&qr).Error; err != nil {
				writeServiceError(w, err)
				return
			}
			if err := db.Conn().Model(kid).Update("qr_code_id", qr.ID).Error; err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, qr)
			return
		}

		updates := map[string]any{
			"eye_color":  in.EyeColor,
			"bg_color":   in.BgColor,
			"fg_color":   in.FgColor,
			"qr_style":   in.QRStyle,
			"logo_width": in.LogoWidth,
			"eye_radius": in.EyeRadius,
		}
		if err := db.Conn().Model(&qr).Updates(updates).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		db.Conn().First(&qr, qr.ID)
		writeJSON(w, http.StatusOK, qr)
	}
}

// POST /api/kids/{id}/qrcode/regenerate
// Replaces a lost or compromised badge: the old code stops scanning
// immediately and a fresh one is minted with the same style.
func RegenerateKidQR(baseURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kid, ok := ownedKid(w, r)
		if !ok {
			return
		}
		var old models.QRCode
		if err := db.Conn().Where("kid_id = ?", kid.ID).First(&old).Error; err != nil {
			writeError(w, http.StatusNotFound, "no qr code yet")
			return
		}

		if err := db.Conn().Delete(&old).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		code := strings.ToUpper(uuid.NewString())
		fresh := models.QRCode{
			KidID:     kid.ID,
			Code:      code,
			ScanURL:   baseURL + "/qr/" + code + ".png",
			EyeColor:  old.EyeColor,
			BgColor:   old.BgColor,
			FgColor:   old.FgColor,
			QRStyle:   old.QRStyle,
			LogoWidth: old.LogoWidth,
			EyeRadius: old.EyeRadius,
		}
		if err := db.Conn().Create(&fresh).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		if err := db.Conn().Model(kid).Update("qr_code_id", fresh.ID).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, fresh)
	}
}

// GET /api/kids/{id}/qrcode
func GetKidQR(w http.ResponseWriter, r *http.Request) {
	kid, ok := ownedKid(w, r)
	if !ok {
		return
	}
	var qr models.QRCode
	if err := db.Conn().Where("kid_id = ?", kid.ID).First(&qr).Error; err != nil {
		writeError(w, http.StatusNotFound, "no qr code yet")
		return
	}
	writeJSON(w, http.StatusOK, qr)
}

// ownedKid loads the {id} kid and checks the caller is its parent or an
// admin.
func ownedKid(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid kid id")
		return nil, false
	}
	var kid models.User
	if err := db.Conn().Where("id = ? AND role = ?", id, models.RoleKid).First(&kid).Error; err != nil {
		writeError(w, http.StatusNotFound, "kid not found")
		return nil, false
	}
	user := CurrentUser(r)
	if (kid.ParentID == nil || *kid.ParentID != user.ID) && !roleHas(user.Role, CapManageUsers) {
		writeError(w, http.StatusForbidden, "not your kid")
		return nil, false
	}
	return &kid, true
}
