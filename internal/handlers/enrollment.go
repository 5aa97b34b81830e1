package handlers

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/services"
)

// POST /api/enrollments/subscription
// Phase one of enrollment: open the remote subscription and return the
// client secret for payment confirmation. Nothing is written locally yet.
func CreateSubscription(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			KidID           uint   `json:"kidId"`
			ProgramID       uint   `json:"programId"`
			PaymentMethodID string `json:"paymentMethodId"`
			PromotionCodeID string `json:"promotionCodeId"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.KidID == 0 || body.ProgramID == 0 || body.PaymentMethodID == "" {
			writeError(w, http.StatusBadRequest, "kidId, programId and paymentMethodId are required")
			return
		}

		quote, err := services.StartSubscription(db.Conn(), gw, CurrentUser(r), services.StartSubscriptionInput{
			KidID:           body.KidID,
			ProgramID:       body.ProgramID,
			PaymentMethodID: body.PaymentMethodID,
			PromotionCodeID: body.PromotionCodeID,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, quote)
	}
}

// POST /api/enrollments
// Phase two: the client confirmed payment; verify server-side and
// materialize the enrollment.
func EnrollProgram(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			KidID          uint   `json:"kidId"`
			ProgramID      uint   `json:"programId"`
			SubscriptionID string `json:"subscriptionId"`
			PaymentMethod  string `json:"paymentMethod"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.KidID == 0 || body.ProgramID == 0 || body.SubscriptionID == "" {
			writeError(w, http.StatusBadRequest, "kidId, programId and subscriptionId are required")
			return
		}

		parent := CurrentUser(r)
		var kid models.User
		if err := db.Conn().Where("id = ? AND parent_id = ?", body.KidID, parent.ID).
			First(&kid).Error; err != nil {
			writeError(w, http.StatusNotFound, "kid not found")
			return
		}
		var program models.Program
		if err := db.Conn().First(&program, body.ProgramID).Error; err != nil {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}

		enrollment, err := services.ConfirmEnrollment(db.Conn(), gw, services.ConfirmEnrollmentInput{
			KidID:          kid.ID,
			ContactID:      parent.ID,
			ProgramID:      program.ID,
			SubscriptionID: body.SubscriptionID,
			PaymentMethod:  body.PaymentMethod,
			ProgramPrice:   program.Price,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, enrollment)
	}
}

// enrollmentView is an enrollment joined with its program and the live
// subscription snapshot.
type enrollmentView struct {
	models.Enrollment
	ProgramName       string `json:"programName"`
	ProgramType       string `json:"programType"`
	KidName           string `json:"kidName"`
	AutoRenew         bool   `json:"autoRenew"`
	PeriodEnd         int64  `json:"periodEnd,omitempty"`
	RemoteStatus      string `json:"remoteStatus,omitempty"`
	RemoteUnavailable bool   `json:"remoteUnavailable,omitempty"`
}

// GET /api/enrollments
// Lists the contact's enrollments, expanding each with live subscription
// details. Expansions run concurrently; a gateway failure degrades that
// one row instead of failing the list.
func GetEnrollments(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)

		var enrollments []models.Enrollment
		if err := db.Conn().
			Where("contact_id = ? AND status <> ?", user.ID, models.EnrollmentRemoved).
			Order("created_at DESC").
			Find(&enrollments).Error; err != nil {
			writeServiceError(w, err)
			return
		}

		views := make([]enrollmentView, len(enrollments))
		var wg sync.WaitGroup
		for i := range enrollments {
			views[i].Enrollment = enrollments[i]

			var program models.Program
			if db.Conn().First(&program, enrollments[i].ProgramID).Error == nil {
				views[i].ProgramName = program.Name
				views[i].ProgramType = program.Type
			}
			var kid models.User
			if db.Conn().First(&kid, enrollments[i].KidID).Error == nil {
				views[i].KidName = kid.FullName()
			}

			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sub, err := gw.GetSubscription(views[i].SubscriptionID)
				if err != nil {
					views[i].RemoteUnavailable = true
					return
				}
				views[i].RemoteStatus = string(sub.Status)
				views[i].AutoRenew = !sub.CancelAtPeriodEnd
				if sub.Items != nil && len(sub.Items.Data) > 0 {
					views[i].PeriodEnd = sub.Items.Data[0].CurrentPeriodEnd
				}
			}(i)
		}
		wg.Wait()

		writeJSON(w, http.StatusOK, views)
	}
}

// POST /api/enrollments/{id}/cancel
func CancelEnrollment(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollment, ok := ownedEnrollment(w, r)
		if !ok {
			return
		}
		if err := services.CancelEnrollment(db.Conn(), gw, enrollment.ID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.EnrollmentCanceled})
	}
}

// POST /api/enrollments/{id}/remove
// Hides a canceled enrollment from the contact's profile without touching
// billing history.
func RemoveEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollment, ok := ownedEnrollment(w, r)
	if !ok {
		return
	}
	if err := services.RemoveFromProfile(db.Conn(), enrollment.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.EnrollmentRemoved})
}

// POST /api/enrollments/{id}/renew
func RenewEnrollment(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollment, ok := ownedEnrollment(w, r)
		if !ok {
			return
		}
		if err := services.RenewEnrollment(db.Conn(), gw, enrollment.ID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"autoRenew": true})
	}
}

// POST /api/enrollments/{id}/auto-renew
func ToggleAutoRenew(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollment, ok := ownedEnrollment(w, r)
		if !ok {
			return
		}
		var body struct {
			AutoRenew bool `json:"autoRenew"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := services.SetAutoRenew(db.Conn(), gw, enrollment.ID, body.AutoRenew); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"autoRenew": body.AutoRenew})
	}
}

// ownedEnrollment loads the {id} enrollment and checks it belongs to the
// caller. Admins may act on any enrollment.
func ownedEnrollment(w http.ResponseWriter, r *http.Request) (*models.Enrollment, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid enrollment id")
		return nil, false
	}
	var enrollment models.Enrollment
	if err := db.Conn().First(&enrollment, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "enrollment not found")
		return nil, false
	}
	user := CurrentUser(r)
	if enrollment.ContactID != user.ID && !roleHas(user.Role, CapManagePrograms) {
		writeError(w, http.StatusForbidden, "not your enrollment")
		return nil, false
	}
	return &enrollment, true
}

// GET /api/programs
// Active programs for the enrollment picker.
func GetPrograms(w http.ResponseWriter, r *http.Request) {
	var programs []models.Program
	if err := db.Conn().Where("active = ?", true).Order("name").Find(&programs).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, programs)
}

// GET /api/programs/{id}
func GetProgram(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program id")
		return
	}
	var program models.Program
	if err := db.Conn().First(&program, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, program)
}
