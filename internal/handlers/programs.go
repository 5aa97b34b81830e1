package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/services"
)

type programRow struct {
	models.Program
	ActiveCount   int64 `json:"activeCount"`
	CanceledCount int64 `json:"canceledCount"`
}

// GET /api/admin/programs
// All programs, active or not, with enrollment counts grouped in one query.
func AdminListPrograms(w http.ResponseWriter, r *http.Request) {
	var programs []models.Program
	if err := db.Conn().Order("name").Find(&programs).Error; err != nil {
		writeServiceError(w, err)
		return
	}

	type countRow struct {
		ProgramID uint
		Status    string
		N         int64
	}
	var counts []countRow
	if err := db.Conn().Model(&models.Enrollment{}).
		Select("program_id, status, COUNT(*) as n").
		Group("program_id, status").
		Scan(&counts).Error; err != nil {
		writeServiceError(w, err)
		return
	}

	byProgram := map[uint]*programRow{}
	rows := make([]programRow, len(programs))
	for i, p := range programs {
		rows[i].Program = p
		byProgram[p.ID] = &rows[i]
	}
	for _, c := range counts {
		row, ok := byProgram[c.ProgramID]
		if !ok {
			continue
		}
		switch c.Status {
		case models.EnrollmentActive, models.EnrollmentTrialing:
			row.ActiveCount += c.N
		case models.EnrollmentCanceled:
			row.CanceledCount += c.N
		}
	}

	writeJSON(w, http.StatusOK, rows)
}

// GET /api/admin/programs/{id}/breakdown
// Per-kid roster of one program for the admin detail view.
func AdminProgramBreakdown(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid program id")
		return
	}

	type rosterRow struct {
		EnrollmentID uint   `json:"enrollmentId"`
		KidID        uint   `json:"kidId"`
		KidName      string `json:"kidName"`
		ContactID    uint   `json:"contactId"`
		ContactName  string `json:"contactName"`
		Status       string `json:"status"`
		Price        int64  `json:"price"`
	}
	var rows []rosterRow
	if err := db.Conn().Table("enrollments e").
		Select(`e.id as enrollment_id, e.kid_id, e.contact_id, e.status,
			e.program_price as price,
			kids.first_name || ' ' || kids.last_name as kid_name,
			contacts.first_name || ' ' || contacts.last_name as contact_name`).
		Joins("JOIN users kids ON kids.id = e.kid_id").
		Joins("JOIN users contacts ON contacts.id = e.contact_id").
		Where("e.program_id = ?", id).
		Order("e.status, kid_name").
		Scan(&rows).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type programInput struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	StartDate   string  `json:"startDate"`
	EndDate     string  `json:"endDate"`
	Type        string  `json:"type"`
	MaxStudents int     `json:"maxStudents"`
	MaxAge      int     `json:"maxAge"`
	Price       float64 `json:"price"` // dollars
}

func (in programInput) validate() string {
	if in.Name == "" {
		return "name is required"
	}
	switch in.Type {
	case models.ProgramBoys, models.ProgramGirls, models.ProgramAll:
	default:
		return "type must be Boys, Girls or All"
	}
	if in.Price <= 0 {
		return "price must be positive"
	}
	return ""
}

// POST /api/admin/programs
// Creates the billing product and monthly price first, then the local row.
func AdminCreateProgram(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in programInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := in.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		product, err := gw.CreateProduct(in.Name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		cents := billing.MinorUnits(in.Price)
		price, err := gw.CreateMonthlyPrice(product.ID, in.Name, cents)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		program := models.Program{
			Name:        in.Name,
			Description: in.Description,
			StartDate:   in.StartDate,
			EndDate:     in.EndDate,
			Type:        in.Type,
			MaxStudents: in.MaxStudents,
			MaxAge:      in.MaxAge,
			Price:       cents,
			PriceID:     price.ID,
			ProductID:   product.ID,
			Active:      true,
		}
		if err := db.Conn().Create(&program).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, program)
	}
}

// PUT /api/admin/programs/{id}
// A price change mints a new billing price; existing subscriptions keep the
// old one, new enrollments pick up the new one.
func AdminUpdateProgram(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid program id")
			return
		}
		var program models.Program
		if err := db.Conn().First(&program, id).Error; err != nil {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}

		var in programInput
		if err := decodeJSON(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := in.validate(); msg != "" {
			writeError(w, http.StatusBadRequest, msg)
			return
		}

		if in.Name != program.Name && program.ProductID != "" {
			if _, err := gw.UpdateProductName(program.ProductID, in.Name); err != nil {
				writeServiceError(w, err)
				return
			}
		}
		cents := billing.MinorUnits(in.Price)
		priceID := program.PriceID
		if cents != program.Price {
			price, err := gw.CreateMonthlyPrice(program.ProductID, in.Name, cents)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			priceID = price.ID
		}

		updates := map[string]any{
			"name":         in.Name,
			"description":  in.Description,
			"start_date":   in.StartDate,
			"end_date":     in.EndDate,
			"type":         in.Type,
			"max_students": in.MaxStudents,
			"max_age":      in.MaxAge,
			"price":        cents,
			"price_id":     priceID,
		}
		if err := db.Conn().Model(&program).Updates(updates).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		db.Conn().First(&program, id)
		writeJSON(w, http.StatusOK, program)
	}
}

// DELETE /api/admin/programs/{id}
// Deactivates rather than deletes: history and billing references survive.
// Refused while anyone is still enrolled.
func AdminDeleteProgram(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid program id")
			return
		}
		var program models.Program
		if err := db.Conn().First(&program, id).Error; err != nil {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}

		var live int64
		db.Conn().Model(&models.Enrollment{}).
			Where("program_id = ? AND status IN ?", id,
				[]string{models.EnrollmentActive, models.EnrollmentTrialing}).
			Count(&live)
		if live > 0 {
			writeError(w, http.StatusConflict, "program still has active enrollments")
			return
		}

		if program.ProductID != "" {
			if err := gw.DeactivateProduct(program.ProductID); err != nil {
				writeServiceError(w, err)
				return
			}
		}
		if err := db.Conn().Model(&program).Update("active", false).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
	}
}

// POST /api/admin/enrollments/{id}/transfer
func AdminTransferEnrollment(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enrollment id")
			return
		}
		var body struct {
			ProgramID uint  `json:"programId"`
			TrialDays int64 `json:"trialDays"`
		}
		if err := decodeJSON(r, &body); err != nil || body.ProgramID == 0 {
			writeError(w, http.StatusBadRequest, "programId is required")
			return
		}

		if err := services.TransferProgram(db.Conn(), gw, services.TransferInput{
			EnrollmentID: uint(id),
			NewProgramID: body.ProgramID,
			TrialDays:    body.TrialDays,
		}); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint{"programId": body.ProgramID})
	}
}

// POST /api/admin/programs/{id}/renew-off
// Winds a program down: every live subscription lapses at period end and
// the program stops accepting new enrollments. Kids keep attending until
// their paid period runs out.
func AdminProgramRenewOff(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid program id")
			return
		}
		var program models.Program
		if err := db.Conn().First(&program, id).Error; err != nil {
			writeError(w, http.StatusNotFound, "program not found")
			return
		}

		var enrollments []models.Enrollment
		if err := db.Conn().
			Where("program_id = ? AND status IN ?", id,
				[]string{models.EnrollmentActive, models.EnrollmentTrialing}).
			Find(&enrollments).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		lapsed := 0
		for _, e := range enrollments {
			if err := services.SetAutoRenew(db.Conn(), gw, e.ID, false); err != nil {
				writeServiceError(w, err)
				return
			}
			lapsed++
		}

		if err := db.Conn().Model(&program).Update("active", false).Error; err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"lapsed": lapsed, "active": false})
	}
}
