package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

// GET /api/admin/users?q=&role=&page=&pageSize=
// Paged user search for the admin console.
func AdminListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 25
	}

	tx := db.Conn().Model(&models.User{})
	if search := q.Get("q"); search != "" {
		like := "%" + search + "%"
		tx = tx.Where("first_name LIKE ? OR last_name LIKE ? OR email LIKE ?", like, like, like)
	}
	if role := q.Get("role"); role != "" {
		tx = tx.Where("role = ?", role)
	}
	if status := q.Get("status"); status != "" {
		tx = tx.Where("status = ?", status)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	var users []models.User
	if err := tx.Order("last_name, first_name").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&users).Error; err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":    users,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// GET /api/admin/users/stats
func AdminUserStats(w http.ResponseWriter, r *http.Request) {
	type roleCount struct {
		Role string `json:"role"`
		N    int64  `json:"n"`
	}
	var byRole []roleCount
	if err := db.Conn().Model(&models.User{}).
		Select("role, COUNT(*) as n").
		Where("status = ?", models.StatusActive).
		Group("role").
		Scan(&byRole).Error; err != nil {
		writeServiceError(w, err)
		return
	}

	var liveEnrollments int64
	db.Conn().Model(&models.Enrollment{}).
		Where("status IN ?", []string{models.EnrollmentActive, models.EnrollmentTrialing}).
		Count(&liveEnrollments)

	writeJSON(w, http.StatusOK, map[string]any{
		"byRole":          byRole,
		"liveEnrollments": liveEnrollments,
	})
}

// PUT /api/admin/users/{id}/role
func AdminSetUserRole(w http.ResponseWriter, r *http.Request) {
	user, ok := adminTargetUser(w, r)
	if !ok {
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch body.Role {
	case models.RoleUser, models.RoleParent, models.RoleAdmin,
		models.RoleModerator, models.RoleContact:
	default:
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	// Kid records never get a staff role.
	if user.Role == models.RoleKid {
		writeError(w, http.StatusConflict, "cannot change a kid's role")
		return
	}
	if user.ID == CurrentUser(r).ID && body.Role != models.RoleAdmin {
		writeError(w, http.StatusConflict, "cannot demote yourself")
		return
	}

	if err := db.Conn().Model(user).Update("role", body.Role).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"role": body.Role})
}

// DELETE /api/admin/users/{id}
// Soft delete. Refused while the user or any of their kids has a live
// enrollment.
func AdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, ok := adminTargetUser(w, r)
	if !ok {
		return
	}
	if user.ID == CurrentUser(r).ID {
		writeError(w, http.StatusConflict, "cannot delete yourself")
		return
	}

	var live int64
	db.Conn().Model(&models.Enrollment{}).
		Where("(contact_id = ? OR kid_id = ?) AND status IN ?", user.ID, user.ID,
			[]string{models.EnrollmentActive, models.EnrollmentTrialing}).
		Count(&live)
	if live == 0 {
		db.Conn().Model(&models.Enrollment{}).
			Joins("JOIN users kids ON kids.id = enrollments.kid_id").
			Where("kids.parent_id = ? AND enrollments.status IN ?", user.ID,
				[]string{models.EnrollmentActive, models.EnrollmentTrialing}).
			Count(&live)
	}
	if live > 0 {
		writeError(w, http.StatusConflict, "user has active enrollments; cancel them first")
		return
	}

	if err := db.Conn().Model(user).Update("status", models.StatusInactive).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.StatusInactive})
}

func adminTargetUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return nil, false
	}
	var user models.User
	if err := db.Conn().First(&user, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return nil, false
	}
	return &user, true
}
