package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

// GET /api/courses
func ListCourses(w http.ResponseWriter, r *http.Request) {
	var courses []models.Course
	if err := db.Conn().Order("title").Find(&courses).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// GET /api/courses/{slug}
// The course with its lessons. Lesson video URLs are included only for
// buyers with access.
func GetCourse(w http.ResponseWriter, r *http.Request) {
	var course models.Course
	if err := db.Conn().Where("slug = ?", chi.URLParam(r, "slug")).First(&course).Error; err != nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	var lessons []models.Lesson
	db.Conn().Where("course_id = ?", course.ID).Order("position").Find(&lessons)

	user := CurrentUser(r)
	var purchase models.Purchase
	hasAccess := db.Conn().
		Where("course_id = ? AND user_id = ? AND access = ?", course.ID, user.ID, true).
		First(&purchase).Error == nil
	if !hasAccess {
		for i := range lessons {
			lessons[i].VideoURL = ""
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"course":    course,
		"lessons":   lessons,
		"hasAccess": hasAccess,
	})
}

type courseInput struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	PreviewImage string `json:"previewImage"`
	Price        int64  `json:"price"` // cents
}

// POST /api/admin/courses
func AdminCreateCourse(w http.ResponseWriter, r *http.Request) {
	var in courseInput
	if err := decodeJSON(r, &in); err != nil || in.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	course := models.Course{
		Title:        in.Title,
		Slug:         slugify(in.Title),
		Description:  in.Description,
		PreviewImage: in.PreviewImage,
		Price:        in.Price,
	}
	if err := db.Conn().Create(&course).Error; err != nil {
		writeError(w, http.StatusConflict, "a course with this title already exists")
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

// PUT /api/admin/courses/{id}
func AdminUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	var course models.Course
	if err := db.Conn().First(&course, id).Error; err != nil {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	var in courseInput
	if err := decodeJSON(r, &in); err != nil || in.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := db.Conn().Model(&course).Updates(map[string]any{
		"title":         in.Title,
		"description":   in.Description,
		"preview_image": in.PreviewImage,
		"price":         in.Price,
	}).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	db.Conn().First(&course, id)
	writeJSON(w, http.StatusOK, course)
}

// DELETE /api/admin/courses/{id}
func AdminDeleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	res := db.Conn().Delete(&models.Course{}, id)
	if res.Error != nil {
		writeServiceError(w, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		writeError(w, http.StatusNotFound, "course not found")
		return
	}
	db.Conn().Where("course_id = ?", id).Delete(&models.Lesson{})
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// PUT /api/admin/courses/{id}/access
// Grants or revokes a user's access to a course.
func AdminSetCourseAccess(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid course id")
		return
	}
	var body struct {
		UserID uint `json:"userId"`
		Access bool `json:"access"`
	}
	if err := decodeJSON(r, &body); err != nil || body.UserID == 0 {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	var purchase models.Purchase
	err = db.Conn().Where("course_id = ? AND user_id = ?", id, body.UserID).First(&purchase).Error
	if err != nil {
		purchase = models.Purchase{CourseID: uint(id), UserID: body.UserID, Access: body.Access}
		if err := db.Conn().Create(&purchase).Error; err != nil {
			writeServiceError(w, err)
			return
		}
	} else if err := db.Conn().Model(&purchase).Update("access", body.Access).Error; err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"access": body.Access})
}

func slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	var b strings.Builder
	prevDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		case !prevDash:
			b.WriteByte('-')
			prevDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
