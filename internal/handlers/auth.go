package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

type contextKey string

const userContextKey contextKey = "currentUser"

// Capabilities, grouped by surface. Roles map onto these; handlers never
// test role strings directly.
const (
	CapManageUsers      = "manage:users"
	CapManagePrograms   = "manage:programs"
	CapManageAttendance = "manage:attendance"
	CapManageCourses    = "manage:courses"
	CapViewReports      = "view:reports"
)

var roleCapabilities = map[string][]string{
	models.RoleAdmin: {
		CapManageUsers, CapManagePrograms, CapManageAttendance,
		CapManageCourses, CapViewReports,
	},
	models.RoleModerator: {
		CapManageAttendance, CapViewReports,
	},
}

func roleHas(role, capability string) bool {
	for _, c := range roleCapabilities[role] {
		if c == capability {
			return true
		}
	}
	return false
}

// Authenticator verifies the bearer token and resolves its subject to a
// local user. Requests without a valid token and matching user never reach
// the handlers behind it.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return secret, nil
			})
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				writeError(w, http.StatusUnauthorized, "token has no subject")
				return
			}

			var user models.User
			err = db.Conn().Where("identity_id = ? AND status = ?", subject, models.StatusActive).
				First(&user).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					writeError(w, http.StatusUnauthorized, "unknown user")
					return
				}
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, &user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireCapability gates a route group on the current user's role.
func RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := CurrentUser(r)
			if user == nil {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			if !roleHas(user.Role, capability) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CurrentUser returns the authenticated user, or nil outside the
// Authenticator middleware.
func CurrentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(userContextKey).(*models.User)
	return user
}
