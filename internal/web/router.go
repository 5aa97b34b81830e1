package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/handlers"
)

// Options wires the router's external dependencies.
type Options struct {
	Gateway              billing.Gateway
	JWTSecret            []byte
	IdentityWebhook      *svix.Webhook
	BillingSigningSecret string
	BaseURL              string
}

func Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handlers.Health)

	// Webhooks authenticate by signature, not bearer token.
	r.Post("/webhooks/identity", handlers.IdentityWebhook(opts.IdentityWebhook))
	r.Post("/webhooks/billing", handlers.BillingWebhook(opts.BillingSigningSecret))

	// Badge image for printers and kiosk preview.
	r.Get("/qr/{code}.png", handlers.QRImage)

	r.Route("/api", func(api chi.Router) {
		api.Use(handlers.Authenticator(opts.JWTSecret))

		// Program catalog
		api.Get("/programs", handlers.GetPrograms)
		api.Get("/programs/{id}", handlers.GetProgram)

		// Enrollment lifecycle
		api.Post("/enrollments/subscription", handlers.CreateSubscription(opts.Gateway))
		api.Post("/enrollments", handlers.EnrollProgram(opts.Gateway))
		api.Get("/enrollments", handlers.GetEnrollments(opts.Gateway))
		api.Post("/enrollments/{id}/cancel", handlers.CancelEnrollment(opts.Gateway))
		api.Post("/enrollments/{id}/remove", handlers.RemoveEnrollment)
		api.Post("/enrollments/{id}/renew", handlers.RenewEnrollment(opts.Gateway))
		api.Post("/enrollments/{id}/auto-renew", handlers.ToggleAutoRenew(opts.Gateway))

		// Kids and badges
		api.Get("/kids", handlers.ListKids)
		api.Post("/kids", handlers.CreateKid)
		api.Put("/kids/{id}", handlers.UpdateKid)
		api.Delete("/kids/{id}", handlers.DeleteKid)
		api.Get("/kids/{id}/attendance", handlers.KidAttendance)
		api.Get("/kids/{id}/qrcode", handlers.GetKidQR)
		api.Post("/kids/{id}/qrcode", handlers.UpsertKidQR(opts.BaseURL))
		api.Post("/kids/{id}/qrcode/regenerate", handlers.RegenerateKidQR(opts.BaseURL))

		// Payment surface
		api.Get("/payments/methods", handlers.ListPaymentMethods(opts.Gateway))
		api.Post("/payments/methods", handlers.AddPaymentMethod(opts.Gateway))
		api.Delete("/payments/methods/{id}", handlers.RemovePaymentMethod(opts.Gateway))
		api.Post("/payments/donate", handlers.Donate(opts.Gateway))
		api.Get("/payments/coupons/{code}", handlers.ValidateCoupon(opts.Gateway))
		api.Get("/payments/history", handlers.PaymentHistory(opts.Gateway))
		api.Get("/payments/intents/{id}", handlers.GetPaymentIntent(opts.Gateway))

		// Courses
		api.Get("/courses", handlers.ListCourses)
		api.Get("/courses/{slug}", handlers.GetCourse)

		// --- Staff routes, capability-guarded ---
		api.Route("/admin", func(ad chi.Router) {
			ad.Group(func(g chi.Router) {
				g.Use(handlers.RequireCapability(handlers.CapManagePrograms))
				g.Get("/programs", handlers.AdminListPrograms)
				g.Get("/programs/{id}/breakdown", handlers.AdminProgramBreakdown)
				g.Post("/programs", handlers.AdminCreateProgram(opts.Gateway))
				g.Put("/programs/{id}", handlers.AdminUpdateProgram(opts.Gateway))
				g.Delete("/programs/{id}", handlers.AdminDeleteProgram(opts.Gateway))
				g.Post("/programs/{id}/renew-off", handlers.AdminProgramRenewOff(opts.Gateway))
				g.Post("/enrollments/{id}/transfer", handlers.AdminTransferEnrollment(opts.Gateway))
			})

			ad.Group(func(g chi.Router) {
				g.Use(handlers.RequireCapability(handlers.CapManageAttendance))
				g.Post("/attendance/scan", handlers.ScanAttendance(opts.Gateway))
				g.Get("/attendance", handlers.AttendanceByDay)
				g.Post("/attendance/correct", handlers.CorrectAttendance)
			})

			ad.Group(func(g chi.Router) {
				g.Use(handlers.RequireCapability(handlers.CapManageUsers))
				g.Get("/users", handlers.AdminListUsers)
				g.Get("/users/stats", handlers.AdminUserStats)
				g.Put("/users/{id}/role", handlers.AdminSetUserRole)
				g.Delete("/users/{id}", handlers.AdminDeleteUser)
			})

			ad.Group(func(g chi.Router) {
				g.Use(handlers.RequireCapability(handlers.CapManageCourses))
				g.Post("/courses", handlers.AdminCreateCourse)
				g.Put("/courses/{id}", handlers.AdminUpdateCourse)
				g.Delete("/courses/{id}", handlers.AdminDeleteCourse)
				g.Put("/courses/{id}/access", handlers.AdminSetCourseAccess)
			})
		})
	})

	return r
}
