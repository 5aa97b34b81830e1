package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	svix "github.com/svix/svix-webhooks/go"
	"gorm.io/gorm/clause"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
	"github.com/lojf/kidsclub/internal/services"
)

const webhookBodyLimit = 1 << 16

// identityEvent is the envelope the identity provider posts on account
// changes.
type identityEvent struct {
	Type string `json:"type"`
	Data struct {
		ID        string `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		ImageURL  string `json:"image_url"`
		Emails    []struct {
			Email string `json:"email_address"`
		} `json:"email_addresses"`
	} `json:"data"`
}

func (e identityEvent) email() string {
	if len(e.Data.Emails) > 0 {
		return e.Data.Emails[0].Email
	}
	return ""
}

// POST /webhooks/identity
// Keeps the local user table in sync with the identity provider. Requests
// missing any signature header are rejected before verification runs.
func IdentityWebhook(wh *svix.Webhook) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"svix-id", "svix-timestamp", "svix-signature"} {
			if r.Header.Get(h) == "" {
				writeError(w, http.StatusBadRequest, "missing webhook headers")
				return
			}
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		if err := wh.Verify(payload, r.Header); err != nil {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		var event identityEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		switch event.Type {
		case "user.created":
			// Upsert keyed on identity_id: webhook delivery is
			// at-least-once, and a replay must not mint a second local
			// user.
			user := models.User{
				IdentityID: event.Data.ID,
				Email:      event.email(),
				FirstName:  event.Data.FirstName,
				LastName:   event.Data.LastName,
				Avatar:     event.Data.ImageURL,
				Role:       models.RoleUser,
				Status:     models.StatusActive,
			}
			err := db.Conn().Clauses(clause.OnConflict{
				Columns:     []clause.Column{{Name: "identity_id"}},
				TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "identity_id <> ''"}}},
				DoUpdates:   clause.AssignmentColumns([]string{"email", "first_name", "last_name", "avatar"}),
			}).Create(&user).Error
			if err != nil {
				slog.Error("identity webhook: create user failed",
					"identity_id", event.Data.ID, "err", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		case "user.updated":
			res := db.Conn().Model(&models.User{}).
				Where("identity_id = ?", event.Data.ID).
				Updates(map[string]any{
					"email":      event.email(),
					"first_name": event.Data.FirstName,
					"last_name":  event.Data.LastName,
					"avatar":     event.Data.ImageURL,
				})
			if res.Error != nil {
				slog.Error("identity webhook: update user failed",
					"identity_id", event.Data.ID, "err", res.Error)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			// Non-fatal: the provider may deliver updates ahead of the
			// create. 404 tells it to retry rather than drop the event.
			if res.RowsAffected == 0 {
				writeError(w, http.StatusNotFound, "unknown user")
				return
			}
		case "user.deleted":
			db.Conn().Model(&models.User{}).
				Where("identity_id = ?", event.Data.ID).
				Update("status", models.StatusInactive)
		default:
			// Unknown event types are acked so the provider stops retrying.
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

// POST /webhooks/billing
// The reconciliation entry point: subscription lifecycle events from the
// payment processor drive the local enrollment status.
func BillingWebhook(signingSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}

		event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), signingSecret)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}

		switch event.Type {
		case "customer.subscription.updated",
			"customer.subscription.deleted",
			"customer.subscription.created":
			var sub stripe.Subscription
			if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
				writeError(w, http.StatusBadRequest, "invalid subscription payload")
				return
			}
			if err := services.ApplySubscriptionEvent(db.Conn(), sub.ID, string(sub.Status)); err != nil {
				slog.Error("billing webhook: event not applied",
					"type", event.Type, "subscription_id", sub.ID, "err", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		case "invoice.payment_succeeded":
			var inv stripe.Invoice
			if err := json.Unmarshal(event.Data.Raw, &inv); err == nil && inv.InvoicePDF != "" {
				if subID := invoiceSubscriptionID(&inv); subID != "" {
					db.Conn().Model(&models.Enrollment{}).
						Where("subscription_id = ?", subID).
						Update("invoice_pdf", inv.InvoicePDF)
				}
			}
		default:
			// Other event types are acked unprocessed.
		}

		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	}
}

func invoiceSubscriptionID(inv *stripe.Invoice) string {
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil &&
		inv.Parent.SubscriptionDetails.Subscription != nil {
		return inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}
