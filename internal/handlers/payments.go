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

type cardView struct {
	ID       string `json:"id"`
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"expMonth"`
	ExpYear  int64  `json:"expYear"`
	InUse    bool   `json:"inUse"`
}

// GET /api/payments/methods
func ListPaymentMethods(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user.CustomerID == "" {
			writeJSON(w, http.StatusOK, []cardView{})
			return
		}
		cards, err := gw.ListCardPaymentMethods(user.CustomerID, 20)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		inUse := usedPaymentMethodIDs(user.ID)
		views := make([]cardView, 0, len(cards))
		for _, pm := range cards {
			v := cardView{ID: pm.ID, InUse: inUse[pm.ID]}
			if pm.Card != nil {
				v.Brand = string(pm.Card.Brand)
				v.Last4 = pm.Card.Last4
				v.ExpMonth = pm.Card.ExpMonth
				v.ExpYear = pm.Card.ExpYear
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// POST /api/payments/methods
// Attaches a new card. A card with the same fingerprint as one already on
// file is rejected rather than silently duplicated.
func AddPaymentMethod(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PaymentMethodID string `json:"paymentMethodId"`
		}
		if err := decodeJSON(r, &body); err != nil || body.PaymentMethodID == "" {
			writeError(w, http.StatusBadRequest, "paymentMethodId is required")
			return
		}

		user := CurrentUser(r)
		cust, err := services.GetOrCreateCustomer(db.Conn(), gw, user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		incoming, err := gw.GetPaymentMethod(body.PaymentMethodID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		existing, err := billing.FindByFingerprint(gw, cust.ID, incoming)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if existing != nil {
			writeError(w, http.StatusConflict, "this card is already on file")
			return
		}

		pm, err := gw.AttachPaymentMethod(cust.ID, body.PaymentMethodID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		v := cardView{ID: pm.ID}
		if pm.Card != nil {
			v.Brand = string(pm.Card.Brand)
			v.Last4 = pm.Card.Last4
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

// DELETE /api/payments/methods/{id}
// Only the owning customer may detach, and a card funding a live
// enrollment cannot be removed.
func RemovePaymentMethod(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pmID := chi.URLParam(r, "id")
		user := CurrentUser(r)

		pm, err := gw.GetPaymentMethod(pmID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if user.CustomerID == "" || pm.Customer == nil || pm.Customer.ID != user.CustomerID {
			writeError(w, http.StatusForbidden, "this payment method does not belong to you")
			return
		}

		if usedPaymentMethodIDs(user.ID)[pmID] {
			writeError(w, http.StatusConflict, "card is paying for an active enrollment")
			return
		}
		if err := gw.DetachPaymentMethod(pmID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": pmID})
	}
}

// usedPaymentMethodIDs returns the payment methods funding the contact's
// live enrollments.
func usedPaymentMethodIDs(contactID uint) map[string]bool {
	var ids []string
	db.Conn().Model(&models.Enrollment{}).
		Where("contact_id = ? AND status IN ? AND payment_method_id <> ''",
			contactID, []string{models.EnrollmentActive, models.EnrollmentTrialing}).
		Pluck("payment_method_id", &ids)
	used := make(map[string]bool, len(ids))
	for _, id := range ids {
		used[id] = true
	}
	return used
}

// POST /api/payments/donate
// One-off charge. Amount arrives in dollars and crosses the wire in cents.
func Donate(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount          float64 `json:"amount"`
			PaymentMethodID string  `json:"paymentMethodId"`
			SaveCard        bool    `json:"saveCard"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "amount must be positive")
			return
		}

		user := CurrentUser(r)
		cust, err := services.GetOrCreateCustomer(db.Conn(), gw, user.ID)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if body.SaveCard && body.PaymentMethodID != "" {
			if _, err := billing.EnsurePaymentMethod(gw, cust.ID, body.PaymentMethodID); err != nil {
				writeServiceError(w, err)
				return
			}
		}

		pi, err := gw.CreateCharge(billing.ChargeParams{
			CustomerID:      cust.ID,
			AmountCents:     billing.MinorUnits(body.Amount),
			PaymentMethodID: body.PaymentMethodID,
			Metadata: map[string]string{
				"userId": strconv.FormatUint(uint64(user.ID), 10),
				"kind":   "donation",
			},
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"paymentIntentId": pi.ID,
			"clientSecret":    pi.ClientSecret,
		})
	}
}

// GET /api/payments/coupons/{code}
func ValidateCoupon(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		promo, err := gw.FindPromotionCode(code)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if promo == nil || !promo.Active {
			writeError(w, http.StatusNotFound, "coupon not found or inactive")
			return
		}
		writeJSON(w, http.StatusOK, billing.SummarizePromotion(promo))
	}
}

// GET /api/payments/history
// Recent invoices and one-off charges for the contact.
func PaymentHistory(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r)
		if user.CustomerID == "" {
			writeJSON(w, http.StatusOK, map[string]any{"invoices": []any{}, "charges": []any{}})
			return
		}

		invoices, err := gw.ListInvoices(user.CustomerID, 24)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		intents, err := gw.ListPaymentIntents(user.CustomerID, 24)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		type invoiceView struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
			Status string `json:"status"`
			PDF    string `json:"pdf,omitempty"`
		}
		type chargeView struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
			Status string `json:"status"`
		}
		// Zero-total rows (trial periods, 100% coupons) are noise, not
		// history.
		iv := make([]invoiceView, 0, len(invoices))
		for _, inv := range invoices {
			if inv.AmountPaid == 0 {
				continue
			}
			iv = append(iv, invoiceView{
				ID: inv.ID, Amount: inv.AmountPaid, Status: string(inv.Status), PDF: inv.InvoicePDF,
			})
		}
		cv := make([]chargeView, 0, len(intents))
		for _, pi := range intents {
			if pi.Amount == 0 {
				continue
			}
			cv = append(cv, chargeView{ID: pi.ID, Amount: pi.Amount, Status: string(pi.Status)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": iv, "charges": cv})
	}
}

// GET /api/payments/intents/{id}
func GetPaymentIntent(gw billing.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pi, err := gw.GetPaymentIntent(chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":     pi.ID,
			"amount": pi.Amount,
			"status": pi.Status,
		})
	}
}
