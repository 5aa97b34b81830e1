package billing

import (
	"fmt"
	"math"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// EnsurePaymentMethod attaches a payment method to a customer, deduplicating
// by card fingerprint: if the customer already holds a card with the same
// fingerprint the existing method is returned and nothing is attached.
func EnsurePaymentMethod(gw Gateway, customerID, paymentMethodID string) (*stripe.PaymentMethod, error) {
	incoming, err := gw.GetPaymentMethod(paymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve payment method: %v", ErrGateway, err)
	}

	existing, err := FindByFingerprint(gw, customerID, incoming)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	attached, err := gw.AttachPaymentMethod(customerID, paymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("%w: attach payment method: %v", ErrGateway, err)
	}
	return attached, nil
}

// FindByFingerprint looks through the customer's card methods for one whose
// fingerprint matches the incoming method. Nil means no duplicate.
func FindByFingerprint(gw Gateway, customerID string, incoming *stripe.PaymentMethod) (*stripe.PaymentMethod, error) {
	if incoming == nil || incoming.Card == nil {
		return nil, nil
	}
	list, err := gw.ListCardPaymentMethods(customerID, 100)
	if err != nil {
		return nil, fmt.Errorf("%w: list payment methods: %v", ErrGateway, err)
	}
	for _, pm := range list {
		if pm.Card != nil && pm.Card.Fingerprint == incoming.Card.Fingerprint {
			return pm, nil
		}
	}
	return nil, nil
}

// CardLabel renders the display label stored on enrollments, e.g. "visa 4242".
func CardLabel(pm *stripe.PaymentMethod) string {
	if pm == nil || pm.Card == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", pm.Card.Brand, pm.Card.Last4)
}

// MinorUnits converts a major-currency amount (dollars) to cents. Amounts
// cross the wire in minor units only.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// IsAccessStatus reports whether a subscription status grants program
// access. Trialing counts as active; past_due still admits (dunning is the
// processor's problem, not the front desk's).
func IsAccessStatus(status stripe.SubscriptionStatus) bool {
	switch status {
	case stripe.SubscriptionStatusActive,
		stripe.SubscriptionStatusTrialing,
		stripe.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// CouponSummary is the normalized discount shape handed back to clients.
type CouponSummary struct {
	Type     string `json:"type"`  // "percent" | "amount"
	Value    int64  `json:"value"` // percent points or cents
	Currency string `json:"currency,omitempty"`
}

// PromotionInfo flattens a promotion code into the fields the checkout UI
// needs.
type PromotionInfo struct {
	PromotionCodeID  string        `json:"promotionCodeId"`
	Summary          CouponSummary `json:"summary"`
	FirstTimeTxnOnly bool          `json:"firstTimeTxnOnly"`
	ExpiresAt        string        `json:"expiresAt,omitempty"`
}

// SummarizePromotion normalizes the processor's promotion-code shape.
func SummarizePromotion(promo *stripe.PromotionCode) PromotionInfo {
	info := PromotionInfo{PromotionCodeID: promo.ID}
	if promo.Coupon != nil {
		if promo.Coupon.PercentOff > 0 {
			info.Summary = CouponSummary{Type: "percent", Value: int64(promo.Coupon.PercentOff)}
		} else {
			info.Summary = CouponSummary{
				Type:     "amount",
				Value:    promo.Coupon.AmountOff,
				Currency: strings.ToUpper(string(promo.Coupon.Currency)),
			}
		}
	}
	if promo.Restrictions != nil {
		info.FirstTimeTxnOnly = promo.Restrictions.FirstTimeTransaction
	}
	if promo.ExpiresAt > 0 {
		info.ExpiresAt = time.Unix(promo.ExpiresAt, 0).UTC().Format(time.RFC3339)
	}
	return info
}

// ConfirmationSecret digs the client confirmation secret out of an expanded
// subscription. Empty when the invoice wasn't expanded or needs no action.
func ConfirmationSecret(sub *stripe.Subscription) string {
	if sub == nil || sub.LatestInvoice == nil || sub.LatestInvoice.ConfirmationSecret == nil {
		return ""
	}
	return sub.LatestInvoice.ConfirmationSecret.ClientSecret
}
