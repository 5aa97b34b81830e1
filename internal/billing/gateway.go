// Package billing wraps the payment processor behind a narrow interface so
// the enrollment and attendance services can be tested against a fake.
package billing

import (
	"errors"

	stripe "github.com/stripe/stripe-go/v82"
)

// ErrGateway marks a failed or timed-out remote billing call. Callers must
// treat these as fallible I/O, never as transactional with local writes.
var ErrGateway = errors.New("billing gateway error")

// SubscriptionParams carries everything needed to open a subscription in
// incomplete payment behavior. Metadata links the remote subscription back
// to local records for webhook reconciliation.
type SubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	PromotionCodeID string
	TrialDays       int64
	Metadata        map[string]string
}

// ChargeParams describes a one-off charge (donations).
type ChargeParams struct {
	CustomerID      string
	AmountCents     int64
	PaymentMethodID string
	Metadata        map[string]string
}

// Gateway abstracts the payment-processor SDK operations the services need.
type Gateway interface {
	CreateCustomer(email, name string, metadata map[string]string) (*stripe.Customer, error)
	GetCustomer(id string) (*stripe.Customer, error)

	GetPaymentMethod(id string) (*stripe.PaymentMethod, error)
	ListCardPaymentMethods(customerID string, limit int64) ([]*stripe.PaymentMethod, error)
	// AttachPaymentMethod attaches with an idempotency key derived from
	// (customer, method) so retries are safe.
	AttachPaymentMethod(customerID, paymentMethodID string) (*stripe.PaymentMethod, error)
	DetachPaymentMethod(paymentMethodID string) error

	CreateSubscription(p SubscriptionParams) (*stripe.Subscription, error)
	GetSubscription(id string, expand ...string) (*stripe.Subscription, error)
	UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(id string) error
	ListActiveSubscriptions(customerID string, limit int64) ([]*stripe.Subscription, error)

	CreateCharge(p ChargeParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(id string, expand ...string) (*stripe.PaymentIntent, error)
	ListPaymentIntents(customerID string, limit int64) ([]*stripe.PaymentIntent, error)
	ListInvoices(customerID string, limit int64) ([]*stripe.Invoice, error)

	FindPromotionCode(code string) (*stripe.PromotionCode, error)

	CreateProduct(name string) (*stripe.Product, error)
	UpdateProductName(id, name string) (*stripe.Product, error)
	DeactivateProduct(id string) error
	CreateMonthlyPrice(productID, nickname string, amountCents int64) (*stripe.Price, error)
}

// IsNotFound reports whether a gateway error is the processor's "no such
// resource" answer. A missing subscription means "unknown", not "canceled".
func IsNotFound(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == 404
	}
	return false
}
