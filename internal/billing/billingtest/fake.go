// Package billingtest provides an in-memory Gateway for service and handler
// tests. Behavior is the happy path unless an error is injected per method.
package billingtest

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lojf/kidsclub/internal/billing"
)

type Fake struct {
	Customers       map[string]*stripe.Customer
	PaymentMethods  map[string]*stripe.PaymentMethod
	CardsByCustomer map[string][]*stripe.PaymentMethod
	Subscriptions   map[string]*stripe.Subscription
	PromotionCodes  map[string]*stripe.PromotionCode

	// Call records for assertions.
	AttachCalls    []string
	CancelCalls    []string
	CreateSubCalls []billing.SubscriptionParams
	ChargeCalls    []billing.ChargeParams
	UpdateSubCalls []string

	seq int

	// Injected failures, keyed by method name ("GetSubscription", ...).
	Errs map[string]error
}

func New() *Fake {
	return &Fake{
		Customers:       map[string]*stripe.Customer{},
		PaymentMethods:  map[string]*stripe.PaymentMethod{},
		CardsByCustomer: map[string][]*stripe.PaymentMethod{},
		Subscriptions:   map[string]*stripe.Subscription{},
		PromotionCodes:  map[string]*stripe.PromotionCode{},
		Errs:            map[string]error{},
	}
}

var _ billing.Gateway = (*Fake)(nil)

func (f *Fake) fail(method string) error { return f.Errs[method] }

func (f *Fake) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_fake%d", prefix, f.seq)
}

// AddCard registers a payment method with the given fingerprint, optionally
// already attached to a customer.
func (f *Fake) AddCard(id, customerID, brand, last4, fingerprint string) *stripe.PaymentMethod {
	pm := &stripe.PaymentMethod{
		ID: id,
		Card: &stripe.PaymentMethodCard{
			Brand:       stripe.PaymentMethodCardBrand(brand),
			Last4:       last4,
			Fingerprint: fingerprint,
		},
	}
	f.PaymentMethods[id] = pm
	if customerID != "" {
		pm.Customer = &stripe.Customer{ID: customerID}
		f.CardsByCustomer[customerID] = append(f.CardsByCustomer[customerID], pm)
	}
	return pm
}

// AddSubscription seeds a remote subscription in the given status.
func (f *Fake) AddSubscription(id string, status stripe.SubscriptionStatus) *stripe.Subscription {
	sub := &stripe.Subscription{ID: id, Status: status}
	f.Subscriptions[id] = sub
	return sub
}

func (f *Fake) CreateCustomer(email, name string, metadata map[string]string) (*stripe.Customer, error) {
	if err := f.fail("CreateCustomer"); err != nil {
		return nil, err
	}
	c := &stripe.Customer{ID: f.nextID("cus"), Email: email, Name: name}
	f.Customers[c.ID] = c
	return c, nil
}

func (f *Fake) GetCustomer(id string) (*stripe.Customer, error) {
	if err := f.fail("GetCustomer"); err != nil {
		return nil, err
	}
	c, ok := f.Customers[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
	}
	return c, nil
}

func (f *Fake) GetPaymentMethod(id string) (*stripe.PaymentMethod, error) {
	if err := f.fail("GetPaymentMethod"); err != nil {
		return nil, err
	}
	pm, ok := f.PaymentMethods[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
	}
	return pm, nil
}

func (f *Fake) ListCardPaymentMethods(customerID string, limit int64) ([]*stripe.PaymentMethod, error) {
	if err := f.fail("ListCardPaymentMethods"); err != nil {
		return nil, err
	}
	return f.CardsByCustomer[customerID], nil
}

func (f *Fake) AttachPaymentMethod(customerID, paymentMethodID string) (*stripe.PaymentMethod, error) {
	if err := f.fail("AttachPaymentMethod"); err != nil {
		return nil, err
	}
	f.AttachCalls = append(f.AttachCalls, customerID+"/"+paymentMethodID)
	pm := f.PaymentMethods[paymentMethodID]
	if pm == nil {
		pm = &stripe.PaymentMethod{ID: paymentMethodID}
		f.PaymentMethods[paymentMethodID] = pm
	}
	pm.Customer = &stripe.Customer{ID: customerID}
	f.CardsByCustomer[customerID] = append(f.CardsByCustomer[customerID], pm)
	return pm, nil
}

func (f *Fake) DetachPaymentMethod(paymentMethodID string) error {
	return f.fail("DetachPaymentMethod")
}

func (f *Fake) CreateSubscription(p billing.SubscriptionParams) (*stripe.Subscription, error) {
	if err := f.fail("CreateSubscription"); err != nil {
		return nil, err
	}
	f.CreateSubCalls = append(f.CreateSubCalls, p)
	sub := &stripe.Subscription{
		ID:       f.nextID("sub"),
		Status:   stripe.SubscriptionStatusIncomplete,
		Customer: &stripe.Customer{ID: p.CustomerID},
		Metadata: p.Metadata,
		LatestInvoice: &stripe.Invoice{
			ConfirmationSecret: &stripe.InvoiceConfirmationSecret{
				ClientSecret: "pi_secret_" + f.nextID("cs"),
			},
		},
	}
	if p.PaymentMethodID != "" {
		sub.DefaultPaymentMethod = f.PaymentMethods[p.PaymentMethodID]
	}
	f.Subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *Fake) GetSubscription(id string, expand ...string) (*stripe.Subscription, error) {
	if err := f.fail("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
	}
	return sub, nil
}

func (f *Fake) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if err := f.fail("UpdateSubscription"); err != nil {
		return nil, err
	}
	f.UpdateSubCalls = append(f.UpdateSubCalls, id)
	sub, ok := f.Subscriptions[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: 404}
	}
	if params != nil && params.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *params.CancelAtPeriodEnd
	}
	return sub, nil
}

func (f *Fake) CancelSubscription(id string) error {
	if err := f.fail("CancelSubscription"); err != nil {
		return err
	}
	f.CancelCalls = append(f.CancelCalls, id)
	if sub, ok := f.Subscriptions[id]; ok {
		sub.Status = stripe.SubscriptionStatusCanceled
	}
	return nil
}

func (f *Fake) ListActiveSubscriptions(customerID string, limit int64) ([]*stripe.Subscription, error) {
	if err := f.fail("ListActiveSubscriptions"); err != nil {
		return nil, err
	}
	var out []*stripe.Subscription
	for _, sub := range f.Subscriptions {
		if sub.Status == stripe.SubscriptionStatusActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *Fake) CreateCharge(p billing.ChargeParams) (*stripe.PaymentIntent, error) {
	if err := f.fail("CreateCharge"); err != nil {
		return nil, err
	}
	f.ChargeCalls = append(f.ChargeCalls, p)
	return &stripe.PaymentIntent{
		ID:           f.nextID("pi"),
		Amount:       p.AmountCents,
		ClientSecret: "pi_secret_" + f.nextID("cs"),
	}, nil
}

func (f *Fake) GetPaymentIntent(id string, expand ...string) (*stripe.PaymentIntent, error) {
	if err := f.fail("GetPaymentIntent"); err != nil {
		return nil, err
	}
	return &stripe.PaymentIntent{ID: id}, nil
}

func (f *Fake) ListPaymentIntents(customerID string, limit int64) ([]*stripe.PaymentIntent, error) {
	return nil, f.fail("ListPaymentIntents")
}

func (f *Fake) ListInvoices(customerID string, limit int64) ([]*stripe.Invoice, error) {
	return nil, f.fail("ListInvoices")
}

func (f *Fake) FindPromotionCode(code string) (*stripe.PromotionCode, error) {
	if err := f.fail("FindPromotionCode"); err != nil {
		return nil, err
	}
	return f.PromotionCodes[code], nil
}

func (f *Fake) CreateProduct(name string) (*stripe.Product, error) {
	if err := f.fail("CreateProduct"); err != nil {
		return nil, err
	}
	return &stripe.Product{ID: f.nextID("prod"), Name: name}, nil
}

func (f *Fake) UpdateProductName(id, name string) (*stripe.Product, error) {
	if err := f.fail("UpdateProductName"); err != nil {
		return nil, err
	}
	return &stripe.Product{ID: id, Name: name}, nil
}

func (f *Fake) DeactivateProduct(id string) error {
	return f.fail("DeactivateProduct")
}

func (f *Fake) CreateMonthlyPrice(productID, nickname string, amountCents int64) (*stripe.Price, error) {
	if err := f.fail("CreateMonthlyPrice"); err != nil {
		return nil, err
	}
	return &stripe.Price{ID: f.nextID("price"), UnitAmount: amountCents}, nil
}
