package billing

import (
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/promotioncode"
	"github.com/stripe/stripe-go/v82/subscription"
)

// SetKey configures the Stripe SDK key once during bootstrap.
func SetKey(key string) { stripe.Key = key }

// client is the Stripe SDK-backed implementation of Gateway.
type client struct{}

// NewStripe returns a Gateway backed by the official Stripe SDK.
func NewStripe() Gateway { return client{} }

func (client) CreateCustomer(email, name string, metadata map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return customer.New(params)
}

func (client) GetCustomer(id string) (*stripe.Customer, error) {
	return customer.Get(id, nil)
}

func (client) GetPaymentMethod(id string) (*stripe.PaymentMethod, error) {
	return paymentmethod.Get(id, nil)
}

func (client) ListCardPaymentMethods(customerID string, limit int64) ([]*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	params.Limit = stripe.Int64(limit)

	var out []*stripe.PaymentMethod
	it := paymentmethod.List(params)
	for it.Next() {
		out = append(out, it.PaymentMethod())
	}
	return out, it.Err()
}

func (client) AttachPaymentMethod(customerID, paymentMethodID string) (*stripe.PaymentMethod, error) {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.SetIdempotencyKey(fmt.Sprintf("attach-%s-%s", customerID, paymentMethodID))
	return paymentmethod.Attach(paymentMethodID, params)
}

func (client) DetachPaymentMethod(paymentMethodID string) error {
	_, err := paymentmethod.Detach(paymentMethodID, nil)
	return err
}

func (client) CreateSubscription(p SubscriptionParams) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(p.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		DefaultPaymentMethod: stripe.String(p.PaymentMethodID),
		CancelAtPeriodEnd:    stripe.Bool(false),
		PaymentBehavior:      stripe.String("default_incomplete"),
	}
	if p.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(p.TrialDays)
		params.CollectionMethod = stripe.String("charge_automatically")
	}
	if p.PromotionCodeID != "" {
		params.Discounts = []*stripe.SubscriptionDiscountParams{
			{PromotionCode: stripe.String(p.PromotionCodeID)},
		}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	// The confirmation secret lets the caller finish 3DS / payment
	// confirmation client-side.
	params.AddExpand("latest_invoice.confirmation_secret")
	return subscription.New(params)
}

func (client) GetSubscription(id string, expand ...string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	return subscription.Get(id, params)
}

func (client) UpdateSubscription(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return subscription.Update(id, params)
}

func (client) CancelSubscription(id string) error {
	_, err := subscription.Cancel(id, nil)
	return err
}

func (client) ListActiveSubscriptions(customerID string, limit int64) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("active"),
	}
	params.Limit = stripe.Int64(limit)

	var out []*stripe.Subscription
	it := subscription.List(params)
	for it.Next() {
		out = append(out, it.Subscription())
	}
	return out, it.Err()
}

func (client) CreateCharge(p ChargeParams) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(p.AmountCents),
		Currency:      stripe.String("usd"),
		Customer:      stripe.String(p.CustomerID),
		PaymentMethod: stripe.String(p.PaymentMethodID),
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	return paymentintent.New(params)
}

func (client) GetPaymentIntent(id string, expand ...string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	return paymentintent.Get(id, params)
}

func (client) ListPaymentIntents(customerID string, limit int64) ([]*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(limit)
	params.AddExpand("data.latest_charge")

	var out []*stripe.PaymentIntent
	it := paymentintent.List(params)
	for it.Next() {
		out = append(out, it.PaymentIntent())
	}
	return out, it.Err()
}

func (client) ListInvoices(customerID string, limit int64) ([]*stripe.Invoice, error) {
	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(limit)

	var out []*stripe.Invoice
	it := invoice.List(params)
	for it.Next() {
		out = append(out, it.Invoice())
	}
	return out, it.Err()
}

func (client) FindPromotionCode(code string) (*stripe.PromotionCode, error) {
	params := &stripe.PromotionCodeListParams{
		Code:   stripe.String(code),
		Active: stripe.Bool(true),
	}
	params.Limit = stripe.Int64(1)
	params.AddExpand("data.coupon")

	it := promotioncode.List(params)
	for it.Next() {
		return it.PromotionCode(), nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (client) CreateProduct(name string) (*stripe.Product, error) {
	return product.New(&stripe.ProductParams{Name: stripe.String(name)})
}

func (client) UpdateProductName(id, name string) (*stripe.Product, error) {
	return product.Update(id, &stripe.ProductParams{Name: stripe.String(name)})
}

func (client) DeactivateProduct(id string) error {
	_, err := product.Update(id, &stripe.ProductParams{Active: stripe.Bool(false)})
	return err
}

func (client) CreateMonthlyPrice(productID, nickname string, amountCents int64) (*stripe.Price, error) {
	return price.New(&stripe.PriceParams{
		Currency:   stripe.String("usd"),
		Product:    stripe.String(productID),
		Nickname:   stripe.String(nickname),
		UnitAmount: stripe.Int64(amountCents),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String("month"),
		},
	})
}
