package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/billing/billingtest"
)

func TestEnsurePaymentMethod_DedupesByFingerprint(t *testing.T) {
	fake := billingtest.New()
	existing := fake.AddCard("pm_old", "cus_1", "visa", "4242", "fp_abc")
	fake.AddCard("pm_new", "", "visa", "4242", "fp_abc") // same physical card, new token

	got, err := billing.EnsurePaymentMethod(fake, "cus_1", "pm_new")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID, "should reuse the already-attached card")
	assert.Empty(t, fake.AttachCalls, "no attach call for a duplicate fingerprint")
}

func TestEnsurePaymentMethod_AttachesNewCard(t *testing.T) {
	fake := billingtest.New()
	fake.AddCard("pm_old", "cus_1", "visa", "4242", "fp_abc")
	fake.AddCard("pm_new", "", "mastercard", "4444", "fp_xyz")

	got, err := billing.EnsurePaymentMethod(fake, "cus_1", "pm_new")
	require.NoError(t, err)
	assert.Equal(t, "pm_new", got.ID)
	assert.Equal(t, []string{"cus_1/pm_new"}, fake.AttachCalls)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(2500), billing.MinorUnits(25))
	assert.Equal(t, int64(1999), billing.MinorUnits(19.99))
	assert.Equal(t, int64(10), billing.MinorUnits(0.1))
}

func TestIsAccessStatus(t *testing.T) {
	assert.True(t, billing.IsAccessStatus(stripe.SubscriptionStatusActive))
	assert.True(t, billing.IsAccessStatus(stripe.SubscriptionStatusTrialing))
	assert.True(t, billing.IsAccessStatus(stripe.SubscriptionStatusPastDue))
	assert.False(t, billing.IsAccessStatus(stripe.SubscriptionStatusCanceled))
	assert.False(t, billing.IsAccessStatus(stripe.SubscriptionStatusUnpaid))
	assert.False(t, billing.IsAccessStatus(stripe.SubscriptionStatusIncomplete))
}

func TestSummarizePromotion(t *testing.T) {
	percent := &stripe.PromotionCode{
		ID:     "promo_1",
		Coupon: &stripe.Coupon{PercentOff: 15},
	}
	info := billing.SummarizePromotion(percent)
	assert.Equal(t, "percent", info.Summary.Type)
	assert.Equal(t, int64(15), info.Summary.Value)

	amount := &stripe.PromotionCode{
		ID:     "promo_2",
		Coupon: &stripe.Coupon{AmountOff: 500, Currency: stripe.CurrencyUSD},
		Restrictions: &stripe.PromotionCodeRestrictions{
			FirstTimeTransaction: true,
		},
	}
	info = billing.SummarizePromotion(amount)
	assert.Equal(t, "amount", info.Summary.Type)
	assert.Equal(t, int64(500), info.Summary.Value)
	assert.Equal(t, "USD", info.Summary.Currency)
	assert.True(t, info.FirstTimeTxnOnly)
}

func TestConfirmationSecret(t *testing.T) {
	assert.Empty(t, billing.ConfirmationSecret(nil))
	assert.Empty(t, billing.ConfirmationSecret(&stripe.Subscription{}))

	sub := &stripe.Subscription{
		LatestInvoice: &stripe.Invoice{
			ConfirmationSecret: &stripe.InvoiceConfirmationSecret{ClientSecret: "pi_123_secret"},
		},
	}
	assert.Equal(t, "pi_123_secret", billing.ConfirmationSecret(sub))
}
