package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

const testSigningSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func openTestDB(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	if err := db.Init(); err != nil {
		t.Fatalf("db.Init: %v", err)
	}
}

func newIdentityHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	wh, err := svix.NewWebhook(testSigningSecret)
	if err != nil {
		t.Fatalf("svix.NewWebhook: %v", err)
	}
	return IdentityWebhook(wh)
}

// signPayload computes the provider's v1 signature for a test payload.
func signPayload(t *testing.T, msgID, timestamp, payload string) string {
	t.Helper()
	secret, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(testSigningSecret, "whsec_"))
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%s.%s.%s", msgID, timestamp, payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedIdentityRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	msgID := "msg_test"
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader(payload))
	req.Header.Set("svix-id", msgID)
	req.Header.Set("svix-timestamp", ts)
	req.Header.Set("svix-signature", signPayload(t, msgID, ts, payload))
	return req
}

func TestIdentityWebhook_MissingHeaders(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader("{}"))
	req.Header.Set("svix-id", "msg_1")
	// timestamp and signature absent
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIdentityWebhook_BadSignature(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", strings.NewReader("{}"))
	req.Header.Set("svix-id", "msg_1")
	req.Header.Set("svix-timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("svix-signature", "v1,bm90LWEtcmVhbC1zaWduYXR1cmU=")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestIdentityWebhook_UserCreated(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	payload := `{
		"type": "user.created",
		"data": {
			"id": "idp_abc123",
			"first_name": "Riley",
			"last_name": "Kim",
			"email_addresses": [{"email_address": "riley@example.com"}]
		}
	}`
	rec := httptest.NewRecorder()
	handler(rec, signedIdentityRequest(t, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body)
	}

	var user models.User
	if err := db.Conn().Where("identity_id = ?", "idp_abc123").First(&user).Error; err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if user.Email != "riley@example.com" || user.Role != models.RoleUser {
		t.Errorf("user = %+v", user)
	}
}

func TestIdentityWebhook_UserCreatedRedelivery(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	payload := `{
		"type": "user.created",
		"data": {
			"id": "idp_abc123",
			"first_name": "Riley",
			"last_name": "Kim",
			"email_addresses": [{"email_address": "riley@example.com"}]
		}
	}`
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler(rec, signedIdentityRequest(t, payload))
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: status = %d, want 200; body %s", i, rec.Code, rec.Body)
		}
	}

	// Redelivery lands on the same row instead of minting a second user.
	var count int64
	db.Conn().Model(&models.User{}).Where("identity_id = ?", "idp_abc123").Count(&count)
	if count != 1 {
		t.Fatalf("got %d users for one identity, want 1", count)
	}
}

func TestIdentityWebhook_UserUpdatedUnknownUser(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	payload := `{
		"type": "user.updated",
		"data": {
			"id": "idp_missing",
			"first_name": "Riley",
			"email_addresses": [{"email_address": "riley@example.com"}]
		}
	}`
	rec := httptest.NewRecorder()
	handler(rec, signedIdentityRequest(t, payload))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestIdentityWebhook_UserDeletedDeactivates(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)
	if err := db.Conn().Create(&models.User{
		IdentityID: "idp_gone", FirstName: "Max", Status: models.StatusActive,
	}).Error; err != nil {
		t.Fatal(err)
	}

	payload := `{"type": "user.deleted", "data": {"id": "idp_gone"}}`
	rec := httptest.NewRecorder()
	handler(rec, signedIdentityRequest(t, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var user models.User
	db.Conn().Where("identity_id = ?", "idp_gone").First(&user)
	if user.Status != models.StatusInactive {
		t.Errorf("status = %q, want inactive", user.Status)
	}
}

func TestIdentityWebhook_UnknownEventAcked(t *testing.T) {
	openTestDB(t)
	handler := newIdentityHandler(t)

	payload := `{"type": "session.created", "data": {"id": "sess_1"}}`
	rec := httptest.NewRecorder()
	handler(rec, signedIdentityRequest(t, payload))
	if rec.Code != http.StatusOK {
		t.Fatalf("unknown event should be acked, got %d", rec.Code)
	}
}

func TestBillingWebhook_BadSignature(t *testing.T) {
	openTestDB(t)
	handler := BillingWebhook("whsec_billing_test")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
