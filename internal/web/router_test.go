package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/lojf/kidsclub/internal/billing/billingtest"
	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

var testSecret = []byte("router-test-secret")

func newTestRouter(t *testing.T) (http.Handler, *billingtest.Fake) {
	t.Helper()
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "test.db"))
	if err := db.Init(); err != nil {
		t.Fatalf("db init: %v", err)
	}
	wh, err := svix.NewWebhook("whsec_dGVzdC1zZWNyZXQtZm9yLXJvdXRlcg==")
	if err != nil {
		t.Fatal(err)
	}
	gw := billingtest.New()
	return Router(Options{
		Gateway:              gw,
		JWTSecret:            testSecret,
		IdentityWebhook:      wh,
		BillingSigningSecret: "whsec_billing",
		BaseURL:              "http://localhost:8080",
	}), gw
}

func bearerFor(t *testing.T, identityID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": identityID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + signed
}

func seedUser(t *testing.T, identityID, role string) {
	t.Helper()
	if err := db.Conn().Create(&models.User{
		IdentityID: identityID,
		FirstName:  "Test",
		Role:       role,
		Status:     models.StatusActive,
	}).Error; err != nil {
		t.Fatal(err)
	}
}

func TestRouterHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterAPIRequiresToken(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/programs", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouterAuthenticatedAccess(t *testing.T) {
	r, _ := newTestRouter(t)
	seedUser(t, "idp_parent", models.RoleParent)

	req := httptest.NewRequest(http.MethodGet, "/api/programs", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_parent"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRouterAdminGuard(t *testing.T) {
	r, _ := newTestRouter(t)
	seedUser(t, "idp_parent", models.RoleParent)
	seedUser(t, "idp_admin", models.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_parent"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("parent on admin route: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_admin"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin on admin route: expected 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRouterModeratorCapabilities(t *testing.T) {
	r, _ := newTestRouter(t)
	seedUser(t, "idp_mod", models.RoleModerator)

	// Moderators run the front desk but not the user directory.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/attendance?date=2026-03-07", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_mod"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("moderator on attendance: expected 200, got %d: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_mod"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("moderator on users: expected 403, got %d", rec.Code)
	}
}

func TestRouterPaymentMethodOwnership(t *testing.T) {
	r, gw := newTestRouter(t)
	seedUser(t, "idp_parent", models.RoleParent)
	db.Conn().Model(&models.User{}).
		Where("identity_id = ?", "idp_parent").
		Update("customer_id", "cus_parent")
	gw.AddCard("pm_mine", "cus_parent", "visa", "4242", "fp_1")
	gw.AddCard("pm_theirs", "cus_stranger", "visa", "1111", "fp_2")

	req := httptest.NewRequest(http.MethodDelete, "/api/payments/methods/pm_theirs", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_parent"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("detaching another customer's card: expected 403, got %d: %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/payments/methods/pm_mine", nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_parent"))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("detaching own card: expected 200, got %d: %s", rec.Code, rec.Body)
	}
}

func TestRouterRegenerateKidQR(t *testing.T) {
	r, _ := newTestRouter(t)
	seedUser(t, "idp_parent", models.RoleParent)
	var parent models.User
	if err := db.Conn().Where("identity_id = ?", "idp_parent").First(&parent).Error; err != nil {
		t.Fatal(err)
	}
	kid := models.User{
		FirstName: "Sam", Role: models.RoleKid,
		Status: models.StatusActive, ParentID: &parent.ID,
	}
	if err := db.Conn().Create(&kid).Error; err != nil {
		t.Fatal(err)
	}
	old := models.QRCode{KidID: kid.ID, Code: "QR-OLD-CODE"}
	if err := db.Conn().Create(&old).Error; err != nil {
		t.Fatal(err)
	}
	db.Conn().Model(&kid).Update("qr_code_id", old.ID)

	req := httptest.NewRequest(http.MethodPost,
		fmt.Sprintf("/api/kids/%d/qrcode/regenerate", kid.ID), nil)
	req.Header.Set("Authorization", bearerFor(t, "idp_parent"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var stale int64
	db.Conn().Model(&models.QRCode{}).Where("code = ?", "QR-OLD-CODE").Count(&stale)
	if stale != 0 {
		t.Error("old code should no longer scan")
	}
	var fresh models.QRCode
	if err := db.Conn().Where("kid_id = ?", kid.ID).First(&fresh).Error; err != nil {
		t.Fatalf("replacement code missing: %v", err)
	}
	if fresh.Code == "QR-OLD-CODE" {
		t.Error("regenerate must mint a new code")
	}
	var reloadedKid models.User
	db.Conn().First(&reloadedKid, kid.ID)
	if reloadedKid.QRCodeID == nil || *reloadedKid.QRCodeID != fresh.ID {
		t.Error("kid should reference the replacement code")
	}
}

func TestRouterExpiredToken(t *testing.T) {
	r, _ := newTestRouter(t)
	seedUser(t, "idp_parent", models.RoleParent)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "idp_parent",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/programs", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rec.Code)
	}
}
