package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/lojf/kidsclub/internal/db"
	"github.com/lojf/kidsclub/internal/models"
)

// GET /qr/{code}.png
// Renders the badge image. Unauthenticated: badge printers and kiosk
// preview hit this, and the code itself is the secret.
func QRImage(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSuffix(chi.URLParam(r, "code"), ".png")
	if code == "" {
		http.NotFound(w, r)
		return
	}
	var qr models.QRCode
	if err := db.Conn().Where("code = ?", code).First(&qr).Error; err != nil {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(qr.Code, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, "failed to generate qr", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
