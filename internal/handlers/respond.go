package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lojf/kidsclub/internal/billing"
	"github.com/lojf/kidsclub/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the service layer's typed errors onto HTTP codes.
// Every handler funnels failures through here so the envelope stays uniform.
func writeServiceError(w http.ResponseWriter, err error) {
	var dwell *services.DwellError
	switch {
	case errors.As(err, &dwell):
		writeError(w, http.StatusConflict, dwell.Error())
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrAlreadyCheckedOut):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrEligibility),
		errors.Is(err, services.ErrCapacity):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, services.ErrNotEnrolled),
		errors.Is(err, services.ErrSubscriptionInactive):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, billing.ErrGateway):
		slog.Error("billing gateway call failed", "err", err)
		writeError(w, http.StatusBadGateway, "payment provider is unavailable")
	default:
		slog.Error("unhandled service error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
