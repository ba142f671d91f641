package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/technosupport/ts-aoi/internal/products"
	"github.com/technosupport/ts-aoi/internal/roi"
	"github.com/technosupport/ts-aoi/internal/session"
)

// Helpers
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondMapped translates domain errors to status codes: invalid input 400,
// missing things 404, state conflicts 409, everything else 500.
func respondMapped(w http.ResponseWriter, err error) {
	var verr *products.ValidationError
	switch {
	case errors.As(err, &verr):
		details := make([]map[string]any, 0, len(verr.ROIs))
		for _, v := range verr.ROIs {
			details = append(details, map[string]any{"roi_id": v.RoiID, "errors": v.Errors})
		}
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "roi validation failed",
			"details": details,
		})
	case errors.Is(err, roi.ErrInvalidROI), errors.Is(err, products.ErrInvalidName):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, products.ErrNotFound), errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, products.ErrExists):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrCameraNotReady):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":               err.Error(),
			"retry_after_seconds": 3,
		})
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
