package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"distro-backend/internal/core"
)

type errorResponse struct {
	Error     string                     `json:"error"`
	Code      string                     `json:"code"`
	RequestID string                     `json:"request_id,omitempty"`
	Details   []core.StockShortageDetail `json:"details,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeDomainError maps the typed domain errors onto wire responses. Shortage
// details ride along on LOW_STOCK so a client can render the per-item
// breakdown and offer the negative-stock override.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *core.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, r, validationErr.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	var stockErr *core.InsufficientStockError
	if errors.As(err, &stockErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(errorResponse{
			Error:     stockErr.Error(),
			Code:      stockErr.Code(),
			RequestID: requestIDFromContext(r.Context()),
			Details:   stockErr.Details,
		})
		return
	}

	var conflictErr *core.ConcurrencyConflictError
	if errors.As(err, &conflictErr) {
		writeError(w, r, "concurrent update conflict, please retry", "CONFLICT", http.StatusConflict)
		return
	}

	var costingErr *core.CostingInconsistencyError
	if errors.As(err, &costingErr) {
		writeError(w, r, costingErr.Error(), "COSTING_ERROR", http.StatusInternalServerError)
		return
	}

	if strings.Contains(err.Error(), "not found") {
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
		return
	}

	writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
