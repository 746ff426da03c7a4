package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"distro-backend/internal/core"
)

func TestWriteDomainError_LowStockPayload(t *testing.T) {
	err := &core.InsufficientStockError{Details: []core.StockShortageDetail{{
		ItemCode:  "IT001",
		ItemName:  "Amoxil 250mg",
		Required:  decimal.NewFromInt(15),
		Available: decimal.NewFromInt(10),
		Shortage:  decimal.NewFromInt(5),
	}}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/sales", nil)
	writeDomainError(rec, req, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "LOW_STOCK" {
		t.Errorf("expected code LOW_STOCK, got %q", resp.Code)
	}
	if len(resp.Details) != 1 {
		t.Fatalf("expected one shortage detail, got %d", len(resp.Details))
	}
	if resp.Details[0].ItemCode != "IT001" || !resp.Details[0].Shortage.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected detail payload: %+v", resp.Details[0])
	}
}

func TestWriteDomainError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "validation",
			err:        &core.ValidationError{Field: "quantity", Message: "must be positive"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "wrapped validation",
			err:        fmt.Errorf("record purchase: %w", &core.ValidationError{Field: "itemCode", Message: "required"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "concurrency conflict",
			err:        &core.ConcurrencyConflictError{Attempts: 3, Err: errors.New("serialization failure")},
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "costing inconsistency",
			err:        &core.CostingInconsistencyError{ItemID: 7, Reason: "negative basis"},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "COSTING_ERROR",
		},
		{
			name:       "not found",
			err:        errors.New("invoice 42 not found"),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "unknown",
			err:        errors.New("connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/stock", nil)
			writeDomainError(rec, req, tc.err)

			if rec.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Code != tc.wantCode {
				t.Errorf("expected code %q, got %q", tc.wantCode, resp.Code)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	RequestID(next).ServeHTTP(rec, req)

	if seen != "abc-123" {
		t.Errorf("expected caller-supplied request ID to pass through, got %q", seen)
	}
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Errorf("expected echoed header, got %q", rec.Header().Get("X-Request-ID"))
	}

	// Unsafe IDs are replaced with a fresh UUID.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "bad id with spaces")
	RequestID(next).ServeHTTP(rec, req)

	if seen == "bad id with spaces" || seen == "" {
		t.Errorf("expected generated request ID, got %q", seen)
	}
}
