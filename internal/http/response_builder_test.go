package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pocketmoney/internal/core"
)

func TestJSONResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewJSONResponse().
		Status(http.StatusCreated).
		Header("X-Test", "1").
		Body(map[string]core.Money{"balance": {Cents: 1250}}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Test") != "1" {
		t.Error("custom header missing")
	}
	if w.Body.String() != "{\"balance\":\"12.50\"}\n" {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestJSONResponseBuilder_UnencodableBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewJSONResponse().Body(map[string]interface{}{"bad": make(chan int)}).Write(w)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{"insufficient funds", fmt.Errorf("withdraw: %w", core.ErrInsufficientFunds), http.StatusBadRequest, "Insufficient funds"},
		{"validation", core.ErrInvalidAmount, http.StatusBadRequest, "invalid amount"},
		{"forbidden", core.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{"not found", fmt.Errorf("get child 3: %w", core.ErrNotFound), http.StatusNotFound, "Child not found"},
		{"conflict", core.ErrConflict, http.StatusConflict, "Child already exists"},
		{"balance changed", core.ErrBalanceChanged, http.StatusConflict, "Balance changed concurrently, retry"},
		{"storage", fmt.Errorf("x: %w", core.ErrStorage), http.StatusServiceUnavailable, "Storage temporarily unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable, "Storage temporarily unavailable"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			DomainError(tt.err, "Child").Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body struct {
				Detail string `json:"detail"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", body.Detail, tt.wantDetail)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
				t.Error("503 must carry Retry-After")
			}
		})
	}
}

func TestErrorType(t *testing.T) {
	if got := errorType(fmt.Errorf("w: %w", core.ErrInsufficientFunds)); got != "insufficient_funds" {
		t.Errorf("errorType(funds) = %q", got)
	}
	if got := errorType(core.ErrEmptyName); got != "validation_error" {
		t.Errorf("errorType(validation) = %q", got)
	}
	if got := errorType(fmt.Errorf("boom")); got != "internal_error" {
		t.Errorf("errorType(other) = %q", got)
	}
}
