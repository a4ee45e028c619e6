package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"salesledger/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPIWithOptions(t, Options{AllowedOrigin: "http://127.0.0.1:3000"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "http://127.0.0.1:3000" {
		t.Fatalf("expected configured origin, got %q", got)
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", res.Code)
	}
}

func TestUnknownRouteAndMethodAreJSON(t *testing.T) {
	api := newTestAPI(t)

	res := doJSON(t, api, http.MethodGet, "/api/v1/nope", "", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON 404, got %q", ct)
	}

	res = doJSON(t, api, http.MethodDelete, "/healthz", "", nil)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}

	// Another client address has its own budget.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.2:5000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a fresh client, got %d", res.Code)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestVoidRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "admin", domain.RoleAdmin)
	body := domain.VoidSaleRequest{SupervisorCode: "000000", Reason: "test"}

	for i := 0; i < 9; i++ {
		res := doJSON(t, api, http.MethodPost, "/api/v1/sales/sale-nonexistent/void", token, body)

		if i < 8 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before void limit, got %d", i+1, res.Code)
		}
		if i == 8 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 9 expected 429, got %d", res.Code)
		}
	}
}

func TestServiceErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"not found", fmt.Errorf("sale x: %w", domain.ErrNotFound), http.StatusNotFound, "not found"},
		{"already void", domain.ErrAlreadyVoid, http.StatusConflict, "already void"},
		{"invalid amount", fmt.Errorf("%w: total below zero", domain.ErrInvalidAmount), http.StatusUnprocessableEntity, "total below zero"},
		{"unauthorized", domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{"masked internal", errors.New(`pq: relation "secret_table" does not exist`), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/sales", nil)
			res := httptest.NewRecorder()

			api.writeServiceError(res, req, tc.err)

			if res.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, res.Code)
			}
			if !strings.Contains(res.Body.String(), tc.wantBody) {
				t.Fatalf("expected body to contain %q, got %s", tc.wantBody, res.Body.String())
			}
			if strings.Contains(res.Body.String(), "secret_table") {
				t.Fatalf("internal details leaked: %s", res.Body.String())
			}
		})
	}
}

func TestTransientErrorsAskClientsToRetry(t *testing.T) {
	api := newTestAPI(t)

	for _, err := range []error{
		fmt.Errorf("create_sale gave up after 3 attempts: %w", domain.ErrConflict),
		fmt.Errorf("dial tcp 10.0.0.5:5432: %w", domain.ErrUnavailable),
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
		res := httptest.NewRecorder()

		api.writeServiceError(res, req, err)

		if res.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", res.Code)
		}
		if got := res.Header().Get("Retry-After"); got == "" {
			t.Fatalf("expected Retry-After header")
		}
		var body struct {
			Error     string `json:"error"`
			Retryable bool   `json:"retryable"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !body.Retryable || strings.Contains(body.Error, "10.0.0.5") {
			t.Fatalf("unexpected transient body %+v", body)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestListSalesRejectsBadQuery(t *testing.T) {
	api := newTestAPI(t)
	token := tokenFor(t, api, "staff", domain.RoleStaff)

	for _, query := range []string{"?offset=-1", "?offset=abc", "?includeVoid=maybe", "?startDate=2026-03-05&endDate=2026-03-01"} {
		res := doJSON(t, api, http.MethodGet, "/api/v1/sales"+query, token, nil)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, res.Code)
		}
	}
}
