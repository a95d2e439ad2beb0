// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require a PostgreSQL database — they verify:
//   - Gin router routing and middleware wiring
//   - Request validation error responses (400)
//   - JWT auth middleware (401 without token, 401 with bad token, 403 on role)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/evetabi/lendpool/internal/api"
	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/service"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		JWT: config.JWTConfig{
			AccessSecret:  "test-access-secret-abcdefghijklmnop",
			RefreshSecret: "test-refresh-secret-abcdefghijklmnop",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// buildTestRouter creates a Gin engine with a real AuthService (no DB needed
// for token parsing) and nil for everything that requires a DB.
func buildTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := testCfg()
	// NewAuthService with a nil repository works for ParseAccessToken (secret-only op)
	authSvc := service.NewAuthService(nil, cfg)

	r := api.SetupRouter(api.RouterDeps{
		AuthSvc: authSvc,
		Metrics: metrics.New(),
		Cfg:     cfg,
	})
	return r
}

// mintToken signs a plain user token with the test access secret.
func mintToken(t *testing.T, tokenType string) string {
	t.Helper()
	return mintRoleToken(t, domain.RoleUser, tokenType)
}

func mintRoleToken(t *testing.T, role domain.UserRole, tokenType string) string {
	t.Helper()
	now := time.Now()
	claims := service.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Role:      string(role),
		TokenType: tokenType,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testCfg().JWT.AccessSecret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func bearer(t *testing.T) map[string]string {
	return map[string]string{"Authorization": "Bearer " + mintToken(t, "access")}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v — body: %s", err, rr.Body.String())
	}
	return m
}

// ── /health and /metrics ──────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "go_goroutines") {
		t.Errorf("metrics output missing runtime collector")
	}
}

// ── Auth endpoints — validation layer ─────────────────────────────────────────

func TestRegister_MissingFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/auth/register", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/auth/register empty body = %d, want 400", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	if body["code"] == nil {
		t.Errorf("error envelope missing 'code', got: %v", body)
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"username":"testuser","email":"notanemail","password":"password123"}`
	rr := do(t, h, http.MethodPost, "/api/auth/register", payload, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("register with invalid email = %d, want 400", rr.Code)
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	h := buildTestRouter(t)
	payload := `{"username":"testuser","email":"user@example.com","password":"short"}`
	rr := do(t, h, http.MethodPost, "/api/auth/register", payload, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("register with short password = %d, want 400", rr.Code)
	}
}

func TestLogin_MissingFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/auth/login", `{}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("POST /api/auth/login empty = %d, want 400", rr.Code)
	}
}

// ── JWT auth middleware (no token → 401) ──────────────────────────────────────

func TestProtectedRoutes_NoToken_Return401(t *testing.T) {
	h := buildTestRouter(t)
	cases := []struct{ method, path, body string }{
		{http.MethodGet, "/api/me", ""},
		{http.MethodGet, "/api/me/positions", ""},
		{http.MethodGet, "/api/me/transfers", ""},
		{http.MethodPost, "/api/pools", `{"lend_token_id":"a","collateral_token_id":"b"}`},
		{http.MethodGet, "/api/me/deposits", ""},
		{http.MethodPost, "/api/inbound/transfers", `{}`},
		{http.MethodPost, "/api/pools/0/borrow", `{"amount":"1"}`},
		{http.MethodPost, "/api/pools/0/withdraw", `{"token_id":"a","amount":"1"}`},
		{http.MethodPost, "/api/pools/0/repay", `{"amount":"1"}`},
		{http.MethodPost, "/api/pools/0/liquidate", `{"account_id":"x","amount":"1"}`},
		{http.MethodPost, "/api/oracle/prices", `{"prices":[]}`},
	}
	for _, tc := range cases {
		rr := do(t, h, tc.method, tc.path, tc.body, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without token = %d, want 401", tc.method, tc.path, rr.Code)
		}
	}
}

// ── JWT auth middleware (invalid token → 401) ─────────────────────────────────

func TestMe_InvalidToken_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/me", "", map[string]string{
		"Authorization": "Bearer not.a.valid.jwt",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/me with bad JWT = %d, want 401", rr.Code)
	}
}

func TestBorrow_InvalidSignature_Returns401(t *testing.T) {
	h := buildTestRouter(t)
	// A well-formed JWT header+payload but wrong secret → ParseAccessToken will reject it
	fakeJWT := "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9" +
		".eyJzdWIiOiIxMjM0NTY3ODkwIiwicm9sZSI6InVzZXIiLCJ0eXBlIjoiYWNjZXNzIn0" +
		".BADSIG"
	rr := do(t, h, http.MethodPost, "/api/pools/0/borrow", `{"amount":"1"}`, map[string]string{
		"Authorization": "Bearer " + fakeJWT,
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("POST borrow with invalid JWT = %d, want 401", rr.Code)
	}
}

// ── Deposits are credited only by the token gateway ──────────────────────────

const inboundBody = `{"idempotency_key":"k1","pool_id":0,"sender_id":"acct","token_id":"a","amount":"1000000000000"}`

func TestInboundTransfers_RejectNonGatewayRoles(t *testing.T) {
	h := buildTestRouter(t)
	for _, role := range []domain.UserRole{domain.RoleUser, domain.RoleAdmin, domain.RoleOps, domain.RolePriceFeeder} {
		rr := do(t, h, http.MethodPost, "/api/inbound/transfers", inboundBody, map[string]string{
			"Authorization": "Bearer " + mintRoleToken(t, role, "access"),
		})
		if rr.Code != http.StatusForbidden {
			t.Errorf("POST /api/inbound/transfers as %s = %d, want 403", role, rr.Code)
		}
	}
}

func TestUserDepositRouteRemoved(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/pools/0/deposit", `{"token_id":"a","amount":"1000000000000"}`, bearer(t))
	if rr.Code != http.StatusNotFound {
		t.Errorf("POST /api/pools/0/deposit = %d, want 404", rr.Code)
	}
}

func TestInboundTransfers_Validation(t *testing.T) {
	h := buildTestRouter(t)
	gateway := map[string]string{"Authorization": "Bearer " + mintRoleToken(t, domain.RoleTokenReceiver, "access")}
	cases := []struct {
		name, body, code string
	}{
		{"missing key", `{"pool_id":0,"sender_id":"acct","token_id":"a","amount":"1"}`, "ERR_VALIDATION"},
		{"missing pool", `{"idempotency_key":"k","sender_id":"acct","token_id":"a","amount":"1"}`, "ERR_VALIDATION"},
		{"negative pool", `{"idempotency_key":"k","pool_id":-1,"sender_id":"acct","token_id":"a","amount":"1"}`, "ERR_VALIDATION"},
		{"missing sender", `{"idempotency_key":"k","pool_id":0,"token_id":"a","amount":"1"}`, "ERR_VALIDATION"},
		{"decimal amount", `{"idempotency_key":"k","pool_id":0,"sender_id":"acct","token_id":"a","amount":"0.5"}`, "ERR_INVALID_AMOUNT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/api/inbound/transfers", tc.body, gateway)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("POST inbound = %d, want 400 (body %s)", rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["code"]; got != tc.code {
				t.Errorf("code = %v, want %s", got, tc.code)
			}
		})
	}
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/me", "", map[string]string{
		"Authorization": "Bearer " + mintToken(t, "refresh"),
	})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /api/me with refresh token = %d, want 401", rr.Code)
	}
}

// ── Request validation (authenticated, never reaches a service) ──────────────

func TestPoolOps_Validation(t *testing.T) {
	h := buildTestRouter(t)
	cases := []struct {
		name, path, body, code string
	}{
		{"bad pool id", "/api/pools/abc/withdraw", `{"token_id":"a","amount":"1"}`, "ERR_INVALID_POOL_ID"},
		{"negative pool id", "/api/pools/-1/borrow", `{"amount":"1"}`, "ERR_INVALID_POOL_ID"},
		{"missing token", "/api/pools/0/withdraw", `{"amount":"1"}`, "ERR_VALIDATION"},
		{"negative amount", "/api/pools/0/withdraw", `{"token_id":"a","amount":"-5"}`, "ERR_INVALID_AMOUNT"},
		{"decimal amount", "/api/pools/0/repay", `{"amount":"1.5"}`, "ERR_INVALID_AMOUNT"},
		{"amount over 128 bits", "/api/pools/0/borrow", `{"amount":"340282366920938463463374607431768211456"}`, "ERR_INVALID_AMOUNT"},
		{"liquidate without target", "/api/pools/0/liquidate", `{"amount":"1"}`, "ERR_VALIDATION"},
		{"create without tokens", "/api/pools", `{}`, "ERR_VALIDATION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, tc.path, tc.body, bearer(t))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("POST %s = %d, want 400 (body %s)", tc.path, rr.Code, rr.Body.String())
			}
			if got := decodeBody(t, rr)["code"]; got != tc.code {
				t.Errorf("code = %v, want %s", got, tc.code)
			}
		})
	}
}

func TestPublicViews_Validation(t *testing.T) {
	h := buildTestRouter(t)
	for _, path := range []string{
		"/api/pools?limit=ten",
		"/api/pools?from_index=x",
		"/api/pools/abc",
		"/api/pools/abc/accounts",
		"/api/pools/-3/liquidations",
	} {
		rr := do(t, h, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, rr.Code)
		}
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	h := buildTestRouter(t)
	rr := do(t, h, http.MethodPost, "/api/auth/register", `{}`, nil)
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	h := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	// OPTIONS should return 204 (no content) in dev mode
	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS /api/auth/login = %d, want 204 or 200", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "POST") {
		t.Errorf("Access-Control-Allow-Methods missing POST, got %q", allow)
	}
}

func TestCORSAllowOrigin_Dev(t *testing.T) {
	h := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	// In dev mode, CORS origin should be wildcard
	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}
