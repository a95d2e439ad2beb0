package backoffice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
)

const testSecret = "test-access-secret-abcdefghijklmnop"

func testCfg(allowedIPs string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "development", BackofficeAllowedIPs: allowedIPs},
		JWT: config.JWTConfig{
			AccessSecret: testSecret,
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   time.Hour,
		},
	}
}

// buildRouter wires only what the middleware chain and the in-memory risk
// views need. Routes that reach the database are not exercised here.
func buildRouter(t *testing.T, allowedIPs string) http.Handler {
	t.Helper()
	cfg := testCfg(allowedIPs)
	return SetupBackofficeRouter(BackofficeDeps{
		AuthSvc: service.NewAuthService(nil, cfg),
		RiskSvc: service.NewRiskService(nil, nil, nil, nil, cfg, nil, nil),
		Cfg:     cfg,
	})
}

func tokenFor(t *testing.T, role domain.UserRole) string {
	t.Helper()
	now := time.Now()
	claims := service.AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		Role:      string(role),
		TokenType: "access",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, h http.Handler, method, path string, role domain.UserRole, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, role))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return w.Code, out
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

func TestIPWhitelist_BlocksUnknownIP(t *testing.T) {
	r := buildRouter(t, "10.0.0.1, 10.0.0.2")
	// httptest requests originate from 192.0.2.1.
	code, body := do(t, r, http.MethodGet, "/admin/risk/liquidatable", domain.RoleAdmin, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "ERR_FORBIDDEN", body["code"])
}

func TestIPWhitelist_AllowsListedIP(t *testing.T) {
	r := buildRouter(t, "192.0.2.1")
	code, _ := do(t, r, http.MethodGet, "/admin/risk/liquidatable", domain.RoleAdmin, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestAdmin_RequiresToken(t *testing.T) {
	r := buildRouter(t, "")
	code, body := do(t, r, http.MethodGet, "/admin/dashboard", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "ERR_UNAUTHORIZED", body["code"])
}

func TestAdmin_RejectsNonStaffRoles(t *testing.T) {
	r := buildRouter(t, "")
	for _, role := range []domain.UserRole{domain.RoleUser, domain.RolePriceFeeder} {
		code, body := do(t, r, http.MethodGet, "/admin/risk/liquidatable", role, "")
		assert.Equal(t, http.StatusForbidden, code, role)
		assert.Equal(t, "ERR_FORBIDDEN", body["code"], role)
	}
}

func TestAdmin_MutationsNeedElevatedRoles(t *testing.T) {
	r := buildRouter(t, "")
	id := uuid.New().String()

	cases := []struct {
		method, path string
		role         domain.UserRole
	}{
		{http.MethodPost, "/admin/users/" + id + "/role", domain.RoleReadOnly},
		{http.MethodPost, "/admin/users/" + id + "/suspend", domain.RoleOps},
		{http.MethodPost, "/admin/tokens", domain.RoleRisk},
		{http.MethodPost, "/admin/transfers/" + id + "/compensate", domain.RoleReadOnly},
		{http.MethodPost, "/admin/risk/scan", domain.RoleOps},
		{http.MethodPost, "/admin/risk/oracle/prices", domain.RoleRisk},
	}
	for _, tc := range cases {
		code, body := do(t, r, tc.method, tc.path, tc.role, "{}")
		assert.Equal(t, http.StatusForbidden, code, tc.path)
		assert.Equal(t, "ERR_FORBIDDEN", body["code"], tc.path)
	}
}

func TestRisk_ViewsBeforeFirstScan(t *testing.T) {
	r := buildRouter(t, "")

	code, body := do(t, r, http.MethodGet, "/admin/risk/liquidatable", domain.RoleReadOnly, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, body["data"])

	code, body = do(t, r, http.MethodGet, "/admin/risk/report", domain.RoleRisk, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ERR_NO_REPORT", body["code"])
}

func TestTransfers_InvalidID(t *testing.T) {
	r := buildRouter(t, "")
	code, body := do(t, r, http.MethodPost, "/admin/transfers/not-a-uuid/retry", domain.RoleOps, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_ID", body["code"])
}

func TestUsers_SetRoleRejectsUnknownRole(t *testing.T) {
	r := buildRouter(t, "")
	code, body := do(t, r, http.MethodPost, "/admin/users/"+uuid.New().String()+"/role", domain.RoleAdmin, `{"role":"finance"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_ROLE", body["code"])
}

func TestUsers_ListRejectsUnknownRoleFilter(t *testing.T) {
	r := buildRouter(t, "")
	code, body := do(t, r, http.MethodGet, "/admin/users?role=finance", domain.RoleReadOnly, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_VALIDATION", body["code"])
}

func TestPools_InvalidID(t *testing.T) {
	r := buildRouter(t, "")
	code, body := do(t, r, http.MethodGet, "/admin/pools/-1", domain.RoleReadOnly, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ERR_INVALID_POOL_ID", body["code"])
}
