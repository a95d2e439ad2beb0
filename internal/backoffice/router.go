package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/backoffice/handler"
	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/evetabi/lendpool/internal/ws"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc     *service.AuthService
	PoolSvc     *service.PoolService
	TransferSvc *service.TransferService
	TokenSvc    *service.TokenService
	OracleSvc   *service.OracleService
	RiskSvc     *service.RiskService
	Hub         *ws.Hub
	Cfg         *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine served on BACKOFFICE_PORT.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.AuthSvc, deps.PoolSvc, deps.TransferSvc, deps.OracleSvc, deps.RiskSvc, deps.Hub)
	poolH := handler.NewPoolAdminHandler(deps.PoolSvc, deps.TokenSvc)
	userH := handler.NewUserAdminHandler(deps.AuthSvc, deps.PoolSvc)
	riskH := handler.NewRiskHandler(deps.RiskSvc, deps.OracleSvc)
	transferH := handler.NewTransferAdminHandler(deps.TransferSvc)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), middleware.BackofficeMiddleware())
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Pools and tokens
		p := admin.Group("/pools")
		{
			p.GET("", poolH.List)
			p.GET("/:id", poolH.Detail)
			p.GET("/:id/accounts", poolH.Accounts)
			p.GET("/:id/liquidations", poolH.Liquidations)
		}
		admin.GET("/liquidations", poolH.RecentLiquidations)
		admin.GET("/tokens", poolH.Tokens)
		admin.POST("/tokens", middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleOps), poolH.AddTokens)

		// Users
		u := admin.Group("/users")
		{
			u.GET("", userH.List)
			u.GET("/:id", userH.Detail)
			u.POST("/:id/suspend", middleware.AdminMiddleware(), userH.Suspend)
			u.POST("/:id/activate", middleware.AdminMiddleware(), userH.Activate)
			u.POST("/:id/role", middleware.AdminMiddleware(), userH.SetRole)
		}

		// Risk and oracle
		risk := admin.Group("/risk")
		{
			risk.GET("/report", riskH.Report)
			risk.GET("/liquidatable", riskH.Liquidatable)
			risk.POST("/scan", middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleRisk), riskH.Scan)
			risk.GET("/oracle", riskH.OracleStatus)
			risk.POST("/oracle/prices", middleware.AdminMiddleware(), riskH.PushPrices)
		}

		// Transfer outbox
		t := admin.Group("/transfers")
		{
			t.GET("", transferH.List)
			t.GET("/:id", transferH.Detail)
			t.POST("/:id/retry", middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleOps), transferH.Retry)
			t.POST("/:id/compensate", middleware.RoleMiddleware(domain.RoleAdmin, domain.RoleOps), transferH.Compensate)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
