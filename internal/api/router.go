package api

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/api/handler"
	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/metrics"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/evetabi/lendpool/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc     *service.AuthService
	PoolSvc     *service.PoolService
	LendingSvc  *service.LendingService
	TransferSvc *service.TransferService
	TokenSvc    *service.TokenService
	OracleSvc   *service.OracleService
	Hub         *ws.Hub
	Metrics     *metrics.Metrics
	Cfg         *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check / metrics ───────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil && deps.Cfg.Metrics.Enabled {
		r.GET(metricsPath(deps.Cfg), gin.WrapH(deps.Metrics.Handler()))
	}

	// ── Handlers ─────────────────────────────────────────────────────────────
	userH := handler.NewUserHandler(deps.AuthSvc, deps.PoolSvc)
	poolH := handler.NewPoolHandler(deps.PoolSvc)
	lendingH := handler.NewLendingHandler(deps.LendingSvc, deps.TransferSvc)
	dataH := handler.NewMarketDataHandler(deps.TokenSvc, deps.OracleSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	authRL := middleware.RateLimitMiddleware(10, 10) // login / register brute force
	opsRL := middleware.RateLimitMiddleware(deps.Cfg.Server.RateLimitPerSecond, deps.Cfg.Server.RateLimitBurst)

	api := r.Group("/api")
	{
		// ── Auth (public, strict rate limit) ─────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(authRL)
		{
			auth.POST("/register", userH.Register)
			auth.POST("/login", userH.Login)
			auth.POST("/refresh", userH.Refresh)
		}

		// ── Public views ─────────────────────────────────────────────────────
		api.GET("/tokens", dataH.ListTokens)
		api.GET("/oracle/prices", dataH.Prices)

		pools := api.Group("/pools")
		{
			pools.GET("", poolH.ListPools)
			pools.GET("/:id", poolH.GetPool)
			pools.GET("/:id/accounts", poolH.ListAccounts)
			pools.GET("/:id/accounts/:account", poolH.GetAccount)
			pools.GET("/:id/accounts/:account/cr", poolH.GetAccountCR)
			pools.GET("/:id/liquidations", poolH.ListLiquidations)
		}

		accounts := api.Group("/accounts")
		{
			accounts.GET("/:account/positions", poolH.AccountState)
			accounts.GET("/:account/pools", poolH.AccountPools)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			// Profile
			authed.GET("/me", userH.Me)
			authed.GET("/me/positions", poolH.MyPositions)
			authed.GET("/me/transfers", lendingH.MyTransfers)
			authed.GET("/me/deposits", lendingH.MyDeposits)

			// Price feeders (role checked by the oracle service)
			authed.POST("/oracle/prices", dataH.PushPrices)

			// Token gateway: the only route that credits deposits
			authed.POST("/inbound/transfers",
				middleware.RoleMiddleware(domain.RoleTokenReceiver), lendingH.ReceiveTransfer)

			// Pool operations
			ops := authed.Group("/pools")
			ops.Use(opsRL)
			{
				ops.POST("", poolH.CreatePool)
				ops.POST("/:id/borrow", lendingH.Borrow)
				ops.POST("/:id/withdraw", lendingH.Withdraw)
				ops.POST("/:id/repay", lendingH.Repay)
				ops.POST("/:id/liquidate", lendingH.Liquidate)
			}
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Path == "" {
		return "/metrics"
	}
	return cfg.Metrics.Path
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only the origins in
// WS_ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.WSAllowedOrigins))
	for _, o := range cfg.Server.WSAllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && (allowed[origin] || allowed["*"]) {
			c.Header("Access-Control-Allow-Origin", origin)
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
