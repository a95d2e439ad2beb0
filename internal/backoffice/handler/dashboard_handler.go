package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/lendpool/internal/service"
	"github.com/evetabi/lendpool/internal/ws"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	authSvc     *service.AuthService
	poolSvc     *service.PoolService
	transferSvc *service.TransferService
	oracleSvc   *service.OracleService
	riskSvc     *service.RiskService
	hub         *ws.Hub
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(
	authSvc *service.AuthService,
	poolSvc *service.PoolService,
	transferSvc *service.TransferService,
	oracleSvc *service.OracleService,
	riskSvc *service.RiskService,
	hub *ws.Hub,
) *DashboardHandler {
	return &DashboardHandler{
		authSvc:     authSvc,
		poolSvc:     poolSvc,
		transferSvc: transferSvc,
		oracleSvc:   oracleSvc,
		riskSvc:     riskSvc,
		hub:         hub,
	}
}

// Dashboard godoc
// GET /admin/dashboard
// Individual sections are left empty when their source fails.
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	// ── Pools ────────────────────────────────────────────────────────────────
	poolCount, _ := h.poolSvc.Count(ctx)
	recent, _ := h.poolSvc.RecentLiquidations(ctx, 10)

	// ── Users ────────────────────────────────────────────────────────────────
	users, _ := h.authSvc.CountByRole(ctx)

	// ── Transfer outbox ──────────────────────────────────────────────────────
	backlog, _ := h.transferSvc.Backlog(ctx)

	// ── Risk ─────────────────────────────────────────────────────────────────
	var riskData gin.H
	if report := h.riskSvc.Last(); report != nil {
		riskData = gin.H{
			"scanned_at":    report.ScannedAt,
			"borrowers":     report.Borrowers,
			"alerts":        len(report.Alerts),
			"liquidatable":  len(report.Liquidatable()),
			"skipped_pools": report.SkippedPools,
		}
	}

	// ── WS connections ────────────────────────────────────────────────────────
	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":           time.Now().UTC(),
		"pools":               poolCount,
		"active_users":        users,
		"recent_liquidations": recent,
		"transfer_backlog":    backlog,
		"oracle":              h.oracleSvc.Status(ctx),
		"risk":                riskData,
		"ws_connections":      wsConnections,
	})
}
