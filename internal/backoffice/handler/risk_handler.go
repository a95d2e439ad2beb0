package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// RiskHandler serves /admin/risk endpoints.
type RiskHandler struct {
	riskSvc   *service.RiskService
	oracleSvc *service.OracleService
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(riskSvc *service.RiskService, oracleSvc *service.OracleService) *RiskHandler {
	return &RiskHandler{riskSvc: riskSvc, oracleSvc: oracleSvc}
}

// Report godoc
// GET /admin/risk/report
// Returns the most recent scan, or 404 before the first one completes.
func (h *RiskHandler) Report(c *gin.Context) {
	report := h.riskSvc.Last()
	if report == nil {
		respondError(c, http.StatusNotFound, "ERR_NO_REPORT", "no risk scan has completed yet")
		return
	}
	respondSuccess(c, http.StatusOK, report)
}

// Liquidatable godoc
// GET /admin/risk/liquidatable
func (h *RiskHandler) Liquidatable(c *gin.Context) {
	report := h.riskSvc.Last()
	if report == nil {
		respondSuccess(c, http.StatusOK, []domain.RiskAlert{})
		return
	}
	respondSuccess(c, http.StatusOK, report.Liquidatable())
}

// Scan godoc
// POST /admin/risk/scan [admin, risk]
// Runs a scan synchronously instead of waiting for the scheduler.
func (h *RiskHandler) Scan(c *gin.Context) {
	report, err := h.riskSvc.Scan(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}

// OracleStatus godoc
// GET /admin/risk/oracle
func (h *RiskHandler) OracleStatus(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.oracleSvc.Status(c.Request.Context()))
}

// PushPrices godoc
// POST /admin/risk/oracle/prices [admin]
// Manual price override with the same body as POST /api/oracle/prices.
func (h *RiskHandler) PushPrices(c *gin.Context) {
	var d domain.PriceData
	if err := c.ShouldBindJSON(&d); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if err := h.oracleSvc.Push(c.Request.Context(), middleware.GetRole(c), &d); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, gin.H{"expires_at": d.ExpiresAt().UTC()})
}
