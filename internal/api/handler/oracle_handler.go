package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/evetabi/lendpool/internal/ws"
	"github.com/gin-gonic/gin"
)

// MarketDataHandler serves the token registry and oracle prices.
type MarketDataHandler struct {
	tokenSvc  *service.TokenService
	oracleSvc *service.OracleService
}

// NewMarketDataHandler creates a MarketDataHandler.
func NewMarketDataHandler(tokenSvc *service.TokenService, oracleSvc *service.OracleService) *MarketDataHandler {
	return &MarketDataHandler{tokenSvc: tokenSvc, oracleSvc: oracleSvc}
}

// ListTokens godoc
// GET /api/tokens
func (h *MarketDataHandler) ListTokens(c *gin.Context) {
	tokens, err := h.tokenSvc.List(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, tokens)
}

// Prices godoc
// GET /api/oracle/prices
// Returns the latest snapshot with human-readable values and its expiry.
func (h *MarketDataHandler) Prices(c *gin.Context) {
	d, err := h.oracleSvc.Current(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, ws.NewPriceUpdateMessage(d))
}

// PushPrices godoc
// POST /api/oracle/prices [JWT, price_feeder or admin]
// Body: {"timestamp":…,"recency_duration_sec":90,"prices":[{"asset_id":"…","price":{"multiplier":"…","decimals":8}}]}
func (h *MarketDataHandler) PushPrices(c *gin.Context) {
	var d domain.PriceData
	if !bindJSON(c, &d) {
		return
	}
	if err := h.oracleSvc.Push(c.Request.Context(), middleware.GetRole(c), &d); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusAccepted, gin.H{"expires_at": d.ExpiresAt().UTC()})
}
