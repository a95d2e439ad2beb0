package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// PoolAdminHandler serves /admin/pools, /admin/liquidations and /admin/tokens.
type PoolAdminHandler struct {
	poolSvc  *service.PoolService
	tokenSvc *service.TokenService
}

// NewPoolAdminHandler creates a PoolAdminHandler.
func NewPoolAdminHandler(poolSvc *service.PoolService, tokenSvc *service.TokenService) *PoolAdminHandler {
	return &PoolAdminHandler{poolSvc: poolSvc, tokenSvc: tokenSvc}
}

// List godoc
// GET /admin/pools?from_index=0&limit=50
func (h *PoolAdminHandler) List(c *gin.Context) {
	from, perr := strconv.ParseInt(c.DefaultQuery("from_index", "0"), 10, 64)
	limit, lerr := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if perr != nil || lerr != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "from_index and limit must be integers")
		return
	}
	ctx := c.Request.Context()
	pools, err := h.poolSvc.ListPools(ctx, from, limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	total, err := h.poolSvc.Count(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"pools": pools, "total": total})
}

// Detail godoc
// GET /admin/pools/:id
func (h *PoolAdminHandler) Detail(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	info, err := h.poolSvc.GetPool(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	liqs, _, err := h.poolSvc.Liquidations(ctx, id, 20, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"pool":         info,
		"liquidations": liqs,
	})
}

// Accounts godoc
// GET /admin/pools/:id/accounts?page=1&limit=50
func (h *PoolAdminHandler) Accounts(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	page, limit := adminPagination(c)
	rows, total, err := h.poolSvc.ListAccounts(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, total, page, limit)
}

// Liquidations godoc
// GET /admin/pools/:id/liquidations?page=1&limit=50
func (h *PoolAdminHandler) Liquidations(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	page, limit := adminPagination(c)
	rows, total, err := h.poolSvc.Liquidations(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, total, page, limit)
}

// RecentLiquidations godoc
// GET /admin/liquidations?limit=50
func (h *PoolAdminHandler) RecentLiquidations(c *gin.Context) {
	_, limit := adminPagination(c)
	rows, err := h.poolSvc.RecentLiquidations(c.Request.Context(), limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, rows)
}

// Tokens godoc
// GET /admin/tokens
func (h *PoolAdminHandler) Tokens(c *gin.Context) {
	tokens, err := h.tokenSvc.List(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, tokens)
}

// AddTokens godoc
// POST /admin/tokens [admin, ops]
// Body: {"tokens":[{"token_id":"usdc.token","decimals":6}]}
// Tokens already registered are left untouched.
func (h *PoolAdminHandler) AddTokens(c *gin.Context) {
	var body struct {
		Tokens []domain.TokenInfo `json:"tokens" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	added, err := h.tokenSvc.Add(c.Request.Context(), body.Tokens)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, gin.H{"added": added})
}
