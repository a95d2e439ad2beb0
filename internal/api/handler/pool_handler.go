package handler

import (
	"net/http"
	"strconv"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// PoolHandler serves pool creation and the read-only pool and account views.
type PoolHandler struct {
	poolSvc *service.PoolService
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(poolSvc *service.PoolService) *PoolHandler {
	return &PoolHandler{poolSvc: poolSvc}
}

// ListPools godoc
// GET /api/pools?from_index=0&limit=20
// GET /api/pools?lend_token=…  |  ?collateral_token=…  |  ?owner=…
func (h *PoolHandler) ListPools(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		pools []domain.PoolInfo
		err   error
	)
	switch {
	case c.Query("lend_token") != "":
		pools, err = h.poolSvc.ListByLendToken(ctx, c.Query("lend_token"))
	case c.Query("collateral_token") != "":
		pools, err = h.poolSvc.ListByCollateralToken(ctx, c.Query("collateral_token"))
	case c.Query("owner") != "":
		pools, err = h.poolSvc.ListByOwner(ctx, c.Query("owner"))
	default:
		from, perr := strconv.ParseInt(c.DefaultQuery("from_index", "0"), 10, 64)
		limit, lerr := strconv.Atoi(c.DefaultQuery("limit", "20"))
		if perr != nil || lerr != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", "from_index and limit must be integers")
			return
		}
		pools, err = h.poolSvc.ListPools(ctx, from, limit)
	}
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pools)
}

// GetPool godoc
// GET /api/pools/:id
func (h *PoolHandler) GetPool(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	info, err := h.poolSvc.GetPool(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, info)
}

// ListAccounts godoc
// GET /api/pools/:id/accounts?page=1&limit=20
func (h *PoolHandler) ListAccounts(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	accounts, total, err := h.poolSvc.ListAccounts(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, accounts, total, page, limit)
}

// GetAccount godoc
// GET /api/pools/:id/accounts/:account
// Accounts without a position get an empty view.
func (h *PoolHandler) GetAccount(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	info, err := h.poolSvc.AccountInfo(c.Request.Context(), id, c.Param("account"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, info)
}

// GetAccountCR godoc
// GET /api/pools/:id/accounts/:account/cr
func (h *PoolHandler) GetAccountCR(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	cr, err := h.poolSvc.CurrentCR(c.Request.Context(), id, c.Param("account"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"current_cr":         cr,
		"current_cr_percent": domain.RatioPercent(cr),
		"no_debt":            cr == domain.InfiniteCollateralRatio,
	})
}

// ListLiquidations godoc
// GET /api/pools/:id/liquidations?page=1&limit=20
func (h *PoolHandler) ListLiquidations(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	page, limit := parsePagination(c)
	rows, total, err := h.poolSvc.Liquidations(c.Request.Context(), id, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, total, page, limit)
}

// AccountState godoc
// GET /api/accounts/:account/positions
func (h *PoolHandler) AccountState(c *gin.Context) {
	h.positions(c, c.Param("account"))
}

// AccountPools godoc
// GET /api/accounts/:account/pools
func (h *PoolHandler) AccountPools(c *gin.Context) {
	pools, err := h.poolSvc.AccountPools(c.Request.Context(), c.Param("account"))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, pools)
}

// MyPositions godoc
// GET /api/me/positions [JWT]
func (h *PoolHandler) MyPositions(c *gin.Context) {
	h.positions(c, middleware.GetAccountID(c))
}

func (h *PoolHandler) positions(c *gin.Context, accountID string) {
	state, err := h.poolSvc.AccountState(c.Request.Context(), accountID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, state)
}

// CreatePool godoc
// POST /api/pools [JWT]
// Body: {"lend_token_id":"usdc.token","collateral_token_id":"weth.token","min_cr":15000}
func (h *PoolHandler) CreatePool(c *gin.Context) {
	var req service.CreatePoolRequest
	if !bindJSON(c, &req) {
		return
	}
	req.OwnerID = middleware.GetAccountID(c)
	req.Role = middleware.GetRole(c)

	info, err := h.poolSvc.CreatePool(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, info)
}
