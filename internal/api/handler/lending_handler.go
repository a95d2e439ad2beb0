package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// LendingHandler serves the mutating pool operations. The caller's account
// id always comes from the JWT subject, except for inbound transfers, which
// only the token gateway may report.
type LendingHandler struct {
	lendingSvc  *service.LendingService
	transferSvc *service.TransferService
}

// NewLendingHandler creates a LendingHandler.
func NewLendingHandler(lendingSvc *service.LendingService, transferSvc *service.TransferService) *LendingHandler {
	return &LendingHandler{lendingSvc: lendingSvc, transferSvc: transferSvc}
}

type tokenAmountBody struct {
	TokenID string `json:"token_id" binding:"required"`
	Amount  string `json:"amount"   binding:"required"`
}

type amountBody struct {
	Amount string `json:"amount" binding:"required"`
}

type inboundBody struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	PoolID         *int64 `json:"pool_id"         binding:"required,min=0"`
	SenderID       string `json:"sender_id"       binding:"required"`
	TokenID        string `json:"token_id"        binding:"required"`
	Amount         string `json:"amount"          binding:"required"`
}

// ReceiveTransfer godoc
// POST /api/inbound/transfers [JWT, token_receiver]
// Body: {"idempotency_key":"…","pool_id":0,"sender_id":"…","token_id":"usdc.token","amount":"1000000"}
// Sent by the token gateway after the tokens have arrived. A non-2xx answer
// means nothing was credited and the gateway returns the tokens.
func (h *LendingHandler) ReceiveTransfer(c *gin.Context) {
	var body inboundBody
	if !bindJSON(c, &body) {
		return
	}
	amount, ok := parseAmount(c, body.Amount)
	if !ok {
		return
	}

	out, err := h.lendingSvc.ReceiveTransfer(c.Request.Context(), service.InboundTransferRequest{
		Role:           middleware.GetRole(c),
		IdempotencyKey: body.IdempotencyKey,
		PoolID:         *body.PoolID,
		SenderID:       body.SenderID,
		TokenID:        body.TokenID,
		Amount:         amount,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	respondSuccess(c, status, out)
}

// Borrow godoc
// POST /api/pools/:id/borrow [JWT]
// Body: {"amount":"500000"}
func (h *LendingHandler) Borrow(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var body amountBody
	if !bindJSON(c, &body) {
		return
	}
	amount, ok := parseAmount(c, body.Amount)
	if !ok {
		return
	}

	out, err := h.lendingSvc.Borrow(c.Request.Context(), service.BorrowRequest{
		PoolID:    id,
		AccountID: middleware.GetAccountID(c),
		Amount:    amount,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, out)
}

// Withdraw godoc
// POST /api/pools/:id/withdraw [JWT]
// Body: {"token_id":"weth.token","amount":"1000000000000000000"}
func (h *LendingHandler) Withdraw(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var body tokenAmountBody
	if !bindJSON(c, &body) {
		return
	}
	amount, ok := parseAmount(c, body.Amount)
	if !ok {
		return
	}

	out, err := h.lendingSvc.Withdraw(c.Request.Context(), service.WithdrawRequest{
		PoolID:    id,
		AccountID: middleware.GetAccountID(c),
		TokenID:   body.TokenID,
		Amount:    amount,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, out)
}

// Repay godoc
// POST /api/pools/:id/repay [JWT]
// Body: {"amount":"500000"}
func (h *LendingHandler) Repay(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var body amountBody
	if !bindJSON(c, &body) {
		return
	}
	amount, ok := parseAmount(c, body.Amount)
	if !ok {
		return
	}

	res, err := h.lendingSvc.Repay(c.Request.Context(), service.RepayRequest{
		PoolID:    id,
		AccountID: middleware.GetAccountID(c),
		Amount:    amount,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Liquidate godoc
// POST /api/pools/:id/liquidate [JWT]
// Body: {"account_id":"…","amount":"250000"}
func (h *LendingHandler) Liquidate(c *gin.Context) {
	id, ok := parsePoolID(c)
	if !ok {
		return
	}
	var body struct {
		AccountID string `json:"account_id" binding:"required"`
		Amount    string `json:"amount"     binding:"required"`
	}
	if !bindJSON(c, &body) {
		return
	}
	amount, ok := parseAmount(c, body.Amount)
	if !ok {
		return
	}

	l, err := h.lendingSvc.Liquidate(c.Request.Context(), service.LiquidateRequest{
		PoolID:       id,
		LiquidatorID: middleware.GetAccountID(c),
		TargetID:     body.AccountID,
		Amount:       amount,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, l)
}

// MyTransfers godoc
// GET /api/me/transfers?page=1&limit=20 [JWT]
func (h *LendingHandler) MyTransfers(c *gin.Context) {
	page, limit := parsePagination(c)
	rows, err := h.transferSvc.ListForAccount(c.Request.Context(), middleware.GetAccountID(c), limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, len(rows), page, limit)
}

// MyDeposits godoc
// GET /api/me/deposits?page=1&limit=20 [JWT]
func (h *LendingHandler) MyDeposits(c *gin.Context) {
	page, limit := parsePagination(c)
	rows, err := h.lendingSvc.InboundForAccount(c.Request.Context(), middleware.GetAccountID(c), limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, len(rows), page, limit)
}
