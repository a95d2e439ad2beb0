package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// TransferAdminHandler serves /admin/transfers endpoints.
type TransferAdminHandler struct {
	transferSvc *service.TransferService
}

// NewTransferAdminHandler creates a TransferAdminHandler.
func NewTransferAdminHandler(transferSvc *service.TransferService) *TransferAdminHandler {
	return &TransferAdminHandler{transferSvc: transferSvc}
}

// List godoc
// GET /admin/transfers?status=failed&page=1&limit=50
func (h *TransferAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	rows, total, err := h.transferSvc.List(c.Request.Context(), c.Query("status"), limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, rows, total, page, limit)
}

// Detail godoc
// GET /admin/transfers/:id
func (h *TransferAdminHandler) Detail(c *gin.Context) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}
	t, err := h.transferSvc.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, t)
}

// Retry godoc
// POST /admin/transfers/:id/retry [admin, ops]
// Re-queues a failed transfer with its attempt counter reset.
func (h *TransferAdminHandler) Retry(c *gin.Context) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}
	t, err := h.transferSvc.Retry(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, t)
}

// Compensate godoc
// POST /admin/transfers/:id/compensate [admin, ops]
// Credits the amount back to the receiver's pool position. A transfer can be
// compensated once; sent and compensated transfers return 409.
func (h *TransferAdminHandler) Compensate(c *gin.Context) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}
	t, err := h.transferSvc.Compensate(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, t)
}
