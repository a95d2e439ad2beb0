package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// UserAdminHandler serves /admin/users endpoints.
type UserAdminHandler struct {
	authSvc *service.AuthService
	poolSvc *service.PoolService
}

// NewUserAdminHandler creates a UserAdminHandler.
func NewUserAdminHandler(authSvc *service.AuthService, poolSvc *service.PoolService) *UserAdminHandler {
	return &UserAdminHandler{authSvc: authSvc, poolSvc: poolSvc}
}

// List godoc
// GET /admin/users?role=price_feeder&page=1&limit=50
func (h *UserAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	users, total, err := h.authSvc.ListUsers(c.Request.Context(), domain.UserRole(c.Query("role")), limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, users, total, page, limit)
}

// Detail godoc
// GET /admin/users/:id
// Positions are omitted when prices are unavailable.
func (h *UserAdminHandler) Detail(c *gin.Context) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	user, err := h.authSvc.GetUser(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	pools, _ := h.poolSvc.AccountPools(ctx, user.AccountID())
	positions, _ := h.poolSvc.AccountState(ctx, user.AccountID())

	respondSuccess(c, http.StatusOK, gin.H{
		"user":      user,
		"pools":     pools,
		"positions": positions,
	})
}

// Suspend godoc
// POST /admin/users/:id/suspend [admin]
func (h *UserAdminHandler) Suspend(c *gin.Context) {
	h.setActive(c, false)
}

// Activate godoc
// POST /admin/users/:id/activate [admin]
func (h *UserAdminHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

func (h *UserAdminHandler) setActive(c *gin.Context, active bool) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}
	if err := h.authSvc.SetActive(c.Request.Context(), id, active); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user_id": id, "is_active": active})
}

// SetRole godoc
// POST /admin/users/:id/role [admin]
// Body: {"role": "price_feeder"}
func (h *UserAdminHandler) SetRole(c *gin.Context) {
	id, ok := parseUUID(c)
	if !ok {
		return
	}
	var body struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	role := domain.UserRole(body.Role)
	if !role.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ROLE", "unknown role")
		return
	}
	if err := h.authSvc.UpdateRole(c.Request.Context(), id, role); err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"user_id": id, "role": role})
}
