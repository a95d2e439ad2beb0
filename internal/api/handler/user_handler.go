package handler

import (
	"net/http"

	"github.com/evetabi/lendpool/internal/api/middleware"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
)

// UserHandler serves sign-up, sign-in and the caller's own profile. The
// profile carries the lending account id used in every pool operation.
type UserHandler struct {
	authSvc *service.AuthService
	poolSvc *service.PoolService
}

// NewUserHandler creates a UserHandler. poolSvc may be nil, in which case
// /me omits the pool membership summary.
func NewUserHandler(authSvc *service.AuthService, poolSvc *service.PoolService) *UserHandler {
	return &UserHandler{authSvc: authSvc, poolSvc: poolSvc}
}

type loginBody struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Register godoc
// POST /api/auth/register
// New accounts always get the plain user role; staff are created with lendctl.
func (h *UserHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.authSvc.Register(c.Request.Context(), req)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, resp)
}

// Login godoc
// POST /api/auth/login
func (h *UserHandler) Login(c *gin.Context) {
	var body loginBody
	if !bindJSON(c, &body) {
		return
	}
	resp, err := h.authSvc.Login(c.Request.Context(), body.Email, body.Password)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Refresh godoc
// POST /api/auth/refresh
// Any refresh failure is reported as an invalid token, whatever the cause.
func (h *UserHandler) Refresh(c *gin.Context) {
	var body refreshBody
	if !bindJSON(c, &body) {
		return
	}
	pair, err := h.authSvc.RefreshToken(c.Request.Context(), body.RefreshToken)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "ERR_INVALID_TOKEN", err.Error())
		return
	}
	respondSuccess(c, http.StatusOK, pair)
}

// Me godoc
// GET /api/me [JWT required]
func (h *UserHandler) Me(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := h.authSvc.GetUser(ctx, middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}

	out := gin.H{
		"profile":    user.ToPublicProfile(),
		"account_id": user.AccountID(),
	}
	if h.poolSvc != nil {
		pools, err := h.poolSvc.AccountPools(ctx, user.AccountID())
		if err != nil {
			respondDomainError(c, err)
			return
		}
		out["pools"] = pools
	}
	respondSuccess(c, http.StatusOK, out)
}
