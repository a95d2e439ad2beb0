package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"github.com/evetabi/lendpool/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}

// bindJSON decodes the request body into v and writes a validation error
// when it fails.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return false
	}
	return true
}

// respondDomainError maps a service error onto the error envelope.
// Engine rejections become 422 with a code naming the rejection kind.
func respondDomainError(c *gin.Context, err error) {
	status, code, msg := ClassifyError(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	respondError(c, status, code, msg)
}

// ClassifyError returns the HTTP status, error code and client message for err.
// Shared with the back-office handlers.
func ClassifyError(err error) (status int, code, msg string) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, "ERR_VALIDATION", err.Error()
	case domain.IsNotFound(err):
		return http.StatusNotFound, "ERR_NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict, "ERR_EMAIL_TAKEN", err.Error()
	case errors.Is(err, domain.ErrUsernameTaken):
		return http.StatusConflict, "ERR_USERNAME_TAKEN", err.Error()
	case domain.IsConflict(err):
		return http.StatusConflict, "ERR_CONFLICT", err.Error()
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrUserInactive):
		return http.StatusForbidden, "ERR_FORBIDDEN", err.Error()
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "ERR_INVALID_CREDENTIALS", err.Error()
	case domain.IsAuthError(err):
		return http.StatusUnauthorized, "ERR_UNAUTHORIZED", err.Error()
	case domain.IsRejection(err):
		return http.StatusUnprocessableEntity, "ERR_" + strings.ToUpper(domain.RejectionKind(err)), err.Error()
	}
	return http.StatusInternalServerError, "ERR_INTERNAL", "internal error"
}

// ──────────────────────────────────────────────────────────────────────────────
// Request parsing helpers
// ──────────────────────────────────────────────────────────────────────────────

// parsePagination reads page/limit query params with sane defaults.
func parsePagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return
}

// parsePoolID reads the :id path parameter. Pool ids start at zero.
func parsePoolID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 0 {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_POOL_ID", "pool id must be a non-negative integer")
		return 0, false
	}
	return id, true
}

// parseAmount parses a base-10 amount in the token's smallest unit.
func parseAmount(c *gin.Context, s string) (*uint256.Int, bool) {
	v, err := domain.ParseAmount(strings.TrimSpace(s))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a base-10 integer in the token's smallest unit")
		return nil, false
	}
	return v, true
}
