package middleware

import (
	"net/http"
	"strings"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxUserID = "userID"
	CtxRole   = "role"
)

// TokenParser validates access tokens. Implemented by service.AuthService.
type TokenParser interface {
	ParseAccessToken(token string) (*service.AppClaims, error)
}

func abortAuth(c *gin.Context, status int, err error) {
	code := "ERR_UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "ERR_FORBIDDEN"
	}
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
		"code":    code,
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores userID (uuid.UUID) and role (domain.UserRole) in the
// gin context.
func JWTMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			abortAuth(c, http.StatusUnauthorized, domain.ErrUnauthorized)
			return
		}

		claims, err := auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, domain.ErrTokenInvalid)
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			abortAuth(c, http.StatusUnauthorized, domain.ErrTokenInvalid)
			return
		}

		c.Set(CtxUserID, userID)
		c.Set(CtxRole, domain.UserRole(claims.Role))
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated user has one of the allowed roles.
// Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...domain.UserRole) gin.HandlerFunc {
	allowed := make(map[domain.UserRole]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			abortAuth(c, http.StatusForbidden, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// BackofficeMiddleware allows only staff roles to access the route.
// Must be placed after JWTMiddleware in the chain.
func BackofficeMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetRole(c).CanAccessBackoffice() {
			abortAuth(c, http.StatusForbidden, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

// AdminMiddleware allows only the admin role.
func AdminMiddleware() gin.HandlerFunc {
	return RoleMiddleware(domain.RoleAdmin)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers — extract identity from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetUserID retrieves the authenticated user's UUID from the gin context.
// Returns uuid.Nil if the middleware was not applied or the value is missing.
func GetUserID(c *gin.Context) uuid.UUID {
	v, exists := c.Get(CtxUserID)
	if !exists {
		return uuid.Nil
	}
	id, _ := v.(uuid.UUID)
	return id
}

// GetAccountID returns the pool account id of the authenticated user, or ""
// when unauthenticated.
func GetAccountID(c *gin.Context) string {
	id := GetUserID(c)
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// GetRole retrieves the authenticated user's role from the gin context.
func GetRole(c *gin.Context) domain.UserRole {
	v, _ := c.Get(CtxRole)
	r, _ := v.(domain.UserRole)
	return r
}
