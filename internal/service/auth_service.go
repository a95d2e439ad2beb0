package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evetabi/lendpool/internal/config"
	"github.com/evetabi/lendpool/internal/domain"
	"github.com/evetabi/lendpool/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Request / Response types
// ──────────────────────────────────────────────────────────────────────────────

// RegisterRequest contains the fields required to create a new user account.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// TokenPair is a signed access token and its refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Session is returned by Register and Login. AccountID is the id the user
// acts under in every pool.
type Session struct {
	TokenPair
	User      *domain.User `json:"user"`
	AccountID string       `json:"account_id"`
}

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	bcryptCost = 12
)

// ──────────────────────────────────────────────────────────────────────────────
// JWT claims
// ──────────────────────────────────────────────────────────────────────────────

// AppClaims extends jwt.RegisteredClaims with application-specific fields.
type AppClaims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"type"` // tokenTypeAccess or tokenTypeRefresh
}

// ──────────────────────────────────────────────────────────────────────────────
// AuthService
// ──────────────────────────────────────────────────────────────────────────────

// AuthService handles user registration, login, and JWT token operations.
type AuthService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

// NewAuthService creates an AuthService.
func NewAuthService(userRepo *repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{userRepo: userRepo, cfg: cfg}
}

// ──────────────────────────────────────────────────────────────────────────────
// Register
// ──────────────────────────────────────────────────────────────────────────────

// Register creates a regular user. The user id doubles as the pool account id.
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	user, err := s.CreateUser(ctx, req, domain.RoleUser)
	if err != nil {
		return nil, err
	}
	sess, err := s.newSession(user)
	if err != nil {
		return nil, fmt.Errorf("auth_service.Register: %w", err)
	}
	return sess, nil
}

// CreateUser inserts a user with the given role. Used by Register and by
// the operator CLI to bootstrap staff accounts.
func (s *AuthService) CreateUser(ctx context.Context, req RegisterRequest, role domain.UserRole) (*domain.User, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("auth_service.CreateUser: hash: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Username:     strings.TrimSpace(req.Username),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// User administration
// ──────────────────────────────────────────────────────────────────────────────

// GetUser returns a user by id.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return s.userRepo.GetByID(ctx, id)
}

// ListUsers returns a page of users plus the total count. An empty role
// lists every user.
func (s *AuthService) ListUsers(ctx context.Context, role domain.UserRole, limit, offset int) ([]*domain.User, int, error) {
	if role != "" && !role.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, role)
	}
	return s.userRepo.List(ctx, role, limit, offset)
}

// CountByRole returns the number of active users per role.
func (s *AuthService) CountByRole(ctx context.Context) (map[domain.UserRole]int, error) {
	return s.userRepo.CountByRole(ctx)
}

// UpdateRole changes a user's role.
func (s *AuthService) UpdateRole(ctx context.Context, id uuid.UUID, role domain.UserRole) error {
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", domain.ErrInvalidRequest, role)
	}
	return s.userRepo.UpdateRole(ctx, id, role)
}

// SetActive suspends or re-activates a user.
func (s *AuthService) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.userRepo.SetActive(ctx, id, active)
}

// ──────────────────────────────────────────────────────────────────────────────
// Login
// ──────────────────────────────────────────────────────────────────────────────

// Login validates credentials and returns a fresh token pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		// Map not-found to a generic credential error to prevent user enumeration.
		return nil, domain.ErrInvalidCredentials
	}

	if err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	sess, err := s.newSession(user)
	if err != nil {
		return nil, fmt.Errorf("auth_service.Login: %w", err)
	}
	return sess, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// RefreshToken
// ──────────────────────────────────────────────────────────────────────────────

// RefreshToken validates a refresh token and issues a new token pair. The
// role is re-read from the database, so role changes and suspensions take
// effect at the next refresh.
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.parseToken(refreshToken, s.refreshSecret(), tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return TokenPair{}, domain.ErrTokenInvalid
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return TokenPair{}, domain.ErrUserNotFound
	}
	if !user.IsActive {
		return TokenPair{}, domain.ErrUserInactive
	}

	pair, err := s.generateTokenPair(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth_service.RefreshToken: %w", err)
	}
	return pair, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Token helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *AuthService) newSession(user *domain.User) (*Session, error) {
	pair, err := s.generateTokenPair(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &Session{TokenPair: pair, User: user, AccountID: user.AccountID()}, nil
}

// generateTokenPair signs an access token (AccessTTL) carrying the role and
// a role-less refresh token (RefreshTTL).
func (s *AuthService) generateTokenPair(userID uuid.UUID, role domain.UserRole) (TokenPair, error) {
	now := time.Now().UTC()
	access, err := signToken(userID, string(role), tokenTypeAccess, now, s.cfg.JWT.AccessTTL, []byte(s.cfg.JWT.AccessSecret))
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := signToken(userID, "", tokenTypeRefresh, now, s.cfg.JWT.RefreshTTL, s.refreshSecret())
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func signToken(userID uuid.UUID, role, typ string, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      role,
		TokenType: typ,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

// refreshSecret falls back to the access secret when no dedicated refresh
// secret is configured.
func (s *AuthService) refreshSecret() []byte {
	if s.cfg.JWT.RefreshSecret != "" {
		return []byte(s.cfg.JWT.RefreshSecret)
	}
	return []byte(s.cfg.JWT.AccessSecret)
}

// parseToken validates the signature, algorithm, expiry and token type.
func (s *AuthService) parseToken(tokenString string, secret []byte, typ string) (*AppClaims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, domain.ErrTokenInvalid
	}
	claims, ok := tok.Claims.(*AppClaims)
	if !ok || claims.TokenType != typ {
		return nil, domain.ErrTokenInvalid
	}
	return claims, nil
}

// ParseAccessToken is exported for use by the JWT middleware.
func (s *AuthService) ParseAccessToken(tokenString string) (*AppClaims, error) {
	return s.parseToken(tokenString, []byte(s.cfg.JWT.AccessSecret), tokenTypeAccess)
}
