package domain

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// UserRole
// ──────────────────────────────────────────────────────────────────────────────

// UserRole controls access levels in the API and the back-office.
type UserRole string

const (
	RoleUser        UserRole = "user"         // lender / borrower / liquidator
	RoleAdmin       UserRole = "admin"        // full back-office access
	RoleRisk        UserRole = "risk"         // risk monitoring and liquidation views
	RoleOps         UserRole = "ops"          // token registry and outbox operations
	RolePriceFeeder UserRole = "price_feeder" // may push oracle price data
	RoleReadOnly    UserRole = "readonly"     // read-only back-office access

	// RoleTokenReceiver is the token gateway's service account. It reports
	// tokens that arrived on chain and is the only way a deposit is credited.
	RoleTokenReceiver UserRole = "token_receiver"
)

// IsValid reports whether r is a known role.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleRisk, RoleOps, RolePriceFeeder, RoleReadOnly, RoleTokenReceiver:
		return true
	}
	return false
}

// CanAccessBackoffice returns true for staff roles.
func (r UserRole) CanAccessBackoffice() bool {
	switch r {
	case RoleAdmin, RoleRisk, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// CanCreditDeposits returns true only for the token gateway account.
func (r UserRole) CanCreditDeposits() bool {
	return r == RoleTokenReceiver
}

// CanPushPrices returns true for roles allowed to publish oracle data.
func (r UserRole) CanPushPrices() bool {
	return r == RolePriceFeeder || r == RoleAdmin
}

// IsAdmin returns true only for the full admin role.
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin
}

// ──────────────────────────────────────────────────────────────────────────────
// User
// ──────────────────────────────────────────────────────────────────────────────

// User is the domain entity for registered accounts. The string form of ID
// is the account id used inside pools.
type User struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	Username     string    `json:"username"   db:"username"`
	PasswordHash string    `json:"-"          db:"password_hash"` // never serialised
	Role         UserRole  `json:"role"       db:"role"`
	IsActive     bool      `json:"is_active"  db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AccountID returns the pool account id of the user.
func (u *User) AccountID() string { return u.ID.String() }

// PublicProfile returns a user view safe to expose via API (no password hash).
type PublicProfile struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// ToPublicProfile converts a User to its public-safe representation.
func (u *User) ToPublicProfile() PublicProfile {
	return PublicProfile{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      u.Role,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}
