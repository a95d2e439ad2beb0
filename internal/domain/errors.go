package domain

import (
	"errors"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Engine rejections. Every one of these aborts the whole operation; callers
// receive them wrapped with the violated bound and the values involved.
var (
	// ErrBelowMinimum is returned when a deposit or borrow is under the pool's
	// configured floor.
	ErrBelowMinimum = errors.New("amount is below the pool minimum")

	// ErrInsufficientBalance is returned when a withdrawal or repayment exceeds
	// what the account holds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrCollateralRatioViolation is returned when a borrow or collateral
	// withdrawal would leave the account under the minimum collateral ratio.
	ErrCollateralRatioViolation = errors.New("collateral ratio below pool minimum")

	// ErrUtilizationExceeded is returned when total borrow would exceed the
	// pool's max utilization of lend deposits.
	ErrUtilizationExceeded = errors.New("pool utilization cap exceeded")

	// ErrInvalidToken is returned when a token is neither the pool's lend token
	// nor its collateral token.
	ErrInvalidToken = errors.New("token is not configured for this pool")

	// ErrLiquidationNotEligible is returned when the target account is healthy,
	// or the liquidator itself carries debt in the pool.
	ErrLiquidationNotEligible = errors.New("account is not eligible for liquidation")

	// ErrLiquidationOvercorrected is returned when a liquidation would leave the
	// target above the minimum ratio while debt remains.
	ErrLiquidationOvercorrected = errors.New("liquidation overcorrects the position")

	// ErrStalePrice is returned when oracle data is outside its recency window.
	ErrStalePrice = errors.New("oracle price is stale")

	// ErrArithmeticOverflow is returned when a fixed-point result exceeds the
	// representable range (including division by zero).
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrArithmeticUnderflow is returned when a subtraction would go negative.
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
)

// Pool / token / oracle errors
var (
	// ErrPoolNotFound is returned when no pool matches the given id.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrAccountNotFound is returned when an account has no position in a pool.
	ErrAccountNotFound = errors.New("account not registered in pool")

	// ErrInvalidPoolParams is returned when pool creation parameters are out of range.
	ErrInvalidPoolParams = errors.New("invalid pool parameters")

	// ErrTokenNotSupported is returned when a pool is created for an unknown token.
	ErrTokenNotSupported = errors.New("token is not supported")

	// ErrPriceUnavailable is returned when the oracle has no price for an asset.
	ErrPriceUnavailable = errors.New("price unavailable for asset")

	// ErrInvalidPriceData is returned when pushed price data fails validation.
	ErrInvalidPriceData = errors.New("invalid price data")

	// ErrUnknownSchemaVersion is returned when a persisted record carries a
	// schema version this build cannot upgrade.
	ErrUnknownSchemaVersion = errors.New("unknown record schema version")
)

// ErrInvalidRequest is returned for malformed input that never reached the
// engine: bad ids, unknown filters, limits out of range.
var ErrInvalidRequest = errors.New("invalid request")

// Transfer errors
var (
	// ErrTransferNotFound is returned when no outbound transfer matches the id.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrTransferSettled is returned when a retry or compensation targets a
	// transfer that is already sent or compensated.
	ErrTransferSettled = errors.New("transfer is already settled")

	// ErrIdempotencyKeyReused is returned when an inbound transfer repeats a
	// known idempotency key with a different payload.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different transfer")
)

// User errors
var (
	// ErrUserNotFound is returned when no user matches the given criteria.
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned on registration when the email already exists.
	ErrEmailTaken = errors.New("email address is already registered")

	// ErrUsernameTaken is returned on registration when the username already exists.
	ErrUsernameTaken = errors.New("username is already taken")

	// ErrInvalidCredentials is returned when login credentials are wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserInactive is returned when a suspended/banned user attempts an action.
	ErrUserInactive = errors.New("user account is inactive")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the authenticated user lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT or refresh token has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")
)

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrPoolNotFound,
	ErrAccountNotFound,
	ErrUserNotFound,
	ErrTransferNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors. Use this instead of comparing error values directly
// when you need to translate domain errors to HTTP 404 responses.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict (e.g.
// duplicate registration or a transfer that is already settled).
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrEmailTaken,
		ErrUsernameTaken,
		ErrTransferSettled,
		ErrIdempotencyKeyReused,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// rejectionErrors are the engine's taxonomy kinds. They describe a request the
// ledger refused, never an infrastructure fault.
var rejectionErrors = []error{
	ErrBelowMinimum,
	ErrInsufficientBalance,
	ErrCollateralRatioViolation,
	ErrUtilizationExceeded,
	ErrInvalidToken,
	ErrLiquidationNotEligible,
	ErrLiquidationOvercorrected,
	ErrStalePrice,
	ErrArithmeticOverflow,
	ErrArithmeticUnderflow,
	ErrPriceUnavailable,
	ErrInvalidPriceData,
	ErrInvalidPoolParams,
	ErrTokenNotSupported,
}

// IsRejection returns true when err is one of the engine's rejection kinds.
func IsRejection(err error) bool {
	for _, target := range rejectionErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RejectionKind returns a short stable name for the rejection in err's chain,
// or "" when err is not a rejection. Used for metric labels.
func RejectionKind(err error) string {
	switch {
	case errors.Is(err, ErrBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrCollateralRatioViolation):
		return "collateral_ratio"
	case errors.Is(err, ErrUtilizationExceeded):
		return "utilization"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrLiquidationNotEligible):
		return "liquidation_not_eligible"
	case errors.Is(err, ErrLiquidationOvercorrected):
		return "liquidation_overcorrected"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, ErrArithmeticUnderflow):
		return "underflow"
	case IsRejection(err):
		return "invalid_request"
	}
	return ""
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidCredentials,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
