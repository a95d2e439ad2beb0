package domain

import "time"

// DefaultTokenDecimals is reported for tokens the registry does not know.
const DefaultTokenDecimals uint8 = 18

// TokenInfo is a supported fungible token and its on-ledger precision.
type TokenInfo struct {
	TokenID   string    `json:"token_id"   db:"token_id"   yaml:"token_id"`
	Decimals  uint8     `json:"decimals"   db:"decimals"   yaml:"decimals"`
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"-"`
}

// UnknownToken returns the fallback info used for unsupported tokens.
func UnknownToken(tokenID string) TokenInfo {
	return TokenInfo{TokenID: tokenID, Decimals: DefaultTokenDecimals}
}
