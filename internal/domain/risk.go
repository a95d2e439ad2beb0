package domain

import "time"

// RiskLevel classifies a borrowing position by its collateral ratio.
type RiskLevel string

const (
	RiskLiquidatable RiskLevel = "liquidatable" // ratio below the pool minimum
	RiskWarning      RiskLevel = "warning"      // within the warning margin above it
)

// RiskAlert describes one position found by the risk scan.
type RiskAlert struct {
	PoolID    int64     `json:"pool_id"`
	AccountID string    `json:"account_id"`
	Level     RiskLevel `json:"level"`
	CR        uint64    `json:"current_cr"`
	MinCR     uint64    `json:"min_cr"`
	Debt      string    `json:"debt"`
	ScannedAt time.Time `json:"scanned_at"`
}

// ClassifyRisk returns the level of a position with ratio cr, or "" when the
// position is healthy. margin is in ratio points scaled by 10000.
func ClassifyRisk(cr, minCR, margin uint64) RiskLevel {
	if cr < minCR {
		return RiskLiquidatable
	}
	if cr-minCR < margin {
		return RiskWarning
	}
	return ""
}
