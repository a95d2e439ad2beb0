// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/lendpool/internal/domain"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePoolUpdate     MsgType = "pool_update"
	MsgTypeLiquidation    MsgType = "liquidation"
	MsgTypePriceUpdate    MsgType = "price_update"
	MsgTypeRiskAlert      MsgType = "risk_alert"
	MsgTypeTransferStatus MsgType = "transfer_status"
	MsgTypeError          MsgType = "error"
)

// ──────────────────────────────────────────────────────────────────────────────
// PoolUpdateMessage — after every committed ledger operation.
// ──────────────────────────────────────────────────────────────────────────────

// PoolUpdateMessage carries the pool's aggregates after operation Op.
type PoolUpdateMessage struct {
	Type      MsgType         `json:"type"`
	Op        string          `json:"op"`
	Pool      domain.PoolInfo `json:"pool"`
	Timestamp time.Time       `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// LiquidationMessage
// ──────────────────────────────────────────────────────────────────────────────

// LiquidationMessage carries the full liquidation record.
type LiquidationMessage struct {
	Type        MsgType             `json:"type"`
	Liquidation *domain.Liquidation `json:"liquidation"`
	Timestamp   time.Time           `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceUpdateMessage — after a push or a pull refresh.
// ──────────────────────────────────────────────────────────────────────────────

// PriceQuote is one asset of a PriceUpdateMessage. Value is the multiplier
// scaled down by its decimals for display.
type PriceQuote struct {
	AssetID    string          `json:"asset_id"`
	Multiplier *uint256.Int    `json:"multiplier"`
	Decimals   uint8           `json:"decimals"`
	Value      decimal.Decimal `json:"value"`
}

// PriceUpdateMessage announces a new oracle snapshot.
type PriceUpdateMessage struct {
	Type               MsgType      `json:"type"`
	DataTimestamp      int64        `json:"data_timestamp"`
	RecencyDurationSec uint32       `json:"recency_duration_sec"`
	ExpiresAt          time.Time    `json:"expires_at"`
	Prices             []PriceQuote `json:"prices"`
	Timestamp          time.Time    `json:"timestamp"`
}

// NewPriceUpdateMessage builds the message for snapshot d.
func NewPriceUpdateMessage(d *domain.PriceData) PriceUpdateMessage {
	msg := PriceUpdateMessage{
		Type:               MsgTypePriceUpdate,
		DataTimestamp:      d.Timestamp,
		RecencyDurationSec: d.RecencyDurationSec,
		ExpiresAt:          d.ExpiresAt().UTC(),
		Prices:             make([]PriceQuote, 0, len(d.Prices)),
		Timestamp:          time.Now().UTC(),
	}
	for _, ap := range d.Prices {
		if ap.Price == nil || ap.Price.Multiplier == nil {
			continue
		}
		msg.Prices = append(msg.Prices, PriceQuote{
			AssetID:    ap.AssetID,
			Multiplier: ap.Price.Multiplier,
			Decimals:   ap.Price.Decimals,
			Value:      domain.FormatUnits(ap.Price.Multiplier, ap.Price.Decimals),
		})
	}
	return msg
}

// ──────────────────────────────────────────────────────────────────────────────
// RiskAlertMessage — from the risk scan.
// ──────────────────────────────────────────────────────────────────────────────

// RiskAlertMessage flags a position at or near liquidation.
type RiskAlertMessage struct {
	Type MsgType `json:"type"`
	domain.RiskAlert
}

// ──────────────────────────────────────────────────────────────────────────────
// TransferStatusMessage — sent to the receiver only.
// ──────────────────────────────────────────────────────────────────────────────

// TransferStatusMessage reports an outbound transfer's new status.
type TransferStatusMessage struct {
	Type       MsgType               `json:"type"`
	TransferID uuid.UUID             `json:"transfer_id"`
	PoolID     int64                 `json:"pool_id"`
	TokenID    string                `json:"token_id"`
	Amount     *uint256.Int          `json:"amount"`
	Status     domain.TransferStatus `json:"status"`
	Attempts   int                   `json:"attempts"`
	Timestamp  time.Time             `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ErrorMessage — sent to a single client on a non-fatal error.
// ──────────────────────────────────────────────────────────────────────────────

// ErrorMessage is sent directly to one client (not broadcast).
type ErrorMessage struct {
	Type    MsgType `json:"type"`
	Code    string  `json:"code"`
	Message string  `json:"message"`
}
