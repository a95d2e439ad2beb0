package domain

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// PriceDecimals is the only precision accepted from price feeders.
const PriceDecimals = 8

// Price is an oracle quote: value = multiplier / 10^decimals quote units per
// whole token unit scaled by the token's own decimals.
type Price struct {
	Multiplier *uint256.Int `json:"multiplier" db:"multiplier"`
	Decimals   uint8        `json:"decimals"   db:"decimals"`
}

// Clone returns a deep copy of p.
func (p Price) Clone() Price {
	return Price{Multiplier: orZero(p.Multiplier).Clone(), Decimals: p.Decimals}
}

// AssetPrice pairs an asset with an optional price. A nil Price means the
// feeder reported the asset without a quote.
type AssetPrice struct {
	AssetID string `json:"asset_id" db:"asset_id"`
	Price   *Price `json:"price"`
}

// PriceData is one snapshot pushed by a price feeder. Timestamp is unix
// nanoseconds; the snapshot is fresh while now < Timestamp + RecencyDurationSec.
type PriceData struct {
	Timestamp          int64        `json:"timestamp"`
	RecencyDurationSec uint32       `json:"recency_duration_sec"`
	Prices             []AssetPrice `json:"prices"`
}

// ExpiresAt returns the instant from which the snapshot is stale.
func (d *PriceData) ExpiresAt() time.Time {
	return time.Unix(0, d.Timestamp).Add(time.Duration(d.RecencyDurationSec) * time.Second)
}

// IsStale reports whether the snapshot is outside its recency window at now.
func (d *PriceData) IsStale(now time.Time) bool {
	return !now.Before(d.ExpiresAt())
}

// Validate checks every quoted price has the canonical decimals and a
// non-zero multiplier. Assets reported without a quote fail too.
func (d *PriceData) Validate() error {
	for _, ap := range d.Prices {
		if ap.AssetID == "" {
			return fmt.Errorf("%w: empty asset id", ErrInvalidPriceData)
		}
		if ap.Price == nil || ap.Price.Multiplier == nil {
			return fmt.Errorf("%w: %s has no price", ErrInvalidPriceData, ap.AssetID)
		}
		if ap.Price.Decimals != PriceDecimals || ap.Price.Multiplier.IsZero() {
			return fmt.Errorf("%w: %s must have decimals %d and a non-zero multiplier",
				ErrInvalidPriceData, ap.AssetID, PriceDecimals)
		}
		if err := fits(ap.Price.Multiplier); err != nil {
			return fmt.Errorf("%w: %s multiplier: %v", ErrInvalidPriceData, ap.AssetID, err)
		}
	}
	return nil
}

// Price returns the fresh price of asset at now.
func (d *PriceData) Price(asset string, now time.Time) (Price, error) {
	if d.IsStale(now) {
		return Price{}, fmt.Errorf("%w: data expired at %s", ErrStalePrice, d.ExpiresAt().UTC().Format(time.RFC3339))
	}
	for _, ap := range d.Prices {
		if ap.AssetID != asset {
			continue
		}
		if ap.Price == nil || ap.Price.Multiplier == nil {
			break
		}
		return ap.Price.Clone(), nil
	}
	return Price{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, asset)
}

// Valuation is everything an operation needs to value a pool's two tokens.
type Valuation struct {
	Lend            TokenInfo
	LendPrice       Price
	Collateral      TokenInfo
	CollateralPrice Price
}

// ValuationFor resolves a pool's token pair against fresh price data.
func ValuationFor(p *Pool, lend, collateral TokenInfo, data *PriceData, now time.Time) (Valuation, error) {
	if lend.TokenID != p.LendTokenID || collateral.TokenID != p.CollateralTokenID {
		return Valuation{}, fmt.Errorf("%w: token info does not match pool %d", ErrInvalidToken, p.ID)
	}
	lendPrice, err := data.Price(p.LendTokenID, now)
	if err != nil {
		return Valuation{}, err
	}
	collPrice, err := data.Price(p.CollateralTokenID, now)
	if err != nil {
		return Valuation{}, err
	}
	return Valuation{
		Lend:            lend,
		LendPrice:       lendPrice,
		Collateral:      collateral,
		CollateralPrice: collPrice,
	}, nil
}
