package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot represents one successfully fetched upstream price for a pair
type PriceSnapshot struct {
	PairAddress    string          `json:"pair_address"`
	PriceUsd       decimal.Decimal `json:"price_usd"`
	PriceChange24h float64         `json:"price_change_24h"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// TrendingPair represents one entry of the upstream batch/trending response
type TrendingPair struct {
	PairAddress    string  `json:"pairAddress"`
	BaseSymbol     string  `json:"baseSymbol"`
	BaseName       string  `json:"baseName,omitempty"`
	PriceUsd       string  `json:"priceUsd"`
	PriceChange24h float64 `json:"priceChange24h"`
	Volume24h      float64 `json:"volume24h"`
	LiquidityUsd   float64 `json:"liquidityUsd"`
}

// ChangeDirection classifies a price movement between two observations
type ChangeDirection string

const (
	ChangeIncrease  ChangeDirection = "increase"
	ChangeDecrease  ChangeDirection = "decrease"
	ChangeUnchanged ChangeDirection = "unchanged"
)

// Classify compares a new price against the previous one. A nil previous
// price is a first observation and reports unchanged.
func Classify(prev *decimal.Decimal, next decimal.Decimal) ChangeDirection {
	if prev == nil {
		return ChangeUnchanged
	}
	switch next.Cmp(*prev) {
	case 1:
		return ChangeIncrease
	case -1:
		return ChangeDecrease
	default:
		return ChangeUnchanged
	}
}

// PriceUpdate is the event the registry posts to each subscribed client's
// channel when a pair's price actually changed
type PriceUpdate struct {
	Identifier     string          `json:"identifier"`
	PriceUsd       string          `json:"priceUsd"`
	PriceChange24h float64         `json:"priceChange24h"`
	Timestamp      int64           `json:"timestamp"`
	Change         ChangeDirection `json:"change"`
}
