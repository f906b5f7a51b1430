package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceChanged carries the latest moving average price for one symbol.
type PriceChanged struct {
	Symbol          string          `json:"stock_id"`
	CurrentAvgPrice decimal.Decimal `json:"current_avg_price"`
	Timestamp       time.Time       `json:"timestamp"`
}

func (p PriceChanged) StockID() string { return p.Symbol }

// VolumeChanged carries the latest moving average volume for one symbol.
type VolumeChanged struct {
	Symbol        string    `json:"stock_id"`
	CurrentVolume float64   `json:"current_volume"`
	Timestamp     time.Time `json:"timestamp"`
}

func (v VolumeChanged) StockID() string { return v.Symbol }

// PriceAndVolumeSnapshot is the response to a FetchPriceAndVolume query:
// the aggregator's recent price and volume updates. An empty snapshot is the
// explicit "no data yet" answer, not an error.
type PriceAndVolumeSnapshot struct {
	Symbol        string          `json:"stock_id"`
	PriceUpdates  []PriceChanged  `json:"price_updates"`
	VolumeUpdates []VolumeChanged `json:"volume_updates"`
}

func (s PriceAndVolumeSnapshot) StockID() string { return s.Symbol }

// Empty reports whether the snapshot carries no pricing data.
func (s PriceAndVolumeSnapshot) Empty() bool {
	return len(s.PriceUpdates) == 0 || len(s.VolumeUpdates) == 0
}

// EmptySnapshot is the explicit no-data-yet response for a symbol.
func EmptySnapshot(stockID string) PriceAndVolumeSnapshot {
	return PriceAndVolumeSnapshot{Symbol: stockID}
}
