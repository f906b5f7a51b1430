package pricing

import (
	"StockMesh/internal/event"

	"github.com/shopspring/decimal"
)

// MatchAggregatorSnapshot is the point-in-time state of one symbol's match
// aggregator: the averages, the recent update buffers, and the offset of the
// last-consumed position in the tagged Match stream. Persisting QueryOffset
// is what makes consumption resumable (at-least-once, in stream order).
type MatchAggregatorSnapshot struct {
	TickerSymbol        string                `json:"ticker_symbol"`
	QueryOffset         int64                 `json:"query_offset"`
	AvgPrice            decimal.Decimal       `json:"avg_price"`
	AvgVolume           float64               `json:"avg_volume"`
	RecentPriceUpdates  []event.PriceChanged  `json:"recent_price_updates,omitempty"`
	RecentVolumeUpdates []event.VolumeChanged `json:"recent_volume_updates,omitempty"`
}

// StockID returns the snapshot's ticker symbol.
func (s MatchAggregatorSnapshot) StockID() string { return s.TickerSymbol }

// RestoreAggregate rebuilds a MatchAggregate from snapshot state. The EWMA
// restarts seeded at the saved averages.
func (s MatchAggregatorSnapshot) RestoreAggregate() *MatchAggregate {
	return NewMatchAggregate(s.TickerSymbol, s.AvgPrice, s.AvgVolume, DefaultSampleSize)
}
