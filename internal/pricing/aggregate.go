package pricing

import (
	"StockMesh/internal/clock"
	"StockMesh/internal/event"

	"github.com/shopspring/decimal"
)

// MatchAggregate folds Match events for one ticker symbol into moving price
// and volume averages.
type MatchAggregate struct {
	TickerSymbol string
	AvgPrice     DecimalEWMA
	AvgVolume    EWMA
}

// NewMatchAggregate seeds both averages at the given initial readings.
func NewMatchAggregate(tickerSymbol string, initialPrice decimal.Decimal, initialVolume float64, sampleSize int) *MatchAggregate {
	return &MatchAggregate{
		TickerSymbol: tickerSymbol,
		AvgPrice:     NewDecimalEWMA(sampleSize, initialPrice),
		AvgVolume:    NewEWMA(sampleSize, initialVolume),
	}
}

// WithMatch feeds one matched trade into the averages. A match for a foreign
// symbol is rejected with false: it means upstream routing is broken.
func (a *MatchAggregate) WithMatch(m event.Match) bool {
	if m.Symbol != a.TickerSymbol {
		return false
	}

	a.AvgVolume = a.AvgVolume.Next(m.Quantity)
	a.AvgPrice = a.AvgPrice.Next(m.SettlementPrice)
	return true
}

// Metrics samples the current price and volume averages as publishable
// update events. Sampling happens on a fixed clock tick, not per match —
// per-match publication would be hopelessly noisy.
func (a *MatchAggregate) Metrics(clk clock.Clock) (event.PriceChanged, event.VolumeChanged) {
	now := clk.Now()
	return event.PriceChanged{
			Symbol:          a.TickerSymbol,
			CurrentAvgPrice: a.AvgPrice.CurrentAvg,
			Timestamp:       now,
		}, event.VolumeChanged{
			Symbol:        a.TickerSymbol,
			CurrentVolume: a.AvgVolume.CurrentAvg,
			Timestamp:     now,
		}
}
