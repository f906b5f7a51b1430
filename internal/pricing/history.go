package pricing

import (
	"fmt"
	"sort"
	"time"

	"StockMesh/internal/event"

	"github.com/shopspring/decimal"
)

// PriceHistory is the ordered-by-timestamp set of price updates held by a
// replicated price view. Values are immutable: WithPrice and Prune return
// new histories.
type PriceHistory struct {
	stockID string
	updates []event.PriceChanged
}

// NewPriceHistory builds a history from updates, sorting them by timestamp.
func NewPriceHistory(stockID string, updates []event.PriceChanged) PriceHistory {
	sorted := make([]event.PriceChanged, len(updates))
	copy(sorted, updates)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return PriceHistory{stockID: stockID, updates: sorted}
}

func (h PriceHistory) StockID() string { return h.stockID }

// Len reports the number of retained updates.
func (h PriceHistory) Len() int { return len(h.updates) }

// Updates returns the retained updates in timestamp order.
func (h PriceHistory) Updates() []event.PriceChanged { return h.updates }

// From is the timestamp of the oldest retained update.
func (h PriceHistory) From() time.Time {
	if len(h.updates) == 0 {
		return time.Time{}
	}
	return h.updates[0].Timestamp
}

// Until is the timestamp of the newest retained update.
func (h PriceHistory) Until() time.Time {
	if len(h.updates) == 0 {
		return time.Time{}
	}
	return h.updates[len(h.updates)-1].Timestamp
}

// Range is the time span covered by the retained updates.
func (h PriceHistory) Range() time.Duration {
	return h.Until().Sub(h.From())
}

// CurrentPrice is the most recent average price, zero when empty.
func (h PriceHistory) CurrentPrice() decimal.Decimal {
	if len(h.updates) == 0 {
		return decimal.Zero
	}
	return h.updates[len(h.updates)-1].CurrentAvgPrice
}

// LatestUpdate returns the most recent update, or false when empty.
func (h PriceHistory) LatestUpdate() (event.PriceChanged, bool) {
	if len(h.updates) == 0 {
		return event.PriceChanged{}, false
	}
	return h.updates[len(h.updates)-1], true
}

// WithPrice appends an update. An update for a different symbol is an
// upstream routing error.
func (h PriceHistory) WithPrice(update event.PriceChanged) (PriceHistory, error) {
	if update.Symbol != h.stockID {
		return PriceHistory{}, fmt.Errorf("expected ticker symbol %s but found %s", h.stockID, update.Symbol)
	}

	updates := make([]event.PriceChanged, len(h.updates), len(h.updates)+1)
	copy(updates, h.updates)
	updates = append(updates, update)
	// Live updates arrive in timestamp order; re-sort anyway so an
	// out-of-order append cannot corrupt From/Until.
	sort.Slice(updates, func(i, j int) bool {
		return updates[i].Timestamp.Before(updates[j].Timestamp)
	})
	return PriceHistory{stockID: h.stockID, updates: updates}, nil
}

// Prune drops exactly the entries older than the cutoff, preserving order
// among the survivors.
func (h PriceHistory) Prune(cutoff time.Time) PriceHistory {
	kept := make([]event.PriceChanged, 0, len(h.updates))
	for _, u := range h.updates {
		if !u.Timestamp.Before(cutoff) {
			kept = append(kept, u)
		}
	}
	return PriceHistory{stockID: h.stockID, updates: kept}
}
