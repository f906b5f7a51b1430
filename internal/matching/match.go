package matching

import (
	"time"

	"StockMesh/internal/event"

	"github.com/shopspring/decimal"
)

// HasMatches walks the opposite side's sorted price index in stored order,
// collecting crossing orders greedily until their cumulative remaining
// quantity covers the incoming order's remaining quantity. Candidates are
// returned in iteration order; ties at one price resolve to whatever order
// the index holds them in.
func HasMatches(order event.Order, opposite []event.Order) (bool, []event.Order) {
	remaining := order.RemainingQuantity()

	var matched []event.Order
	var accumulated float64

	for _, candidate := range opposite {
		if !crosses(order, candidate) {
			continue
		}

		matched = append(matched, candidate)
		accumulated += candidate.RemainingQuantity()
		if accumulated >= remaining {
			break
		}
	}

	return len(matched) > 0, matched
}

// crosses reports whether an opposite-side order can trade against the
// incoming one: a sell matches any bid at or above its price, a buy matches
// any ask at or below its price.
func crosses(incoming, opposite event.Order) bool {
	if incoming.Side == event.SideSell {
		return opposite.Price.GreaterThanOrEqual(incoming.Price)
	}
	return opposite.Price.LessThanOrEqual(incoming.Price)
}

// FillOrders produces the fill pair for one matched quantity at the
// settlement price. Each side's Partial flag reflects whether that order
// still has remaining quantity after this fill is applied.
func FillOrders(buy, sell event.Order, quantity float64, price decimal.Decimal, timestamp time.Time) (bidFill, askFill event.Fill) {
	bidFill = event.Fill{
		OrderID:    buy.OrderID,
		Symbol:     buy.Symbol,
		Quantity:   quantity,
		Price:      price,
		FilledByID: sell.OrderID,
		Timestamp:  timestamp,
		Partial:    buy.RemainingQuantity()-quantity > event.Epsilon,
	}
	askFill = event.Fill{
		OrderID:    sell.OrderID,
		Symbol:     sell.Symbol,
		Quantity:   quantity,
		Price:      price,
		FilledByID: buy.OrderID,
		Timestamp:  timestamp,
		Partial:    sell.RemainingQuantity()-quantity > event.Epsilon,
	}
	return bidFill, askFill
}
