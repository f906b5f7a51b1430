package matching

import (
	"fmt"
	"sort"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"

	"github.com/rs/zerolog"
)

// MatchingEngine pairs buy and sell orders for a single ticker symbol.
//
// It is a single-threaded processor: ownership of an engine instance belongs
// to exactly one book worker at a time, and no internal locking is performed.
// Both price indices are rebuilt in full after every mutating call rather
// than maintained incrementally — acceptable at the book depths this system
// runs at, not a scalability target.
type MatchingEngine struct {
	stockID string

	bids map[string]event.Order
	asks map[string]event.Order

	// Derived sorted views of the maps above. asksByPrice is ordered by
	// descending price, bidsByPrice by ascending price; candidate search
	// walks them in stored order.
	asksByPrice []event.Order
	bidsByPrice []event.Order

	clk clock.Clock
	log zerolog.Logger
}

func NewMatchingEngine(stockID string, clk clock.Clock, log zerolog.Logger) *MatchingEngine {
	return &MatchingEngine{
		stockID: stockID,
		bids:    make(map[string]event.Order),
		asks:    make(map[string]event.Order),
		clk:     clk,
		log:     log.With().Str("stock_id", stockID).Logger(),
	}
}

// FromSnapshot reconstructs an engine from a flat order book snapshot.
func FromSnapshot(snap event.OrderbookSnapshot, clk clock.Clock, log zerolog.Logger) *MatchingEngine {
	e := NewMatchingEngine(snap.Symbol, clk, log)
	for _, o := range snap.Asks {
		e.asks[o.OrderID] = o
	}
	for _, o := range snap.Bids {
		e.bids[o.OrderID] = o
	}
	e.rebuildAskIndex()
	e.rebuildBidIndex()
	return e
}

func (e *MatchingEngine) StockID() string { return e.stockID }

// AskOrderCount and BidOrderCount report open orders per side.
func (e *MatchingEngine) AskOrderCount() int { return len(e.asks) }
func (e *MatchingEngine) BidOrderCount() int { return len(e.bids) }

// AskOrder looks up an open ask-side order by id.
func (e *MatchingEngine) AskOrder(orderID string) (event.Order, bool) {
	o, ok := e.asks[orderID]
	return o, ok
}

// BidOrder looks up an open bid-side order by id.
func (e *MatchingEngine) BidOrder(orderID string) (event.Order, bool) {
	o, ok := e.bids[orderID]
	return o, ok
}

// AsksByPrice returns the ask-side price index, highest price first.
func (e *MatchingEngine) AsksByPrice() []event.Order { return e.asksByPrice }

// BidsByPrice returns the bid-side price index, lowest price first.
func (e *MatchingEngine) BidsByPrice() []event.Order { return e.bidsByPrice }

// WithAsk processes an incoming sell-side order. A duplicate order id is a
// recoverable condition: it logs a warning and produces no events.
func (e *MatchingEngine) WithAsk(ask event.Ask) ([]event.TradeEvent, error) {
	if _, ok := e.asks[ask.OrderID]; ok {
		e.log.Warn().Str("order_id", ask.OrderID).Msg("duplicate ask order id, ignoring")
		return nil, nil
	}
	return e.processOrder(ask.ToOrder())
}

// WithBid processes an incoming buy-side order, symmetric to WithAsk.
func (e *MatchingEngine) WithBid(bid event.Bid) ([]event.TradeEvent, error) {
	if _, ok := e.bids[bid.OrderID]; ok {
		e.log.Warn().Str("order_id", bid.OrderID).Msg("duplicate bid order id, ignoring")
		return nil, nil
	}
	return e.processOrder(bid.ToOrder())
}

func (e *MatchingEngine) processOrder(incoming event.Order) ([]event.TradeEvent, error) {
	opposite := e.bidsByPrice
	if incoming.Side == event.SideBuy {
		opposite = e.asksByPrice
	}

	found, candidates := HasMatches(incoming, opposite)
	if !found {
		e.insertOrder(incoming)
		return nil, nil
	}

	events := make([]event.TradeEvent, 0, len(candidates)*3)

	for _, resting := range candidates {
		if incoming.Completed() {
			break
		}

		quantity := incoming.RemainingQuantity()
		if r := resting.RemainingQuantity(); r < quantity {
			quantity = r
		}

		// Settlement always happens at the price of the order that was
		// already resting in the book.
		settlement := resting.Price
		now := e.clk.Now()

		buy, sell := incoming, resting
		if incoming.Side == event.SideSell {
			buy, sell = resting, incoming
		}

		bidFill, askFill := FillOrders(buy, sell, quantity, settlement, now)

		var err error
		if incoming, err = applyFill(incoming, bidFill, askFill); err != nil {
			return nil, fmt.Errorf("fill incoming order: %w", err)
		}
		if resting, err = applyFill(resting, bidFill, askFill); err != nil {
			return nil, fmt.Errorf("fill resting order: %w", err)
		}

		e.updateResting(resting)

		events = append(events, askFill, bidFill, event.Match{
			Symbol:          e.stockID,
			BuyOrderID:      buy.OrderID,
			SellOrderID:     sell.OrderID,
			SettlementPrice: settlement,
			Quantity:        quantity,
			Timestamp:       now,
		})
	}

	// One rebuild of the opposite side after all matches, not per match.
	if incoming.Side == event.SideBuy {
		e.rebuildAskIndex()
	} else {
		e.rebuildBidIndex()
	}

	if !incoming.Completed() {
		e.insertOrder(incoming)
	}

	return events, nil
}

func applyFill(o event.Order, bidFill, askFill event.Fill) (event.Order, error) {
	if o.Side == event.SideBuy {
		return o.WithFill(bidFill)
	}
	return o.WithFill(askFill)
}

// insertOrder places an order into its own book and rebuilds that side's
// price index.
func (e *MatchingEngine) insertOrder(o event.Order) {
	if o.Side == event.SideBuy {
		e.bids[o.OrderID] = o
		e.rebuildBidIndex()
		return
	}
	e.asks[o.OrderID] = o
	e.rebuildAskIndex()
}

// updateResting rewrites a resting order in its book, removing it once
// completely filled.
func (e *MatchingEngine) updateResting(o event.Order) {
	book := e.asks
	if o.Side == event.SideBuy {
		book = e.bids
	}
	if o.Completed() {
		delete(book, o.OrderID)
		return
	}
	book[o.OrderID] = o
}

func (e *MatchingEngine) rebuildAskIndex() {
	e.asksByPrice = indexOrders(e.asks, func(a, b event.Order) bool {
		return a.Price.GreaterThan(b.Price)
	})
}

func (e *MatchingEngine) rebuildBidIndex() {
	e.bidsByPrice = indexOrders(e.bids, func(a, b event.Order) bool {
		return a.Price.LessThan(b.Price)
	})
}

// indexOrders produces a read-consistent sorted snapshot of one side's
// order map. Price is the only sort key; equal prices order arbitrarily.
func indexOrders(book map[string]event.Order, less func(a, b event.Order) bool) []event.Order {
	index := make([]event.Order, 0, len(book))
	for _, o := range book {
		index = append(index, o)
	}
	sort.Slice(index, func(i, j int) bool { return less(index[i], index[j]) })
	return index
}

// GetSnapshot captures the open orders on both sides as a flat copy.
func (e *MatchingEngine) GetSnapshot() event.OrderbookSnapshot {
	var askQty, bidQty float64
	for _, o := range e.asks {
		askQty += o.RemainingQuantity()
	}
	for _, o := range e.bids {
		bidQty += o.RemainingQuantity()
	}

	asks := make([]event.Order, len(e.asksByPrice))
	copy(asks, e.asksByPrice)
	bids := make([]event.Order, len(e.bidsByPrice))
	copy(bids, e.bidsByPrice)

	return event.OrderbookSnapshot{
		Symbol:      e.stockID,
		Timestamp:   e.clk.Now(),
		AskQuantity: askQty,
		BidQuantity: bidQty,
		Asks:        asks,
		Bids:        bids,
	}
}
