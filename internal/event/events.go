package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeEventType discriminator for trade event payloads
type TradeEventType int32

const (
	TradeEventTypeAsk TradeEventType = iota
	TradeEventTypeBid
	TradeEventTypeFill
	TradeEventTypeMatch
)

// AllTradeEventTypes lists every member of the closed trade event set.
var AllTradeEventTypes = []TradeEventType{
	TradeEventTypeAsk,
	TradeEventTypeBid,
	TradeEventTypeFill,
	TradeEventTypeMatch,
}

func (t TradeEventType) String() string {
	switch t {
	case TradeEventTypeAsk:
		return "Ask"
	case TradeEventTypeBid:
		return "Bid"
	case TradeEventTypeFill:
		return "Fill"
	case TradeEventTypeMatch:
		return "Match"
	default:
		return "Unknown"
	}
}

// TradeEvent is the closed union of events flowing out of a matching engine.
// Concrete types are exactly Ask, Bid, Fill, and Match; consumers switch
// exhaustively over them and use Type() for topic routing.
type TradeEvent interface {
	StockID() string
	Type() TradeEventType
}

// Ask is a sell-side order submission for a specific ticker symbol.
type Ask struct {
	Symbol     string          `json:"stock_id"`
	OrderID    string          `json:"order_id"`
	AskPrice   decimal.Decimal `json:"price"`
	Quantity   float64         `json:"quantity"`
	TimeIssued time.Time       `json:"time_issued"`
}

func (a Ask) StockID() string      { return a.Symbol }
func (a Ask) Type() TradeEventType { return TradeEventTypeAsk }

// ToOrder converts the ask into an open sell-side order.
func (a Ask) ToOrder() Order {
	return NewOrder(a.OrderID, a.Symbol, SideSell, a.Quantity, a.AskPrice, a.TimeIssued)
}

// Bid is a buy-side order submission for a specific ticker symbol.
type Bid struct {
	Symbol     string          `json:"stock_id"`
	OrderID    string          `json:"order_id"`
	BidPrice   decimal.Decimal `json:"price"`
	Quantity   float64         `json:"quantity"`
	TimeIssued time.Time       `json:"time_issued"`
}

func (b Bid) StockID() string      { return b.Symbol }
func (b Bid) Type() TradeEventType { return TradeEventTypeBid }

// ToOrder converts the bid into an open buy-side order.
func (b Bid) ToOrder() Order {
	return NewOrder(b.OrderID, b.Symbol, SideBuy, b.Quantity, b.BidPrice, b.TimeIssued)
}

// Fill records a partial or complete execution against one order.
type Fill struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"stock_id"`
	Quantity   float64         `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	FilledByID string          `json:"filled_by_id"`
	Timestamp  time.Time       `json:"timestamp"`

	// Partial is true when the filled order still had remaining quantity
	// after this fill was applied.
	Partial bool `json:"partial"`
}

func (f Fill) StockID() string      { return f.Symbol }
func (f Fill) Type() TradeEventType { return TradeEventTypeFill }

// Match announces that a buy order and a sell order were paired.
// Identity is (StockID, BuyOrderID, SellOrderID).
type Match struct {
	Symbol          string          `json:"stock_id"`
	BuyOrderID      string          `json:"buy_order_id"`
	SellOrderID     string          `json:"sell_order_id"`
	SettlementPrice decimal.Decimal `json:"settlement_price"`
	Quantity        float64         `json:"quantity"`
	Timestamp       time.Time       `json:"timestamp"`
}

func (m Match) StockID() string      { return m.Symbol }
func (m Match) Type() TradeEventType { return TradeEventTypeMatch }

// Equals compares match identity only.
func (m Match) Equals(other Match) bool {
	return m.Symbol == other.Symbol &&
		m.BuyOrderID == other.BuyOrderID &&
		m.SellOrderID == other.SellOrderID
}

// OrderbookSnapshot is the full state of one symbol's order book at a point
// in time. Orders are flat owned copies with no references into the live
// matching engine.
type OrderbookSnapshot struct {
	Symbol      string    `json:"stock_id"`
	Timestamp   time.Time `json:"timestamp"`
	AskQuantity float64   `json:"ask_quantity"`
	BidQuantity float64   `json:"bid_quantity"`
	Asks        []Order   `json:"asks"`
	Bids        []Order   `json:"bids"`
}

func (o OrderbookSnapshot) StockID() string { return o.Symbol }

// AvailableTickerSymbols is the default symbol set for the simulation.
var AvailableTickerSymbols = []string{
	"MSFT", "AMZN", "GOOG", "TSLA", "TEAM", "AMD", "WDC", "STX", "UBER", "SNAP", "FB",
}

// ErrUnsupportedEvent reports a value outside the closed trade event set.
func ErrUnsupportedEvent(ev any) error {
	return fmt.Errorf("unsupported trade event type %T", ev)
}
