package event

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates which side of a trade an order sits on.
type Side int32

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "Sell"
	}
	return "Buy"
}

// Epsilon is the floating-point tolerance used for quantity accounting when
// deciding whether an order has been completely filled.
const Epsilon = 0.001

// Order is an unfilled or partially unfilled order inside a matching engine.
// Identity is the order id alone: two orders with the same id are the same
// order regardless of any other field.
type Order struct {
	OrderID          string          `json:"order_id"`
	Symbol           string          `json:"stock_id"`
	Side             Side            `json:"side"`
	OriginalQuantity float64         `json:"original_quantity"`
	Price            decimal.Decimal `json:"price"`
	TimeIssued       time.Time       `json:"time_issued"`
	Fills            []Fill          `json:"fills,omitempty"`
}

func NewOrder(orderID, stockID string, side Side, quantity float64, price decimal.Decimal, timeIssued time.Time) Order {
	return Order{
		OrderID:          orderID,
		Symbol:           stockID,
		Side:             side,
		OriginalQuantity: quantity,
		Price:            price,
		TimeIssued:       timeIssued,
	}
}

func (o Order) StockID() string { return o.Symbol }

func (o Order) filledQuantity() float64 {
	var sum float64
	for _, f := range o.Fills {
		sum += f.Quantity
	}
	return sum
}

// RemainingQuantity is the unfilled portion of the order.
func (o Order) RemainingQuantity() float64 {
	return o.OriginalQuantity - o.filledQuantity()
}

// Completed reports whether the order has been filled in full, within Epsilon.
func (o Order) Completed() bool {
	diff := o.filledQuantity() - o.OriginalQuantity
	if diff < 0 {
		diff = -diff
	}
	return diff < Epsilon
}

// WithFill returns a copy of the order with the fill appended. A fill
// addressed to a different order id is an upstream routing bug and is
// reported as an error, never applied.
func (o Order) WithFill(f Fill) (Order, error) {
	if f.OrderID != o.OrderID {
		return Order{}, fmt.Errorf("expected fill for order %s, but received one for %s", o.OrderID, f.OrderID)
	}

	fills := make([]Fill, len(o.Fills), len(o.Fills)+1)
	copy(fills, o.Fills)
	o.Fills = append(fills, f)
	return o, nil
}

// Equals compares orders by id only.
func (o Order) Equals(other Order) bool {
	return o.OrderID == other.OrderID
}
