// Package pricing implements the moving-average pipeline: EWMA state, the
// per-symbol match aggregate, bounded update buffers, and price history.
package pricing

import "github.com/shopspring/decimal"

// DefaultSampleSize averages prices and volume over the past 30 matches.
const DefaultSampleSize = 30

// EWMA is an exponentially weighted moving average over float64 readings.
// Values are immutable: Next returns a new state rather than mutating in
// place, so there is never aliasing between the aggregate and its consumers.
type EWMA struct {
	Alpha      float64 `json:"alpha"`
	CurrentAvg float64 `json:"current_avg"`
}

// NewEWMA seeds an average with alpha = 2/(sampleSize+1) and the first
// reading as the initial value.
func NewEWMA(sampleSize int, firstReading float64) EWMA {
	return EWMA{
		Alpha:      2.0 / float64(sampleSize+1),
		CurrentAvg: firstReading,
	}
}

// Next folds in one reading and returns the updated average.
func (e EWMA) Next(value float64) EWMA {
	return EWMA{
		Alpha:      e.Alpha,
		CurrentAvg: e.Alpha*value + (1-e.Alpha)*e.CurrentAvg,
	}
}

// DecimalEWMA is the decimal-precision counterpart of EWMA, used for prices.
type DecimalEWMA struct {
	Alpha      decimal.Decimal `json:"alpha"`
	CurrentAvg decimal.Decimal `json:"current_avg"`
}

func NewDecimalEWMA(sampleSize int, firstReading decimal.Decimal) DecimalEWMA {
	return DecimalEWMA{
		Alpha:      decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(sampleSize + 1))),
		CurrentAvg: firstReading,
	}
}

// Next folds in one reading and returns the updated average.
func (e DecimalEWMA) Next(value decimal.Decimal) DecimalEWMA {
	one := decimal.NewFromInt(1)
	return DecimalEWMA{
		Alpha:      e.Alpha,
		CurrentAvg: e.Alpha.Mul(value).Add(one.Sub(e.Alpha).Mul(e.CurrentAvg)),
	}
}
