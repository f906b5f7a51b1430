package pricing_test

import (
	"math"
	"testing"
	"time"

	"StockMesh/internal/event"
	"StockMesh/internal/pricing"
	"StockMesh/internal/testutil"

	"github.com/shopspring/decimal"
)

// ============================================================================
// Test: EWMA
// ============================================================================

func TestEWMA_Alpha(t *testing.T) {
	e := pricing.NewEWMA(pricing.DefaultSampleSize, 10)
	want := 2.0 / float64(pricing.DefaultSampleSize+1)
	if e.Alpha != want {
		t.Errorf("alpha = %v, want %v", e.Alpha, want)
	}
	if e.CurrentAvg != 10 {
		t.Errorf("seed average = %v, want 10", e.CurrentAvg)
	}
}

func TestEWMA_Next(t *testing.T) {
	e := pricing.NewEWMA(9, 100) // alpha = 0.2
	e = e.Next(200)
	if math.Abs(e.CurrentAvg-120) > 1e-9 {
		t.Errorf("average after one reading = %v, want 120", e.CurrentAvg)
	}
	e = e.Next(120)
	if math.Abs(e.CurrentAvg-120) > 1e-9 {
		t.Errorf("average should stay at 120 when fed 120, got %v", e.CurrentAvg)
	}
}

func TestEWMA_NextDoesNotMutate(t *testing.T) {
	e := pricing.NewEWMA(9, 100)
	_ = e.Next(500)
	if e.CurrentAvg != 100 {
		t.Errorf("Next mutated the receiver: %v", e.CurrentAvg)
	}
}

func TestDecimalEWMA_Next(t *testing.T) {
	e := pricing.NewDecimalEWMA(9, decimal.NewFromInt(100)) // alpha = 0.2
	e = e.Next(decimal.NewFromInt(200))
	if !e.CurrentAvg.Equal(decimal.NewFromInt(120)) {
		t.Errorf("average after one reading = %s, want 120", e.CurrentAvg)
	}
}

// ============================================================================
// Test: MatchAggregate
// ============================================================================

func matchFor(symbol string, price int64, qty float64) event.Match {
	return event.Match{
		Symbol:          symbol,
		BuyOrderID:      "b1",
		SellOrderID:     "a1",
		SettlementPrice: decimal.NewFromInt(price),
		Quantity:        qty,
		Timestamp:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMatchAggregate_SeededAtFirstReadings(t *testing.T) {
	agg := pricing.NewMatchAggregate("MSFT", decimal.NewFromInt(100), 50, pricing.DefaultSampleSize)
	if !agg.AvgPrice.CurrentAvg.Equal(decimal.NewFromInt(100)) {
		t.Errorf("seed price = %s, want 100", agg.AvgPrice.CurrentAvg)
	}
	if agg.AvgVolume.CurrentAvg != 50 {
		t.Errorf("seed volume = %v, want 50", agg.AvgVolume.CurrentAvg)
	}
}

func TestMatchAggregate_WithMatchMovesAverages(t *testing.T) {
	agg := pricing.NewMatchAggregate("MSFT", decimal.NewFromInt(100), 10, 9) // alpha = 0.2
	if !agg.WithMatch(matchFor("MSFT", 200, 20)) {
		t.Fatal("own-symbol match rejected")
	}
	if !agg.AvgPrice.CurrentAvg.Equal(decimal.NewFromInt(120)) {
		t.Errorf("price average = %s, want 120", agg.AvgPrice.CurrentAvg)
	}
	if math.Abs(agg.AvgVolume.CurrentAvg-12) > 1e-9 {
		t.Errorf("volume average = %v, want 12", agg.AvgVolume.CurrentAvg)
	}
}

func TestMatchAggregate_ForeignSymbolRejected(t *testing.T) {
	agg := pricing.NewMatchAggregate("MSFT", decimal.NewFromInt(100), 10, 9)
	if agg.WithMatch(matchFor("AMZN", 500, 5)) {
		t.Fatal("foreign-symbol match accepted")
	}
	if !agg.AvgPrice.CurrentAvg.Equal(decimal.NewFromInt(100)) {
		t.Errorf("rejected match moved the price average to %s", agg.AvgPrice.CurrentAvg)
	}
	if agg.AvgVolume.CurrentAvg != 10 {
		t.Errorf("rejected match moved the volume average to %v", agg.AvgVolume.CurrentAvg)
	}
}

func TestMatchAggregate_Metrics(t *testing.T) {
	clk := testutil.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	agg := pricing.NewMatchAggregate("MSFT", decimal.NewFromInt(100), 10, 9)

	price, volume := agg.Metrics(clk)
	if price.Symbol != "MSFT" || volume.Symbol != "MSFT" {
		t.Errorf("sampled updates carry symbols %q/%q", price.Symbol, volume.Symbol)
	}
	if !price.Timestamp.Equal(clk.Now()) || !volume.Timestamp.Equal(clk.Now()) {
		t.Error("sampled updates should carry the clock's timestamp")
	}
	if !price.CurrentAvgPrice.Equal(decimal.NewFromInt(100)) || volume.CurrentVolume != 10 {
		t.Errorf("sampled averages %s/%v", price.CurrentAvgPrice, volume.CurrentVolume)
	}
}

// ============================================================================
// Test: UpdateBuffer
// ============================================================================

func TestUpdateBuffer_EvictsOldest(t *testing.T) {
	buf := pricing.NewUpdateBuffer[int](3)
	for i := 1; i <= 5; i++ {
		buf.Add(i)
	}
	if buf.Len() != 3 {
		t.Fatalf("len = %d, want 3", buf.Len())
	}
	items := buf.Items()
	want := []int{3, 4, 5}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("items[%d] = %d, want %d", i, items[i], v)
		}
	}
}

func TestUpdateBuffer_UnderCapacity(t *testing.T) {
	buf := pricing.NewUpdateBuffer[string](8)
	buf.Add("a")
	buf.Add("b")
	items := buf.Items()
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Errorf("items = %v, want [a b]", items)
	}
}

// ============================================================================
// Test: PriceHistory
// ============================================================================

func update(symbol string, price int64, at time.Time) event.PriceChanged {
	return event.PriceChanged{Symbol: symbol, CurrentAvgPrice: decimal.NewFromInt(price), Timestamp: at}
}

func TestPriceHistory_SortsOnBuild(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := pricing.NewPriceHistory("MSFT", []event.PriceChanged{
		update("MSFT", 103, base.Add(2*time.Minute)),
		update("MSFT", 101, base),
		update("MSFT", 102, base.Add(time.Minute)),
	})

	if h.Len() != 3 {
		t.Fatalf("len = %d", h.Len())
	}
	if !h.From().Equal(base) {
		t.Errorf("From = %v, want %v", h.From(), base)
	}
	if !h.Until().Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Until = %v", h.Until())
	}
	if h.Range() != 2*time.Minute {
		t.Errorf("Range = %v, want 2m", h.Range())
	}
	if !h.CurrentPrice().Equal(decimal.NewFromInt(103)) {
		t.Errorf("CurrentPrice = %s, want 103", h.CurrentPrice())
	}
}

func TestPriceHistory_Empty(t *testing.T) {
	h := pricing.NewPriceHistory("MSFT", nil)
	if !h.CurrentPrice().Equal(decimal.Zero) {
		t.Errorf("empty CurrentPrice = %s, want 0", h.CurrentPrice())
	}
	if _, ok := h.LatestUpdate(); ok {
		t.Error("empty history reported a latest update")
	}
	if !h.From().IsZero() || !h.Until().IsZero() {
		t.Error("empty history should have zero bounds")
	}
}

func TestPriceHistory_WithPriceForeignSymbol(t *testing.T) {
	h := pricing.NewPriceHistory("MSFT", nil)
	if _, err := h.WithPrice(update("AMZN", 100, time.Now())); err == nil {
		t.Fatal("foreign update accepted")
	}
}

func TestPriceHistory_WithPriceKeepsOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := pricing.NewPriceHistory("MSFT", []event.PriceChanged{update("MSFT", 101, base.Add(time.Minute))})

	// A late-arriving older update must not corrupt From/Until.
	h2, err := h.WithPrice(update("MSFT", 100, base))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !h2.From().Equal(base) {
		t.Errorf("From = %v, want %v", h2.From(), base)
	}
	if !h2.CurrentPrice().Equal(decimal.NewFromInt(101)) {
		t.Errorf("CurrentPrice = %s, want 101", h2.CurrentPrice())
	}
	if h.Len() != 1 {
		t.Error("WithPrice mutated the original history")
	}
}

func TestPriceHistory_PruneCutoff(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := pricing.NewPriceHistory("MSFT", []event.PriceChanged{
		update("MSFT", 100, base),
		update("MSFT", 101, base.Add(time.Minute)),
		update("MSFT", 102, base.Add(2*time.Minute)),
	})

	// Entries at exactly the cutoff survive; only strictly older ones go.
	pruned := h.Prune(base.Add(time.Minute))
	if pruned.Len() != 2 {
		t.Fatalf("len after prune = %d, want 2", pruned.Len())
	}
	if !pruned.From().Equal(base.Add(time.Minute)) {
		t.Errorf("From after prune = %v", pruned.From())
	}
}

// ============================================================================
// Test: MatchAggregatorSnapshot
// ============================================================================

func TestMatchAggregatorSnapshot_RestoreAggregate(t *testing.T) {
	snap := pricing.MatchAggregatorSnapshot{
		TickerSymbol: "MSFT",
		QueryOffset:  42,
		AvgPrice:     decimal.NewFromInt(150),
		AvgVolume:    12,
	}
	agg := snap.RestoreAggregate()
	if agg.TickerSymbol != "MSFT" {
		t.Errorf("restored symbol = %q", agg.TickerSymbol)
	}
	if !agg.AvgPrice.CurrentAvg.Equal(decimal.NewFromInt(150)) {
		t.Errorf("restored price average = %s, want 150", agg.AvgPrice.CurrentAvg)
	}
	if agg.AvgVolume.CurrentAvg != 12 {
		t.Errorf("restored volume average = %v, want 12", agg.AvgVolume.CurrentAvg)
	}
	if snap.StockID() != "MSFT" {
		t.Errorf("StockID = %q", snap.StockID())
	}
}
