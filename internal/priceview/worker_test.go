package priceview_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"StockMesh/internal/event"
	"StockMesh/internal/priceview"
	"StockMesh/internal/pubsub"
	"StockMesh/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// stubRef plays the aggregator side of the acquisition handshake.
type stubRef struct {
	snap event.PriceAndVolumeSnapshot
	done chan struct{}
}

func (r *stubRef) FetchPriceAndVolume(context.Context) (event.PriceAndVolumeSnapshot, error) {
	return r.snap, nil
}

func (r *stubRef) Done() <-chan struct{} { return r.done }

func priceUpdate(price int64, at time.Time) event.PriceChanged {
	return event.PriceChanged{Symbol: "MSFT", CurrentAvgPrice: decimal.NewFromInt(price), Timestamp: at}
}

func startView(t *testing.T, resolve priceview.ResolveFunc, bus *pubsub.InMemoryBus) *priceview.Worker {
	t.Helper()
	clk := testutil.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	w := priceview.NewWorker("MSFT", resolve, bus, clk, zerolog.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// ============================================================================
// Test: acquisition
// ============================================================================

func TestViewWorker_SeedsHistoryFromSnapshot(t *testing.T) {
	base := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	ref := &stubRef{
		snap: event.PriceAndVolumeSnapshot{
			Symbol: "MSFT",
			PriceUpdates: []event.PriceChanged{
				priceUpdate(100, base),
				priceUpdate(105, base.Add(time.Minute)),
			},
		},
		done: make(chan struct{}),
	}
	resolve := func(context.Context, string) (priceview.AggregatorRef, error) { return ref, nil }
	w := startView(t, resolve, pubsub.NewInMemoryBus(zerolog.Nop()))

	waitFor(t, "the initial snapshot to land", func() bool {
		h, err := w.GetPriceHistory(context.Background())
		return err == nil && len(h) == 2
	})

	latest, ok, err := w.GetLatestPrice(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !ok {
		t.Fatal("view holds history but reports no latest price")
	}
	if !latest.CurrentAvgPrice.Equal(decimal.NewFromInt(105)) {
		t.Errorf("latest price = %s, want 105", latest.CurrentAvgPrice)
	}
}

func TestViewWorker_EmptySnapshotStillServes(t *testing.T) {
	ref := &stubRef{snap: event.EmptySnapshot("MSFT"), done: make(chan struct{})}
	resolve := func(context.Context, string) (priceview.AggregatorRef, error) { return ref, nil }
	bus := pubsub.NewInMemoryBus(zerolog.Nop())
	w := startView(t, resolve, bus)

	// No trading yet: the view acquires anyway and answers with no data.
	waitFor(t, "an answered query", func() bool {
		_, ok, err := w.GetLatestPrice(context.Background())
		return err == nil && !ok
	})

	// A live update then flows straight into the empty history.
	waitFor(t, "the live update to land", func() bool {
		_ = bus.PublishPrice(context.Background(), priceUpdate(42, time.Now().UTC()))
		latest, ok, err := w.GetLatestPrice(context.Background())
		return err == nil && ok && latest.CurrentAvgPrice.Equal(decimal.NewFromInt(42))
	})
}

// ============================================================================
// Test: streaming
// ============================================================================

func TestViewWorker_AppendsLiveUpdates(t *testing.T) {
	ref := &stubRef{snap: event.EmptySnapshot("MSFT"), done: make(chan struct{})}
	resolve := func(context.Context, string) (priceview.AggregatorRef, error) { return ref, nil }
	bus := pubsub.NewInMemoryBus(zerolog.Nop())
	w := startView(t, resolve, bus)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	published := 0
	waitFor(t, "three live updates to land", func() bool {
		if published < 3 {
			_ = bus.PublishPrice(context.Background(), priceUpdate(100+int64(published), base.Add(time.Duration(published)*time.Second)))
			published++
		}
		h, err := w.GetPriceHistory(context.Background())
		return err == nil && len(h) == 3
	})

	h, err := w.GetPriceHistory(context.Background())
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for i := 1; i < len(h); i++ {
		if h[i].Timestamp.Before(h[i-1].Timestamp) {
			t.Errorf("history out of order at %d: %v after %v", i, h[i].Timestamp, h[i-1].Timestamp)
		}
	}
}

// ============================================================================
// Test: reacquisition
// ============================================================================

func TestViewWorker_ReacquiresWhenSourceDies(t *testing.T) {
	var resolves atomic.Int64
	first := &stubRef{snap: event.EmptySnapshot("MSFT"), done: make(chan struct{})}
	second := &stubRef{
		snap: event.PriceAndVolumeSnapshot{
			Symbol:       "MSFT",
			PriceUpdates: []event.PriceChanged{priceUpdate(200, time.Now().UTC())},
		},
		done: make(chan struct{}),
	}
	resolve := func(context.Context, string) (priceview.AggregatorRef, error) {
		if resolves.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}
	w := startView(t, resolve, pubsub.NewInMemoryBus(zerolog.Nop()))

	waitFor(t, "the first acquisition", func() bool { return resolves.Load() >= 1 })

	// Kill the first source: the view must unsubscribe and resolve again,
	// picking up the second source's richer snapshot.
	close(first.done)

	waitFor(t, "the second acquisition", func() bool { return resolves.Load() >= 2 })
	waitFor(t, "the second source's history", func() bool {
		latest, ok, err := w.GetLatestPrice(context.Background())
		return err == nil && ok && latest.CurrentAvgPrice.Equal(decimal.NewFromInt(200))
	})
}

func TestViewWorker_RetriesFailedResolution(t *testing.T) {
	var resolves atomic.Int64
	ref := &stubRef{snap: event.EmptySnapshot("MSFT"), done: make(chan struct{})}
	resolve := func(context.Context, string) (priceview.AggregatorRef, error) {
		if resolves.Add(1) < 3 {
			return nil, errors.New("aggregator not up yet")
		}
		return ref, nil
	}
	w := startView(t, resolve, pubsub.NewInMemoryBus(zerolog.Nop()))

	// Queries are answered even while acquisition is failing, and the
	// worker keeps retrying until resolution succeeds. Retries are spaced
	// by the acquisition timeout, so the third attempt needs a while.
	waitFor(t, "a query answered during acquisition", func() bool {
		_, ok, err := w.GetLatestPrice(context.Background())
		return err == nil && !ok
	})
	deadline := time.After(3 * priceview.AcquireTimeout)
	for resolves.Load() < 3 {
		select {
		case <-deadline:
			t.Fatal("resolution never succeeded")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
