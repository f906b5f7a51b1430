// Package priceview hosts the replicated price view workers. A view is a
// read-model of one symbol's price history, fed by the aggregator's
// published updates. It runs a two-state machine: Acquiring pulls the
// initial state from the aggregator and subscribes to the live topic;
// Streaming appends live updates and serves queries. When the source
// aggregator terminates, the view unsubscribes and goes back to Acquiring.
package priceview

import (
	"context"
	"time"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/observability"
	"StockMesh/internal/pricing"
	"StockMesh/internal/pubsub"

	"github.com/rs/zerolog"
)

const (
	// AcquireTimeout bounds one FetchPriceAndVolume attempt.
	AcquireTimeout = 5 * time.Second

	// PruneInterval is the cadence of history pruning; MaxAge is the
	// retention window.
	PruneInterval = 5 * time.Minute
	MaxAge        = 5 * time.Minute
)

// AggregatorRef is a live reference to a symbol's aggregator. Done is
// closed when the aggregator terminates, telling the view to reacquire.
type AggregatorRef interface {
	FetchPriceAndVolume(ctx context.Context) (event.PriceAndVolumeSnapshot, error)
	Done() <-chan struct{}
}

// ResolveFunc locates the current aggregator for a symbol.
type ResolveFunc func(ctx context.Context, symbol string) (AggregatorRef, error)

type priceBus interface {
	SubscribePrices(ctx context.Context, tickerSymbol string, sub chan<- event.PriceChanged) (pubsub.SubscribeAck, error)
	UnsubscribePrices(ctx context.Context, tickerSymbol string, sub chan<- event.PriceChanged) error
}

type historyMsg struct {
	reply chan []event.PriceChanged
}

type latestMsg struct {
	reply chan latestReply
}

type latestReply struct {
	update event.PriceChanged
	ok     bool
}

// Worker maintains one symbol's replicated price view.
type Worker struct {
	symbol  string
	resolve ResolveFunc
	bus     priceBus
	clk     clock.Clock
	log     zerolog.Logger
	metrics *observability.Metrics

	mailbox chan interface{}
	updates chan event.PriceChanged
	history pricing.PriceHistory
}

// NewWorker builds a view worker for symbol. Metrics may be nil.
func NewWorker(symbol string, resolve ResolveFunc, bus priceBus, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		symbol:  symbol,
		resolve: resolve,
		bus:     bus,
		clk:     clk,
		log:     log.With().Str("component", "price-view").Str("symbol", symbol).Logger(),
		metrics: metrics,
		mailbox: make(chan interface{}, 64),
		updates: make(chan event.PriceChanged, 64),
		history: pricing.NewPriceHistory(symbol, nil),
	}
}

// GetPriceHistory returns every update the view currently holds.
func (w *Worker) GetPriceHistory(ctx context.Context) ([]event.PriceChanged, error) {
	msg := historyMsg{reply: make(chan []event.PriceChanged, 1)}
	select {
	case w.mailbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case h := <-msg.reply:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetLatestPrice returns the most recent update, or ok=false when the view
// holds no data yet.
func (w *Worker) GetLatestPrice(ctx context.Context) (event.PriceChanged, bool, error) {
	msg := latestMsg{reply: make(chan latestReply, 1)}
	select {
	case w.mailbox <- msg:
	case <-ctx.Done():
		return event.PriceChanged{}, false, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r.update, r.ok, nil
	case <-ctx.Done():
		return event.PriceChanged{}, false, ctx.Err()
	}
}

// Run drives the state machine until ctx is cancelled. Queries are served
// in both states; an acquiring view answers from whatever history it has.
func (w *Worker) Run(ctx context.Context) error {
	first := true
	for {
		ref, err := w.acquire(ctx)
		if err != nil {
			return err
		}
		if w.metrics != nil {
			if first {
				w.metrics.ViewAcquisitions.WithLabelValues(w.symbol).Inc()
			} else {
				w.metrics.ViewReacquires.WithLabelValues(w.symbol).Inc()
			}
		}
		first = false

		if err := w.stream(ctx, ref); err != nil {
			return err
		}
		// Source terminated; go back to Acquiring.
	}
}

// acquire resolves the aggregator, pulls the initial snapshot with a
// bounded ask, and subscribes to the live price topic. Every step retries
// indefinitely; an empty snapshot still acquires — it just means no
// trading has happened yet.
func (w *Worker) acquire(ctx context.Context) (AggregatorRef, error) {
	var ref AggregatorRef
	for {
		var err error
		ref, err = w.resolve(ctx, w.symbol)
		if err == nil {
			askCtx, cancel := context.WithTimeout(ctx, AcquireTimeout)
			snap, ferr := ref.FetchPriceAndVolume(askCtx)
			cancel()
			if ferr == nil {
				w.history = pricing.NewPriceHistory(w.symbol, snap.PriceUpdates)
				w.updateHistoryGauge()
				w.log.Info().Int("updates", w.history.Len()).Msg("initial price state acquired")
				break
			}
			err = ferr
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.log.Warn().Err(err).Msg("acquiring initial price state failed, retrying")
		if werr := w.waitServing(ctx, AcquireTimeout); werr != nil {
			return nil, werr
		}
	}

	err := pubsub.Retry(ctx, w.log, "price topic subscribe", func(ctx context.Context) error {
		_, err := w.bus.SubscribePrices(ctx, w.symbol, w.updates)
		if err != nil && w.metrics != nil {
			w.metrics.SubscribeRetries.WithLabelValues(event.PriceUpdateTopic(w.symbol)).Inc()
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// waitServing pauses between acquisition attempts while still answering
// queries from the current (possibly empty) history.
func (w *Worker) waitServing(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case msg := <-w.mailbox:
			w.answer(msg)
		}
	}
}

// stream is the Streaming state: append live updates, prune on a timer,
// serve queries, and watch the source. Returns nil when the source
// terminates (reacquire) and ctx.Err() on shutdown.
func (w *Worker) stream(ctx context.Context, ref AggregatorRef) error {
	prune := time.NewTicker(PruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			w.unsubscribe()
			return ctx.Err()
		case <-ref.Done():
			w.log.Info().Msg("source aggregator terminated, reacquiring")
			w.unsubscribe()
			return nil
		case update := <-w.updates:
			next, err := w.history.WithPrice(update)
			if err != nil {
				w.log.Error().Err(err).Str("update_symbol", update.Symbol).Msg("dropping foreign price update")
				continue
			}
			w.history = next
			if w.metrics != nil {
				w.metrics.ViewUpdates.WithLabelValues(w.symbol).Inc()
			}
			w.updateHistoryGauge()
		case <-prune.C:
			before := w.history.Len()
			w.history = w.history.Prune(w.clk.Now().Add(-MaxAge))
			if dropped := before - w.history.Len(); dropped > 0 && w.metrics != nil {
				w.metrics.ViewPruned.WithLabelValues(w.symbol).Add(float64(dropped))
			}
			w.updateHistoryGauge()
		case msg := <-w.mailbox:
			w.answer(msg)
		}
	}
}

func (w *Worker) answer(msg interface{}) {
	switch m := msg.(type) {
	case historyMsg:
		m.reply <- w.history.Updates()
	case latestMsg:
		update, ok := w.history.LatestUpdate()
		m.reply <- latestReply{update: update, ok: ok}
	}
}

// unsubscribe uses a background context: it must run even during shutdown.
func (w *Worker) unsubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.bus.UnsubscribePrices(ctx, w.symbol, w.updates); err != nil {
		w.log.Warn().Err(err).Msg("unsubscribe from price topic")
	}
}

func (w *Worker) updateHistoryGauge() {
	if w.metrics != nil {
		w.metrics.ViewHistorySize.WithLabelValues(w.symbol).Set(float64(w.history.Len()))
	}
}
