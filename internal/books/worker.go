// Package books hosts the per-symbol order book workers. Each worker owns
// one matching engine and is the single mutator of its book: every command
// flows through a mailbox channel into one goroutine, so the engine never
// needs a lock. Commands are persisted to the journal before they are
// confirmed, and published to the trade topics only after the append
// succeeds.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/journal"
	"StockMesh/internal/matching"
	"StockMesh/internal/observability"
	"StockMesh/internal/pubsub"

	"github.com/rs/zerolog"
)

// DefaultSnapshotInterval is the cadence of book snapshot persistence.
const DefaultSnapshotInterval = 30 * time.Second

// OrderConfirmed acknowledges a placed order after its events are durable.
type OrderConfirmed struct {
	TickerSymbol string    `json:"ticker_symbol"`
	OrderID      string    `json:"order_id"`
	Duplicate    bool      `json:"duplicate,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type bookStore interface {
	journal.Journal
	journal.SnapshotStore
}

type placeReply struct {
	conf *OrderConfirmed
	err  error
}

type placeMsg struct {
	ev    event.TradeEvent // Ask or Bid
	reply chan placeReply
}

type snapshotMsg struct {
	reply chan event.OrderbookSnapshot
}

// BookWorker runs one symbol's order book.
type BookWorker struct {
	symbol        string
	persistenceID string
	engine        *matching.MatchingEngine
	store         bookStore
	pub           pubsub.TradeEventPublisher
	clk           clock.Clock
	log           zerolog.Logger
	metrics       *observability.Metrics

	mailbox          chan interface{}
	seq              int64
	dirty            bool
	snapshotInterval time.Duration
}

// NewBookWorker builds a worker for symbol. Metrics may be nil.
func NewBookWorker(symbol string, store bookStore, pub pubsub.TradeEventPublisher, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *BookWorker {
	return &BookWorker{
		symbol:           symbol,
		persistenceID:    event.IDForOrderBook(symbol),
		store:            store,
		pub:              pub,
		clk:              clk,
		log:              log.With().Str("component", "book-worker").Str("symbol", symbol).Logger(),
		metrics:          metrics,
		mailbox:          make(chan interface{}, 256),
		snapshotInterval: DefaultSnapshotInterval,
	}
}

// SetSnapshotInterval overrides the snapshot cadence. Call before Run.
func (w *BookWorker) SetSnapshotInterval(d time.Duration) { w.snapshotInterval = d }

// PlaceAsk submits a sell order and blocks until it is durable and
// confirmed, or ctx expires.
func (w *BookWorker) PlaceAsk(ctx context.Context, ask event.Ask) (*OrderConfirmed, error) {
	return w.place(ctx, ask)
}

// PlaceBid submits a buy order and blocks until it is durable and
// confirmed, or ctx expires.
func (w *BookWorker) PlaceBid(ctx context.Context, bid event.Bid) (*OrderConfirmed, error) {
	return w.place(ctx, bid)
}

func (w *BookWorker) place(ctx context.Context, ev event.TradeEvent) (*OrderConfirmed, error) {
	msg := placeMsg{ev: ev, reply: make(chan placeReply, 1)}
	select {
	case w.mailbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-msg.reply:
		return r.conf, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns the book's current state.
func (w *BookWorker) Snapshot(ctx context.Context) (event.OrderbookSnapshot, error) {
	msg := snapshotMsg{reply: make(chan event.OrderbookSnapshot, 1)}
	select {
	case w.mailbox <- msg:
	case <-ctx.Done():
		return event.OrderbookSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-msg.reply:
		return snap, nil
	case <-ctx.Done():
		return event.OrderbookSnapshot{}, ctx.Err()
	}
}

// Run recovers the book and serves the mailbox until ctx is cancelled.
// On cancellation a dirty book gets one final snapshot so the next
// recovery replays a short tail.
func (w *BookWorker) Run(ctx context.Context) error {
	if err := w.recover(ctx); err != nil {
		return fmt.Errorf("recover book %s: %w", w.symbol, err)
	}

	ticker := time.NewTicker(w.snapshotInterval)
	defer ticker.Stop()

	w.log.Info().Int64("seq", w.seq).Msg("order book worker running")
	for {
		select {
		case <-ctx.Done():
			if w.dirty {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.saveSnapshot(flushCtx)
				cancel()
			}
			return ctx.Err()
		case msg := <-w.mailbox:
			switch m := msg.(type) {
			case placeMsg:
				conf, err := w.handlePlace(ctx, m.ev)
				m.reply <- placeReply{conf: conf, err: err}
			case snapshotMsg:
				m.reply <- w.engine.GetSnapshot()
			}
		case <-ticker.C:
			if w.dirty {
				w.saveSnapshot(ctx)
			}
		}
	}
}

// recover rebuilds the engine from the latest snapshot plus the journal
// tail. Only the order flow (asks and bids) is replayed: re-running it
// through the engine reproduces every fill deterministically. Persisted
// fills and matches exist for downstream tagged consumers and are skipped.
func (w *BookWorker) recover(ctx context.Context) error {
	start := time.Now()

	snap, ok, err := w.store.Load(ctx, w.persistenceID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		var book event.OrderbookSnapshot
		if err := json.Unmarshal(snap.Data, &book); err != nil {
			return fmt.Errorf("decode book snapshot: %w", err)
		}
		w.engine = matching.FromSnapshot(book, w.clk, w.log)
		w.seq = snap.Seq
	} else {
		w.engine = matching.NewMatchingEngine(w.symbol, w.clk, w.log)
	}

	tail, err := w.store.Replay(ctx, w.persistenceID, w.seq)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	replayed := 0
	for _, rec := range tail {
		switch ev := rec.Record.(type) {
		case event.Ask:
			if _, err := w.engine.WithAsk(ev); err != nil {
				return fmt.Errorf("replay ask %s: %w", ev.OrderID, err)
			}
			replayed++
		case event.Bid:
			if _, err := w.engine.WithBid(ev); err != nil {
				return fmt.Errorf("replay bid %s: %w", ev.OrderID, err)
			}
			replayed++
		}
		w.seq = rec.Seq
	}

	if w.metrics != nil {
		w.metrics.RecoveryReplayed.WithLabelValues(w.persistenceID).Add(float64(replayed))
		w.metrics.RecoveryDuration.WithLabelValues(w.persistenceID).Set(time.Since(start).Seconds())
	}
	w.updateBookGauges()
	w.log.Info().Int("replayed", replayed).Int64("seq", w.seq).Dur("took", time.Since(start)).Msg("order book recovered")
	return nil
}

func (w *BookWorker) handlePlace(ctx context.Context, ev event.TradeEvent) (*OrderConfirmed, error) {
	start := time.Now()
	var (
		orderID string
		side    string
		dup     bool
		events  []event.TradeEvent
		err     error
	)

	switch o := ev.(type) {
	case event.Ask:
		orderID, side = o.OrderID, "sell"
		_, dup = w.engine.AskOrder(o.OrderID)
		if !dup {
			events, err = w.engine.WithAsk(o)
		}
	case event.Bid:
		orderID, side = o.OrderID, "buy"
		_, dup = w.engine.BidOrder(o.OrderID)
		if !dup {
			events, err = w.engine.WithBid(o)
		}
	default:
		return nil, fmt.Errorf("book %s: %w", w.symbol, event.ErrUnsupportedEvent(ev))
	}
	if err != nil {
		return nil, fmt.Errorf("process order %s: %w", orderID, err)
	}

	if dup {
		// Idempotent ack: the order is already in the book, nothing new
		// to persist.
		if w.metrics != nil {
			w.metrics.OrdersRejected.WithLabelValues(w.symbol, "duplicate").Inc()
		}
		return &OrderConfirmed{TickerSymbol: w.symbol, OrderID: orderID, Duplicate: true, Timestamp: w.clk.Now()}, nil
	}

	records := make([]journal.Record, 0, len(events)+1)
	records = append(records, ev)
	for _, e := range events {
		records = append(records, e)
	}

	seq, err := w.store.Append(ctx, w.persistenceID, records)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("append").Inc()
		}
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}
	w.seq = seq
	w.dirty = true

	if w.metrics != nil {
		w.metrics.RecordsPersisted.WithLabelValues(w.persistenceID).Add(float64(len(records)))
		w.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		w.metrics.OrdersPlaced.WithLabelValues(w.symbol, side).Inc()
		for _, e := range events {
			if m, ok := e.(event.Match); ok {
				w.metrics.MatchesExecuted.WithLabelValues(w.symbol).Inc()
				w.metrics.MatchedVolume.WithLabelValues(w.symbol).Add(m.Quantity)
			}
		}
		w.updateBookGauges()
		w.metrics.PlaceDuration.WithLabelValues(w.symbol, side).Observe(time.Since(start).Seconds())
	}

	w.publish(ctx, records)
	return &OrderConfirmed{TickerSymbol: w.symbol, OrderID: orderID, Timestamp: w.clk.Now()}, nil
}

// publish broadcasts the durable records. Publish failures do not undo a
// confirmation: the journal is the source of truth and tagged consumers
// will still observe every event.
func (w *BookWorker) publish(ctx context.Context, records []journal.Record) {
	for _, rec := range records {
		ev, ok := rec.(event.TradeEvent)
		if !ok {
			continue
		}
		if err := w.pub.Publish(ctx, w.symbol, ev); err != nil {
			if w.metrics != nil {
				w.metrics.PublishErrors.WithLabelValues(w.symbol).Inc()
			}
			w.log.Warn().Err(err).Str("event_type", ev.Type().String()).Msg("publish failed")
			continue
		}
		if w.metrics != nil {
			w.metrics.EventsPublished.WithLabelValues(w.symbol, ev.Type().String()).Inc()
		}
	}
}

func (w *BookWorker) saveSnapshot(ctx context.Context) {
	book := w.engine.GetSnapshot()
	data, err := json.Marshal(book)
	if err != nil {
		w.log.Error().Err(err).Msg("encode book snapshot")
		return
	}
	snap := journal.Snapshot{
		PersistenceID: w.persistenceID,
		Seq:           w.seq,
		Data:          data,
		Timestamp:     w.clk.Now(),
	}
	if err := w.store.Save(ctx, snap); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("snapshot").Inc()
		}
		w.log.Error().Err(err).Int64("seq", w.seq).Msg("save book snapshot")
		return
	}
	w.dirty = false
	if w.metrics != nil {
		w.metrics.SnapshotsSaved.WithLabelValues(w.persistenceID).Inc()
	}
	// Older snapshots are superseded. Journal records stay: tagged
	// consumers replay matches from arbitrary offsets.
	if err := w.store.DeleteSnapshotsThrough(ctx, w.persistenceID, w.seq-1); err != nil {
		w.log.Warn().Err(err).Msg("compact old snapshots")
	}
	w.log.Debug().Int64("seq", w.seq).Msg("book snapshot saved")
}

func (w *BookWorker) updateBookGauges() {
	if w.metrics == nil {
		return
	}
	w.metrics.OpenAskOrders.WithLabelValues(w.symbol).Set(float64(w.engine.AskOrderCount()))
	w.metrics.OpenBidOrders.WithLabelValues(w.symbol).Set(float64(w.engine.BidOrderCount()))
}
