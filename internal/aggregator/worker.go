// Package aggregator hosts the per-symbol match aggregation workers. Each
// worker follows its symbol's tagged record stream, folds Match events into
// moving price and volume averages, and publishes the sampled averages on a
// fixed tick. Consumption is resumable: the worker checkpoints the stream
// offset in every persisted record, so a restart picks up exactly where the
// last one stopped.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"StockMesh/internal/clock"
	"StockMesh/internal/event"
	"StockMesh/internal/journal"
	"StockMesh/internal/observability"
	"StockMesh/internal/pricing"
	"StockMesh/internal/pubsub"

	"github.com/rs/zerolog"
)

const (
	// PublishInterval is the cadence of price and volume publication.
	PublishInterval = 10 * time.Second

	// SnapshotEveryN full snapshots: one per N persisted tick records.
	SnapshotEveryN = 10
)

type aggStore interface {
	journal.Journal
	journal.SnapshotStore
	journal.TagQuery
}

type fetchMsg struct {
	reply chan event.PriceAndVolumeSnapshot
}

type pingMsg struct{}

// Worker aggregates one symbol's matches.
type Worker struct {
	symbol        string
	persistenceID string
	store         aggStore
	bus           pubsub.PriceUpdateBus
	clk           clock.Clock
	log           zerolog.Logger
	metrics       *observability.Metrics

	mailbox         chan interface{}
	agg             *pricing.MatchAggregate
	queryOffset     int64
	seq             int64
	priceBuf        *pricing.UpdateBuffer[event.PriceChanged]
	volBuf          *pricing.UpdateBuffer[event.VolumeChanged]
	publishInterval time.Duration
}

// NewWorker builds an aggregation worker for symbol. Metrics may be nil.
func NewWorker(symbol string, store aggStore, bus pubsub.PriceUpdateBus, clk clock.Clock, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		symbol:          symbol,
		persistenceID:   event.IDForPricing(symbol),
		store:           store,
		bus:             bus,
		clk:             clk,
		log:             log.With().Str("component", "match-aggregator").Str("symbol", symbol).Logger(),
		metrics:         metrics,
		mailbox:         make(chan interface{}, 64),
		priceBuf:        pricing.NewUpdateBuffer[event.PriceChanged](pricing.DefaultSampleSize),
		volBuf:          pricing.NewUpdateBuffer[event.VolumeChanged](pricing.DefaultSampleSize),
		publishInterval: PublishInterval,
	}
}

// SetPublishInterval overrides the publish cadence. Call before Run.
func (w *Worker) SetPublishInterval(d time.Duration) { w.publishInterval = d }

// FetchPriceAndVolume returns the recent update buffers, or the explicit
// empty snapshot when no match has been aggregated yet.
func (w *Worker) FetchPriceAndVolume(ctx context.Context) (event.PriceAndVolumeSnapshot, error) {
	msg := fetchMsg{reply: make(chan event.PriceAndVolumeSnapshot, 1)}
	select {
	case w.mailbox <- msg:
	case <-ctx.Done():
		return event.PriceAndVolumeSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-msg.reply:
		return snap, nil
	case <-ctx.Done():
		return event.PriceAndVolumeSnapshot{}, ctx.Err()
	}
}

// Ping nudges the worker; it answers with a debug log line. Used as a
// cheap liveness probe by peers.
func (w *Worker) Ping(ctx context.Context) error {
	select {
	case w.mailbox <- pingMsg{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run recovers the aggregate, opens the tagged Match stream at the
// checkpointed offset, and serves until ctx is cancelled. An unexpected
// stream close is fatal: Run returns ErrUnexpectedEndOfStream and the
// supervisor restarts the worker from its checkpoint.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.recover(ctx); err != nil {
		return fmt.Errorf("recover aggregator %s: %w", w.symbol, err)
	}

	stream, err := w.store.EventsByTag(ctx, w.symbol, w.queryOffset)
	if err != nil {
		return fmt.Errorf("open tagged stream %s: %w", w.symbol, err)
	}

	ticker := time.NewTicker(w.publishInterval)
	defer ticker.Stop()

	w.log.Info().Int64("offset", w.queryOffset).Msg("match aggregator running")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tagged, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("aggregator %s: %w", w.symbol, journal.ErrUnexpectedEndOfStream)
			}
			w.consume(tagged)
		case msg := <-w.mailbox:
			switch m := msg.(type) {
			case fetchMsg:
				m.reply <- w.snapshotNow()
			case pingMsg:
				w.log.Debug().Msg("pinged")
			}
		case <-ticker.C:
			w.publishTick(ctx)
		}
	}
}

// recover restores the aggregate from the latest full snapshot, then rolls
// forward through any newer persisted tick records.
func (w *Worker) recover(ctx context.Context) error {
	snap, ok, err := w.store.Load(ctx, w.persistenceID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		var state pricing.MatchAggregatorSnapshot
		if err := json.Unmarshal(snap.Data, &state); err != nil {
			return fmt.Errorf("decode aggregator snapshot: %w", err)
		}
		w.restore(state)
		w.seq = snap.Seq
	}

	tail, err := w.store.Replay(ctx, w.persistenceID, w.seq)
	if err != nil {
		return fmt.Errorf("replay journal: %w", err)
	}
	for _, rec := range tail {
		if state, ok := rec.Record.(pricing.MatchAggregatorSnapshot); ok {
			w.restore(state)
		}
		w.seq = rec.Seq
	}

	w.log.Info().Int64("offset", w.queryOffset).Int64("seq", w.seq).Msg("aggregator recovered")
	return nil
}

func (w *Worker) restore(state pricing.MatchAggregatorSnapshot) {
	w.agg = state.RestoreAggregate()
	w.queryOffset = state.QueryOffset
	w.priceBuf = pricing.NewUpdateBuffer[event.PriceChanged](pricing.DefaultSampleSize)
	for _, u := range state.RecentPriceUpdates {
		w.priceBuf.Add(u)
	}
	w.volBuf = pricing.NewUpdateBuffer[event.VolumeChanged](pricing.DefaultSampleSize)
	for _, u := range state.RecentVolumeUpdates {
		w.volBuf.Add(u)
	}
}

// consume advances the checkpoint for every tagged record and folds Match
// events into the aggregate. Non-match records (order flow, fills, the
// worker's own persisted ticks) only move the offset.
func (w *Worker) consume(tagged journal.Tagged) {
	w.queryOffset = tagged.Offset
	if w.metrics != nil {
		w.metrics.QueryOffset.WithLabelValues(w.symbol).Set(float64(tagged.Offset))
	}

	m, ok := tagged.Record.(event.Match)
	if !ok {
		return
	}

	if w.agg == nil {
		// First match seeds the averages at its own readings.
		w.agg = pricing.NewMatchAggregate(w.symbol, m.SettlementPrice, m.Quantity, pricing.DefaultSampleSize)
	} else if !w.agg.WithMatch(m) {
		if w.metrics != nil {
			w.metrics.ForeignMatches.WithLabelValues(w.symbol).Inc()
		}
		w.log.Error().
			Str("match_symbol", m.Symbol).
			Str("buy_order", m.BuyOrderID).
			Str("sell_order", m.SellOrderID).
			Msg("match for foreign symbol reached this aggregator, routing is broken")
		return
	}
	if w.metrics != nil {
		w.metrics.MatchesConsumed.WithLabelValues(w.symbol).Inc()
	}
}

// publishTick samples the averages, persists the tick record with the
// current checkpoint, and publishes the updates. Every SnapshotEveryN-th
// persisted record also becomes a full snapshot, after which older
// snapshots and journal records are compacted.
func (w *Worker) publishTick(ctx context.Context) {
	if w.agg == nil {
		return
	}

	price, volume := w.agg.Metrics(w.clk)
	w.priceBuf.Add(price)
	w.volBuf.Add(volume)

	record := pricing.MatchAggregatorSnapshot{
		TickerSymbol:        w.symbol,
		QueryOffset:         w.queryOffset,
		AvgPrice:            w.agg.AvgPrice.CurrentAvg,
		AvgVolume:           w.agg.AvgVolume.CurrentAvg,
		RecentPriceUpdates:  w.priceBuf.Items(),
		RecentVolumeUpdates: w.volBuf.Items(),
	}

	seq, err := w.store.Append(ctx, w.persistenceID, []journal.Record{record})
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("append").Inc()
		}
		w.log.Error().Err(err).Msg("persist tick record")
		return
	}
	w.seq = seq
	if w.metrics != nil {
		w.metrics.RecordsPersisted.WithLabelValues(w.persistenceID).Inc()
	}

	if seq%SnapshotEveryN == 0 {
		w.saveSnapshot(ctx, record)
	}

	if err := w.bus.PublishPrice(ctx, price); err != nil {
		w.log.Warn().Err(err).Msg("publish price update")
	} else if w.metrics != nil {
		w.metrics.UpdatesPublished.WithLabelValues(w.symbol, "price").Inc()
	}
	if err := w.bus.PublishVolume(ctx, volume); err != nil {
		w.log.Warn().Err(err).Msg("publish volume update")
	} else if w.metrics != nil {
		w.metrics.UpdatesPublished.WithLabelValues(w.symbol, "volume").Inc()
	}

	if w.metrics != nil {
		avgPrice, _ := price.CurrentAvgPrice.Float64()
		w.metrics.AveragePrice.WithLabelValues(w.symbol).Set(avgPrice)
		w.metrics.AverageVolume.WithLabelValues(w.symbol).Set(volume.CurrentVolume)
	}
}

func (w *Worker) saveSnapshot(ctx context.Context, record pricing.MatchAggregatorSnapshot) {
	data, err := json.Marshal(record)
	if err != nil {
		w.log.Error().Err(err).Msg("encode aggregator snapshot")
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
		w.log.Error().Err(err).Int64("seq", w.seq).Msg("save aggregator snapshot")
		return
	}
	if w.metrics != nil {
		w.metrics.SnapshotsSaved.WithLabelValues(w.persistenceID).Inc()
	}

	// Compaction only after the snapshot is durable: everything at or
	// below it is recoverable from the snapshot alone.
	if err := w.store.DeleteSnapshotsThrough(ctx, w.persistenceID, w.seq-1); err != nil {
		w.log.Warn().Err(err).Msg("compact old snapshots")
	}
	if err := w.store.DeleteThrough(ctx, w.persistenceID, w.seq); err != nil {
		w.log.Warn().Err(err).Msg("compact tick records")
	}
	w.log.Debug().Int64("seq", w.seq).Int64("offset", w.queryOffset).Msg("aggregator snapshot saved")
}

func (w *Worker) snapshotNow() event.PriceAndVolumeSnapshot {
	if w.agg == nil {
		return event.EmptySnapshot(w.symbol)
	}
	return event.PriceAndVolumeSnapshot{
		Symbol:        w.symbol,
		PriceUpdates:  w.priceBuf.Items(),
		VolumeUpdates: w.volBuf.Items(),
	}
}
