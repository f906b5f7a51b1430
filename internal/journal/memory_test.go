package journal_test

import (
	"context"
	"testing"
	"time"

	"StockMesh/internal/event"
	"StockMesh/internal/journal"

	"github.com/shopspring/decimal"
)

func askRecord(symbol, id string) journal.Record {
	return event.Ask{Symbol: symbol, OrderID: id, AskPrice: decimal.NewFromInt(100), Quantity: 1}
}

func matchRecord(symbol, buy, sell string) journal.Record {
	return event.Match{Symbol: symbol, BuyOrderID: buy, SellOrderID: sell, SettlementPrice: decimal.NewFromInt(100), Quantity: 1}
}

// ============================================================================
// Test: append and replay
// ============================================================================

func TestMemoryStore_AppendAssignsContiguousSeqs(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx := context.Background()

	seq, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{askRecord("MSFT", "a1"), askRecord("MSFT", "a2")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 2 {
		t.Errorf("head seq = %d, want 2", seq)
	}

	seq, err = s.Append(ctx, "MSFT-orderBook", []journal.Record{askRecord("MSFT", "a3")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 3 {
		t.Errorf("head seq = %d, want 3", seq)
	}

	// Streams are independent per entity.
	seq, err = s.Append(ctx, "AMZN-orderBook", []journal.Record{askRecord("AMZN", "a1")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 1 {
		t.Errorf("other entity head seq = %d, want 1", seq)
	}
}

func TestMemoryStore_ReplayFromSeq(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		askRecord("MSFT", "a1"), askRecord("MSFT", "a2"), askRecord("MSFT", "a3"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.Replay(ctx, "MSFT-orderBook", 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("replayed %d records, want 2", len(recs))
	}
	if recs[0].Seq != 2 || recs[1].Seq != 3 {
		t.Errorf("replayed seqs %d,%d", recs[0].Seq, recs[1].Seq)
	}
	a, ok := recs[0].Record.(event.Ask)
	if !ok || a.OrderID != "a2" {
		t.Errorf("first replayed record = %#v", recs[0].Record)
	}
}

// ============================================================================
// Test: compaction
// ============================================================================

func TestMemoryStore_DeleteThroughKeepsTaggedHistory(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Append(ctx, "MSFT-prices", []journal.Record{
		matchRecord("MSFT", "b1", "a1"), matchRecord("MSFT", "b2", "a2"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.DeleteThrough(ctx, "MSFT-prices", 1); err != nil {
		t.Fatalf("delete through: %v", err)
	}

	recs, err := s.Replay(ctx, "MSFT-prices", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(recs) != 1 || recs[0].Seq != 2 {
		t.Fatalf("entity stream after compaction = %d records", len(recs))
	}

	// Tag consumers still see the compacted record.
	stream, err := s.EventsByTag(ctx, "MSFT", 0)
	if err != nil {
		t.Fatalf("events by tag: %v", err)
	}
	first := <-stream
	if first.Seq != 1 {
		t.Errorf("tag stream lost compacted record, first seq = %d", first.Seq)
	}
}

// ============================================================================
// Test: snapshots
// ============================================================================

func TestMemoryStore_SnapshotLifecycle(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "MSFT-orderBook"); err != nil || ok {
		t.Fatalf("empty store Load = ok=%v err=%v", ok, err)
	}

	for _, seq := range []int64{5, 10} {
		snap := journal.Snapshot{
			PersistenceID: "MSFT-orderBook",
			Seq:           seq,
			Data:          []byte(`{"stock_id":"MSFT"}`),
			Timestamp:     time.Now(),
		}
		if err := s.Save(ctx, snap); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	snap, ok, err := s.Load(ctx, "MSFT-orderBook")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if snap.Seq != 10 {
		t.Errorf("loaded seq = %d, want highest (10)", snap.Seq)
	}

	if err := s.DeleteSnapshotsThrough(ctx, "MSFT-orderBook", 9); err != nil {
		t.Fatalf("delete snapshots: %v", err)
	}
	snap, ok, _ = s.Load(ctx, "MSFT-orderBook")
	if !ok || snap.Seq != 10 {
		t.Errorf("snapshot at seq 10 should survive, ok=%v seq=%d", ok, snap.Seq)
	}

	if err := s.DeleteSnapshotsThrough(ctx, "MSFT-orderBook", 10); err != nil {
		t.Fatalf("delete snapshots: %v", err)
	}
	if _, ok, _ := s.Load(ctx, "MSFT-orderBook"); ok {
		t.Error("all snapshots deleted but Load still returns one")
	}
}

// ============================================================================
// Test: tagged live tail
// ============================================================================

func TestMemoryStore_EventsByTagLiveTail(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{matchRecord("MSFT", "b1", "a1")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	// A record for another tag must not leak into the stream.
	if _, err := s.Append(ctx, "AMZN-orderBook", []journal.Record{matchRecord("AMZN", "b1", "a1")}); err != nil {
		t.Fatalf("append: %v", err)
	}

	stream, err := s.EventsByTag(ctx, "MSFT", 0)
	if err != nil {
		t.Fatalf("events by tag: %v", err)
	}

	first := <-stream
	if first.Record.StockID() != "MSFT" {
		t.Fatalf("tag stream delivered %q record", first.Record.StockID())
	}

	// Records appended after the stream opened arrive too.
	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{matchRecord("MSFT", "b2", "a2")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	select {
	case second := <-stream:
		if second.Offset <= first.Offset {
			t.Errorf("offsets not increasing: %d then %d", first.Offset, second.Offset)
		}
		m, ok := second.Record.(event.Match)
		if !ok || m.BuyOrderID != "b2" {
			t.Errorf("second record = %#v", second.Record)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live tail never delivered the new record")
	}

	// Cancellation closes the stream.
	cancel()
	select {
	case _, open := <-stream:
		if open {
			// Drain any in-flight record, then expect close.
			if _, open = <-stream; open {
				t.Error("stream still open after cancellation")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancellation")
	}
}

func TestMemoryStore_EventsByTagFromOffset(t *testing.T) {
	s := journal.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		matchRecord("MSFT", "b1", "a1"), matchRecord("MSFT", "b2", "a2"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}

	stream, err := s.EventsByTag(ctx, "MSFT", 1)
	if err != nil {
		t.Fatalf("events by tag: %v", err)
	}
	first := <-stream
	if first.Offset != 2 {
		t.Errorf("resumed stream starts at offset %d, want 2", first.Offset)
	}
}
