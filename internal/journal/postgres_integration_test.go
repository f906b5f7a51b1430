package journal_test

import (
	"context"
	"testing"
	"time"

	"StockMesh/internal/event"
	"StockMesh/internal/journal"
	"StockMesh/internal/testutil"

	"github.com/rs/zerolog"
)

// These tests need the docker-compose.test.yml Postgres and run only with
// INTEGRATION_TEST=1. Schema comes from migrations/; apply it once with
// cmd/migrate against the test DSN.

func setupPostgresStore(t *testing.T) *journal.PostgresStore {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)
	return journal.NewPostgresStore(db, zerolog.Nop())
}

// ============================================================================
// Test: append and replay
// ============================================================================

func TestPostgresStore_AppendAssignsContiguousSeqs(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()
	ids := testutil.NewSequentialIDs("pg-ask")

	seq, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		askRecord("MSFT", ids.NextID()),
		askRecord("MSFT", ids.NextID()),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 2 {
		t.Errorf("head seq = %d, want 2", seq)
	}

	seq, err = s.Append(ctx, "MSFT-orderBook", []journal.Record{askRecord("MSFT", ids.NextID())})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 3 {
		t.Errorf("head seq = %d, want 3", seq)
	}

	// Streams are independent per entity.
	seq, err = s.Append(ctx, "AMZN-orderBook", []journal.Record{askRecord("AMZN", ids.NextID())})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if seq != 1 {
		t.Errorf("other entity head seq = %d, want 1", seq)
	}

	recs, err := s.Replay(ctx, "MSFT-orderBook", 1)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("replay from 1 returned %d records, want 2", len(recs))
	}
	if recs[0].Seq != 2 || recs[1].Seq != 3 {
		t.Errorf("replayed seqs %d,%d, want 2,3", recs[0].Seq, recs[1].Seq)
	}
	if _, ok := recs[0].Record.(event.Ask); !ok {
		t.Errorf("replayed record decoded as %#v", recs[0].Record)
	}
}

func TestPostgresStore_DeleteThroughCompacts(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		askRecord("MSFT", "a1"),
		askRecord("MSFT", "a2"),
		askRecord("MSFT", "a3"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.DeleteThrough(ctx, "MSFT-orderBook", 2); err != nil {
		t.Fatalf("delete through: %v", err)
	}

	recs, err := s.Replay(ctx, "MSFT-orderBook", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(recs) != 1 || recs[0].Seq != 3 {
		t.Fatalf("after compaction replay = %+v, want only seq 3", recs)
	}

	// The sequence chain continues past the compacted head.
	seq, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{askRecord("MSFT", "a4")})
	if err != nil {
		t.Fatalf("append after compaction: %v", err)
	}
	if seq != 4 {
		t.Errorf("head seq after compaction = %d, want 4", seq)
	}
}

// ============================================================================
// Test: snapshots
// ============================================================================

func TestPostgresStore_SnapshotLifecycle(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	for _, seq := range []int64{5, 10} {
		err := s.Save(ctx, journal.Snapshot{
			PersistenceID: "MSFT-orderBook",
			Seq:           seq,
			Data:          []byte(`{"stock_id":"MSFT"}`),
			Timestamp:     time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("save snapshot at %d: %v", seq, err)
		}
	}

	snap, ok, err := s.Load(ctx, "MSFT-orderBook")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok || snap.Seq != 10 {
		t.Fatalf("load = ok:%v seq:%d, want the seq-10 snapshot", ok, snap.Seq)
	}

	if err := s.DeleteSnapshotsThrough(ctx, "MSFT-orderBook", 9); err != nil {
		t.Fatalf("delete snapshots: %v", err)
	}
	snap, ok, err = s.Load(ctx, "MSFT-orderBook")
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if !ok || snap.Seq != 10 {
		t.Errorf("snapshot at the boundary must survive, got ok:%v seq:%d", ok, snap.Seq)
	}

	if _, ok, _ := s.Load(ctx, "AMZN-orderBook"); ok {
		t.Error("cold entity reported a snapshot")
	}
}

// ============================================================================
// Test: tagged stream
// ============================================================================

func TestPostgresStore_EventsByTagLiveTail(t *testing.T) {
	s := setupPostgresStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		matchRecord("MSFT", "b1", "s1"),
	}); err != nil {
		t.Fatalf("seed match: %v", err)
	}
	// A foreign symbol must not leak into the MSFT tag.
	if _, err := s.Append(ctx, "AMZN-orderBook", []journal.Record{
		matchRecord("AMZN", "b9", "s9"),
	}); err != nil {
		t.Fatalf("seed foreign match: %v", err)
	}

	stream, err := s.EventsByTag(ctx, "MSFT", 0)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	first := receiveTagged(t, stream, "the seeded match")
	m, ok := first.Record.(event.Match)
	if !ok || m.Symbol != "MSFT" {
		t.Fatalf("first tagged record = %#v", first.Record)
	}

	// A record appended after the subscription arrives on the live tail.
	if _, err := s.Append(ctx, "MSFT-orderBook", []journal.Record{
		matchRecord("MSFT", "b2", "s2"),
	}); err != nil {
		t.Fatalf("append live match: %v", err)
	}
	second := receiveTagged(t, stream, "the live match")
	if second.Offset <= first.Offset {
		t.Errorf("offsets not increasing: %d then %d", first.Offset, second.Offset)
	}
	if m := second.Record.(event.Match); m.BuyOrderID != "b2" {
		t.Errorf("live record = %+v", m)
	}

	// Cancellation ends the stream.
	cancel()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, open := <-stream:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}

func receiveTagged(t *testing.T, stream <-chan journal.Tagged, what string) journal.Tagged {
	t.Helper()
	select {
	case tagged, ok := <-stream:
		if !ok {
			t.Fatalf("stream closed while waiting for %s", what)
		}
		return tagged
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return journal.Tagged{}
}
