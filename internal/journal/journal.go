// Package journal is the event-sourcing substrate: an append-only record
// log keyed by persistence id, a snapshot store for recovery points, and a
// tagged stream query that lets downstream consumers follow every record
// carrying a given ticker symbol tag from a durable offset.
package journal

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnexpectedEndOfStream reports that a tagged event stream closed
	// without the consumer asking for it. Consumers treat this as fatal
	// and restart from their last checkpoint.
	ErrUnexpectedEndOfStream = errors.New("journal: unexpected end of event stream")

	// ErrSeqConflict reports an append that would reuse an existing
	// sequence number for a persistence id.
	ErrSeqConflict = errors.New("journal: sequence number conflict")
)

// Record is anything the journal can persist: the four trade events plus
// the aggregator's per-tick snapshot record. Every record carries the
// ticker symbol it is tagged with.
type Record interface {
	StockID() string
}

// PersistedRecord is a record read back from the log.
type PersistedRecord struct {
	PersistenceID string
	Seq           int64
	Record        Record
}

// Tagged is a record delivered by a tag query. Offset is the global,
// strictly increasing position in the log; it is the consumer's resume
// checkpoint.
type Tagged struct {
	Offset        int64
	PersistenceID string
	Seq           int64
	Record        Record
}

// Journal appends and replays per-entity record streams. Sequence numbers
// are assigned by the journal, contiguous from 1 per persistence id.
type Journal interface {
	// Append writes records atomically and returns the sequence number of
	// the last record written. An empty batch is a no-op returning the
	// current highest sequence.
	Append(ctx context.Context, persistenceID string, records []Record) (int64, error)

	// Replay returns all records with sequence > fromSeq, in order.
	Replay(ctx context.Context, persistenceID string, fromSeq int64) ([]PersistedRecord, error)

	// DeleteThrough removes records with sequence <= throughSeq. Used for
	// compaction after a snapshot is safely stored.
	//
	// Implementations differ on tagged retention: PostgresStore deletes
	// the rows outright, so compacted records also vanish from tag
	// queries, while MemoryStore keeps its tag index intact so tag
	// queries retain the full history. Tag consumers must checkpoint by
	// offset and never rely on compaction hiding old records.
	DeleteThrough(ctx context.Context, persistenceID string, throughSeq int64) error
}

// Snapshot is an opaque recovery point. Data is the entity's own
// serialization; the store never interprets it.
type Snapshot struct {
	PersistenceID string
	Seq           int64
	Data          []byte
	Timestamp     time.Time
}

// SnapshotStore saves and loads recovery points. Multiple snapshots per
// persistence id may coexist; Load returns the one with the highest
// sequence.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error

	// Load returns the latest snapshot, or ok=false when none exists.
	Load(ctx context.Context, persistenceID string) (Snapshot, bool, error)

	// DeleteSnapshotsThrough removes snapshots with sequence <= throughSeq.
	DeleteSnapshotsThrough(ctx context.Context, persistenceID string, throughSeq int64) error
}

// TagQuery follows every record tagged with a ticker symbol, across all
// persistence ids, starting after fromOffset. The returned channel stays
// open and live-tails new records; it closes only on failure or context
// cancellation. A consumer that sees the channel close while its context
// is still live must treat it as ErrUnexpectedEndOfStream.
type TagQuery interface {
	EventsByTag(ctx context.Context, tag string, fromOffset int64) (<-chan Tagged, error)
}

// Store bundles the three capabilities a fully wired node needs.
type Store interface {
	Journal
	SnapshotStore
	TagQuery
}
