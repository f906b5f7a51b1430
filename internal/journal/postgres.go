package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often a live Postgres tag query checks for new
// rows once it has caught up with the head of the log.
const DefaultPollInterval = 250 * time.Millisecond

// PostgresStore implements Store on Postgres. Events live in
// stockmesh.events with a global bigserial offset and a per-entity
// sequence; snapshots live in stockmesh.snapshots. Tag queries poll-follow
// the global offset, which keeps consumers ordered without any broker in
// the read path.
type PostgresStore struct {
	db           *sql.DB
	pollInterval time.Duration
	batchSize    int
	log          zerolog.Logger
}

// OpenPostgres connects, pings, and wraps the pool.
func OpenPostgres(dsn string, log zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresStore(db, log), nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *sql.DB, log zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:           db,
		pollInterval: DefaultPollInterval,
		batchSize:    500,
		log:          log.With().Str("component", "pg-journal").Logger(),
	}
}

// DB exposes the pool for the migrator and health checks.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Close closes the pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// Append writes records in one transaction using a multi-row INSERT,
// assigning contiguous sequence numbers after the stream's current head.
func (s *PostgresStore) Append(ctx context.Context, persistenceID string, records []Record) (int64, error) {
	if len(records) == 0 {
		return s.highestSeq(ctx, persistenceID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	var head sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM stockmesh.events WHERE persistence_id = $1`,
		persistenceID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	seq := head.Int64

	query := `INSERT INTO stockmesh.events
		(persistence_id, seq, tag, event_type, payload, created_at)
		VALUES `
	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*6)

	now := time.Now().UTC()
	for i, rec := range records {
		typeName, err := RecordTypeName(rec)
		if err != nil {
			return 0, err
		}
		payload, err := EncodeRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("encode record %d: %w", i, err)
		}
		seq++
		base := i * 6
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
		))
		args = append(args, persistenceID, seq, rec.StockID(), typeName, payload, now)
	}
	query += strings.Join(values, ", ")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return 0, fmt.Errorf("append %s at seq %d: %w", persistenceID, seq, ErrSeqConflict)
		}
		return 0, fmt.Errorf("insert records: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return seq, nil
}

func (s *PostgresStore) highestSeq(ctx context.Context, persistenceID string) (int64, error) {
	var head sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM stockmesh.events WHERE persistence_id = $1`,
		persistenceID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	return head.Int64, nil
}

// Replay returns records with sequence > fromSeq, in order.
func (s *PostgresStore) Replay(ctx context.Context, persistenceID string, fromSeq int64) ([]PersistedRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, payload FROM stockmesh.events
		WHERE persistence_id = $1 AND seq > $2
		ORDER BY seq ASC
	`, persistenceID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", persistenceID, err)
	}
	defer rows.Close()

	var out []PersistedRecord
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		rec, err := DecodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode record %s/%d: %w", persistenceID, seq, err)
		}
		out = append(out, PersistedRecord{PersistenceID: persistenceID, Seq: seq, Record: rec})
	}
	return out, rows.Err()
}

// DeleteThrough compacts a stream after a snapshot has been stored.
func (s *PostgresStore) DeleteThrough(ctx context.Context, persistenceID string, throughSeq int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stockmesh.events WHERE persistence_id = $1 AND seq <= $2`,
		persistenceID, throughSeq,
	)
	if err != nil {
		return fmt.Errorf("delete through %s/%d: %w", persistenceID, throughSeq, err)
	}
	return nil
}

// Save upserts a snapshot at its sequence.
func (s *PostgresStore) Save(ctx context.Context, snap Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stockmesh.snapshots (persistence_id, seq, data, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (persistence_id, seq) DO UPDATE SET data = $3, created_at = $4
	`, snap.PersistenceID, snap.Seq, snap.Data, snap.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("save snapshot %s/%d: %w", snap.PersistenceID, snap.Seq, err)
	}
	return nil
}

// Load returns the highest-sequence snapshot, or ok=false on a cold start.
func (s *PostgresStore) Load(ctx context.Context, persistenceID string) (Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, data, created_at FROM stockmesh.snapshots
		WHERE persistence_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, persistenceID)

	snap := Snapshot{PersistenceID: persistenceID}
	if err := row.Scan(&snap.Seq, &snap.Data, &snap.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", persistenceID, err)
	}
	return snap, true, nil
}

// DeleteSnapshotsThrough removes superseded snapshots.
func (s *PostgresStore) DeleteSnapshotsThrough(ctx context.Context, persistenceID string, throughSeq int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM stockmesh.snapshots WHERE persistence_id = $1 AND seq <= $2`,
		persistenceID, throughSeq,
	)
	if err != nil {
		return fmt.Errorf("delete snapshots through %s/%d: %w", persistenceID, throughSeq, err)
	}
	return nil
}

// EventsByTag live-tails every record tagged with tag from after fromOffset.
// It reads in batches ordered by global offset and polls once caught up.
// A query failure closes the channel; the consumer restarts from its
// checkpoint.
func (s *PostgresStore) EventsByTag(ctx context.Context, tag string, fromOffset int64) (<-chan Tagged, error) {
	out := make(chan Tagged, 64)
	go func() {
		defer close(out)
		cursor := fromOffset
		for {
			batch, err := s.readTagBatch(ctx, tag, cursor)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Error().Err(err).Str("tag", tag).Int64("offset", cursor).Msg("tag query failed, closing stream")
				}
				return
			}
			for _, t := range batch {
				select {
				case out <- t:
					cursor = t.Offset
				case <-ctx.Done():
					return
				}
			}
			if len(batch) < s.batchSize {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.pollInterval):
				}
			}
		}
	}()
	return out, nil
}

func (s *PostgresStore) readTagBatch(ctx context.Context, tag string, afterOffset int64) ([]Tagged, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_offset, persistence_id, seq, payload FROM stockmesh.events
		WHERE tag = $1 AND global_offset > $2
		ORDER BY global_offset ASC
		LIMIT $3
	`, tag, afterOffset, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("query tag %s: %w", tag, err)
	}
	defer rows.Close()

	var out []Tagged
	for rows.Next() {
		var (
			t       Tagged
			payload []byte
		)
		if err := rows.Scan(&t.Offset, &t.PersistenceID, &t.Seq, &payload); err != nil {
			return nil, fmt.Errorf("scan tagged row: %w", err)
		}
		rec, err := DecodeRecord(payload)
		if err != nil {
			return nil, fmt.Errorf("decode tagged record at offset %d: %w", t.Offset, err)
		}
		t.Record = rec
		out = append(out, t)
	}
	return out, rows.Err()
}
