package journal

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryPollInterval is how often a live tag query checks for new records.
const memoryPollInterval = 50 * time.Millisecond

type taggedRecord struct {
	offset        int64
	persistenceID string
	seq           int64
	tag           string
	rec           Record
}

// MemoryStore is an in-process Store. It backs single-node runs without
// Postgres and every journal-dependent test.
type MemoryStore struct {
	mu         sync.RWMutex
	nextOffset int64
	byEntity   map[string][]taggedRecord
	byTag      map[string][]taggedRecord
	snapshots  map[string][]Snapshot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byEntity:  make(map[string][]taggedRecord),
		byTag:     make(map[string][]taggedRecord),
		snapshots: make(map[string][]Snapshot),
	}
}

// Append writes records under persistenceID, tagging each with its stock's
// ticker symbol.
func (s *MemoryStore) Append(_ context.Context, persistenceID string, records []Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.byEntity[persistenceID]
	seq := int64(0)
	if n := len(stream); n > 0 {
		seq = stream[n-1].seq
	}
	for _, rec := range records {
		s.nextOffset++
		seq++
		tr := taggedRecord{
			offset:        s.nextOffset,
			persistenceID: persistenceID,
			seq:           seq,
			tag:           rec.StockID(),
			rec:           rec,
		}
		stream = append(stream, tr)
		s.byTag[tr.tag] = append(s.byTag[tr.tag], tr)
	}
	s.byEntity[persistenceID] = stream
	return seq, nil
}

// Replay returns persisted records with sequence > fromSeq, in order.
func (s *MemoryStore) Replay(_ context.Context, persistenceID string, fromSeq int64) ([]PersistedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PersistedRecord
	for _, tr := range s.byEntity[persistenceID] {
		if tr.seq > fromSeq {
			out = append(out, PersistedRecord{
				PersistenceID: tr.persistenceID,
				Seq:           tr.seq,
				Record:        tr.rec,
			})
		}
	}
	return out, nil
}

// DeleteThrough compacts persistenceID's stream. Tagged records are kept
// so tag queries retain the full history.
func (s *MemoryStore) DeleteThrough(_ context.Context, persistenceID string, throughSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream := s.byEntity[persistenceID]
	i := sort.Search(len(stream), func(i int) bool { return stream[i].seq > throughSeq })
	s.byEntity[persistenceID] = append([]taggedRecord(nil), stream[i:]...)
	return nil
}

// Save stores a snapshot alongside any older ones.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Data = append([]byte(nil), snap.Data...)
	s.snapshots[snap.PersistenceID] = append(s.snapshots[snap.PersistenceID], snap)
	return nil
}

// Load returns the highest-sequence snapshot for persistenceID.
func (s *MemoryStore) Load(_ context.Context, persistenceID string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[persistenceID]
	if len(snaps) == 0 {
		return Snapshot{}, false, nil
	}
	best := snaps[0]
	for _, sn := range snaps[1:] {
		if sn.Seq > best.Seq {
			best = sn
		}
	}
	return best, true, nil
}

// DeleteSnapshotsThrough removes snapshots with sequence <= throughSeq.
func (s *MemoryStore) DeleteSnapshotsThrough(_ context.Context, persistenceID string, throughSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.snapshots[persistenceID]
	kept := snaps[:0]
	for _, sn := range snaps {
		if sn.Seq > throughSeq {
			kept = append(kept, sn)
		}
	}
	s.snapshots[persistenceID] = kept
	return nil
}

// EventsByTag live-tails every record tagged with tag from after fromOffset.
// The channel closes only when ctx is cancelled.
func (s *MemoryStore) EventsByTag(ctx context.Context, tag string, fromOffset int64) (<-chan Tagged, error) {
	out := make(chan Tagged, 64)
	go func() {
		defer close(out)
		cursor := fromOffset
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()
		for {
			for _, tr := range s.pending(tag, cursor) {
				select {
				case out <- Tagged{
					Offset:        tr.offset,
					PersistenceID: tr.persistenceID,
					Seq:           tr.seq,
					Record:        tr.rec,
				}:
					cursor = tr.offset
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (s *MemoryStore) pending(tag string, afterOffset int64) []taggedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.byTag[tag]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].offset > afterOffset })
	if i == len(recs) {
		return nil
	}
	return append([]taggedRecord(nil), recs[i:]...)
}
