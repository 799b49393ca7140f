// Package relay - Durable state store backed by bbolt
package relay

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

var (
	bucketCursors    = []byte("cursors")
	bucketProcessing = []byte("processing")
)

// BoltStore implements StateStore on a bbolt file. Every mutation runs in
// its own write transaction, so rows are updated atomically and claims are
// serialized by the database's single-writer discipline.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (or creates) the state database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketCursors); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketProcessing)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func recordKey(key EventKey) []byte {
	// Fixed-width nonce keeps keys sortable per chain.
	return []byte(fmt.Sprintf("%s/%020d", key.ChainID, key.Nonce))
}

func (s *BoltStore) BeginProcessing(key EventKey, ev *gateway.BridgeEvent) (result ClaimResult, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessing)
		raw := b.Get(recordKey(key))
		if raw == nil {
			result = Fresh
			return putRecord(b, newRecord(key, ev, StatusDispatching))
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		result = claimExisting(rec)
		if result == Fresh {
			return putRecord(b, rec)
		}
		return nil
	})
	return result, err
}

func (s *BoltStore) NoteObserved(key EventKey, ev *gateway.BridgeEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessing)
		if b.Get(recordKey(key)) != nil {
			return nil
		}
		return putRecord(b, newRecord(key, ev, StatusAwaitingFinality))
	})
}

func (s *BoltStore) MarkSubmitted(key EventKey, destTxID string) error {
	return s.update(key, func(rec *ProcessingRecord) error {
		return transitionSubmitted(rec, destTxID)
	})
}

func (s *BoltStore) MarkDone(key EventKey) error {
	return s.update(key, transitionDone)
}

func (s *BoltStore) MarkFailed(key EventKey, reason string) error {
	return s.update(key, func(rec *ProcessingRecord) error {
		return transitionFailed(rec, reason)
	})
}

func (s *BoltStore) ReleaseClaim(key EventKey) error {
	return s.update(key, transitionRelease)
}

func (s *BoltStore) RetryFailed(key EventKey) error {
	return s.update(key, transitionRetry)
}

func (s *BoltStore) ReclaimSubmitted(key EventKey) error {
	return s.update(key, transitionReclaim)
}

func (s *BoltStore) update(key EventKey, fn func(*ProcessingRecord) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessing)
		raw := b.Get(recordKey(key))
		if raw == nil {
			return fmt.Errorf("no processing record for %s", key)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
		return putRecord(b, rec)
	})
}

func (s *BoltStore) Get(key EventKey) (*ProcessingRecord, error) {
	var rec *ProcessingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketProcessing).Get(recordKey(key))
		if raw == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(raw)
		return err
	})
	return rec, err
}

func (s *BoltStore) ListByStatus(status Status) ([]*ProcessingRecord, error) {
	var out []*ProcessingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessing).ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if rec.Status == status {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Nonce < out[j].Key.Nonce
	})
	return out, nil
}

func (s *BoltStore) Stats() (map[Status]int, error) {
	stats := make(map[Status]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProcessing).ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			stats[rec.Status]++
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *BoltStore) Cleanup(keepMostRecentDone int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProcessing)
		var done []*ProcessingRecord
		if err := b.ForEach(func(_, raw []byte) error {
			rec, err := decodeRecord(raw)
			if err != nil {
				return err
			}
			if rec.Status == StatusDone {
				done = append(done, rec)
			}
			return nil
		}); err != nil {
			return err
		}
		if len(done) <= keepMostRecentDone {
			return nil
		}
		sort.Slice(done, func(i, j int) bool {
			return done[i].TerminalAt.After(done[j].TerminalAt)
		})
		for _, rec := range done[keepMostRecentDone:] {
			if err := b.Delete(recordKey(rec.Key)); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) Cursor(chainID string, kind gateway.EventKind) (uint64, error) {
	var height uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCursors).Get(cursorBoltKey(chainID, kind))
		if len(raw) == 8 {
			height = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	return height, err
}

func (s *BoltStore) SetCursor(chainID string, kind gateway.EventKind, height uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCursors)
		key := cursorBoltKey(chainID, kind)
		if raw := b.Get(key); len(raw) == 8 && binary.BigEndian.Uint64(raw) >= height {
			return nil
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, height)
		return b.Put(key, buf)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func cursorBoltKey(chainID string, kind gateway.EventKind) []byte {
	return []byte(chainID + "/" + string(kind))
}

func putRecord(b *bolt.Bucket, rec *ProcessingRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Key, err)
	}
	return b.Put(recordKey(rec.Key), raw)
}

func decodeRecord(raw []byte) (*ProcessingRecord, error) {
	var rec ProcessingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode processing record: %w", err)
	}
	return &rec, nil
}

// Ensure BoltStore implements StateStore
var _ StateStore = (*BoltStore)(nil)
