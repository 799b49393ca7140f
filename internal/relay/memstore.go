// Package relay - In-memory state store implementation
package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// MemoryStore implements StateStore in process memory. Sufficient for
// operation when combined with the destination-side isProcessed guard;
// processing history does not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[EventKey]*ProcessingRecord
	cursors map[cursorKey]uint64
}

type cursorKey struct {
	chainID string
	kind    gateway.EventKind
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[EventKey]*ProcessingRecord),
		cursors: make(map[cursorKey]uint64),
	}
}

func (s *MemoryStore) BeginProcessing(key EventKey, ev *gateway.BridgeEvent) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		s.records[key] = newRecord(key, ev, StatusDispatching)
		return Fresh, nil
	}
	return claimExisting(rec), nil
}

func (s *MemoryStore) NoteObserved(key EventKey, ev *gateway.BridgeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[key]; exists {
		return nil
	}
	s.records[key] = newRecord(key, ev, StatusAwaitingFinality)
	return nil
}

func (s *MemoryStore) MarkSubmitted(key EventKey, destTxID string) error {
	return s.mutate(key, func(rec *ProcessingRecord) error {
		return transitionSubmitted(rec, destTxID)
	})
}

func (s *MemoryStore) MarkDone(key EventKey) error {
	return s.mutate(key, transitionDone)
}

func (s *MemoryStore) MarkFailed(key EventKey, reason string) error {
	return s.mutate(key, func(rec *ProcessingRecord) error {
		return transitionFailed(rec, reason)
	})
}

func (s *MemoryStore) ReleaseClaim(key EventKey) error {
	return s.mutate(key, transitionRelease)
}

func (s *MemoryStore) RetryFailed(key EventKey) error {
	return s.mutate(key, transitionRetry)
}

func (s *MemoryStore) ReclaimSubmitted(key EventKey) error {
	return s.mutate(key, transitionReclaim)
}

func (s *MemoryStore) mutate(key EventKey, fn func(*ProcessingRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return fmt.Errorf("no processing record for %s", key)
	}
	return fn(rec)
}

func (s *MemoryStore) Get(key EventKey) (*ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[key]
	if !exists {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ListByStatus(status Status) ([]*ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ProcessingRecord
	for _, rec := range s.records {
		if rec.Status == status {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Nonce < out[j].Key.Nonce
	})
	return out, nil
}

func (s *MemoryStore) Stats() (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[Status]int)
	for _, rec := range s.records {
		stats[rec.Status]++
	}
	return stats, nil
}

func (s *MemoryStore) Cleanup(keepMostRecentDone int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var done []*ProcessingRecord
	for _, rec := range s.records {
		if rec.Status == StatusDone {
			done = append(done, rec)
		}
	}
	if len(done) <= keepMostRecentDone {
		return 0, nil
	}
	sort.Slice(done, func(i, j int) bool {
		return done[i].TerminalAt.After(done[j].TerminalAt)
	})
	removed := 0
	for _, rec := range done[keepMostRecentDone:] {
		delete(s.records, rec.Key)
		removed++
	}
	return removed, nil
}

func (s *MemoryStore) Cursor(chainID string, kind gateway.EventKind) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[cursorKey{chainID, kind}], nil
}

func (s *MemoryStore) SetCursor(chainID string, kind gateway.EventKind, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := cursorKey{chainID, kind}
	if height <= s.cursors[k] {
		return nil
	}
	s.cursors[k] = height
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// newRecord builds a record for a first observation of an event.
func newRecord(key EventKey, ev *gateway.BridgeEvent, status Status) *ProcessingRecord {
	rec := &ProcessingRecord{Key: key, Status: status}
	if ev != nil {
		rec.Event = *ev
	}
	return rec
}

// claimExisting decides the claim result for a record that already exists,
// promoting held records to Dispatching when claimed.
func claimExisting(rec *ProcessingRecord) ClaimResult {
	switch rec.Status {
	case StatusPending, StatusAwaitingFinality:
		rec.Status = StatusDispatching
		return Fresh
	case StatusDispatching, StatusSubmitted:
		return InFlight
	default: // Done, Failed
		return AlreadyDone
	}
}

func transitionSubmitted(rec *ProcessingRecord, destTxID string) error {
	if rec.Status != StatusDispatching {
		return fmt.Errorf("cannot mark %s submitted from %s", rec.Key, rec.Status)
	}
	rec.Status = StatusSubmitted
	rec.DestTxID = destTxID
	rec.Attempts++
	rec.LastAttemptAt = time.Now()
	return nil
}

func transitionDone(rec *ProcessingRecord) error {
	if rec.Status == StatusDone {
		return nil
	}
	if rec.Status != StatusDispatching && rec.Status != StatusSubmitted {
		return fmt.Errorf("cannot mark %s done from %s", rec.Key, rec.Status)
	}
	rec.Status = StatusDone
	rec.LastError = ""
	rec.TerminalAt = time.Now()
	return nil
}

func transitionFailed(rec *ProcessingRecord, reason string) error {
	if rec.Status == StatusFailed {
		return nil
	}
	if rec.Status == StatusDone {
		return fmt.Errorf("cannot fail %s: already done", rec.Key)
	}
	rec.Status = StatusFailed
	rec.LastError = reason
	rec.TerminalAt = time.Now()
	return nil
}

func transitionRelease(rec *ProcessingRecord) error {
	if rec.Status != StatusDispatching {
		return fmt.Errorf("cannot release %s from %s", rec.Key, rec.Status)
	}
	rec.Status = StatusPending
	rec.LastAttemptAt = time.Now()
	return nil
}

// transitionReclaim is the restart-reconciliation edge: Submitted back to
// Dispatching when the destination reports the nonce unprocessed.
func transitionReclaim(rec *ProcessingRecord) error {
	if rec.Status != StatusSubmitted {
		return fmt.Errorf("cannot reclaim %s from %s", rec.Key, rec.Status)
	}
	rec.Status = StatusDispatching
	rec.DestTxID = ""
	return nil
}

// transitionRetry is the operator re-queue edge: Failed back to Pending.
func transitionRetry(rec *ProcessingRecord) error {
	if rec.Status != StatusFailed {
		return fmt.Errorf("cannot retry %s: status is %s, not failed", rec.Key, rec.Status)
	}
	rec.Status = StatusPending
	rec.LastError = ""
	rec.TerminalAt = time.Time{}
	return nil
}

// Ensure MemoryStore implements StateStore
var _ StateStore = (*MemoryStore)(nil)
