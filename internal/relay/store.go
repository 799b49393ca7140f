// Package relay - Processing and cursor state contracts
package relay

import (
	"time"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// Status is the processing state of one bridge event.
type Status string

const (
	StatusPending          Status = "pending"
	StatusAwaitingFinality Status = "awaiting_finality"
	StatusDispatching      Status = "dispatching"
	StatusSubmitted        Status = "submitted"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
)

// Terminal reports whether the status admits no further transitions
// (short of an operator re-queue of a failed record).
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// ProcessingRecord tracks one event through the pipeline, keyed by
// (sourceChainID, nonce).
type ProcessingRecord struct {
	Key           EventKey            `json:"key"`
	Event         gateway.BridgeEvent `json:"event"`
	Status        Status              `json:"status"`
	Attempts      int                 `json:"attempts"`
	LastError     string              `json:"lastError,omitempty"`
	LastAttemptAt time.Time           `json:"lastAttemptAt,omitempty"`
	DestTxID      string              `json:"destTxId,omitempty"`
	TerminalAt    time.Time           `json:"terminalAt,omitempty"`
}

// ClaimResult is the outcome of an atomic processing claim.
type ClaimResult int

const (
	// Fresh means the caller owns the record and must process it.
	Fresh ClaimResult = iota

	// InFlight means another worker currently owns the record.
	InFlight

	// AlreadyDone means the record is terminal (Done or Failed) and must
	// not be reprocessed without an operator re-queue.
	AlreadyDone
)

func (c ClaimResult) String() string {
	switch c {
	case Fresh:
		return "Fresh"
	case InFlight:
		return "InFlight"
	case AlreadyDone:
		return "AlreadyDone"
	default:
		return "Unknown"
	}
}

// ProcessingStore tracks per-event processing status.
// Implementations MUST be thread-safe; BeginProcessing MUST be atomic so
// that two workers racing on the same key see exactly one Fresh result.
type ProcessingStore interface {
	// BeginProcessing claims the key for the calling worker. A Fresh
	// result moves the record to Dispatching; only Fresh proceeds.
	BeginProcessing(key EventKey, ev *gateway.BridgeEvent) (ClaimResult, error)

	// NoteObserved records an event seen inside the confirmation window
	// so it is visible in stats as AwaitingFinality. No-op if the key
	// already has a record.
	NoteObserved(key EventKey, ev *gateway.BridgeEvent) error

	// MarkSubmitted records the destination transaction id once the call
	// has been handed to the chain.
	MarkSubmitted(key EventKey, destTxID string) error

	// MarkDone finishes the record. Idempotent.
	MarkDone(key EventKey) error

	// MarkFailed finishes the record with a diagnostic. Idempotent.
	MarkFailed(key EventKey, reason string) error

	// ReleaseClaim returns a Dispatching record to Pending so a later
	// delivery can reprocess it (used when a transient failure exhausted
	// the retry budget without a submission reaching the chain).
	ReleaseClaim(key EventKey) error

	// RetryFailed moves a Failed record back to Pending. Operator
	// surface; used after a slippage-tolerance update.
	RetryFailed(key EventKey) error

	// ReclaimSubmitted moves a Submitted record back to Dispatching. The
	// only non-forward edge in normal operation: taken during restart
	// reconciliation when the destination reports the nonce unprocessed.
	ReclaimSubmitted(key EventKey) error

	// Get returns the record for key, or nil if absent.
	Get(key EventKey) (*ProcessingRecord, error)

	// ListByStatus returns all records with the given status.
	ListByStatus(status Status) ([]*ProcessingRecord, error)

	// Stats returns the record count per status.
	Stats() (map[Status]int, error)

	// Cleanup removes all but the most recent keepMostRecentDone Done
	// records (by TerminalAt). Failed records are retained until an
	// operator purges them. Returns the number removed.
	Cleanup(keepMostRecentDone int) (int, error)
}

// CursorStore persists the last-scanned height per (chain, event kind).
type CursorStore interface {
	// Cursor returns the persisted cursor, or 0 if none.
	Cursor(chainID string, kind gateway.EventKind) (uint64, error)

	// SetCursor advances the cursor. Implementations MUST ignore attempts
	// to move a cursor backwards.
	SetCursor(chainID string, kind gateway.EventKind, height uint64) error
}

// StateStore combines the two persistence surfaces the supervisor opens.
type StateStore interface {
	ProcessingStore
	CursorStore
	Close() error
}
