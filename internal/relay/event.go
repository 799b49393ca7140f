// Package relay implements the off-chain pipeline that propagates bridge
// events from a source chain to authorizing transactions on a destination
// chain: cursor-anchored event sourcing, finality gating, deduplication,
// dispatch, and retried submission.
package relay

import (
	"fmt"
	"strings"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// EventKey uniquely identifies a bridge event across restarts.
type EventKey struct {
	ChainID string `json:"chainId"`
	Nonce   uint64 `json:"nonce"`
}

func (k EventKey) String() string {
	return fmt.Sprintf("%s/%d", k.ChainID, k.Nonce)
}

// KeyOf returns the dedup key for a normalized event.
func KeyOf(ev *gateway.BridgeEvent) EventKey {
	return EventKey{ChainID: ev.SourceChainID, Nonce: ev.Nonce}
}

// ValidateEvent checks the relayer's event invariants. A violation is
// classified Invariant: it is never retried and indicates a bug or
// chain-side tampering.
func ValidateEvent(ev *gateway.BridgeEvent) error {
	if ev.Kind != gateway.EventLock && ev.Kind != gateway.EventBurn {
		return gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("unknown event kind %q", ev.Kind), nil)
	}
	if ev.SourceChainID == "" || ev.SourceTxID == "" {
		return gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			"event missing source chain or transaction id", nil)
	}
	if ev.Amount == nil || ev.Amount.Sign() <= 0 {
		return gateway.NewInvariantError(gateway.ErrCodeInvalidAmount,
			fmt.Sprintf("event %s has non-positive amount", KeyOf(ev)), nil)
	}
	if strings.TrimSpace(ev.Recipient) == "" {
		return gateway.NewInvariantError(gateway.ErrCodeInvalidAddress,
			fmt.Sprintf("event %s has empty recipient", KeyOf(ev)), nil)
	}
	return nil
}
