// Package gateway defines the unified interface the relayer uses to talk to
// a chain. Each supported chain (EVM, Stellar, Solana) provides its own
// implementation under a subpackage.
package gateway

import (
	"context"
	"math/big"
	"time"
)

// EventKind names the two bridge event families the relayer reacts to.
type EventKind string

const (
	EventLock EventKind = "Lock"
	EventBurn EventKind = "Burn"
)

// Gateway presents one coherent view of a chain.
//
// Contract Guarantees:
//   - All methods are safe for concurrent use by multiple goroutines
//   - All errors returned are *Error with a retry classification
//   - Context cancellation and deadlines are respected
//   - QueryEvents returns events in total (blockHeight, logIndex) order
//   - Submit serializes transactions per signer so the account nonce
//     advances without gaps; concurrent callers queue
type Gateway interface {
	// ChainID returns the logical identifier for this chain
	// (e.g. "sepolia", "bsc-testnet", "stellar", "solana").
	ChainID() string

	// CurrentHeight returns the latest observed head height
	// (block number, ledger sequence, or slot depending on the chain).
	CurrentHeight(ctx context.Context) (uint64, error)

	// QueryEvents returns the bridge events of the given kind emitted in
	// the inclusive height range [from, to], decoded into the normalized
	// representation.
	//
	// Contract:
	// - MUST return events ordered by (BlockHeight, LogIndex)
	// - MUST return the same normalized event for the same
	//   (sourceTxID, logIndex) on every call
	// - Transient failures (timeout, 5xx, rate limit) are classified
	//   Transient; the caller decides whether to retry
	QueryEvents(ctx context.Context, kind EventKind, from, to uint64) ([]BridgeEvent, error)

	// Submit signs and sends a bridge call, returning immediately with the
	// transaction identifier. Fee estimation happens inside Submit.
	//
	// Contract:
	// - MUST serialize submissions on the signer (one in flight at a time)
	// - On "nonce too low" / "already known" MUST resynchronize the local
	//   nonce from the chain and retry once before surfacing the error
	Submit(ctx context.Context, call *BridgeCall) (string, error)

	// AwaitInclusion blocks until the submitted transaction is mined or
	// the timeout elapses.
	AwaitInclusion(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error)

	// IsProcessed queries the destination bridge's replay-protection map
	// for the given source nonce.
	IsProcessed(ctx context.Context, nonce uint64) (bool, error)

	// Quote reads the destination-side router for the current pool-derived
	// output of swapping amountIn of tokenIn into tokenOut.
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error)

	// WrappedToken returns the identifier of the wrapped token the
	// destination bridge mints.
	WrappedToken(ctx context.Context) (string, error)

	// SignAuthorization produces the signed artifact the destination
	// bridge accepts for exactly the arguments of the call. Offline; no
	// RPC calls.
	SignAuthorization(call *BridgeCall) ([]byte, error)

	// Close releases the gateway's resources.
	Close() error
}

// BridgeEvent is the normalized record of an observed Lock or Burn.
// (SourceChainID, Nonce) uniquely identifies an event; the same
// (SourceTxID, LogIndex) never yields two distinct normalized events.
type BridgeEvent struct {
	Kind          EventKind
	SourceChainID string
	SourceTxID    string
	BlockHeight   uint64
	LogIndex      uint
	Nonce         uint64
	Sender        string
	Recipient     string
	Amount        *big.Int

	// TargetToken is non-empty only for the swap-enabled Lock shape;
	// empty means plain mint/unlock.
	TargetToken string
	TargetChain string

	FirstSeenAt time.Time
}

// CallMethod selects the destination bridge entry point.
type CallMethod string

const (
	CallMint        CallMethod = "mint"
	CallMintAndSwap CallMethod = "mintAndSwap"
	CallUnlock      CallMethod = "unlock"
)

// BridgeCall describes one destination-chain transaction to be built,
// signed, and submitted by a Gateway.
type BridgeCall struct {
	Method    CallMethod
	Recipient string
	Amount    *big.Int
	Nonce     uint64
	Auth      []byte

	// Swap parameters, set only for CallMintAndSwap.
	TargetToken string
	MinOut      *big.Int

	// GasCap bounds the gas the gateway may spend on this call. Zero
	// means the gateway's default for the method.
	GasCap uint64
}

// Receipt is the result of a mined bridge call.
type Receipt struct {
	TxID        string
	BlockHeight uint64
	Success     bool

	// SwapFailed is set when the bridge executed the call but fell back
	// to a plain wrapped-token transfer because the swap leg missed its
	// output floor.
	SwapFailed bool
}
