// Package solana implements a source-side relayer Gateway over the Solana
// JSON-RPC API.
//
// The bridge program attaches a memo instruction to every lock
// transaction; the adapter polls the program account's signatures and
// parses the memo. Height is the slot the transaction landed in.
//
// Relaxed guarantee relative to the EVM path: signature listings page
// newest-first from the RPC node and carry no log index, so the signature
// itself is the event's transaction id and the log index is always zero.
// Idempotence rests on the (chain, nonce) key parsed from the memo.
package solana

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/mr-tron/base58"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// memoPrefix tags bridge lock memos.
// Layout: bridge-lock:<nonce>:<recipient>:<amount>[:<targetToken>]
const memoPrefix = "bridge-lock:"

// Client is the subset of the solana-go RPC client the adapter uses.
type Client interface {
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
}

// Config describes the Solana side of the bridge.
type Config struct {
	ChainID       string
	Endpoint      string
	BridgeProgram string // base58 program or vault account observed for locks
}

// Gateway is a source-only Solana adapter. Destination-side operations
// return ERR_UNSUPPORTED.
type Gateway struct {
	cfg     Config
	client  Client
	program solana.PublicKey

	// lastSig bounds the next signature listing so each poll only pages
	// transactions not yet scanned.
	mu       sync.Mutex
	lastSig  solana.Signature
	buffered []gateway.BridgeEvent
}

// Dial connects to the RPC endpoint and validates the program address.
func Dial(ctx context.Context, cfg Config) (*Gateway, error) {
	gw, err := New(rpc.New(cfg.Endpoint), cfg)
	if err != nil {
		return nil, err
	}
	if _, err := gw.CurrentHeight(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach solana rpc at %s: %w", cfg.Endpoint, err)
	}
	return gw, nil
}

// New builds a gateway over an existing RPC client.
func New(client Client, cfg Config) (*Gateway, error) {
	if _, err := base58.Decode(cfg.BridgeProgram); err != nil {
		return nil, fmt.Errorf("invalid bridge program address %q: %w", cfg.BridgeProgram, err)
	}
	program, err := solana.PublicKeyFromBase58(cfg.BridgeProgram)
	if err != nil {
		return nil, fmt.Errorf("invalid bridge program address %q: %w", cfg.BridgeProgram, err)
	}
	return &Gateway{cfg: cfg, client: client, program: program}, nil
}

func (g *Gateway) ChainID() string { return g.cfg.ChainID }

func (g *Gateway) CurrentHeight(ctx context.Context) (uint64, error) {
	slot, err := g.client.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, classify("getSlot", err)
	}
	return slot, nil
}

// QueryEvents lists new signatures for the bridge program, parses their
// memos, and returns the events whose slot falls inside [from, to].
func (g *Gateway) QueryEvents(ctx context.Context, kind gateway.EventKind, from, to uint64) ([]gateway.BridgeEvent, error) {
	if kind != gateway.EventLock {
		return nil, gateway.NewPermanentError(gateway.ErrCodeUnsupported,
			"solana adapter only sources lock events", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	opts := &rpc.GetSignaturesForAddressOpts{Commitment: rpc.CommitmentFinalized}
	if g.lastSig != (solana.Signature{}) {
		opts.Until = g.lastSig
	}
	sigs, err := g.client.GetSignaturesForAddressWithOpts(ctx, g.program, opts)
	if err != nil {
		return nil, classify("getSignaturesForAddress", err)
	}

	// The RPC returns newest first; walk oldest first so lastSig ends on
	// the newest scanned signature.
	for i := len(sigs) - 1; i >= 0; i-- {
		sig := sigs[i]
		g.lastSig = sig.Signature
		if sig.Err != nil || sig.Memo == nil {
			continue
		}
		memo := strings.TrimSpace(*sig.Memo)
		// Memo-program logs arrive bracketed, e.g. "[32] bridge-lock:...".
		if idx := strings.Index(memo, "] "); idx >= 0 {
			memo = memo[idx+2:]
		}
		if !strings.HasPrefix(memo, memoPrefix) {
			continue
		}
		ev, err := g.normalize(sig, memo)
		if err != nil {
			return nil, err
		}
		g.buffered = append(g.buffered, *ev)
	}

	var out, keep []gateway.BridgeEvent
	for _, ev := range g.buffered {
		if ev.BlockHeight >= from && ev.BlockHeight <= to {
			out = append(out, ev)
		} else if ev.BlockHeight > to {
			keep = append(keep, ev)
		}
	}
	g.buffered = keep

	sort.Slice(out, func(i, j int) bool { return out[i].BlockHeight < out[j].BlockHeight })
	return out, nil
}

func (g *Gateway) normalize(sig *rpc.TransactionSignature, memo string) (*gateway.BridgeEvent, error) {
	parts := strings.Split(strings.TrimPrefix(memo, memoPrefix), ":")
	if len(parts) < 3 {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("malformed bridge memo %q", memo), nil)
	}
	nonce, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("bad nonce in memo %q", memo), err)
	}
	amount, ok := new(big.Int).SetString(parts[2], 10)
	if !ok {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAmount,
			fmt.Sprintf("bad amount in memo %q", memo), nil)
	}

	ev := &gateway.BridgeEvent{
		Kind:          gateway.EventLock,
		SourceChainID: g.cfg.ChainID,
		SourceTxID:    sig.Signature.String(),
		BlockHeight:   sig.Slot,
		LogIndex:      0,
		Nonce:         nonce,
		Sender:        g.cfg.BridgeProgram,
		Recipient:     parts[1],
		Amount:        amount,
		FirstSeenAt:   time.Now(),
	}
	if sig.BlockTime != nil {
		ev.FirstSeenAt = sig.BlockTime.Time()
	}
	if len(parts) > 3 && parts[3] != "" {
		ev.TargetToken = parts[3]
	}
	return ev, nil
}

// Destination-side operations are not available on the Solana leg.

func (g *Gateway) Submit(ctx context.Context, call *gateway.BridgeCall) (string, error) {
	return "", errUnsupported("submit")
}

func (g *Gateway) AwaitInclusion(ctx context.Context, txID string, timeout time.Duration) (*gateway.Receipt, error) {
	return nil, errUnsupported("awaitInclusion")
}

func (g *Gateway) IsProcessed(ctx context.Context, nonce uint64) (bool, error) {
	return false, errUnsupported("isProcessed")
}

func (g *Gateway) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	return nil, errUnsupported("quote")
}

func (g *Gateway) WrappedToken(ctx context.Context) (string, error) {
	return "", errUnsupported("wrappedToken")
}

func (g *Gateway) SignAuthorization(call *gateway.BridgeCall) ([]byte, error) {
	return nil, errUnsupported("signAuthorization")
}

func (g *Gateway) Close() error { return nil }

func errUnsupported(op string) *gateway.Error {
	return gateway.NewPermanentError(gateway.ErrCodeUnsupported,
		op+" is not supported on the solana leg", nil)
}

func classify(op string, err error) *gateway.Error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		retryAfter := 5 * time.Second
		return gateway.NewTransientError(gateway.ErrCodeRateLimited, op+" rate limited", &retryAfter, err)
	}
	return gateway.NewTransientError(gateway.ErrCodeRPCUnavailable, op+" failed", nil, err)
}

// Ensure Gateway implements the relayer contract
var _ gateway.Gateway = (*Gateway)(nil)
