// Package stellar implements a source-side relayer Gateway over Horizon.
//
// Stellar has no contract events; the bridge account receives payments
// whose transaction memo carries the bridge instruction. The adapter polls
// the account's payment operations, resolves each payment's ledger via its
// transaction, and normalizes the result.
//
// Relaxed guarantee relative to the EVM path: Horizon paging cursors are
// the scan anchor rather than ledger ranges, and a payment carries no log
// index, so events carry the transaction hash with log index 0.
// Idempotence still rests on the (chain, nonce) key parsed from the memo.
// Confirmation depth comes from the chain's configuration like any other
// chain.
package stellar

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon/operations"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// memoPrefix tags bridge payments; anything else on the account is ignored.
// Layout: bridge:<nonce>:<recipient>[:<targetToken>]
const memoPrefix = "bridge:"

// stroopsPerLumen converts Horizon's 7-decimal amount strings.
const stroopsPerLumen = 10_000_000

// Horizon is the subset of horizonclient.ClientInterface the adapter uses.
type Horizon interface {
	Root() (horizonRoot, error)
	Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error)
	TransactionLedger(ctx context.Context, hash string) (uint64, string, error)
}

// horizonRoot carries the only root field the adapter reads.
type horizonRoot struct {
	LatestLedger uint64
}

// Config describes the Stellar side of the bridge.
type Config struct {
	ChainID       string
	HorizonURL    string
	BridgeAccount string // account id whose incoming payments are bridge locks
}

// Gateway is a source-only Stellar adapter. Destination-side operations
// return ERR_UNSUPPORTED.
type Gateway struct {
	cfg     Config
	horizon Horizon

	// Paging state: payments already fetched but above the requested
	// height window are buffered until a later query covers them.
	mu       sync.Mutex
	cursor   string
	buffered []gateway.BridgeEvent
}

// Dial connects to Horizon and verifies the bridge account is reachable.
func Dial(ctx context.Context, cfg Config) (*Gateway, error) {
	client := &horizonclient.Client{
		HorizonURL: cfg.HorizonURL,
		HTTP:       http.DefaultClient,
	}
	gw := New(&liveHorizon{client: client}, cfg)
	if _, err := gw.CurrentHeight(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach horizon at %s: %w", cfg.HorizonURL, err)
	}
	return gw, nil
}

// New builds a gateway over an already-connected Horizon client.
func New(h Horizon, cfg Config) *Gateway {
	return &Gateway{cfg: cfg, horizon: h}
}

func (g *Gateway) ChainID() string { return g.cfg.ChainID }

func (g *Gateway) CurrentHeight(ctx context.Context) (uint64, error) {
	root, err := g.horizon.Root()
	if err != nil {
		return 0, classify("root", err)
	}
	return root.LatestLedger, nil
}

// QueryEvents pages payment operations forward from the adapter's Horizon
// cursor and returns those whose ledger falls inside [from, to]. Payments
// beyond to stay buffered for a later query.
func (g *Gateway) QueryEvents(ctx context.Context, kind gateway.EventKind, from, to uint64) ([]gateway.BridgeEvent, error) {
	if kind != gateway.EventLock {
		return nil, gateway.NewPermanentError(gateway.ErrCodeUnsupported,
			"stellar adapter only sources lock events", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	page, err := g.horizon.Payments(horizonclient.OperationRequest{
		ForAccount: g.cfg.BridgeAccount,
		Cursor:     g.cursor,
		Order:      horizonclient.OrderAsc,
		Limit:      200,
	})
	if err != nil {
		return nil, classify("payments", err)
	}

	for _, record := range page.Embedded.Records {
		payment, ok := record.(operations.Payment)
		if !ok {
			g.cursor = record.PagingToken()
			continue
		}
		if payment.To != g.cfg.BridgeAccount {
			g.cursor = payment.PagingToken()
			continue
		}

		ledger, memo, err := g.horizon.TransactionLedger(ctx, payment.TransactionHash)
		if err != nil {
			return nil, classify("transaction", err)
		}
		g.cursor = payment.PagingToken()

		if !strings.HasPrefix(memo, memoPrefix) {
			continue
		}
		ev, err := g.normalize(&payment, ledger, memo)
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
	return out, nil
}

// normalize parses a bridge payment into the relayer representation.
func (g *Gateway) normalize(payment *operations.Payment, ledger uint64, memo string) (*gateway.BridgeEvent, error) {
	parts := strings.Split(strings.TrimPrefix(memo, memoPrefix), ":")
	if len(parts) < 2 {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("malformed bridge memo %q", memo), nil)
	}
	nonce, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("bad nonce in memo %q", memo), err)
	}

	amount, err := parseStroops(payment.Amount)
	if err != nil {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAmount,
			fmt.Sprintf("bad payment amount %q", payment.Amount), err)
	}

	ev := &gateway.BridgeEvent{
		Kind:          gateway.EventLock,
		SourceChainID: g.cfg.ChainID,
		SourceTxID:    payment.TransactionHash,
		BlockHeight:   ledger,
		LogIndex:      0, // payments carry no log index; the operation is the unit
		Nonce:         nonce,
		Sender:        payment.From,
		Recipient:     parts[1],
		Amount:        amount,
		FirstSeenAt:   time.Now(),
	}
	if len(parts) > 2 && parts[2] != "" {
		ev.TargetToken = parts[2]
	}
	return ev, nil
}

// parseStroops converts a 7-decimal Horizon amount string to base units.
func parseStroops(amount string) (*big.Int, error) {
	whole, frac, _ := strings.Cut(amount, ".")
	out, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal: %q", amount)
	}
	out.Mul(out, big.NewInt(stroopsPerLumen))
	if frac != "" {
		if len(frac) > 7 {
			frac = frac[:7]
		}
		for len(frac) < 7 {
			frac += "0"
		}
		fracInt, ok := new(big.Int).SetString(frac, 10)
		if !ok {
			return nil, fmt.Errorf("not a decimal: %q", amount)
		}
		out.Add(out, fracInt)
	}
	return out, nil
}

// Destination-side operations are not available on the Stellar leg.

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
		op+" is not supported on the stellar leg", nil)
}

func classify(op string, err error) *gateway.Error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		retryAfter := 5 * time.Second
		return gateway.NewTransientError(gateway.ErrCodeRateLimited, op+" rate limited", &retryAfter, err)
	}
	if strings.Contains(msg, "not found") {
		return gateway.NewPermanentError(gateway.ErrCodeBadCall, op+" target not found", err)
	}
	return gateway.NewTransientError(gateway.ErrCodeRPCUnavailable, op+" failed", nil, err)
}

// liveHorizon adapts horizonclient.Client to the narrowed interface.
type liveHorizon struct {
	client *horizonclient.Client
}

func (h *liveHorizon) Root() (horizonRoot, error) {
	root, err := h.client.Root()
	if err != nil {
		return horizonRoot{}, err
	}
	return horizonRoot{LatestLedger: uint64(root.HorizonSequence)}, nil
}

func (h *liveHorizon) Payments(request horizonclient.OperationRequest) (operations.OperationsPage, error) {
	return h.client.Payments(request)
}

func (h *liveHorizon) TransactionLedger(ctx context.Context, hash string) (uint64, string, error) {
	tx, err := h.client.TransactionDetail(hash)
	if err != nil {
		return 0, "", err
	}
	return uint64(tx.Ledger), tx.Memo, nil
}

// Ensure Gateway implements the relayer contract
var _ gateway.Gateway = (*Gateway)(nil)
