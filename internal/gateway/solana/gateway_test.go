// Package solana - RPC adapter tests
package solana

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// fakeClient scripts the narrowed RPC surface.
type fakeClient struct {
	slot uint64
	sigs []*rpc.TransactionSignature

	lastUntil solana.Signature
}

func (f *fakeClient) GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error) {
	return f.slot, nil
}

func (f *fakeClient) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	if opts != nil {
		f.lastUntil = opts.Until
	}
	// Newest first, like the real RPC; stop at Until.
	var out []*rpc.TransactionSignature
	for _, sig := range f.sigs {
		if opts != nil && sig.Signature == opts.Until {
			break
		}
		out = append(out, sig)
	}
	return out, nil
}

func sigN(n byte) solana.Signature {
	var s solana.Signature
	s[0] = n
	return s
}

func memoSig(n byte, slot uint64, memo string) *rpc.TransactionSignature {
	m := memo
	return &rpc.TransactionSignature{Signature: sigN(n), Slot: slot, Memo: &m}
}

func newTestGateway(t *testing.T, f *fakeClient) *Gateway {
	t.Helper()
	gw, err := New(f, Config{
		ChainID:       "solana",
		Endpoint:      "http://localhost:8899",
		BridgeProgram: solana.SystemProgramID.String(),
	})
	require.NoError(t, err)
	return gw
}

func TestNewRejectsBadProgramAddress(t *testing.T) {
	_, err := New(&fakeClient{}, Config{ChainID: "solana", BridgeProgram: "0Il"})
	require.Error(t, err)
}

func TestQueryEventsParsesMemo(t *testing.T) {
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{
			memoSig(1, 400, "[44] bridge-lock:2:0x2222222222222222222222222222222222222222:1000000"),
		},
	}
	gw := newTestGateway(t, f)

	events, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, gateway.EventLock, ev.Kind)
	assert.Equal(t, "solana", ev.SourceChainID)
	assert.Equal(t, uint64(400), ev.BlockHeight)
	assert.Equal(t, uint64(2), ev.Nonce)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", ev.Recipient)
	assert.Equal(t, "1000000", ev.Amount.String())
	assert.Empty(t, ev.TargetToken)
	assert.Equal(t, sigN(1).String(), ev.SourceTxID)
}

func TestQueryEventsTargetTokenSuffix(t *testing.T) {
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{
			memoSig(1, 400, "bridge-lock:3:0x2222222222222222222222222222222222222222:5:0x3333333333333333333333333333333333333333"),
		},
	}
	gw := newTestGateway(t, f)

	events, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", events[0].TargetToken)
}

// TestQueryEventsSkipsFailedAndForeign: failed transactions and memos
// without the bridge tag never become events.
func TestQueryEventsSkipsFailedAndForeign(t *testing.T) {
	failed := memoSig(2, 401, "bridge-lock:9:0x2222222222222222222222222222222222222222:1")
	failed.Err = map[string]interface{}{"InstructionError": 0}
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{
			failed,
			memoSig(3, 402, "gm"),
			{Signature: sigN(4), Slot: 403}, // no memo at all
		},
	}
	gw := newTestGateway(t, f)

	events, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// TestQueryEventsPagesFromLastSignature: the second poll bounds the
// listing at the newest signature already scanned.
func TestQueryEventsPagesFromLastSignature(t *testing.T) {
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{
			memoSig(2, 410, "bridge-lock:1:0x2222222222222222222222222222222222222222:7"),
			memoSig(1, 400, "bridge-lock:0:0x2222222222222222222222222222222222222222:5"),
		},
	}
	gw := newTestGateway(t, f)

	events, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Oldest first despite the RPC's newest-first listing.
	assert.Equal(t, uint64(0), events[0].Nonce)
	assert.Equal(t, uint64(1), events[1].Nonce)

	_, err = gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	assert.Equal(t, sigN(2), f.lastUntil)
}

// TestQueryEventsHoldsAboveWindow: slots beyond the finality window stay
// buffered until a later query covers them.
func TestQueryEventsHoldsAboveWindow(t *testing.T) {
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{
			memoSig(1, 480, "bridge-lock:5:0x2222222222222222222222222222222222222222:9"),
		},
	}
	gw := newTestGateway(t, f)

	events, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = gw.QueryEvents(context.Background(), gateway.EventLock, 451, 490)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(5), events[0].Nonce)
}

func TestMalformedMemoIsInvariant(t *testing.T) {
	f := &fakeClient{
		slot: 500,
		sigs: []*rpc.TransactionSignature{memoSig(1, 400, "bridge-lock:oops")},
	}
	gw := newTestGateway(t, f)

	_, err := gw.QueryEvents(context.Background(), gateway.EventLock, 1, 450)
	require.Error(t, err)
	assert.True(t, gateway.IsInvariant(err))
}

func TestDestinationOperationsUnsupported(t *testing.T) {
	gw := newTestGateway(t, &fakeClient{slot: 1})

	_, err := gw.Submit(context.Background(), &gateway.BridgeCall{})
	assert.True(t, gateway.IsPermanent(err))
	_, err = gw.Quote(context.Background(), "a", "b", nil)
	assert.True(t, gateway.IsPermanent(err))
}
