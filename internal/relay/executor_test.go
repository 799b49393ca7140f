// Package relay - Action executor tests
package relay

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// fastPolicy keeps test backoffs in the millisecond range.
func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func mintCall(nonce uint64) *gateway.BridgeCall {
	return &gateway.BridgeCall{
		Method:    gateway.CallMint,
		Recipient: "0x2222222222222222222222222222222222222222",
		Amount:    big.NewInt(100),
		Nonce:     nonce,
		Auth:      []byte{1},
	}
}

// claimFor puts a record in Dispatching, mirroring the dispatcher's state
// when it hands a call to the executor.
func claimFor(t *testing.T, store ProcessingStore, nonce uint64) EventKey {
	t.Helper()
	ev := lockEvent("chainA", nonce)
	key := KeyOf(&ev)
	claim, err := store.BeginProcessing(key, &ev)
	require.NoError(t, err)
	require.Equal(t, Fresh, claim)
	return key
}

func TestExecuteHappyPath(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 0)
	require.NoError(t, exec.Execute(context.Background(), key, mintCall(0)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.NotEmpty(t, rec.DestTxID)
	require.Len(t, dest.Submitted(), 1)

	processed, err := dest.IsProcessed(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestExecuteRetriesTransient(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetErrorTimes("Submit", gateway.NewTransientError(gateway.ErrCodeRPCTimeout, "timeout", nil, nil), 2)
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 1)
	require.NoError(t, exec.Execute(context.Background(), key, mintCall(1)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, 3, dest.GetCallCount("Submit"))
}

func TestExecuteReleasesOnExhaustedTransient(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetError("Submit", gateway.NewTransientError(gateway.ErrCodeRPCUnavailable, "down", nil, nil))
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(2), time.Second, testLogger(), nil)

	key := claimFor(t, store, 2)
	require.Error(t, exec.Execute(context.Background(), key, mintCall(2)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status, "record returns to pending for a later sweep")
	assert.Equal(t, 2, dest.GetCallCount("Submit"))
}

func TestExecuteStopsOnPermanent(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetError("Submit", gateway.NewPermanentError(gateway.ErrCodeTxReverted, "bad call", nil))
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 3)
	require.Error(t, exec.Execute(context.Background(), key, mintCall(3)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 1, dest.GetCallCount("Submit"), "permanent errors are never retried")
}

// TestExecuteAlreadyProcessedRevert covers the "Already processed" revert:
// the nonce went through on a prior attempt, so the record is done.
func TestExecuteAlreadyProcessedRevert(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetError("Submit", gateway.NewError(gateway.ErrCodeAlreadyProcessed, "nonce done", gateway.AlreadyProcessed, nil))
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 4)
	require.NoError(t, exec.Execute(context.Background(), key, mintCall(4)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
}

// TestExecuteSwapFailedReceipt is the slippage-trip scenario: the call
// mines, but the receipt carries the bridge's SwapFailed outcome.
func TestExecuteSwapFailedReceipt(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetReceipt("0xmock0001", &gateway.Receipt{
		TxID: "0xmock0001", BlockHeight: 90, Success: true, SwapFailed: true,
	})
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 5)
	err := exec.Execute(context.Background(), key, &gateway.BridgeCall{
		Method:      gateway.CallMintAndSwap,
		Recipient:   "0x2222222222222222222222222222222222222222",
		Amount:      big.NewInt(100_000_000),
		Nonce:       5,
		Auth:        []byte{1},
		TargetToken: "0x3333333333333333333333333333333333333333",
		MinOut:      big.NewInt(99_097_812),
	})
	require.Error(t, err)
	assert.True(t, gateway.IsSwapProtection(err))

	rec, gerr := store.Get(key)
	require.NoError(t, gerr)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.LastError, "SwapProtectionTriggered")

	// Not retried automatically; one submission only.
	assert.Equal(t, 1, dest.GetCallCount("Submit"))
}

func TestExecuteRevertedReceipt(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetReceipt("0xmock0001", &gateway.Receipt{TxID: "0xmock0001", Success: false})
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 6)
	err := exec.Execute(context.Background(), key, mintCall(6))
	require.Error(t, err)

	rec, gerr := store.Get(key)
	require.NoError(t, gerr)
	assert.Equal(t, StatusFailed, rec.Status)
}

// TestExecuteInclusionTimeoutConsultsReplayMap: when the receipt never
// arrives but the replay map says the nonce landed, the record is done
// without a second submission.
func TestExecuteInclusionTimeoutConsultsReplayMap(t *testing.T) {
	dest := gateway.NewMockGateway("chainB")
	dest.SetError("AwaitInclusion", gateway.NewTransientError(gateway.ErrCodeTxTimeout, "not mined", nil, nil))
	store := NewMemoryStore()
	exec := NewActionExecutor(dest, store, fastPolicy(3), time.Second, testLogger(), nil)

	key := claimFor(t, store, 7)
	require.NoError(t, exec.Execute(context.Background(), key, mintCall(7)))

	rec, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, rec.Status)
	assert.Equal(t, 1, dest.GetCallCount("Submit"))
}
