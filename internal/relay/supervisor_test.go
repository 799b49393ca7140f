// Package relay - Supervisor and restart reconciliation tests
package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/bridgerelay/internal/gateway"
	"github.com/yourusername/bridgerelay/internal/metrics"
)

func newTestSupervisor(t *testing.T, source, dest *gateway.MockGateway, store StateStore) *Supervisor {
	t.Helper()
	swap, err := NewSwapProtection(100)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.RetryPolicy = fastPolicy(3)
	opts.CallTimeout = time.Second
	opts.ShutdownGrace = time.Second
	opts.CleanupInterval = time.Hour
	opts.StatsInterval = time.Hour

	dir := &Direction{
		Name:   "lock-a-to-b",
		Source: source,
		Dest:   dest,
		Kind:   gateway.EventLock,
		SourceCfg: EventSourceConfig{
			Kind:          gateway.EventLock,
			Confirmations: 3,
			PollInterval:  5 * time.Millisecond,
			MaxBlockRange: 500,
		},
		Workers: 2,
	}
	return NewSupervisor([]*Direction{dir}, store, swap, opts, testLogger(), metrics.NewRecorder())
}

func runSupervisor(t *testing.T, s *Supervisor, ctx context.Context) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func waitForStatus(t *testing.T, store StateStore, key EventKey, want Status) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		rec, err := store.Get(key)
		require.NoError(t, err)
		if rec != nil && rec.Status == want {
			return
		}
		select {
		case <-deadline:
			got := Status("<absent>")
			if rec != nil {
				got = rec.Status
			}
			t.Fatalf("record %s never reached %s (now %s)", key, want, got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestEndToEndLockToMint runs the full pipeline: source poll, finality,
// claim, dispatch, submit, done.
func TestEndToEndLockToMint(t *testing.T) {
	source := gateway.NewMockGateway("chainA")
	dest := gateway.NewMockGateway("chainB")
	store := NewMemoryStore()

	ev := lockEvent("chainA", 0)
	ev.BlockHeight = 10
	source.AddEvent(ev)
	source.SetHeight(13) // three confirmations on top of block 10

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runSupervisor(t, newTestSupervisor(t, source, dest, store), ctx)

	waitForStatus(t, store, KeyOf(&ev), StatusDone)
	require.Len(t, dest.Submitted(), 1)
	assert.Equal(t, gateway.CallMint, dest.Submitted()[0].Method)

	cancel()
	require.NoError(t, <-errCh)
}

// TestReconcileSubmittedAsDone: a record left Submitted by a dead process
// whose transaction did land is finished without a new submission.
func TestReconcileSubmittedAsDone(t *testing.T) {
	source := gateway.NewMockGateway("chainA")
	dest := gateway.NewMockGateway("chainB")
	store := NewMemoryStore()

	ev := lockEvent("chainA", 5)
	key := KeyOf(&ev)
	_, err := store.BeginProcessing(key, &ev)
	require.NoError(t, err)
	require.NoError(t, store.MarkSubmitted(key, "0xold"))
	dest.SetProcessed(5, true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runSupervisor(t, newTestSupervisor(t, source, dest, store), ctx)

	waitForStatus(t, store, key, StatusDone)
	assert.Empty(t, dest.Submitted(), "landed transactions are not resubmitted")

	cancel()
	require.NoError(t, <-errCh)
}

// TestReconcileSubmittedNeverLanded: a record left Submitted whose
// transaction never landed is re-dispatched.
func TestReconcileSubmittedNeverLanded(t *testing.T) {
	source := gateway.NewMockGateway("chainA")
	dest := gateway.NewMockGateway("chainB")
	store := NewMemoryStore()

	ev := lockEvent("chainA", 6)
	key := KeyOf(&ev)
	_, err := store.BeginProcessing(key, &ev)
	require.NoError(t, err)
	require.NoError(t, store.MarkSubmitted(key, "0xvanished"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runSupervisor(t, newTestSupervisor(t, source, dest, store), ctx)

	waitForStatus(t, store, key, StatusDone)
	require.Len(t, dest.Submitted(), 1)
	assert.Equal(t, uint64(6), dest.Submitted()[0].Nonce)

	cancel()
	require.NoError(t, <-errCh)
}

// TestReconcileStaleClaim: a Dispatching record from a crash mid-flight is
// driven again at boot.
func TestReconcileStaleClaim(t *testing.T) {
	source := gateway.NewMockGateway("chainA")
	dest := gateway.NewMockGateway("chainB")
	store := NewMemoryStore()

	ev := lockEvent("chainA", 8)
	key := KeyOf(&ev)
	_, err := store.BeginProcessing(key, &ev)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runSupervisor(t, newTestSupervisor(t, source, dest, store), ctx)

	waitForStatus(t, store, key, StatusDone)
	require.Len(t, dest.Submitted(), 1)

	cancel()
	require.NoError(t, <-errCh)
}

// TestRestartReplayConverges: restarting with a fresh in-memory store
// replays events from the cursor; the destination replay map keeps the
// outcome identical to an uninterrupted run.
func TestRestartReplayConverges(t *testing.T) {
	source := gateway.NewMockGateway("chainA")
	dest := gateway.NewMockGateway("chainB")

	ev := lockEvent("chainA", 0)
	ev.BlockHeight = 10
	source.AddEvent(ev)
	source.SetHeight(13)

	// First run processes the event.
	store1 := NewMemoryStore()
	ctx1, cancel1 := context.WithCancel(context.Background())
	errCh1 := runSupervisor(t, newTestSupervisor(t, source, dest, store1), ctx1)
	waitForStatus(t, store1, KeyOf(&ev), StatusDone)
	cancel1()
	require.NoError(t, <-errCh1)
	require.Len(t, dest.Submitted(), 1)

	// Second run starts from nothing and re-sees the event.
	store2 := NewMemoryStore()
	ctx2, cancel2 := context.WithCancel(context.Background())
	errCh2 := runSupervisor(t, newTestSupervisor(t, source, dest, store2), ctx2)
	waitForStatus(t, store2, KeyOf(&ev), StatusDone)
	cancel2()
	require.NoError(t, <-errCh2)

	assert.Len(t, dest.Submitted(), 1, "replay after restart causes no second mint")
}
