// Package relay - Event source tests
package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

func newTestSource(gw gateway.Gateway, store StateStore, confirmations uint64) *EventSource {
	return NewEventSource(gw, store, store, EventSourceConfig{
		Kind:          gateway.EventLock,
		Confirmations: confirmations,
		PollInterval:  time.Millisecond,
		MaxBlockRange: 500,
	}, testLogger(), nil)
}

// pollOnce collects everything currently emittable by one poll.
func pollOnce(t *testing.T, s *EventSource) []gateway.BridgeEvent {
	t.Helper()
	out := make(chan gateway.BridgeEvent, 64)
	require.NoError(t, s.poll(context.Background(), out))
	close(out)
	var events []gateway.BridgeEvent
	for ev := range out {
		events = append(events, ev)
	}
	return events
}

// TestFinalityHoldback: events inside the confirmation window are not
// emitted, and the cursor does not pass them.
func TestFinalityHoldback(t *testing.T) {
	gw := gateway.NewMockGateway("chainA")
	store := NewMemoryStore()
	source := newTestSource(gw, store, 3)

	final := lockEvent("chainA", 0)
	final.BlockHeight = 10
	young := lockEvent("chainA", 1)
	young.BlockHeight = 12
	gw.AddEvent(final)
	gw.AddEvent(young)
	gw.SetHeight(13) // safe height is 10

	events := pollOnce(t, source)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].Nonce)

	// The young event is visible in stats but unclaimed.
	rec, err := store.Get(KeyOf(&young))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusAwaitingFinality, rec.Status)

	cursor, err := store.Cursor("chainA", gateway.EventLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cursor, "cursor stops at the finality boundary")

	// Three blocks later the held event is final and emitted.
	gw.SetHeight(15)
	events = pollOnce(t, source)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(1), events[0].Nonce)

	cursor, err = store.Cursor("chainA", gateway.EventLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cursor)
}

func TestPollRespectsMaxRange(t *testing.T) {
	gw := gateway.NewMockGateway("chainA")
	store := NewMemoryStore()
	source := newTestSource(gw, store, 0)
	source.maxRange = 100

	gw.SetHeight(1_000)
	_ = pollOnce(t, source)

	cursor, err := store.Cursor("chainA", gateway.EventLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cursor)

	_ = pollOnce(t, source)
	cursor, err = store.Cursor("chainA", gateway.EventLock)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), cursor)
}

func TestPollNoNewBlocks(t *testing.T) {
	gw := gateway.NewMockGateway("chainA")
	store := NewMemoryStore()
	source := newTestSource(gw, store, 0)

	gw.SetHeight(50)
	_ = pollOnce(t, source)
	require.Equal(t, 1, gw.GetCallCount("QueryEvents"))

	// Head unchanged: nothing to scan.
	_ = pollOnce(t, source)
	assert.Equal(t, 1, gw.GetCallCount("QueryEvents"))
}

// TestCursorHoldsOnQueryFailure: a failed range query must not advance
// the cursor.
func TestCursorHoldsOnQueryFailure(t *testing.T) {
	gw := gateway.NewMockGateway("chainA")
	store := NewMemoryStore()
	source := newTestSource(gw, store, 0)

	ev := lockEvent("chainA", 0)
	ev.BlockHeight = 5
	gw.AddEvent(ev)
	gw.SetHeight(10)
	gw.SetError("QueryEvents", gateway.NewTransientError(gateway.ErrCodeRPCUnavailable, "5xx", nil, nil))

	out := make(chan gateway.BridgeEvent, 8)
	require.Error(t, source.poll(context.Background(), out))

	cursor, err := store.Cursor("chainA", gateway.EventLock)
	require.NoError(t, err)
	assert.Zero(t, cursor)

	// Recovery re-reads the same range and emits the event.
	gw.SetError("QueryEvents", nil)
	events := pollOnce(t, source)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(0), events[0].Nonce)
}

// TestSourceRunStopsOnCancel exercises the polling loop end to end.
func TestSourceRunStopsOnCancel(t *testing.T) {
	gw := gateway.NewMockGateway("chainA")
	store := NewMemoryStore()
	source := newTestSource(gw, store, 0)

	ev := lockEvent("chainA", 0)
	ev.BlockHeight = 5
	gw.AddEvent(ev)
	gw.SetHeight(10)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan gateway.BridgeEvent, 8)
	done := make(chan struct{})
	go func() {
		source.Run(ctx, out)
		close(done)
	}()

	select {
	case got := <-out:
		assert.Equal(t, uint64(0), got.Nonce)
	case <-time.After(2 * time.Second):
		t.Fatal("event never emitted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}
