// Package gateway - Mock gateway for testing
package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// scriptedErr fails a method the next remaining calls; remaining < 0
// means every call.
type scriptedErr struct {
	err       error
	remaining int
}

// MockGateway is a scriptable Gateway implementation for tests.
type MockGateway struct {
	mu sync.Mutex

	chainID string
	height  uint64
	events  map[EventKind][]BridgeEvent

	processed map[uint64]bool
	quotes    map[string]*big.Int // "tokenIn->tokenOut" -> expectedOut
	wrapped   string

	errors    map[string]*scriptedErr // method -> scripted error
	callCount map[string]int          // method -> call count

	submitted []BridgeCall
	receipts  map[string]*Receipt
	nextTxSeq int
}

// NewMockGateway creates a mock gateway for the given logical chain id.
func NewMockGateway(chainID string) *MockGateway {
	return &MockGateway{
		chainID:   chainID,
		events:    make(map[EventKind][]BridgeEvent),
		processed: make(map[uint64]bool),
		quotes:    make(map[string]*big.Int),
		wrapped:   "0xWRAPPED",
		errors:    make(map[string]*scriptedErr),
		callCount: make(map[string]int),
		receipts:  make(map[string]*Receipt),
	}
}

func (m *MockGateway) ChainID() string { return m.chainID }

func (m *MockGateway) CurrentHeight(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["CurrentHeight"]++
	if err := m.takeErr("CurrentHeight"); err != nil {
		return 0, err
	}
	return m.height, nil
}

func (m *MockGateway) QueryEvents(ctx context.Context, kind EventKind, from, to uint64) ([]BridgeEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["QueryEvents"]++
	if err := m.takeErr("QueryEvents"); err != nil {
		return nil, err
	}
	var out []BridgeEvent
	for _, ev := range m.events[kind] {
		if ev.BlockHeight >= from && ev.BlockHeight <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *MockGateway) Submit(ctx context.Context, call *BridgeCall) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["Submit"]++
	if err := m.takeErr("Submit"); err != nil {
		return "", err
	}
	m.submitted = append(m.submitted, *call)
	m.nextTxSeq++
	txID := fmt.Sprintf("0xmock%04d", m.nextTxSeq)
	if _, ok := m.receipts[txID]; !ok {
		m.receipts[txID] = &Receipt{TxID: txID, BlockHeight: m.height, Success: true}
	}
	// A submission marks the nonce processed only if its receipt reports
	// the call succeeded, mirroring the on-chain replay map.
	if m.receipts[txID].Success {
		m.processed[call.Nonce] = true
	}
	return txID, nil
}

func (m *MockGateway) AwaitInclusion(ctx context.Context, txID string, timeout time.Duration) (*Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["AwaitInclusion"]++
	if err := m.takeErr("AwaitInclusion"); err != nil {
		return nil, err
	}
	rcpt, ok := m.receipts[txID]
	if !ok {
		return nil, NewTransientError(ErrCodeTxTimeout, fmt.Sprintf("no receipt for %s", txID), nil, nil)
	}
	return rcpt, nil
}

func (m *MockGateway) IsProcessed(ctx context.Context, nonce uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["IsProcessed"]++
	if err := m.takeErr("IsProcessed"); err != nil {
		return false, err
	}
	return m.processed[nonce], nil
}

func (m *MockGateway) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["Quote"]++
	if err := m.takeErr("Quote"); err != nil {
		return nil, err
	}
	q, ok := m.quotes[tokenIn+"->"+tokenOut]
	if !ok {
		return nil, NewPermanentError(ErrCodeBadCall, fmt.Sprintf("no quote configured for %s->%s", tokenIn, tokenOut), nil)
	}
	return new(big.Int).Set(q), nil
}

func (m *MockGateway) WrappedToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["WrappedToken"]++
	if err := m.takeErr("WrappedToken"); err != nil {
		return "", err
	}
	return m.wrapped, nil
}

func (m *MockGateway) SignAuthorization(call *BridgeCall) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount["SignAuthorization"]++
	if err := m.takeErr("SignAuthorization"); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("auth:%s:%d", call.Method, call.Nonce)), nil
}

func (m *MockGateway) Close() error { return nil }

// SetHeight sets the mocked head height.
func (m *MockGateway) SetHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = h
}

// AddEvent appends an event to the mocked log for its kind.
func (m *MockGateway) AddEvent(ev BridgeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.Kind] = append(m.events[ev.Kind], ev)
}

// SetProcessed marks a nonce in the mocked replay-protection map.
func (m *MockGateway) SetProcessed(nonce uint64, done bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[nonce] = done
}

// SetQuote configures the router output for a token pair.
func (m *MockGateway) SetQuote(tokenIn, tokenOut string, out *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[tokenIn+"->"+tokenOut] = new(big.Int).Set(out)
}

// SetWrappedToken configures the wrapped token identifier.
func (m *MockGateway) SetWrappedToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrapped = token
}

// SetError configures an error for every call of a method; pass nil to
// clear.
func (m *MockGateway) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, method)
		return
	}
	m.errors[method] = &scriptedErr{err: err, remaining: -1}
}

// SetErrorTimes fails the next n calls of a method, then succeeds.
func (m *MockGateway) SetErrorTimes(method string, err error, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = &scriptedErr{err: err, remaining: n}
}

// takeErr consumes one scripted failure for method, if any. Caller holds
// the lock.
func (m *MockGateway) takeErr(method string) error {
	scripted, ok := m.errors[method]
	if !ok || scripted.remaining == 0 {
		return nil
	}
	if scripted.remaining > 0 {
		scripted.remaining--
	}
	return scripted.err
}

// SetReceipt overrides the receipt returned for the next submission's tx id.
func (m *MockGateway) SetReceipt(txID string, rcpt *Receipt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[txID] = rcpt
}

// Submitted returns a copy of all submitted calls.
func (m *MockGateway) Submitted() []BridgeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BridgeCall, len(m.submitted))
	copy(out, m.submitted)
	return out
}

// GetCallCount returns the number of times a method was called.
func (m *MockGateway) GetCallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount[method]
}

// Ensure MockGateway implements Gateway
var _ Gateway = (*MockGateway)(nil)
