// Package relay - Pre-submission swap protection
package relay

import (
	"context"
	"fmt"
	"math/big"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// slippageScale is the basis-point denominator.
const slippageScale = 10_000

// MaxSlippageBps is the hard cap on the configured tolerance (10%).
// Exceeding it is a configuration error, not a per-request condition.
const MaxSlippageBps = 1_000

// QuoteResult carries the fresh router quote and the floor derived from it.
// It lives for exactly one dispatch; quotes are never cached.
type QuoteResult struct {
	ExpectedOut *big.Int
	MinOut      *big.Int
}

// SwapProtection computes the minimum acceptable output for a
// mint-and-swap from a fresh router quote.
type SwapProtection struct {
	slippageBps int64
}

// NewSwapProtection validates the configured tolerance.
func NewSwapProtection(slippageBps int64) (*SwapProtection, error) {
	if slippageBps < 0 || slippageBps > MaxSlippageBps {
		return nil, fmt.Errorf("slippageBps %d out of range [0, %d]", slippageBps, MaxSlippageBps)
	}
	return &SwapProtection{slippageBps: slippageBps}, nil
}

// Quote reads the destination router and returns the expected output with
// the slippage floor: minOut = floor(expectedOut * (10000 - bps) / 10000).
func (sp *SwapProtection) Quote(ctx context.Context, dest gateway.Gateway, tokenIn, tokenOut string, amountIn *big.Int) (*QuoteResult, error) {
	expectedOut, err := dest.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		ExpectedOut: expectedOut,
		MinOut:      sp.MinOut(expectedOut),
	}, nil
}

// MinOut applies the floor to an expected output.
func (sp *SwapProtection) MinOut(expectedOut *big.Int) *big.Int {
	minOut := new(big.Int).Mul(expectedOut, big.NewInt(slippageScale-sp.slippageBps))
	return minOut.Quo(minOut, big.NewInt(slippageScale))
}
