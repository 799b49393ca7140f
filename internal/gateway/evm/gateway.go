// Package evm implements the relayer Gateway for EVM chains using
// go-ethereum's RPC client and ABI tooling.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// Backend is the subset of ethclient.Client the gateway uses. Narrowing
// the dependency keeps the gateway testable against a scripted backend.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Config describes one EVM chain connection.
type Config struct {
	ChainID       string // logical id, e.g. "sepolia"
	Endpoint      string
	BridgeAddress string
	SignerSecret  string // hex-encoded private key
}

// Gateway implements gateway.Gateway for an EVM chain.
type Gateway struct {
	cfg     Config
	backend Backend
	bridge  common.Address

	key    *ecdsa.PrivateKey
	signer common.Address
	evmID  *big.Int

	// Submission discipline: one in-flight submission per signer so the
	// account nonce advances without gaps.
	submitMu  sync.Mutex
	nonce     uint64
	nonceInit bool
}

// Dial connects to the endpoint, verifies connectivity, and checks the
// signer has a non-zero balance. Any failure here is a boot-time
// configuration error.
func Dial(ctx context.Context, cfg Config) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.ChainID, err)
	}
	gw, err := New(ctx, client, cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	return gw, nil
}

// New builds a gateway over an already-connected backend.
func New(ctx context.Context, backend Backend, cfg Config) (*Gateway, error) {
	if !common.IsHexAddress(cfg.BridgeAddress) {
		return nil, fmt.Errorf("invalid bridge address %q for %s", cfg.BridgeAddress, cfg.ChainID)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerSecret, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer secret for %s: %w", cfg.ChainID, err)
	}

	evmID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query chain id for %s: %w", cfg.ChainID, err)
	}

	gw := &Gateway{
		cfg:     cfg,
		backend: backend,
		bridge:  common.HexToAddress(cfg.BridgeAddress),
		key:     key,
		signer:  crypto.PubkeyToAddress(key.PublicKey),
		evmID:   evmID,
	}

	balance, err := backend.BalanceAt(ctx, gw.signer, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query signer balance on %s: %w", cfg.ChainID, err)
	}
	if balance.Sign() == 0 {
		return nil, fmt.Errorf("signer %s has zero balance on %s", gw.signer.Hex(), cfg.ChainID)
	}
	return gw, nil
}

func (g *Gateway) ChainID() string { return g.cfg.ChainID }

// Signer returns the submission account address.
func (g *Gateway) Signer() common.Address { return g.signer }

func (g *Gateway) CurrentHeight(ctx context.Context) (uint64, error) {
	height, err := g.backend.BlockNumber(ctx)
	if err != nil {
		return 0, g.classify("eth_blockNumber", err)
	}
	return height, nil
}

func (g *Gateway) IsProcessed(ctx context.Context, nonce uint64) (bool, error) {
	out, err := g.call(ctx, "isProcessed", new(big.Int).SetUint64(nonce))
	if err != nil {
		return false, err
	}
	processed, ok := out[0].(bool)
	if !ok {
		return false, gateway.NewPermanentError(gateway.ErrCodeBadCall, "isProcessed returned non-bool", nil)
	}
	return processed, nil
}

func (g *Gateway) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error) {
	if !common.IsHexAddress(tokenIn) || !common.IsHexAddress(tokenOut) {
		return nil, gateway.NewPermanentError(gateway.ErrCodeInvalidAddress,
			fmt.Sprintf("bad token pair %s -> %s", tokenIn, tokenOut), nil)
	}
	out, err := g.call(ctx, "getExpectedOutput", amountIn, common.HexToAddress(tokenIn), common.HexToAddress(tokenOut))
	if err != nil {
		return nil, err
	}
	expected, ok := out[0].(*big.Int)
	if !ok {
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall, "getExpectedOutput returned non-integer", nil)
	}
	return expected, nil
}

func (g *Gateway) WrappedToken(ctx context.Context) (string, error) {
	out, err := g.call(ctx, "wrappedToken")
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", gateway.NewPermanentError(gateway.ErrCodeBadCall, "wrappedToken returned non-address", nil)
	}
	return addr.Hex(), nil
}

func (g *Gateway) Close() error {
	g.backend.Close()
	return nil
}

// call runs a read-only bridge method and unpacks its outputs.
func (g *Gateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := bridgeABI.Pack(method, args...)
	if err != nil {
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("failed to pack %s", method), err)
	}
	raw, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.bridge, Data: data}, nil)
	if err != nil {
		return nil, g.classify(method, err)
	}
	out, err := bridgeABI.Unpack(method, raw)
	if err != nil {
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("failed to unpack %s result", method), err)
	}
	if len(out) == 0 {
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("%s returned no values", method), nil)
	}
	return out, nil
}

// Revert reasons the destination bridge emits for conditions the relayer
// handles specially.
const (
	revertAlreadyProcessed = "already processed"
	revertBelowMinimum     = "amount out below minimum"
	revertMaxSlippage      = "max slippage"
)

// classify maps an RPC error onto the relayer taxonomy.
func (g *Gateway) classify(op string, err error) *gateway.Error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, revertAlreadyProcessed):
		return gateway.NewError(gateway.ErrCodeAlreadyProcessed,
			fmt.Sprintf("%s: nonce already processed", op), gateway.AlreadyProcessed, err)

	case strings.Contains(msg, revertBelowMinimum), strings.Contains(msg, revertMaxSlippage):
		return gateway.NewError(gateway.ErrCodeSlippage,
			fmt.Sprintf("%s: swap output below floor", op), gateway.SwapProtection, err)

	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return gateway.NewTransientError(gateway.ErrCodeNonceRace,
			fmt.Sprintf("%s: signer nonce race", op), nil, err)

	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "gas required exceeds"):
		return gateway.NewPermanentError(gateway.ErrCodeTxReverted,
			fmt.Sprintf("%s reverted", op), err)

	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "timeout"):
		return gateway.NewTransientError(gateway.ErrCodeRPCTimeout,
			fmt.Sprintf("%s timed out", op), nil, err)

	case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"):
		retryAfter := 5 * time.Second
		return gateway.NewTransientError(gateway.ErrCodeRateLimited,
			fmt.Sprintf("%s rate limited", op), &retryAfter, err)

	default:
		// Connection resets, DNS failures, 5xx and the like: recoverable.
		return gateway.NewTransientError(gateway.ErrCodeRPCUnavailable,
			fmt.Sprintf("%s failed", op), nil, err)
	}
}

// Ensure Gateway implements the relayer contract
var _ gateway.Gateway = (*Gateway)(nil)
