// Package evm - Transaction submission and inclusion tracking
package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// receiptPollInterval is how often AwaitInclusion re-checks for a receipt.
const receiptPollInterval = 2 * time.Second

// Submit packs, signs, and sends a bridge call. Submissions are serialized
// on the signer so the account nonce advances without gaps; on a nonce
// race the local nonce is resynchronized from the chain and the send
// retried once.
func (g *Gateway) Submit(ctx context.Context, call *gateway.BridgeCall) (string, error) {
	data, err := g.packCall(call)
	if err != nil {
		return "", err
	}

	g.submitMu.Lock()
	defer g.submitMu.Unlock()

	if !g.nonceInit {
		if err := g.syncNonce(ctx); err != nil {
			return "", err
		}
	}

	txHash, err := g.sendOnce(ctx, call, data)
	if err == nil {
		g.nonce++
		return txHash, nil
	}

	gwErr := g.classify("eth_sendRawTransaction", err)
	if gwErr.Code != gateway.ErrCodeNonceRace {
		return "", gwErr
	}

	// Nonce race: another submission (or a prior process instance) used
	// the cached nonce. Resync once and retry.
	if err := g.syncNonce(ctx); err != nil {
		return "", err
	}
	txHash, err = g.sendOnce(ctx, call, data)
	if err != nil {
		return "", g.classify("eth_sendRawTransaction", err)
	}
	g.nonce++
	return txHash, nil
}

// sendOnce builds, signs, and sends one transaction at the cached nonce.
func (g *Gateway) sendOnce(ctx context.Context, call *gateway.BridgeCall, data []byte) (string, error) {
	head, err := g.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", err
	}
	tip, err := g.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", err
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit := call.GasCap
	if gasLimit == 0 {
		gasLimit = 500_000
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   g.evmID,
		Nonce:     g.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &g.bridge,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(g.evmID), g.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := g.backend.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (g *Gateway) syncNonce(ctx context.Context) error {
	nonce, err := g.backend.PendingNonceAt(ctx, g.signer)
	if err != nil {
		return g.classify("eth_getTransactionCount", err)
	}
	g.nonce = nonce
	g.nonceInit = true
	return nil
}

// packCall encodes the destination bridge call per the routing table.
func (g *Gateway) packCall(call *gateway.BridgeCall) ([]byte, error) {
	if !common.IsHexAddress(call.Recipient) {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAddress,
			fmt.Sprintf("recipient %q is not a valid address", call.Recipient), nil)
	}
	recipient := common.HexToAddress(call.Recipient)
	nonce := new(big.Int).SetUint64(call.Nonce)

	var (
		data []byte
		err  error
	)
	switch call.Method {
	case gateway.CallMint:
		data, err = bridgeABI.Pack("mint", recipient, call.Amount, nonce, call.Auth)
	case gateway.CallMintAndSwap:
		if !common.IsHexAddress(call.TargetToken) {
			return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAddress,
				fmt.Sprintf("target token %q is not a valid address", call.TargetToken), nil)
		}
		data, err = bridgeABI.Pack("mintAndSwap", recipient, call.Amount, nonce, call.Auth,
			common.HexToAddress(call.TargetToken), call.MinOut)
	case gateway.CallUnlock:
		data, err = bridgeABI.Pack("unlock", recipient, call.Amount, nonce, call.Auth)
	default:
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("unknown call method %q", call.Method), nil)
	}
	if err != nil {
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("failed to pack %s", call.Method), err)
	}
	return data, nil
}

// AwaitInclusion polls for the receipt until mined or the timeout elapses.
// A successful receipt carrying the bridge's SwapFailed event is reported
// so the caller can record the tripped floor.
func (g *Gateway) AwaitInclusion(ctx context.Context, txID string, timeout time.Duration) (*gateway.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hash := common.HexToHash(txID)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := g.backend.TransactionReceipt(waitCtx, hash)
		if err == nil && rcpt != nil {
			out := &gateway.Receipt{
				TxID:        txID,
				BlockHeight: rcpt.BlockNumber.Uint64(),
				Success:     rcpt.Status == types.ReceiptStatusSuccessful,
			}
			for _, lg := range rcpt.Logs {
				if len(lg.Topics) > 0 && lg.Topics[0] == topicSwapFailed && lg.Address == g.bridge {
					out.SwapFailed = true
					break
				}
			}
			return out, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, gateway.NewTransientError(gateway.ErrCodeTxTimeout,
				fmt.Sprintf("transaction %s not mined within %s", txID, timeout), nil, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// SignAuthorization produces the artifact the destination bridge verifies:
// a 65-byte secp256k1 signature over the keccak hash of the call
// arguments, packed in the layout below. The layout must mirror the
// destination contract's verifier; changing schemes means changing exactly
// this function.
//
//	mint/unlock:  keccak256(recipient ‖ amount₃₂ ‖ nonce₃₂)
//	mintAndSwap:  keccak256(recipient ‖ amount₃₂ ‖ nonce₃₂ ‖ targetToken ‖ minOut₃₂)
func (g *Gateway) SignAuthorization(call *gateway.BridgeCall) ([]byte, error) {
	if !common.IsHexAddress(call.Recipient) {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAddress,
			fmt.Sprintf("recipient %q is not a valid address", call.Recipient), nil)
	}

	var payload []byte
	payload = append(payload, common.HexToAddress(call.Recipient).Bytes()...)
	payload = append(payload, common.LeftPadBytes(call.Amount.Bytes(), 32)...)
	payload = append(payload, common.LeftPadBytes(new(big.Int).SetUint64(call.Nonce).Bytes(), 32)...)
	if call.Method == gateway.CallMintAndSwap {
		if !common.IsHexAddress(call.TargetToken) {
			return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidAddress,
				fmt.Sprintf("target token %q is not a valid address", call.TargetToken), nil)
		}
		payload = append(payload, common.HexToAddress(call.TargetToken).Bytes()...)
		payload = append(payload, common.LeftPadBytes(call.MinOut.Bytes(), 32)...)
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), g.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign authorization: %w", err)
	}
	return sig, nil
}
