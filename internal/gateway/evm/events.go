// Package evm - Bridge event query and normalization
package evm

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/yourusername/bridgerelay/internal/gateway"
)

// QueryEvents returns the bridge events of kind in [from, to], in
// (blockHeight, logIndex) order. Lock matches both on-chain shapes; the
// plain shape yields an event with no target token.
func (g *Gateway) QueryEvents(ctx context.Context, kind gateway.EventKind, from, to uint64) ([]gateway.BridgeEvent, error) {
	var topics []common.Hash
	switch kind {
	case gateway.EventLock:
		topics = []common.Hash{topicLock, topicLockWithSwap}
	case gateway.EventBurn:
		topics = []common.Hash{topicBurn}
	default:
		return nil, gateway.NewPermanentError(gateway.ErrCodeBadCall,
			fmt.Sprintf("unknown event kind %q", kind), nil)
	}

	logs, err := g.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{g.bridge},
		Topics:    [][]common.Hash{topics},
	})
	if err != nil {
		return nil, g.classify("eth_getLogs", err)
	}

	events := make([]gateway.BridgeEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, err := g.decodeLog(&lg)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockHeight != events[j].BlockHeight {
			return events[i].BlockHeight < events[j].BlockHeight
		}
		return events[i].LogIndex < events[j].LogIndex
	})
	return events, nil
}

// decodeLog normalizes one bridge log into the relayer representation.
func (g *Gateway) decodeLog(lg *types.Log) (*gateway.BridgeEvent, error) {
	if len(lg.Topics) == 0 {
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent, "log without topics", nil)
	}

	ev := &gateway.BridgeEvent{
		SourceChainID: g.cfg.ChainID,
		SourceTxID:    lg.TxHash.Hex(),
		BlockHeight:   lg.BlockNumber,
		LogIndex:      lg.Index,
	}

	switch lg.Topics[0] {
	case topicLock:
		vals, err := bridgeABI.Unpack("Lock", lg.Data)
		if err != nil {
			return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent, "undecodable Lock event", err)
		}
		ev.Kind = gateway.EventLock
		ev.Sender = vals[0].(common.Address).Hex()
		ev.Recipient = vals[1].(common.Address).Hex()
		ev.Amount = vals[2].(*big.Int)
		ev.Nonce = vals[4].(*big.Int).Uint64()

	case topicLockWithSwap:
		vals, err := bridgeABI.Unpack("LockWithSwap", lg.Data)
		if err != nil {
			return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent, "undecodable LockWithSwap event", err)
		}
		ev.Kind = gateway.EventLock
		ev.Sender = vals[0].(common.Address).Hex()
		ev.Recipient = vals[1].(common.Address).Hex()
		ev.Amount = vals[2].(*big.Int)
		ev.Nonce = vals[4].(*big.Int).Uint64()
		if target := vals[5].(common.Address); target != (common.Address{}) {
			ev.TargetToken = target.Hex()
		}
		ev.TargetChain = vals[6].(*big.Int).String()

	case topicBurn:
		vals, err := bridgeABI.Unpack("Burn", lg.Data)
		if err != nil {
			return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent, "undecodable Burn event", err)
		}
		ev.Kind = gateway.EventBurn
		ev.Sender = vals[0].(common.Address).Hex()
		ev.Recipient = vals[1].(common.Address).Hex()
		ev.Amount = vals[2].(*big.Int)
		ev.Nonce = vals[4].(*big.Int).Uint64()
		ev.TargetChain = vals[5].(*big.Int).String()

	default:
		return nil, gateway.NewInvariantError(gateway.ErrCodeInvalidEvent,
			fmt.Sprintf("unexpected topic %s", lg.Topics[0].Hex()), nil)
	}

	return ev, nil
}
