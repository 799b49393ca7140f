// Package evm - Bridge contract ABI fragments
package evm

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// The bridge exposes Lock in two shapes: the plain variant and the
// swap-enabled variant carrying a target token and chain. Both are
// declared here; QueryEvents matches logs against whichever the configured
// contract emits and treats the missing fields as absent.
const bridgeABIJSON = `[
	{"type":"event","name":"Lock","inputs":[
		{"name":"sender","type":"address","indexed":false},
		{"name":"recipient","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false}
	],"anonymous":false},
	{"type":"event","name":"LockWithSwap","inputs":[
		{"name":"sender","type":"address","indexed":false},
		{"name":"recipient","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"targetToken","type":"address","indexed":false},
		{"name":"targetChain","type":"uint256","indexed":false}
	],"anonymous":false},
	{"type":"event","name":"Burn","inputs":[
		{"name":"sender","type":"address","indexed":false},
		{"name":"recipient","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false},
		{"name":"targetChain","type":"uint256","indexed":false}
	],"anonymous":false},
	{"type":"event","name":"SwapFailed","inputs":[
		{"name":"recipient","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"nonce","type":"uint256","indexed":false}
	],"anonymous":false},
	{"type":"function","name":"mint","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sourceNonce","type":"uint256"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"mintAndSwap","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sourceNonce","type":"uint256"},
		{"name":"signature","type":"bytes"},
		{"name":"targetToken","type":"address"},
		{"name":"minAmountOut","type":"uint256"}
	],"outputs":[]},
	{"type":"function","name":"unlock","inputs":[
		{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"sourceNonce","type":"uint256"},
		{"name":"signature","type":"bytes"}
	],"outputs":[]},
	{"type":"function","name":"isProcessed","inputs":[
		{"name":"nonce","type":"uint256"}
	],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"},
	{"type":"function","name":"wrappedToken","inputs":[],
		"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"getExpectedOutput","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"tokenIn","type":"address"},
		{"name":"tokenOut","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

var (
	bridgeABI abi.ABI

	topicLock         common.Hash
	topicLockWithSwap common.Hash
	topicBurn         common.Hash
	topicSwapFailed   common.Hash
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(bridgeABIJSON))
	if err != nil {
		panic("invalid bridge ABI: " + err.Error())
	}
	bridgeABI = parsed

	topicLock = bridgeABI.Events["Lock"].ID
	topicLockWithSwap = bridgeABI.Events["LockWithSwap"].ID
	topicBurn = bridgeABI.Events["Burn"].ID
	topicSwapFailed = bridgeABI.Events["SwapFailed"].ID
}

// eventSignature is kept for reference/debugging of topic hashes.
func eventSignature(name string) common.Hash {
	ev, ok := bridgeABI.Events[name]
	if !ok {
		return common.Hash{}
	}
	return common.BytesToHash(crypto.Keccak256([]byte(ev.Sig)))
}
