// Package contracts holds the fixed contract surface the farm talks to and
// the calldata encoding for it.
package contracts

import "github.com/ethereum/go-ethereum/common"

// Sepolia deployment. The farm targets exactly these contracts; there is no
// discovery or per-network routing.
var (
	// WETH is the canonical Sepolia WETH9.
	WETH = common.HexToAddress("0xfFf9976782d46CC05630D1f6eBAb18b2324d6B14")

	// ExETH is the receipt token minted by the stake pool.
	ExETH = common.HexToAddress("0x64f2c3a8a59b0b17df53df03a7ba5cf0e35c683d")

	// StakePool takes WETH deposits and mints exETH.
	StakePool = common.HexToAddress("0x8d3f1a7bb6f2c9c0a1fd94f36a5a2e28b7d9f4e1")

	// WithdrawalQueue burns exETH, queues withdraw requests and pays them
	// out after the cool-down.
	WithdrawalQueue = common.HexToAddress("0x1c9e5f04d2b7a6833c55e20b0f6ab91d7e84ca52")
)
