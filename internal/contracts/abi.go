package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors (first 4 bytes of keccak256(signature))
var (
	// ERC20 selectors
	SelectorApprove   = selector("approve(address,uint256)")
	SelectorAllowance = selector("allowance(address,address)")
	SelectorBalanceOf = selector("balanceOf(address)")

	// WETH9 selectors
	SelectorWethDeposit  = selector("deposit()")
	SelectorWethWithdraw = selector("withdraw(uint256)")

	// Stake pool selectors
	SelectorStakeDeposit = selector("deposit(address,uint256)")

	// Withdrawal queue selectors
	SelectorQueueWithdraw       = selector("withdraw(uint256,address)")
	SelectorOutstandingRequests = selector("getOutstandingWithdrawRequests(address)")
	SelectorWithdrawRequests    = selector("withdrawRequests(address,uint256)")
	SelectorCoolDownPeriod      = selector("coolDownPeriod()")
	SelectorClaim               = selector("claim()")
)

// selector computes the 4-byte function selector from signature.
func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// EncodeApprove encodes ERC20.approve(address,uint256) call.
func EncodeApprove(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], SelectorApprove)
	copy(data[4+12:36], spender.Bytes())
	amount.FillBytes(data[36:68])
	return data
}

// EncodeAllowance encodes ERC20.allowance(address,address) call.
func EncodeAllowance(owner, spender common.Address) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], SelectorAllowance)
	copy(data[4+12:36], owner.Bytes())
	copy(data[36+12:68], spender.Bytes())
	return data
}

// EncodeBalanceOf encodes ERC20.balanceOf(address) call.
func EncodeBalanceOf(account common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], SelectorBalanceOf)
	copy(data[4+12:36], account.Bytes())
	return data
}

// EncodeWethDeposit encodes WETH9.deposit() call (no args, just send ETH).
func EncodeWethDeposit() []byte {
	return SelectorWethDeposit
}

// EncodeWethWithdraw encodes WETH9.withdraw(uint256) call.
func EncodeWethWithdraw(amount *big.Int) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], SelectorWethWithdraw)
	amount.FillBytes(data[4:36])
	return data
}

// EncodeStakeDeposit encodes StakePool.deposit(address,uint256), staking
// amount of the given token.
func EncodeStakeDeposit(token common.Address, amount *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], SelectorStakeDeposit)
	copy(data[4+12:36], token.Bytes())
	amount.FillBytes(data[36:68])
	return data
}

// EncodeQueueWithdraw encodes WithdrawalQueue.withdraw(uint256,address),
// queueing a withdraw of amount denominated in the given receipt token.
func EncodeQueueWithdraw(amount *big.Int, token common.Address) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], SelectorQueueWithdraw)
	amount.FillBytes(data[4:36])
	copy(data[36+12:68], token.Bytes())
	return data
}

// EncodeOutstandingRequests encodes
// WithdrawalQueue.getOutstandingWithdrawRequests(address).
func EncodeOutstandingRequests(account common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data[:4], SelectorOutstandingRequests)
	copy(data[4+12:36], account.Bytes())
	return data
}

// EncodeWithdrawRequestAt encodes WithdrawalQueue.withdrawRequests(address,
// uint256), the per-account request at the given index.
func EncodeWithdrawRequestAt(account common.Address, index *big.Int) []byte {
	data := make([]byte, 4+32+32)
	copy(data[:4], SelectorWithdrawRequests)
	copy(data[4+12:36], account.Bytes())
	index.FillBytes(data[36:68])
	return data
}

// EncodeCoolDownPeriod encodes WithdrawalQueue.coolDownPeriod().
func EncodeCoolDownPeriod() []byte {
	return SelectorCoolDownPeriod
}

// EncodeClaim encodes WithdrawalQueue.claim(). The queue pays out the oldest
// ready request for the caller.
func EncodeClaim() []byte {
	return SelectorClaim
}

// DecodeUint256 decodes a single uint256 return word.
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < 32 {
		return nil, fmt.Errorf("return data too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), nil
}

// DecodeUint256Pair decodes two uint256 return words, as returned by
// withdrawRequests (amount, createdAt).
func DecodeUint256Pair(data []byte) (*big.Int, *big.Int, error) {
	if len(data) < 64 {
		return nil, nil, fmt.Errorf("return data too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:32]), new(big.Int).SetBytes(data[32:64]), nil
}
