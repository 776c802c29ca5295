package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stakefarm/internal/contracts"
	"github.com/gateway-fm/stakefarm/internal/rpc"
)

// readTokenBalance reads an ERC20 balance through eth_call.
func readTokenBalance(ctx context.Context, client rpc.Client, token, owner common.Address) (*big.Int, error) {
	ret, err := client.CallContract(ctx, token.Hex(), contracts.EncodeBalanceOf(owner))
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token.Hex(), err)
	}
	if ret == nil {
		return big.NewInt(0), nil
	}
	return contracts.DecodeUint256(ret)
}

// readAllowance reads an ERC20 allowance through eth_call.
func readAllowance(ctx context.Context, client rpc.Client, token, owner, spender common.Address) (*big.Int, error) {
	ret, err := client.CallContract(ctx, token.Hex(), contracts.EncodeAllowance(owner, spender))
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}
	if ret == nil {
		return big.NewInt(0), nil
	}
	return contracts.DecodeUint256(ret)
}

// gasCost is the worst-case native cost of a submission.
func gasCost(fees FeeParams, gasLimit uint64) *big.Int {
	return new(big.Int).Mul(fees.Cap(), new(big.Int).SetUint64(gasLimit))
}

// checkTokenBalance verifies the wallet holds at least amount of token.
// The boundary is inclusive: a balance equal to the amount passes.
func checkTokenBalance(ctx context.Context, client rpc.Client, token, owner common.Address, amount *big.Int) error {
	balance, err := readTokenBalance(ctx, client, token, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: token %s balance %s below required %s",
			ErrInsufficientFunds, token.Hex(), balance, amount)
	}
	return nil
}

// checkGas verifies the wallet's native balance covers the worst-case gas
// cost of one submission at the given fee params.
func checkGas(ctx context.Context, client rpc.Client, owner common.Address, fees FeeParams, gasLimit uint64) error {
	native, err := client.GetBalance(ctx, owner.Hex())
	if err != nil {
		return fmt.Errorf("fetch native balance: %w", err)
	}

	cost := gasCost(fees, gasLimit)
	if native.Cmp(cost) < 0 {
		return fmt.Errorf("%w: native balance %s below gas cost %s", ErrInsufficientGas, native, cost)
	}
	return nil
}

// checkNativeForWrap verifies the native balance covers the wrap amount plus
// the gas cost: both are spent from the same balance.
func checkNativeForWrap(ctx context.Context, client rpc.Client, owner common.Address, amount *big.Int, fees FeeParams, gasLimit uint64) error {
	native, err := client.GetBalance(ctx, owner.Hex())
	if err != nil {
		return fmt.Errorf("fetch native balance: %w", err)
	}

	required := new(big.Int).Add(amount, gasCost(fees, gasLimit))
	if native.Cmp(required) < 0 {
		return fmt.Errorf("%w: native balance %s below amount plus gas %s", ErrInsufficientFunds, native, required)
	}
	return nil
}
