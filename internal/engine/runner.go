package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/gateway-fm/stakefarm/internal/contracts"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/wallet"
)

// stake deposits WETH into the staking pool. The pool pulls the deposit via
// transferFrom, so the pool's allowance is topped up first when short.
func (e *Engine) stake(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, amount *big.Int) (string, error) {
	log.Info("staking", slog.String("amount", fmtEth(amount)))

	fees := e.fees.Estimate(ctx, client)
	if err := checkTokenBalance(ctx, client, contracts.WETH, w.Address, amount); err != nil {
		return "", err
	}
	if err := checkGas(ctx, client, w.Address, fees, GasLimitStake); err != nil {
		return "", err
	}

	if err := e.ensureApproval(ctx, log, w, client, contracts.WETH, contracts.StakePool, amount, fees); err != nil {
		return "", err
	}

	// The approval may have consumed gas, so re-derive fees and re-check.
	fees = e.fees.Estimate(ctx, client)
	if err := checkGas(ctx, client, w.Address, fees, GasLimitStake); err != nil {
		return "", err
	}

	data := contracts.EncodeStakeDeposit(contracts.WETH, amount)
	return e.submit(ctx, log, w, client, contracts.StakePool, big.NewInt(0), data, GasLimitStake, fees)
}

// unstake requests a withdrawal from the queue, handing over exETH.
func (e *Engine) unstake(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, amount *big.Int) (string, error) {
	log.Info("unstaking", slog.String("amount", fmtEth(amount)))

	fees := e.fees.Estimate(ctx, client)
	if err := checkTokenBalance(ctx, client, contracts.ExETH, w.Address, amount); err != nil {
		return "", err
	}
	if err := checkGas(ctx, client, w.Address, fees, GasLimitUnstake); err != nil {
		return "", err
	}

	if err := e.ensureApproval(ctx, log, w, client, contracts.ExETH, contracts.WithdrawalQueue, amount, fees); err != nil {
		return "", err
	}

	fees = e.fees.Estimate(ctx, client)
	if err := checkGas(ctx, client, w.Address, fees, GasLimitUnstake); err != nil {
		return "", err
	}

	data := contracts.EncodeQueueWithdraw(amount, contracts.ExETH)
	return e.submit(ctx, log, w, client, contracts.WithdrawalQueue, big.NewInt(0), data, GasLimitUnstake, fees)
}

// claim collects a withdrawal whose cooldown has elapsed. The queue resolves
// which request to pay out; the client only gates on the first outstanding
// request's readiness.
func (e *Engine) claim(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client) (string, error) {
	queue := contracts.WithdrawalQueue

	ret, err := client.CallContract(ctx, queue.Hex(), contracts.EncodeOutstandingRequests(w.Address))
	if err != nil {
		return "", fmt.Errorf("read outstanding requests: %w", err)
	}
	count, err := contracts.DecodeUint256(ret)
	if err != nil {
		return "", fmt.Errorf("decode outstanding requests: %w", err)
	}
	if count.Sign() == 0 {
		return "", ErrNoWithdrawRequest
	}

	ret, err = client.CallContract(ctx, queue.Hex(), contracts.EncodeWithdrawRequestAt(w.Address, big.NewInt(0)))
	if err != nil {
		return "", fmt.Errorf("read withdraw request: %w", err)
	}
	reqAmount, createdAt, err := contracts.DecodeUint256Pair(ret)
	if err != nil {
		return "", fmt.Errorf("decode withdraw request: %w", err)
	}

	ret, err = client.CallContract(ctx, queue.Hex(), contracts.EncodeCoolDownPeriod())
	if err != nil {
		return "", fmt.Errorf("read cooldown period: %w", err)
	}
	coolDown, err := contracts.DecodeUint256(ret)
	if err != nil {
		return "", fmt.Errorf("decode cooldown period: %w", err)
	}

	header, err := client.GetLatestBlock(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch latest block: %w", err)
	}

	readyAt := new(big.Int).Add(createdAt, coolDown)
	now := big.NewInt(header.Timestamp.Unix())
	if readyAt.Cmp(now) > 0 {
		return "", fmt.Errorf("%w: ready at %s, block time %s", ErrClaimNotReady, readyAt, now)
	}

	log.Info("claiming withdrawal",
		slog.String("amount", fmtEth(reqAmount)),
		slog.String("requests", count.String()),
	)

	fees := e.fees.Estimate(ctx, client)
	if err := checkGas(ctx, client, w.Address, fees, GasLimitClaim); err != nil {
		return "", err
	}

	return e.submit(ctx, log, w, client, queue, big.NewInt(0), contracts.EncodeClaim(), GasLimitClaim, fees)
}

// wrap deposits native currency into the WETH contract. Amount and gas are
// paid from the same balance, so they are checked together.
func (e *Engine) wrap(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, amount *big.Int) (string, error) {
	log.Info("wrapping", slog.String("amount", fmtEth(amount)))

	fees := e.fees.Estimate(ctx, client)
	if err := checkNativeForWrap(ctx, client, w.Address, amount, fees, GasLimitWrap); err != nil {
		return "", err
	}

	return e.submit(ctx, log, w, client, contracts.WETH, amount, contracts.EncodeWethDeposit(), GasLimitWrap, fees)
}

// unwrap burns WETH back into native currency.
func (e *Engine) unwrap(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, amount *big.Int) (string, error) {
	log.Info("unwrapping", slog.String("amount", fmtEth(amount)))

	fees := e.fees.Estimate(ctx, client)
	if err := checkTokenBalance(ctx, client, contracts.WETH, w.Address, amount); err != nil {
		return "", err
	}
	if err := checkGas(ctx, client, w.Address, fees, GasLimitUnwrap); err != nil {
		return "", err
	}

	data := contracts.EncodeWethWithdraw(amount)
	return e.submit(ctx, log, w, client, contracts.WETH, big.NewInt(0), data, GasLimitUnwrap, fees)
}

// fmtEth renders a wei amount as whole tokens with four decimal places.
func fmtEth(wei *big.Int) string {
	return fmt.Sprintf("%.4f", WeiToEth(wei))
}
