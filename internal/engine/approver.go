package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stakefarm/internal/contracts"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/wallet"
)

// ensureApproval makes sure spender may move amount of the wallet's token.
// When the current allowance already covers the amount, no transaction is
// issued. Otherwise an approval for exactly amount is submitted and
// confirmed; approving more than one operation needs would widen exposure
// for no benefit.
//
// Submission failures propagate unchanged; only a reverted receipt maps to
// ErrApprovalReverted.
func (e *Engine) ensureApproval(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, token, spender common.Address, amount *big.Int, fees FeeParams) error {
	allowance, err := readAllowance(ctx, client, token, w.Address, spender)
	if err != nil {
		return err
	}

	if allowance.Cmp(amount) >= 0 {
		log.Debug("allowance sufficient",
			slog.String("token", token.Hex()),
			slog.String("allowance", allowance.String()),
		)
		return nil
	}

	log.Info("submitting approval",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", amount.String()),
	)

	data := contracts.EncodeApprove(spender, amount)
	hash, err := e.submit(ctx, log, w, client, token, big.NewInt(0), data, GasLimitApproval, fees)
	if err != nil {
		if errors.Is(err, ErrTransactionReverted) {
			if e.metrics != nil {
				e.metrics.RecordApproval("reverted")
			}
			return fmt.Errorf("%w: %s", ErrApprovalReverted, hash)
		}
		if e.metrics != nil {
			e.metrics.RecordApproval("failed")
		}
		return err
	}

	if e.metrics != nil {
		e.metrics.RecordApproval("confirmed")
	}
	log.Info("approval confirmed", slog.String("tx", hash))
	return nil
}
