package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	ptypes "github.com/gateway-fm/stakefarm/pkg/types"
)

// submit signs, broadcasts, and confirms one transaction. The returned hash
// is set whenever a broadcast happened, including on revert and timeout.
//
// A transaction still unconfirmed when the wait expires is reported as
// ErrConfirmationTimeout and never looked at again. If it lands later, the
// next repetition can duplicate its effect; the farm accepts that.
func (e *Engine) submit(ctx context.Context, log *slog.Logger, w *wallet.Wallet, client rpc.Client, to common.Address, value *big.Int, data []byte, gasLimit uint64, fees FeeParams) (string, error) {
	nonce, err := e.nonces.Reserve(ctx, client, e.chainID, w.Address.Hex())
	if err != nil {
		return "", err
	}

	tx := newTx(e.chainID, nonce, to, value, gasLimit, fees, data)
	signed, err := types.SignTx(tx, e.signer, w.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	if err := client.SendRawTransaction(ctx, raw); err != nil {
		if IsNonceConflict(err) {
			e.nonces.Evict(e.chainID, w.Address.Hex())
			return "", fmt.Errorf("%w: %v", ErrNonceConflict, err)
		}
		return "", fmt.Errorf("broadcast: %w", err)
	}

	hash := signed.Hash().Hex()
	log.Info("transaction broadcast",
		slog.String("tx", hash),
		slog.Uint64("nonce", nonce),
		slog.String("status", string(ptypes.OpStatusSent)),
	)

	receipt, err := e.waitForReceipt(ctx, log, client, hash)
	if err != nil {
		return hash, err
	}
	if receipt.Status == 0 {
		return hash, fmt.Errorf("%w: %s", ErrTransactionReverted, hash)
	}

	log.Info("transaction confirmed",
		slog.String("tx", hash),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gasUsed", receipt.GasUsed),
	)
	return hash, nil
}

// waitForReceipt polls for the receipt until the confirmation timeout.
// Transient poll errors do not abort the wait.
func (e *Engine) waitForReceipt(ctx context.Context, log *slog.Logger, client rpc.Client, hash string) (*rpc.TransactionReceipt, error) {
	deadline := time.Now().Add(e.confirmTimeout)

	for time.Now().Before(deadline) {
		receipt, err := client.GetTransactionReceipt(ctx, hash)
		if err != nil {
			log.Debug("receipt poll failed", slog.String("tx", hash), slog.String("err", err.Error()))
		} else if receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.receiptInterval):
		}
	}

	return nil, fmt.Errorf("%w: %s not confirmed within %s", ErrConfirmationTimeout, hash, e.confirmTimeout)
}

// newTx builds a dynamic-fee or legacy transaction from fee params.
func newTx(chainID uint64, nonce uint64, to common.Address, value *big.Int, gasLimit uint64, fees FeeParams, data []byte) *types.Transaction {
	if !fees.Dynamic {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.GasPrice,
			Gas:      gasLimit,
			To:       &to,
			Value:    value,
			Data:     data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: fees.GasTipCap,
		GasFeeCap: fees.GasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
		Data:      data,
	})
}
