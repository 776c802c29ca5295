package engine

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/gateway-fm/stakefarm/internal/rpc"
	ptypes "github.com/gateway-fm/stakefarm/pkg/types"
)

// Gas limits per operation kind. Fixed rather than estimated: the contract
// code paths are known and predictable.
const (
	GasLimitApproval = 100000
	GasLimitStake    = 650000
	GasLimitUnstake  = 650000
	GasLimitClaim    = 650000
	GasLimitWrap     = 100000
	GasLimitUnwrap   = 100000
)

// GasLimitFor returns the fixed gas limit for an operation kind.
func GasLimitFor(kind ptypes.OperationKind) uint64 {
	switch kind {
	case ptypes.OpStake:
		return GasLimitStake
	case ptypes.OpUnstake:
		return GasLimitUnstake
	case ptypes.OpClaim:
		return GasLimitClaim
	case ptypes.OpWrap:
		return GasLimitWrap
	case ptypes.OpUnwrap:
		return GasLimitUnwrap
	default:
		return GasLimitWrap
	}
}

// FeeParams carries the fee fields for one submission. Dynamic selects the
// EIP-1559 pair; otherwise GasPrice is used for a legacy transaction.
type FeeParams struct {
	Dynamic   bool
	GasTipCap *big.Int
	GasFeeCap *big.Int
	GasPrice  *big.Int
}

// Cap returns the worst-case price per gas unit, for cost checks.
func (f FeeParams) Cap() *big.Int {
	if f.Dynamic {
		return f.GasFeeCap
	}
	return f.GasPrice
}

// FeeEstimator derives fee parameters per submission. It never fails the
// caller: when the chain cannot be queried it falls back to a 1-gwei legacy
// price and logs the reason.
type FeeEstimator struct {
	logger *slog.Logger
}

// NewFeeEstimator creates an estimator.
func NewFeeEstimator(logger *slog.Logger) *FeeEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeeEstimator{logger: logger}
}

func oneGwei() *big.Int {
	return big.NewInt(1e9)
}

// Estimate queries current fee data. A chain reporting a base fee yields
// dynamic params with maxFee = 2*baseFee + tip; anything else yields a
// legacy price floored at 1 gwei.
func (f *FeeEstimator) Estimate(ctx context.Context, client rpc.Client) FeeParams {
	header, err := client.GetLatestBlock(ctx)
	if err != nil {
		f.logger.Warn("fee query failed, using 1 gwei legacy default", slog.String("err", err.Error()))
		return FeeParams{GasPrice: oneGwei()}
	}

	if header.BaseFee != nil {
		tip, err := client.GetMaxPriorityFee(ctx)
		if err != nil || tip == nil || tip.Sign() <= 0 {
			if err != nil {
				f.logger.Debug("priority fee query failed, using 1 gwei tip", slog.String("err", err.Error()))
			}
			tip = oneGwei()
		}

		feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return FeeParams{Dynamic: true, GasTipCap: tip, GasFeeCap: feeCap}
	}

	price, err := client.GetGasPrice(ctx)
	if err != nil {
		f.logger.Warn("gas price query failed, using 1 gwei legacy default", slog.String("err", err.Error()))
		return FeeParams{GasPrice: oneGwei()}
	}
	if price == nil || price.Cmp(oneGwei()) < 0 {
		price = oneGwei()
	}
	return FeeParams{GasPrice: price}
}
