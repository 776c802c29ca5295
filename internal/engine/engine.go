// Package engine implements the staking operation pipeline: precondition
// checks, token approvals, fee estimation, nonce tracking, and transaction
// submission with a bounded confirmation wait.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stakefarm/internal/metrics"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	ptypes "github.com/gateway-fm/stakefarm/pkg/types"
)

// Config holds engine dependencies.
type Config struct {
	ChainID uint64
	Logger  *slog.Logger

	// Halted reports whether a stop has been requested. Optional; when set,
	// nonce reservations observed after a stop fail with ErrCancelled.
	Halted func() bool

	// Metrics is optional.
	Metrics *metrics.Metrics

	// ConfirmTimeout bounds the receipt wait per transaction (default 300s).
	ConfirmTimeout time.Duration

	// ReceiptInterval is the receipt polling interval (default 500ms).
	ReceiptInterval time.Duration
}

// Engine runs single staking operations against the chain. It holds no
// per-cycle state beyond the nonce tracker; the scheduler owns sequencing.
type Engine struct {
	chainID uint64
	signer  types.Signer
	nonces  *NonceTracker
	fees    *FeeEstimator
	logger  *slog.Logger
	metrics *metrics.Metrics

	confirmTimeout  time.Duration
	receiptInterval time.Duration
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 300 * time.Second
	}

	receiptInterval := cfg.ReceiptInterval
	if receiptInterval <= 0 {
		receiptInterval = 500 * time.Millisecond
	}

	return &Engine{
		chainID:         cfg.ChainID,
		signer:          types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID)),
		nonces:          NewNonceTracker(cfg.Halted),
		fees:            NewFeeEstimator(logger),
		logger:          logger,
		metrics:         cfg.Metrics,
		confirmTimeout:  confirmTimeout,
		receiptInterval: receiptInterval,
	}
}

// Nonces returns the engine's nonce tracker. The scheduler resets it when a
// cycle halts.
func (e *Engine) Nonces() *NonceTracker {
	return e.nonces
}

// Request describes one operation attempt.
type Request struct {
	Kind   ptypes.OperationKind
	Wallet *wallet.Wallet
	Client rpc.Client

	// Amount in wei. Required for all kinds except claim.
	Amount *big.Int

	// Repetition is the 1-based repetition number, for log context.
	Repetition int
}

// Run executes one operation attempt and returns the hash of the main
// transaction when one was broadcast. Errors are terminal for the attempt;
// the engine never retries within an attempt.
func (e *Engine) Run(ctx context.Context, req Request) (string, error) {
	log := e.logger.With(
		slog.Int("wallet", req.Wallet.Index),
		slog.String("kind", string(req.Kind)),
		slog.Int("repetition", req.Repetition),
	)

	start := time.Now()
	hash, err := e.run(ctx, log, req)

	if e.metrics != nil {
		e.metrics.RecordOperation(string(req.Kind), string(StatusFor(err)))
		e.metrics.RecordOperationDuration(string(req.Kind), time.Since(start).Seconds())
	}
	return hash, err
}

func (e *Engine) run(ctx context.Context, log *slog.Logger, req Request) (string, error) {
	if req.Kind != ptypes.OpClaim {
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return "", fmt.Errorf("%w: %s requires a positive amount", ErrAmountInvalid, req.Kind)
		}
	}

	switch req.Kind {
	case ptypes.OpStake:
		return e.stake(ctx, log, req.Wallet, req.Client, req.Amount)
	case ptypes.OpUnstake:
		return e.unstake(ctx, log, req.Wallet, req.Client, req.Amount)
	case ptypes.OpClaim:
		return e.claim(ctx, log, req.Wallet, req.Client)
	case ptypes.OpWrap:
		return e.wrap(ctx, log, req.Wallet, req.Client, req.Amount)
	case ptypes.OpUnwrap:
		return e.unwrap(ctx, log, req.Wallet, req.Client, req.Amount)
	default:
		return "", fmt.Errorf("unknown operation kind: %q", req.Kind)
	}
}

// StatusFor maps an operation error to its terminal status.
func StatusFor(err error) ptypes.OperationStatus {
	switch {
	case err == nil:
		return ptypes.OpStatusConfirmed
	case errors.Is(err, ErrTransactionReverted), errors.Is(err, ErrApprovalReverted):
		return ptypes.OpStatusReverted
	case errors.Is(err, ErrConfirmationTimeout):
		return ptypes.OpStatusTimedOut
	default:
		return ptypes.OpStatusFailed
	}
}
