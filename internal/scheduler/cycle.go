package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/gateway-fm/stakefarm/internal/engine"
	"github.com/gateway-fm/stakefarm/internal/storage"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	"github.com/gateway-fm/stakefarm/pkg/types"
)

// runLoop runs cycles back to back with a loopHours wait in between, until a
// stop request arrives.
func (s *Session) runLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		s.runCycle(stop)
		if s.halted() {
			return
		}

		s.mu.Lock()
		loopHours := s.runCfg.LoopHours
		next := time.Now().Add(time.Duration(loopHours) * time.Hour)
		s.nextRunAt = next
		s.mu.Unlock()

		s.logger.Info("next cycle scheduled",
			slog.Int("loopHours", loopHours),
			slog.Time("nextRun", next))
		s.publish(types.EventInfo, -1, fmt.Sprintf("next cycle at %s", next.Format(time.RFC3339)))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		s.nextRunAt = time.Time{}
		s.mu.Unlock()
	}
}

// operationPlan is one kind's schedule within a wallet's turn.
type operationPlan struct {
	kind types.OperationKind
	reps int
	draw func() *big.Int
}

// runCycle walks every wallet in registration order through the configured
// stake, unstake and claim repetitions, in that fixed order. The stop flag
// is polled before every operation and resolves every delay early.
func (s *Session) runCycle(stop <-chan struct{}) {
	s.mu.Lock()
	cfg := s.runCfg
	started := time.Now()
	s.cycleStartedAt = started
	s.mu.Unlock()

	ctx := context.Background()

	var cycleID int64
	if s.store != nil {
		id, err := s.store.BeginCycle(ctx, started)
		if err != nil {
			s.logger.Warn("failed to record cycle start", slog.String("error", err.Error()))
		} else {
			cycleID = id
		}
	}

	wallets := s.wallets.Wallets()
	s.logger.Info("cycle started",
		slog.Int("wallets", len(wallets)),
		slog.Int("stakeReps", cfg.StakeRepetitions),
		slog.Int("unstakeReps", cfg.UnstakeRepetitions),
		slog.Int("claimReps", cfg.ClaimRepetitions))
	s.publish(types.EventInfo, -1, fmt.Sprintf("cycle started across %d wallets", len(wallets)))

	s.snapshotAll(ctx)

	plans := []operationPlan{
		{kind: types.OpStake, reps: cfg.StakeRepetitions, draw: func() *big.Int {
			return engine.DrawAmount(cfg.WethStakeRange.Min, cfg.WethStakeRange.Max)
		}},
		{kind: types.OpUnstake, reps: cfg.UnstakeRepetitions, draw: func() *big.Int {
			return engine.DrawAmount(cfg.ExethUnstakeRange.Min, cfg.ExethUnstakeRange.Max)
		}},
		{kind: types.OpClaim, reps: cfg.ClaimRepetitions},
	}

	var attempted, confirmed, failed int
	halted := false

walletLoop:
	for i, w := range wallets {
		if s.halted() {
			halted = true
			break
		}
		s.setCurrent(i, "")

		ranOp := false
		for _, plan := range plans {
			for rep := 1; rep <= plan.reps; rep++ {
				if ranOp {
					if !s.pause(stop, s.repetitionDelay()) {
						halted = true
						break walletLoop
					}
				}
				if s.halted() {
					halted = true
					break walletLoop
				}
				ranOp = true

				var amount *big.Int
				if plan.draw != nil {
					amount = plan.draw()
				}

				s.setCurrent(i, plan.kind)
				res := s.execute(ctx, engine.Request{
					Kind:       plan.kind,
					Wallet:     w,
					Client:     s.wallets.Client(i),
					Amount:     amount,
					Repetition: rep,
				})

				attempted++
				if res.Status == types.OpStatusConfirmed {
					confirmed++
				} else {
					failed++
				}
			}
		}

		s.setCurrent(i, "")
		s.snapshotWallet(ctx, w)

		if i < len(wallets)-1 {
			if !s.pause(stop, s.walletDelay) {
				halted = true
				break
			}
		}
	}

	s.setCurrent(-1, "")

	reason := ""
	if halted {
		reason = "stop requested"
	}

	if s.store != nil && cycleID != 0 {
		completed := time.Now()
		err := s.store.CompleteCycle(ctx, &types.CycleSummary{
			ID:          cycleID,
			StartedAt:   started,
			CompletedAt: &completed,
			Attempted:   attempted,
			Confirmed:   confirmed,
			Failed:      failed,
			StopReason:  reason,
		})
		if err != nil {
			s.logger.Warn("failed to record cycle summary", slog.String("error", err.Error()))
		}

		if pruned, err := s.store.PruneSnapshots(ctx, storage.SnapshotRetention); err == nil && pruned > 0 {
			s.logger.Debug("pruned old balance snapshots", slog.Int64("rows", pruned))
		}
	}

	outcome := "cycle finished"
	if halted {
		outcome = "cycle halted"
	}
	s.logger.Info(outcome,
		slog.Int("attempted", attempted),
		slog.Int("confirmed", confirmed),
		slog.Int("failed", failed),
		slog.Duration("elapsed", time.Since(started)))
	s.publish(types.EventInfo, -1,
		fmt.Sprintf("%s: %d attempted, %d confirmed, %d failed", outcome, attempted, confirmed, failed))
}

// execute runs one operation through the engine, publishes its outcome and
// updates the status counters. One-off operations come through here too.
func (s *Session) execute(ctx context.Context, req engine.Request) types.OperationResult {
	s.inFlight.Inc()
	if s.metrics != nil {
		s.metrics.SetInFlight(int(s.inFlight.Load()))
	}
	defer func() {
		s.inFlight.Dec()
		if s.metrics != nil {
			s.metrics.SetInFlight(int(s.inFlight.Load()))
		}
	}()

	hash, err := s.eng.Run(ctx, req)
	status := engine.StatusFor(err)

	res := types.OperationResult{
		WalletIndex: req.Wallet.Index,
		Kind:        req.Kind,
		Repetition:  req.Repetition,
		Status:      status,
		TxHash:      hash,
		CompletedAt: time.Now(),
	}
	if err != nil {
		res.Error = err.Error()
	}

	s.attempted.Inc()
	if status == types.OpStatusConfirmed {
		s.confirmed.Inc()
	} else {
		s.failed.Inc()
	}

	s.mu.Lock()
	s.lastResults[req.Wallet.Index] = res
	s.mu.Unlock()

	s.events.Publish(types.Event{
		Level:       eventLevelFor(status),
		WalletIndex: req.Wallet.Index,
		Kind:        req.Kind,
		Repetition:  req.Repetition,
		Status:      status,
		TxHash:      hash,
		Message:     eventMessageFor(req.Kind, status, err),
	})

	return res
}

func eventLevelFor(status types.OperationStatus) types.EventLevel {
	switch status {
	case types.OpStatusConfirmed:
		return types.EventInfo
	case types.OpStatusTimedOut:
		return types.EventWarn
	default:
		return types.EventError
	}
}

func eventMessageFor(kind types.OperationKind, status types.OperationStatus, err error) string {
	if err == nil {
		return fmt.Sprintf("%s confirmed", kind)
	}
	return fmt.Sprintf("%s %s: %s", kind, status, err.Error())
}

// snapshotAll records every wallet's balances, best effort.
func (s *Session) snapshotAll(ctx context.Context) {
	s.persistSnapshots(ctx, s.wallets.SnapshotAll(ctx))
}

// snapshotWallet records one wallet's balances after its turn in the cycle.
func (s *Session) snapshotWallet(ctx context.Context, w *wallet.Wallet) {
	balances, err := s.wallets.ReadBalances(ctx, w)
	if err != nil {
		s.logger.Warn("balance snapshot failed",
			slog.Int("wallet", w.Index),
			slog.String("error", err.Error()))
		return
	}

	s.persistSnapshots(ctx, []types.BalanceReading{{
		WalletIndex: w.Index,
		Address:     w.Address.Hex(),
		Native:      balances.Native.String(),
		Weth:        balances.Weth.String(),
		Exeth:       balances.Exeth.String(),
		TakenAt:     time.Now().UTC(),
	}})
}

func (s *Session) persistSnapshots(ctx context.Context, readings []types.BalanceReading) {
	if len(readings) == 0 {
		return
	}

	if s.metrics != nil {
		for _, r := range readings {
			if gwei, ok := gweiValue(r.Native); ok {
				s.metrics.SetNativeBalance(strconv.Itoa(r.WalletIndex), gwei)
			}
		}
	}

	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshots(ctx, readings); err != nil {
		s.logger.Warn("failed to persist balance snapshots", slog.String("error", err.Error()))
	}
}

// gweiValue converts a wei decimal string for the balance gauge.
func gweiValue(wei string) (float64, bool) {
	v, ok := new(big.Float).SetString(wei)
	if !ok {
		return 0, false
	}
	out, _ := new(big.Float).Quo(v, big.NewFloat(1e9)).Float64()
	return out, true
}

// repetitionDelay draws a uniform delay for consecutive operations on the
// same wallet.
func (s *Session) repetitionDelay() time.Duration {
	if s.repDelayMax <= s.repDelayMin {
		return s.repDelayMin
	}
	return s.repDelayMin + rand.N(s.repDelayMax-s.repDelayMin)
}

// pause waits for d unless a stop request resolves it early. Reports false
// when stopped.
func (s *Session) pause(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}
