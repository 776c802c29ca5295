// Package scheduler sequences staking cycles across wallets. A Session owns
// the cycle goroutine, the stop flag and the event stream; the engine below
// it executes one operation at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/stakefarm/internal/config"
	"github.com/gateway-fm/stakefarm/internal/engine"
	"github.com/gateway-fm/stakefarm/internal/metrics"
	"github.com/gateway-fm/stakefarm/internal/storage"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Command surface errors.
var (
	ErrAlreadyRunning = errors.New("cycle already running")
	ErrStopInProgress = errors.New("stop in progress")
	ErrWalletIndex    = errors.New("wallet index out of range")
)

// Scheduling cadence. Tests shorten these through Config.
const (
	DefaultRepetitionDelayMin = 10 * time.Second
	DefaultRepetitionDelayMax = 15 * time.Second
	DefaultWalletDelay        = 10 * time.Second
)

// Config assembles a Session.
type Config struct {
	Network string
	ChainID uint64
	Wallets *wallet.Manager

	// RunConfig is the initial run configuration.
	RunConfig types.RunConfig

	// ConfigStore persists run config edits. Optional.
	ConfigStore *config.RunConfigStore

	// Store persists snapshots and cycle history. Optional.
	Store storage.Store

	// Metrics is optional.
	Metrics *metrics.Metrics

	Logger *slog.Logger

	// Engine knobs, passed through. Zero values take the engine defaults.
	ConfirmTimeout  time.Duration
	ReceiptInterval time.Duration

	// Delay overrides. Zero values take the production cadence.
	RepetitionDelayMin time.Duration
	RepetitionDelayMax time.Duration
	WalletDelay        time.Duration
}

// Session is the long-lived scheduler. One session serves the whole process;
// HTTP, MCP and CLI frontends all drive this command surface.
type Session struct {
	network string
	chainID uint64
	wallets *wallet.Manager
	eng     *engine.Engine
	store   storage.Store
	cfgSt   *config.RunConfigStore
	metrics *metrics.Metrics
	logger  *slog.Logger
	events  *Broadcaster

	repDelayMin time.Duration
	repDelayMax time.Duration
	walletDelay time.Duration

	// Lifetime totals since process start. Cycle summaries carry the
	// per-cycle counts.
	attempted metrics.UCounter
	confirmed metrics.UCounter
	failed    metrics.UCounter
	inFlight  metrics.Counter

	stopping int32 // atomic; set on stop request, cleared on start

	mu             sync.RWMutex
	state          types.CycleState
	runCfg         types.RunConfig
	stopCh         chan struct{}
	cycleStartedAt time.Time
	nextRunAt      time.Time
	currentWallet  int
	currentKind    types.OperationKind
	lastResults    map[int]types.OperationResult

	wg sync.WaitGroup // cycle goroutine plus in-flight one-off operations
}

// New creates an idle session. The engine is built here so that its stop
// check observes this session's flag.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		network:       cfg.Network,
		chainID:       cfg.ChainID,
		wallets:       cfg.Wallets,
		store:         cfg.Store,
		cfgSt:         cfg.ConfigStore,
		metrics:       cfg.Metrics,
		logger:        logger,
		events:        NewBroadcaster(),
		repDelayMin:   cfg.RepetitionDelayMin,
		repDelayMax:   cfg.RepetitionDelayMax,
		walletDelay:   cfg.WalletDelay,
		state:         types.CycleIdle,
		runCfg:        cfg.RunConfig,
		stopCh:        make(chan struct{}),
		currentWallet: -1,
		lastResults:   make(map[int]types.OperationResult),
	}

	if s.repDelayMin <= 0 {
		s.repDelayMin = DefaultRepetitionDelayMin
	}
	if s.repDelayMax <= 0 {
		s.repDelayMax = DefaultRepetitionDelayMax
	}
	if s.repDelayMax < s.repDelayMin {
		s.repDelayMax = s.repDelayMin
	}
	if s.walletDelay <= 0 {
		s.walletDelay = DefaultWalletDelay
	}

	s.eng = engine.New(engine.Config{
		ChainID:         cfg.ChainID,
		Logger:          logger,
		Halted:          s.halted,
		Metrics:         cfg.Metrics,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		ReceiptInterval: cfg.ReceiptInterval,
	})

	if s.metrics != nil {
		s.metrics.SetCycleState(string(types.CycleIdle))
	}

	return s
}

// Engine exposes the session's engine, mainly for one-shot CLI paths.
func (s *Session) Engine() *engine.Engine {
	return s.eng
}

// Subscribe attaches an event listener. The cancel func must be called when
// the listener goes away.
func (s *Session) Subscribe() (<-chan types.Event, func()) {
	return s.events.Subscribe()
}

// Start launches the cycle loop. It returns immediately; progress is
// reported through the event stream and Status.
func (s *Session) Start() error {
	s.mu.Lock()
	switch s.state {
	case types.CycleRunning:
		s.mu.Unlock()
		return ErrAlreadyRunning
	case types.CycleStopping:
		s.mu.Unlock()
		return ErrStopInProgress
	}

	atomic.StoreInt32(&s.stopping, 0)
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.state = types.CycleRunning
	s.wg.Add(1)
	s.mu.Unlock()

	s.setGaugeState(types.CycleRunning)
	s.publish(types.EventInfo, -1, "cycle loop started")
	s.logger.Info("cycle loop started", slog.Int("wallets", len(s.wallets.Wallets())))

	go s.runLoop(stopCh)
	return nil
}

// Stop requests a halt. New operation starts cease immediately; in-flight
// operations finish and the session reaches idle once the in-flight count is
// zero. Calling Stop while idle does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != types.CycleRunning {
		s.mu.Unlock()
		return
	}
	s.state = types.CycleStopping
	atomic.StoreInt32(&s.stopping, 1)
	close(s.stopCh)
	s.mu.Unlock()

	s.setGaugeState(types.CycleStopping)
	s.publish(types.EventInfo, -1, "stop requested, draining in-flight operations")
	s.logger.Info("stop requested")

	go s.drain()
}

// drain waits for the cycle goroutine and any one-off operations, then
// settles the session back to idle.
func (s *Session) drain() {
	s.wg.Wait()

	s.eng.Nonces().Reset()

	s.mu.Lock()
	s.state = types.CycleIdle
	s.currentWallet = -1
	s.currentKind = ""
	s.cycleStartedAt = time.Time{}
	s.nextRunAt = time.Time{}
	s.mu.Unlock()

	s.setGaugeState(types.CycleIdle)
	s.publish(types.EventInfo, -1, "scheduler idle")
	s.logger.Info("scheduler idle")
}

// Drain blocks until all in-flight work has finished. Intended for process
// shutdown after Stop.
func (s *Session) Drain() {
	s.wg.Wait()
}

// RunConfig returns the current run configuration.
func (s *Session) RunConfig() types.RunConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCfg
}

// SetConfig validates, persists and applies a new run configuration. A cycle
// already underway keeps the configuration it started with; the next cycle
// picks up the change.
func (s *Session) SetConfig(cfg types.RunConfig) error {
	if err := config.ValidateRunConfig(cfg); err != nil {
		return err
	}
	if s.cfgSt != nil {
		if err := s.cfgSt.Save(cfg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.runCfg = cfg
	s.mu.Unlock()

	s.logger.Info("run configuration updated",
		slog.Int("stakeReps", cfg.StakeRepetitions),
		slog.Int("unstakeReps", cfg.UnstakeRepetitions),
		slog.Int("claimReps", cfg.ClaimRepetitions),
		slog.Int("loopHours", cfg.LoopHours))
	s.publish(types.EventInfo, -1, "run configuration updated")
	return nil
}

// Status reports the live scheduler state.
func (s *Session) Status() types.FarmStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := types.FarmStatus{
		State:         s.state,
		WalletCount:   len(s.wallets.Wallets()),
		Network:       s.network,
		ChainID:       s.chainID,
		CurrentWallet: s.currentWallet,
		CurrentKind:   s.currentKind,
		InFlight:      int(s.inFlight.Load()),
		Attempted:     s.attempted.Load(),
		Confirmed:     s.confirmed.Load(),
		Failed:        s.failed.Load(),
		Config:        s.runCfg,
	}

	if !s.cycleStartedAt.IsZero() {
		t := s.cycleStartedAt
		st.CycleStartedAt = &t
	}
	if !s.nextRunAt.IsZero() {
		t := s.nextRunAt
		st.NextRunAt = &t
	}

	for i := 0; i < st.WalletCount; i++ {
		if r, ok := s.lastResults[i]; ok {
			st.LastResults = append(st.LastResults, r)
		}
	}

	return st
}

// Balances returns the latest snapshot per wallet. Without a store it falls
// back to a live read.
func (s *Session) Balances(ctx context.Context) ([]types.BalanceReading, error) {
	if s.store != nil {
		return s.store.LatestSnapshots(ctx)
	}
	return s.wallets.SnapshotAll(ctx), nil
}

// SnapshotNow reads every wallet's balances and persists the result, so a
// freshly started process reports balances before the first cycle runs.
func (s *Session) SnapshotNow(ctx context.Context) {
	s.snapshotAll(ctx)
}

// History returns a page of persisted cycle summaries, newest first.
func (s *Session) History(ctx context.Context, limit, offset int) (*storage.PaginatedCycles, error) {
	if s.store == nil {
		return &storage.PaginatedCycles{Limit: limit, Offset: offset}, nil
	}
	return s.store.ListCycles(ctx, limit, offset)
}

// Wrap runs a one-shot native-to-WETH wrap on the given wallet.
func (s *Session) Wrap(walletIndex int, amount float64) error {
	return s.runOneOff(types.OpWrap, walletIndex, amount)
}

// Unwrap runs a one-shot WETH-to-native unwrap on the given wallet.
func (s *Session) Unwrap(walletIndex int, amount float64) error {
	return s.runOneOff(types.OpUnwrap, walletIndex, amount)
}

// runOneOff validates the request and launches the operation in the
// background. The result arrives on the event stream. One-offs share the
// in-flight gate, so a stop request drains them like cycle operations.
func (s *Session) runOneOff(kind types.OperationKind, walletIndex int, amount float64) error {
	wallets := s.wallets.Wallets()
	if walletIndex < 0 || walletIndex >= len(wallets) {
		return fmt.Errorf("%w: %d", ErrWalletIndex, walletIndex)
	}

	wei := engine.EthToWei(amount)
	if wei.Sign() <= 0 {
		return fmt.Errorf("%w: %.4f", engine.ErrAmountInvalid, amount)
	}

	s.mu.Lock()
	if s.state == types.CycleStopping {
		s.mu.Unlock()
		return ErrStopInProgress
	}
	s.wg.Add(1)
	s.mu.Unlock()

	w := wallets[walletIndex]
	client := s.wallets.Client(walletIndex)

	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), engine.Request{
			Kind:   kind,
			Wallet: w,
			Client: client,
			Amount: wei,
		})
	}()

	return nil
}

// halted reports whether a stop has been requested. Wired into the engine's
// nonce reservation check.
func (s *Session) halted() bool {
	return atomic.LoadInt32(&s.stopping) != 0
}

func (s *Session) publish(level types.EventLevel, walletIndex int, msg string) {
	s.events.Publish(types.Event{
		Level:       level,
		WalletIndex: walletIndex,
		Message:     msg,
	})
}

func (s *Session) setGaugeState(state types.CycleState) {
	if s.metrics != nil {
		s.metrics.SetCycleState(string(state))
	}
}

func (s *Session) setCurrent(walletIndex int, kind types.OperationKind) {
	s.mu.Lock()
	s.currentWallet = walletIndex
	s.currentKind = kind
	s.mu.Unlock()
}
