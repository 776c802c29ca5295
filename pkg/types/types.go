// Package types contains public API types for the staking farm client.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// OperationKind represents the kind of on-chain operation the engine performs.
type OperationKind string

const (
	OpStake   OperationKind = "stake"
	OpUnstake OperationKind = "unstake"
	OpClaim   OperationKind = "claim"
	OpWrap    OperationKind = "wrap"
	OpUnwrap  OperationKind = "unwrap"
)

// OperationStatus is the terminal status of a single operation attempt.
type OperationStatus string

const (
	OpStatusSent      OperationStatus = "sent"
	OpStatusConfirmed OperationStatus = "confirmed"
	OpStatusReverted  OperationStatus = "reverted"
	OpStatusTimedOut  OperationStatus = "timed-out"
	OpStatusFailed    OperationStatus = "failed"
)

// CycleState represents the scheduler lifecycle.
type CycleState string

const (
	CycleIdle     CycleState = "idle"
	CycleRunning  CycleState = "running"
	CycleStopping CycleState = "stopping" // stop requested, in-flight operations draining
)

// EventLevel classifies events on the observer stream.
type EventLevel string

const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)

// Event is a single entry on the engine's observer stream. WalletIndex is -1
// for events not tied to a wallet (cycle start/stop, re-arm).
type Event struct {
	Timestamp   time.Time       `json:"timestamp"`
	Level       EventLevel      `json:"level"`
	WalletIndex int             `json:"walletIndex"`
	Kind        OperationKind   `json:"kind,omitempty"`
	Repetition  int             `json:"repetition,omitempty"`
	Status      OperationStatus `json:"status,omitempty"`
	TxHash      string          `json:"txHash,omitempty"`
	Message     string          `json:"message"`
}

// AmountRange is a closed interval of token amounts in whole-token units.
type AmountRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// RunConfig is the persisted per-run configuration. Zero repetitions skip the
// kind entirely; amounts are drawn uniformly from the ranges and rounded to
// four decimal places.
type RunConfig struct {
	StakeRepetitions   int         `json:"stakeRepetitions"`
	UnstakeRepetitions int         `json:"unstakeRepetitions"`
	ClaimRepetitions   int         `json:"claimRepetitions"`
	WethStakeRange     AmountRange `json:"wethStakeRange"`
	ExethUnstakeRange  AmountRange `json:"exethUnstakeRange"`
	LoopHours          int         `json:"loopHours"`
}

// OperationResult reports the outcome of one operation attempt. It is
// transient: surfaced on the event stream and in status payloads, never
// persisted.
type OperationResult struct {
	WalletIndex int             `json:"walletIndex"`
	Kind        OperationKind   `json:"kind"`
	Repetition  int             `json:"repetition"`
	Status      OperationStatus `json:"status"`
	TxHash      string          `json:"txHash,omitempty"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completedAt"`
}

// WalletInfo describes a loaded wallet. The credential is never exposed.
type WalletInfo struct {
	Index    int    `json:"index"`
	Address  string `json:"address"`
	ProxyURL string `json:"proxyUrl,omitempty"` // credentials stripped
}

// BalanceReading is one snapshot of a wallet's balances, amounts in wei as
// decimal strings.
type BalanceReading struct {
	WalletIndex int       `json:"walletIndex"`
	Address     string    `json:"address"`
	Native      string    `json:"native"`
	Weth        string    `json:"weth"`
	Exeth       string    `json:"exeth"`
	TakenAt     time.Time `json:"takenAt"`
}

// FarmStatus is the live status payload.
type FarmStatus struct {
	State          CycleState        `json:"state"`
	WalletCount    int               `json:"walletCount"`
	Network        string            `json:"network"`
	ChainID        uint64            `json:"chainId"`
	CycleStartedAt *time.Time        `json:"cycleStartedAt,omitempty"`
	NextRunAt      *time.Time        `json:"nextRunAt,omitempty"`
	CurrentWallet  int               `json:"currentWallet"` // -1 when idle
	CurrentKind    OperationKind     `json:"currentKind,omitempty"`
	InFlight       int               `json:"inFlight"`
	Attempted      uint64            `json:"attempted"`
	Confirmed      uint64            `json:"confirmed"`
	Failed         uint64            `json:"failed"`
	LastResults    []OperationResult `json:"lastResults,omitempty"` // most recent per wallet
	Config         RunConfig         `json:"config"`
}

// CycleSummary is one persisted row of cycle history.
type CycleSummary struct {
	ID          int64      `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Attempted   int        `json:"attempted"`
	Confirmed   int        `json:"confirmed"`
	Failed      int        `json:"failed"`
	StopReason  string     `json:"stopReason,omitempty"` // empty for a full run
}

// OneOffRequest is the API request for a single wrap or unwrap.
type OneOffRequest struct {
	WalletIndex int     `json:"walletIndex"`
	Amount      float64 `json:"amount"`
}
