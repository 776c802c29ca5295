package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Run configuration defaults.
const (
	DefaultRepetitions = 1
	DefaultRangeMin    = 0.01
	DefaultRangeMax    = 0.02
	DefaultLoopHours   = 24
)

// DefaultRunConfig returns a RunConfig with all defaults applied.
func DefaultRunConfig() types.RunConfig {
	return types.RunConfig{
		StakeRepetitions:   DefaultRepetitions,
		UnstakeRepetitions: DefaultRepetitions,
		ClaimRepetitions:   DefaultRepetitions,
		WethStakeRange:     types.AmountRange{Min: DefaultRangeMin, Max: DefaultRangeMax},
		ExethUnstakeRange:  types.AmountRange{Min: DefaultRangeMin, Max: DefaultRangeMax},
		LoopHours:          DefaultLoopHours,
	}
}

// RunConfigStore loads and persists the run configuration document.
type RunConfigStore struct {
	path string
}

// NewRunConfigStore creates a store backed by the given file path.
func NewRunConfigStore(path string) *RunConfigStore {
	return &RunConfigStore{path: path}
}

// Load reads the run configuration. A missing file yields the defaults;
// fields absent from the document keep their default values. The result is
// validated before being returned.
func (s *RunConfigStore) Load() (types.RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read run config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse run config: %w", err)
	}
	if err := ValidateRunConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save validates and persists the run configuration. The write goes through
// a temp file and rename so a crash mid-write never truncates the document.
func (s *RunConfigStore) Save(cfg types.RunConfig) error {
	if err := ValidateRunConfig(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".runconfig-*.json")
	if err != nil {
		return fmt.Errorf("write run config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write run config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write run config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write run config: %w", err)
	}
	return nil
}

// ValidateRunConfig checks the run configuration invariants.
func ValidateRunConfig(cfg types.RunConfig) error {
	if cfg.StakeRepetitions < 0 {
		return fmt.Errorf("stake repetitions cannot be negative")
	}
	if cfg.UnstakeRepetitions < 0 {
		return fmt.Errorf("unstake repetitions cannot be negative")
	}
	if cfg.ClaimRepetitions < 0 {
		return fmt.Errorf("claim repetitions cannot be negative")
	}
	if err := validateRange("weth stake range", cfg.WethStakeRange); err != nil {
		return err
	}
	if err := validateRange("exeth unstake range", cfg.ExethUnstakeRange); err != nil {
		return err
	}
	if cfg.LoopHours < 1 {
		return fmt.Errorf("loop hours must be at least 1")
	}
	return nil
}

func validateRange(name string, r types.AmountRange) error {
	if r.Min <= 0 {
		return fmt.Errorf("%s: min must be positive", name)
	}
	if r.Max < r.Min {
		return fmt.Errorf("%s: max must be >= min", name)
	}
	return nil
}
