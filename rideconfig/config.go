// Package rideconfig loads ambient runtime defaults from a YAML file, the
// same way statechartx's production package keeps its persistence/tuning
// knobs in YAML rather than Go source. Values here are defaults only: a
// Class field set explicitly by application code always overrides whatever
// this file says, so ops teams can retune budgets and idle limits without a
// rebuild while still letting a component author pin exact behavior.
package rideconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults holds the tunables ride reads from an optional config file.
// FrameBudgetMillis <= 0 means unbudgeted. IdleMaxFlushes bounds
// Scheduler.WhenIdle's failure-after-N-iterations guard.
type Defaults struct {
	FrameBudgetMillis int64 `yaml:"frame_budget_ms"`
	IdleMaxFlushes    int   `yaml:"idle_max_flushes"`
}

// DefaultDefaults are what a runtime uses when no config file is loaded.
func DefaultDefaults() Defaults {
	return Defaults{
		FrameBudgetMillis: 8,
		IdleMaxFlushes:    10000,
	}
}

// Load reads and parses a YAML config file at path, filling in any field
// left at its zero value with DefaultDefaults' value.
func Load(path string) (Defaults, error) {
	d := DefaultDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults{}, fmt.Errorf("rideconfig: read %s: %w", path, err)
	}

	var loaded Defaults
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Defaults{}, fmt.Errorf("rideconfig: parse %s: %w", path, err)
	}

	if loaded.FrameBudgetMillis != 0 {
		d.FrameBudgetMillis = loaded.FrameBudgetMillis
	}
	if loaded.IdleMaxFlushes != 0 {
		d.IdleMaxFlushes = loaded.IdleMaxFlushes
	}
	return d, nil
}
