// Package config loads the engine's tunable parameters from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/trackwatch/internal/tracking"
)

// DefaultConfigPath is the canonical defaults file, relative to the
// repository root.
const DefaultConfigPath = "config/trackwatch.defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// EngineConfig is the on-disk form of the engine parameters. Every field is
// optional; the Get* methods supply defaults for omitted ones, so partial
// files are safe.
type EngineConfig struct {
	RelevanceWindow    *string `json:"relevance_window,omitempty"`    // duration string like "24h"
	ReevaluateInterval *string `json:"reevaluate_interval,omitempty"` // duration string like "15m"

	CountThreshold        *int `json:"count_threshold,omitempty"`
	LocationThreshold     *int `json:"location_threshold,omitempty"`
	HighCountThreshold    *int `json:"high_count_threshold,omitempty"`
	HighLocationThreshold *int `json:"high_location_threshold,omitempty"`

	LocationToleranceM *float64 `json:"location_tolerance_m,omitempty"`
	MaxAccuracyM       *float64 `json:"max_accuracy_m,omitempty"`

	WorkerInterval *string `json:"worker_interval,omitempty"`
	SettleDelay    *string `json:"settle_delay,omitempty"`
}

// LoadEngineConfig reads and validates a config file. The path must carry a
// .json extension and the file must be at most 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &EngineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the working directory
// or one of its ancestors. It panics on failure and is meant for tests.
func MustLoadDefaultConfig() *EngineConfig {
	prefix := ""
	for i := 0; i < 5; i++ {
		if cfg, err := LoadEngineConfig(prefix + DefaultConfigPath); err == nil {
			return cfg
		}
		prefix += "../"
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that set fields parse and that the resulting engine
// parameters are consistent.
func (c *EngineConfig) Validate() error {
	for name, v := range map[string]*string{
		"relevance_window":    c.RelevanceWindow,
		"reevaluate_interval": c.ReevaluateInterval,
		"worker_interval":     c.WorkerInterval,
		"settle_delay":        c.SettleDelay,
	} {
		if v == nil || *v == "" {
			continue
		}
		if _, err := time.ParseDuration(*v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
	}
	if c.GetWorkerInterval() <= 0 {
		return fmt.Errorf("worker_interval must be positive, got %v", c.GetWorkerInterval())
	}
	return c.Tracking().Validate()
}

// Tracking converts the file form to engine parameters.
func (c *EngineConfig) Tracking() tracking.Config {
	return tracking.Config{
		RelevanceWindow:       c.GetRelevanceWindow(),
		ReevaluateInterval:    c.GetReevaluateInterval(),
		CountThreshold:        c.GetCountThreshold(),
		LocationThreshold:     c.GetLocationThreshold(),
		HighCountThreshold:    c.GetHighCountThreshold(),
		HighLocationThreshold: c.GetHighLocationThreshold(),
		LocationTolerance:     c.GetLocationToleranceM(),
		MaxAccuracy:           c.GetMaxAccuracyM(),
	}
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

var defaults = tracking.DefaultConfig()

func (c *EngineConfig) GetRelevanceWindow() time.Duration {
	return durationOr(c.RelevanceWindow, defaults.RelevanceWindow)
}

func (c *EngineConfig) GetReevaluateInterval() time.Duration {
	return durationOr(c.ReevaluateInterval, defaults.ReevaluateInterval)
}

func (c *EngineConfig) GetCountThreshold() int {
	return intOr(c.CountThreshold, defaults.CountThreshold)
}

func (c *EngineConfig) GetLocationThreshold() int {
	return intOr(c.LocationThreshold, defaults.LocationThreshold)
}

func (c *EngineConfig) GetHighCountThreshold() int {
	return intOr(c.HighCountThreshold, defaults.HighCountThreshold)
}

func (c *EngineConfig) GetHighLocationThreshold() int {
	return intOr(c.HighLocationThreshold, defaults.HighLocationThreshold)
}

func (c *EngineConfig) GetLocationToleranceM() float64 {
	return floatOr(c.LocationToleranceM, defaults.LocationTolerance)
}

func (c *EngineConfig) GetMaxAccuracyM() float64 {
	return floatOr(c.MaxAccuracyM, defaults.MaxAccuracy)
}

// GetWorkerInterval is how often the background risk worker runs.
func (c *EngineConfig) GetWorkerInterval() time.Duration {
	return durationOr(c.WorkerInterval, 15*time.Minute)
}

// GetSettleDelay is how long the session tracker waits to coalesce bursts.
func (c *EngineConfig) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, 250*time.Millisecond)
}
