package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/process.report/internal/spc"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for station tuning
// parameters. The schema matches the /api/config endpoint so the same
// JSON can be used for both startup configuration and runtime updates.
type TuningConfig struct {
	// Subgroup assembly params
	SubgroupSize       *int    `json:"subgroup_size,omitempty"`
	SubgroupGapTimeout *string `json:"subgroup_gap_timeout,omitempty"` // duration string like "90s"

	// Control limit params
	HistoryWindow   *int    `json:"history_window,omitempty"`
	MinSubgroupSize *int    `json:"min_subgroup_size,omitempty"`
	DefaultMode     *string `json:"default_mode,omitempty"` // "nominal", "variable" or "standardized"

	// Evaluation params
	RecalcInterval *string `json:"recalc_interval,omitempty"` // duration string like "60s"
	AutoRecalc     *bool   `json:"auto_recalc,omitempty"`

	// API params
	ChartMaxPoints *int `json:"chart_max_points,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults. Stations that run without a config file
// start from this.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		SubgroupSize:       ptrInt(5),
		SubgroupGapTimeout: ptrString("90s"),
		HistoryWindow:      ptrInt(50),
		MinSubgroupSize:    ptrInt(2),
		DefaultMode:        ptrString("nominal"),
		RecalcInterval:     ptrString("60s"),
		AutoRecalc:         ptrBool(true),
		ChartMaxPoints:     ptrInt(500),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SubgroupSize != nil {
		if *c.SubgroupSize < 1 {
			return fmt.Errorf("subgroup_size must be at least 1, got %d", *c.SubgroupSize)
		}
	}

	if c.SubgroupGapTimeout != nil && *c.SubgroupGapTimeout != "" {
		if _, err := time.ParseDuration(*c.SubgroupGapTimeout); err != nil {
			return fmt.Errorf("invalid subgroup_gap_timeout '%s': %w", *c.SubgroupGapTimeout, err)
		}
	}

	// Limit estimation needs at least two subgroups, so a smaller
	// window can never produce limits.
	if c.HistoryWindow != nil {
		if *c.HistoryWindow < 2 {
			return fmt.Errorf("history_window must be at least 2, got %d", *c.HistoryWindow)
		}
	}

	if c.MinSubgroupSize != nil {
		if *c.MinSubgroupSize < 1 {
			return fmt.Errorf("min_subgroup_size must be at least 1, got %d", *c.MinSubgroupSize)
		}
	}

	if c.DefaultMode != nil && *c.DefaultMode != "" {
		if _, err := spc.ParseMode(*c.DefaultMode); err != nil {
			return fmt.Errorf("invalid default_mode '%s': %w", *c.DefaultMode, err)
		}
	}

	if c.RecalcInterval != nil && *c.RecalcInterval != "" {
		if _, err := time.ParseDuration(*c.RecalcInterval); err != nil {
			return fmt.Errorf("invalid recalc_interval '%s': %w", *c.RecalcInterval, err)
		}
	}

	if c.ChartMaxPoints != nil {
		if *c.ChartMaxPoints < 1 {
			return fmt.Errorf("chart_max_points must be positive, got %d", *c.ChartMaxPoints)
		}
	}

	return nil
}

// GetSubgroupSize returns the subgroup_size value or the default.
func (c *TuningConfig) GetSubgroupSize() int {
	if c.SubgroupSize == nil {
		return 5 // default
	}
	return *c.SubgroupSize
}

// GetSubgroupGapTimeout parses and returns the SubgroupGapTimeout as a time.Duration.
func (c *TuningConfig) GetSubgroupGapTimeout() time.Duration {
	if c.SubgroupGapTimeout == nil || *c.SubgroupGapTimeout == "" {
		return 90 * time.Second // default
	}
	d, err := time.ParseDuration(*c.SubgroupGapTimeout)
	if err != nil {
		return 90 * time.Second // default on parse error
	}
	return d
}

// GetHistoryWindow returns the history_window value or the default.
func (c *TuningConfig) GetHistoryWindow() int {
	if c.HistoryWindow == nil {
		return 50 // default
	}
	return *c.HistoryWindow
}

// GetMinSubgroupSize returns the min_subgroup_size value or the default.
func (c *TuningConfig) GetMinSubgroupSize() int {
	if c.MinSubgroupSize == nil {
		return 2 // default
	}
	return *c.MinSubgroupSize
}

// GetDefaultMode returns the default_mode value or the default.
// Invalid strings fall back to the default rather than failing here;
// Validate is the place that rejects them.
func (c *TuningConfig) GetDefaultMode() spc.Mode {
	if c.DefaultMode == nil || *c.DefaultMode == "" {
		return spc.ModeNominal // default
	}
	m, err := spc.ParseMode(*c.DefaultMode)
	if err != nil {
		return spc.ModeNominal // default on parse error
	}
	return m
}

// GetRecalcInterval parses and returns the RecalcInterval as a time.Duration.
func (c *TuningConfig) GetRecalcInterval() time.Duration {
	if c.RecalcInterval == nil || *c.RecalcInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.RecalcInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetAutoRecalc returns the auto_recalc value or the default.
func (c *TuningConfig) GetAutoRecalc() bool {
	if c.AutoRecalc == nil {
		return true // default: background evaluation enabled
	}
	return *c.AutoRecalc
}

// GetChartMaxPoints returns the chart_max_points value or the default.
func (c *TuningConfig) GetChartMaxPoints() int {
	if c.ChartMaxPoints == nil {
		return 500 // default
	}
	return *c.ChartMaxPoints
}
