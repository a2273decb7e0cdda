package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/depletion"
	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

const (
	minStepSeconds               = 60
	maxStepSeconds               = 86400
	minSecondHorizonHours        = 1
	maxSecondHorizonHours        = 168
	maxHourHorizonHours          = 720
	minCollectionIntervalSeconds = 1
	maxCollectionIntervalSeconds = 3600
	minQueryLimit                = 10
	maxQueryLimit                = 100000
	minRetentionDays             = 1
	maxRetentionDays             = 3650
	minCleanupIntervalHours      = 1
	maxCleanupIntervalHours      = 720
)

type Config struct {
	Storage    StorageConfig    `toml:"storage" json:"storage"`
	Pipeline   PipelineConfig   `toml:"pipeline" json:"pipeline"`
	Depletion  DepletionConfig  `toml:"depletion" json:"depletion"`
	Collection CollectionConfig `toml:"collection" json:"collection"`
	Cleanup    CleanupConfig    `toml:"cleanup" json:"cleanup"`
}

type StorageConfig struct {
	DBPath    string `toml:"db_path" json:"db_path"`
	SpoolPath string `toml:"spool_path" json:"spool_path"`
}

type PipelineConfig struct {
	StepSeconds      int                 `toml:"step_seconds" json:"step_seconds"`
	PassThroughAbove float64             `toml:"pass_through_above" json:"pass_through_above"`
	ChargeSteps      []series.ChargeStep `toml:"charge_steps" json:"charge_steps"`
	// QueryLimit caps how many readings feed one series computation.
	QueryLimit int `toml:"query_limit" json:"query_limit"`
}

type DepletionConfig struct {
	SecondHorizonHours int `toml:"second_horizon_hours" json:"second_horizon_hours"`
	HourHorizonHours   int `toml:"hour_horizon_hours" json:"hour_horizon_hours"`
}

type CollectionConfig struct {
	IntervalSeconds int `toml:"interval_seconds" json:"interval_seconds"`
}

type CleanupConfig struct {
	RetentionDays int `toml:"retention_days" json:"retention_days"`
	IntervalHours int `toml:"interval_hours" json:"interval_hours"`
}

func DefaultConfig() *Config {
	ladder := series.DefaultChargeLadder()
	return &Config{
		Storage: StorageConfig{
			DBPath:    "/var/lib/meter-monitor/data.db",
			SpoolPath: "/var/lib/meter-monitor/readings.jsonl",
		},
		Pipeline: PipelineConfig{
			StepSeconds:      int(series.DefaultStepSeconds),
			PassThroughAbove: ladder.PassThroughAbove,
			ChargeSteps:      ladder.Steps,
			QueryLimit:       5000,
		},
		Depletion: DepletionConfig{
			SecondHorizonHours: int(depletion.DefaultSecondHorizon / time.Hour),
			HourHorizonHours:   int(depletion.DefaultHourHorizon / time.Hour),
		},
		Collection: CollectionConfig{
			IntervalSeconds: 60,
		},
		Cleanup: CleanupConfig{
			RetentionDays: 90,
			IntervalHours: 24,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return NormalizeAndValidate(cfg)
}

func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg
	sanitized.Pipeline.ChargeSteps = append([]series.ChargeStep(nil), cfg.Pipeline.ChargeSteps...)

	var err error
	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	sanitized.Storage.SpoolPath, err = sanitizePath("storage.spool_path", sanitized.Storage.SpoolPath)
	if err != nil {
		return nil, err
	}

	if err := validateRange("pipeline.step_seconds", sanitized.Pipeline.StepSeconds, minStepSeconds, maxStepSeconds); err != nil {
		return nil, err
	}
	if err := validatePositive("pipeline.pass_through_above", sanitized.Pipeline.PassThroughAbove); err != nil {
		return nil, err
	}
	for i, step := range sanitized.Pipeline.ChargeSteps {
		if err := validateNonNegative(fmt.Sprintf("pipeline.charge_steps[%d].above", i), step.Above); err != nil {
			return nil, err
		}
		if err := validatePositive(fmt.Sprintf("pipeline.charge_steps[%d].amount", i), step.Amount); err != nil {
			return nil, err
		}
		if step.Above >= sanitized.Pipeline.PassThroughAbove {
			return nil, fmt.Errorf("pipeline.charge_steps[%d].above must be below pipeline.pass_through_above (%v), got %v",
				i, sanitized.Pipeline.PassThroughAbove, step.Above)
		}
	}
	if err := validateRange("pipeline.query_limit", sanitized.Pipeline.QueryLimit, minQueryLimit, maxQueryLimit); err != nil {
		return nil, err
	}

	if err := validateRange("depletion.second_horizon_hours", sanitized.Depletion.SecondHorizonHours, minSecondHorizonHours, maxSecondHorizonHours); err != nil {
		return nil, err
	}
	if err := validateRange("depletion.hour_horizon_hours", sanitized.Depletion.HourHorizonHours, sanitized.Depletion.SecondHorizonHours, maxHourHorizonHours); err != nil {
		return nil, err
	}

	if err := validateRange("collection.interval_seconds", sanitized.Collection.IntervalSeconds, minCollectionIntervalSeconds, maxCollectionIntervalSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.retention_days", sanitized.Cleanup.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}
	if err := validateRange("cleanup.interval_hours", sanitized.Cleanup.IntervalHours, minCleanupIntervalHours, maxCleanupIntervalHours); err != nil {
		return nil, err
	}

	return &sanitized, nil
}

// SeriesPipeline builds the energy/power pipeline described by the
// [pipeline] section.
func (c *Config) SeriesPipeline() series.Pipeline {
	return series.Pipeline{
		StepSeconds: int64(c.Pipeline.StepSeconds),
		Ladder:      series.NewChargeLadder(c.Pipeline.PassThroughAbove, c.Pipeline.ChargeSteps),
	}
}

// Projector builds the depletion projector described by the [depletion]
// section.
func (c *Config) Projector() depletion.Projector {
	return depletion.Projector{
		SecondHorizon: time.Duration(c.Depletion.SecondHorizonHours) * time.Hour,
		HourHorizon:   time.Duration(c.Depletion.HourHorizonHours) * time.Hour,
	}
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}

func validatePositive(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return fmt.Errorf("%s must be a positive number, got %v", name, value)
	}
	return nil
}

func validateNonNegative(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return fmt.Errorf("%s must be a non-negative number, got %v", name, value)
	}
	return nil
}
