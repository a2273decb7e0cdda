package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cptspacemanspiff/dorm-meter-monitor/internal/series"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.DBPath != "/var/lib/meter-monitor/data.db" {
		t.Fatalf("unexpected DBPath: %q", cfg.Storage.DBPath)
	}
	if cfg.Storage.SpoolPath != "/var/lib/meter-monitor/readings.jsonl" {
		t.Fatalf("unexpected SpoolPath: %q", cfg.Storage.SpoolPath)
	}
	if cfg.Pipeline.StepSeconds != 900 {
		t.Fatalf("unexpected StepSeconds: %d", cfg.Pipeline.StepSeconds)
	}
	if cfg.Pipeline.PassThroughAbove != 225 {
		t.Fatalf("unexpected PassThroughAbove: %v", cfg.Pipeline.PassThroughAbove)
	}
	if len(cfg.Pipeline.ChargeSteps) != 6 {
		t.Fatalf("unexpected ChargeSteps: %v", cfg.Pipeline.ChargeSteps)
	}
	if cfg.Depletion.SecondHorizonHours != 24 || cfg.Depletion.HourHorizonHours != 72 {
		t.Fatalf("unexpected Depletion: %+v", cfg.Depletion)
	}
	if cfg.Cleanup.RetentionDays != 90 {
		t.Fatalf("unexpected RetentionDays: %d", cfg.Cleanup.RetentionDays)
	}
	if cfg.Cleanup.IntervalHours != 24 {
		t.Fatalf("unexpected IntervalHours: %d", cfg.Cleanup.IntervalHours)
	}
	if _, err := NormalizeAndValidate(cfg); err != nil {
		t.Fatalf("NormalizeAndValidate(DefaultConfig()) error = %v", err)
	}
}

func TestLoad_OverridesAndKeepsDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[storage]
db_path = "/tmp/test.db"

[pipeline]
step_seconds = 300

[depletion]
hour_horizon_hours = 96
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.DBPath != "/tmp/test.db" {
		t.Fatalf("DBPath = %q, want /tmp/test.db", cfg.Storage.DBPath)
	}
	if cfg.Storage.SpoolPath != "/var/lib/meter-monitor/readings.jsonl" {
		t.Fatalf("SpoolPath = %q, want default", cfg.Storage.SpoolPath)
	}
	if cfg.Pipeline.StepSeconds != 300 {
		t.Fatalf("StepSeconds = %d, want 300", cfg.Pipeline.StepSeconds)
	}
	if len(cfg.Pipeline.ChargeSteps) != 6 {
		t.Fatalf("ChargeSteps = %v, want default ladder", cfg.Pipeline.ChargeSteps)
	}
	if cfg.Depletion.HourHorizonHours != 96 {
		t.Fatalf("HourHorizonHours = %d, want 96", cfg.Depletion.HourHorizonHours)
	}
	if cfg.Depletion.SecondHorizonHours != 24 {
		t.Fatalf("SecondHorizonHours = %d, want default 24", cfg.Depletion.SecondHorizonHours)
	}
	if cfg.Collection.IntervalSeconds != 60 {
		t.Fatalf("IntervalSeconds = %d, want default 60", cfg.Collection.IntervalSeconds)
	}
}

func TestLoad_CustomChargeLadder(t *testing.T) {
	path := writeTempConfig(t, `
[pipeline]
pass_through_above = 120

[[pipeline.charge_steps]]
above = 10
amount = 20

[[pipeline.charge_steps]]
above = 60
amount = 100
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	p := cfg.SeriesPipeline()
	if p.StepSeconds != series.DefaultStepSeconds {
		t.Fatalf("StepSeconds = %d, want %d", p.StepSeconds, series.DefaultStepSeconds)
	}
	tests := []struct {
		delta float64
		want  float64
	}{
		{delta: 150, want: 150},
		{delta: 80, want: 100},
		{delta: 15, want: 20},
		{delta: 5, want: 0},
	}
	for _, tt := range tests {
		if got := p.Ladder.Classify(tt.delta); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.delta, got, tt.want)
		}
	}
}

func TestConfig_Projector(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Depletion.SecondHorizonHours = 6
	cfg.Depletion.HourHorizonHours = 48

	p := cfg.Projector()
	if p.SecondHorizon != 6*time.Hour {
		t.Fatalf("SecondHorizon = %v, want 6h", p.SecondHorizon)
	}
	if p.HourHorizon != 48*time.Hour {
		t.Fatalf("HourHorizon = %v, want 48h", p.HourHorizon)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatal("Load() error = nil, want missing file error")
	}
	if !os.IsNotExist(err) {
		t.Fatalf("Load() error = %v, want not-exist error", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "not = [valid")
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() error = nil, want TOML parse error")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		contents   string
		wantErrSub string
	}{
		{
			name: "relative db path",
			contents: `
[storage]
db_path = "data.db"
`,
			wantErrSub: "storage.db_path must be an absolute path",
		},
		{
			name: "empty spool path",
			contents: `
[storage]
spool_path = "  "
`,
			wantErrSub: "storage.spool_path must not be empty",
		},
		{
			name: "step too small",
			contents: `
[pipeline]
step_seconds = 0
`,
			wantErrSub: "pipeline.step_seconds must be between 60 and 86400",
		},
		{
			name: "pass-through not positive",
			contents: `
[pipeline]
pass_through_above = 0
`,
			wantErrSub: "pipeline.pass_through_above must be a positive number",
		},
		{
			name: "charge step amount not positive",
			contents: `
[[pipeline.charge_steps]]
above = 10
amount = 0
`,
			wantErrSub: "pipeline.charge_steps[0].amount must be a positive number",
		},
		{
			name: "charge step above pass-through",
			contents: `
[pipeline]
pass_through_above = 100

[[pipeline.charge_steps]]
above = 150
amount = 200
`,
			wantErrSub: "pipeline.charge_steps[0].above must be below pipeline.pass_through_above",
		},
		{
			name: "hour horizon below second horizon",
			contents: `
[depletion]
second_horizon_hours = 48
hour_horizon_hours = 24
`,
			wantErrSub: "depletion.hour_horizon_hours must be between 48 and 720",
		},
		{
			name: "interval_seconds out of range",
			contents: `
[collection]
interval_seconds = 0
`,
			wantErrSub: "collection.interval_seconds must be between 1 and 3600",
		},
		{
			name: "retention_days out of range",
			contents: `
[cleanup]
retention_days = 0
`,
			wantErrSub: "cleanup.retention_days must be between 1 and 3650",
		},
		{
			name: "interval_hours out of range",
			contents: `
[cleanup]
interval_hours = 0
`,
			wantErrSub: "cleanup.interval_hours must be between 1 and 720",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempConfig(t, tt.contents)

			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() error = nil, want error containing %q", tt.wantErrSub)
			}
			if !strings.Contains(err.Error(), tt.wantErrSub) {
				t.Fatalf("Load() error = %q, want contains %q", err.Error(), tt.wantErrSub)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Pipeline.StepSeconds = 600
	cfg.Cleanup.RetentionDays = 14
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Pipeline.StepSeconds != 600 {
		t.Fatalf("StepSeconds = %d, want 600", loaded.Pipeline.StepSeconds)
	}
	if loaded.Cleanup.RetentionDays != 14 {
		t.Fatalf("RetentionDays = %d, want 14", loaded.Cleanup.RetentionDays)
	}
	if len(loaded.Pipeline.ChargeSteps) != len(cfg.Pipeline.ChargeSteps) {
		t.Fatalf("ChargeSteps = %v, want %v", loaded.Pipeline.ChargeSteps, cfg.Pipeline.ChargeSteps)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("directory has %d entries, want only config.toml", len(entries))
	}
}

func TestSave_RejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.StepSeconds = 1
	if err := Save(filepath.Join(t.TempDir(), "config.toml"), cfg); err == nil {
		t.Fatal("Save() error = nil, want validation error")
	}
	if err := Save("   ", DefaultConfig()); err == nil {
		t.Fatal("Save() error = nil, want empty path error")
	}
}
