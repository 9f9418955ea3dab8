package dxpipe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/dischargedx/diagnosis"
	"github.com/hazyhaar/dischargedx/kit"
	"github.com/hazyhaar/dischargedx/payload"
	"github.com/hazyhaar/dischargedx/visits"
)

const (
	DefaultRecencyDays       = 185
	DefaultDischargeCategory = "Discharge Summary"
	DefaultMaxChartBytes     = 256 << 20
	DefaultListen            = ":8087"
	DefaultChartsRoot        = "."
	DefaultRetentionDays     = 90
)

// Config configures the extraction pipeline and the surfaces built on it.
type Config struct {
	// RecencyDays is the look-back window for discharge summaries.
	RecencyDays       int    `yaml:"recency_days" json:"recency_days"`
	DischargeCategory string `yaml:"discharge_category" json:"discharge_category"`

	MaxChartBytes        int64 `yaml:"max_chart_bytes" json:"max_chart_bytes"`
	MaxEncodedBytes      int64 `yaml:"max_encoded_bytes" json:"max_encoded_bytes"`
	MaxDecompressedBytes int64 `yaml:"max_decompressed_bytes" json:"max_decompressed_bytes"`
	MaxScanLines         int   `yaml:"max_scan_lines" json:"max_scan_lines"`

	// Workers bounds concurrent charts in ExtractDir. 0 means runtime.NumCPU().
	Workers int `yaml:"workers" json:"workers"`

	// HaltOnFatal stops ExtractDir at the first document-level fatal error.
	// Nil means true.
	HaltOnFatal *bool `yaml:"halt_on_fatal" json:"halt_on_fatal"`

	ExcludedVisitDoctors []string `yaml:"excluded_visit_doctors" json:"excluded_visit_doctors"`

	// ChartsRoot confines the chart paths accepted by the MCP extract tool.
	ChartsRoot string `yaml:"charts_root" json:"charts_root"`

	Listen   string       `yaml:"listen" json:"listen"`
	LogLevel string       `yaml:"log_level" json:"log_level"`
	Report   ReportConfig `yaml:"report" json:"report"`

	// ObservabilityDB enables run metrics, the API audit trail and heartbeats.
	ObservabilityDB string `yaml:"observability_db" json:"observability_db"`
	// RetentionDays is how long metrics, audit entries and heartbeats are kept.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// Audit, when set, wraps every MCP tool endpoint.
	Audit func(operation string) kit.Middleware `yaml:"-" json:"-"`
	// Health, when set, backs GET /v1/health. A non-nil error reports the
	// service as degraded; the returned value is shown either way.
	Health func(ctx context.Context) (any, error) `yaml:"-" json:"-"`

	Logger   *slog.Logger     `yaml:"-" json:"-"`
	Now      func() time.Time `yaml:"-" json:"-"`
	Location *time.Location   `yaml:"-" json:"-"`
}

// ReportConfig selects the report sinks written by the CLI.
type ReportConfig struct {
	DBPath  string `yaml:"db_path" json:"db_path"`
	CSVPath string `yaml:"csv_path" json:"csv_path"`
}

func (c *Config) defaults() {
	if c.RecencyDays <= 0 {
		c.RecencyDays = DefaultRecencyDays
	}
	if c.DischargeCategory == "" {
		c.DischargeCategory = DefaultDischargeCategory
	}
	if c.MaxChartBytes <= 0 {
		c.MaxChartBytes = DefaultMaxChartBytes
	}
	if c.MaxEncodedBytes <= 0 {
		c.MaxEncodedBytes = payload.DefaultMaxEncodedBytes
	}
	if c.MaxDecompressedBytes <= 0 {
		c.MaxDecompressedBytes = payload.DefaultMaxDecompressedBytes
	}
	if c.MaxScanLines <= 0 {
		c.MaxScanLines = diagnosis.DefaultMaxLines
	}
	if c.HaltOnFatal == nil {
		halt := true
		c.HaltOnFatal = &halt
	}
	if c.ExcludedVisitDoctors == nil {
		c.ExcludedVisitDoctors = visits.DefaultExcluded
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ChartsRoot == "" {
		c.ChartsRoot = DefaultChartsRoot
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = DefaultRetentionDays
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadConfig reads a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that values are sane.
func (c *Config) Validate() error {
	if c.RecencyDays <= 0 {
		return fmt.Errorf("recency_days must be > 0")
	}
	if c.DischargeCategory == "" {
		return fmt.Errorf("discharge_category is required")
	}
	if c.MaxChartBytes <= 0 || c.MaxEncodedBytes <= 0 || c.MaxDecompressedBytes <= 0 {
		return fmt.Errorf("max_chart_bytes, max_encoded_bytes and max_decompressed_bytes must be > 0")
	}
	if c.MaxScanLines <= 0 {
		return fmt.Errorf("max_scan_lines must be > 0")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be > 0")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	return nil
}
