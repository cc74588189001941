// Package config loads the sitewatch registries from YAML.
//
// A config directory holds three files: sites.yaml (site registry with
// credential bundles and server lists), metrics.yaml (metric registry
// with units and thresholds), and settings.yaml (run settings). All
// three are loaded once per run into immutable structures; validation
// failures abort the run before any network call.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insightops/sitewatch/internal/domain"
)

const (
	sitesFile    = "sites.yaml"
	metricsFile  = "metrics.yaml"
	settingsFile = "settings.yaml"
)

// EnvConfigDir names the environment variable that overrides the
// default ./config directory when --config-dir is not given.
const EnvConfigDir = "SITEWATCH_CONFIG_DIR"

// ServerConfig is one server entry in sites.yaml.
type ServerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// KTCredentialConfig is the origin-platform credential bundle. Values
// may be literals or keyring:<key> references.
type KTCredentialConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// NCPCredentialConfig is the insight-service credential bundle. Values
// may be literals or keyring:<key> references.
type NCPCredentialConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	CWKey     string `yaml:"cw_key"`
}

// SiteConfig is one site entry in sites.yaml. Entries are ordered; the
// run reports sites in this order.
type SiteConfig struct {
	ID       string              `yaml:"id"`
	Name     string              `yaml:"name"`
	KT       KTCredentialConfig  `yaml:"kt"`
	NCP      NCPCredentialConfig `yaml:"ncp"`
	Servers  []ServerConfig      `yaml:"servers"`
	Discover bool                `yaml:"discover"`

	// Source selects the series source for the site; empty means the
	// insight service.
	Source string `yaml:"source"`
}

// ThresholdConfig is the optional threshold block of a metric entry.
type ThresholdConfig struct {
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Direction string  `yaml:"direction"`
}

// MetricConfig is one metric entry in metrics.yaml.
type MetricConfig struct {
	Key       string           `yaml:"key"`
	Name      string           `yaml:"name"`
	Upstream  string           `yaml:"upstream"`
	Unit      string           `yaml:"unit"`
	RawUnit   string           `yaml:"raw_unit"`
	Kind      string           `yaml:"kind"`
	Threshold *ThresholdConfig `yaml:"threshold"`
}

// RetrySettings tunes the upstream retry loop.
type RetrySettings struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// Settings is the settings.yaml content. Zero values fall back to the
// defaults applied in Load.
type Settings struct {
	OutputDir      string        `yaml:"output_dir"`
	RecentDays     int           `yaml:"recent_days"`
	MaxWindowDays  int           `yaml:"max_window_days"`
	Interval       string        `yaml:"interval"`
	Aggregation    string        `yaml:"aggregation"`
	Concurrency    int           `yaml:"concurrency"`
	BatchQueries   bool          `yaml:"batch_queries"`
	ComparisonDays int           `yaml:"comparison_days"`
	RunTimeoutMin  int           `yaml:"run_timeout_minutes"`
	LogLevel       string        `yaml:"log_level"`
	InsightBaseURL string        `yaml:"insight_url"`
	KTCloudBaseURL string        `yaml:"ktcloud_url"`
	Retry          RetrySettings `yaml:"retry"`
}

// RunTimeout returns the run-level deadline.
func (s Settings) RunTimeout() time.Duration {
	return time.Duration(s.RunTimeoutMin) * time.Minute
}

// MaxWindow returns the longest window a run may query.
func (s Settings) MaxWindow() time.Duration {
	return time.Duration(s.MaxWindowDays) * 24 * time.Hour
}

// Config is the full loaded configuration.
type Config struct {
	Settings Settings
	Sites    []SiteConfig
	Metrics  []MetricConfig
}

type sitesDoc struct {
	Sites []SiteConfig `yaml:"sites"`
}

type metricsDoc struct {
	Metrics []MetricConfig `yaml:"metrics"`
}

// DefaultDir returns the config directory: the environment override if
// set, otherwise ./config.
func DefaultDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return "config"
}

// Load reads and validates all three config files from dir.
func Load(dir string) (*Config, error) {
	var sites sitesDoc
	if err := readYAML(filepath.Join(dir, sitesFile), &sites); err != nil {
		return nil, err
	}

	var metrics metricsDoc
	if err := readYAML(filepath.Join(dir, metricsFile), &metrics); err != nil {
		return nil, err
	}

	settings := defaultSettings()
	settingsPath := filepath.Join(dir, settingsFile)
	if _, err := os.Stat(settingsPath); err == nil {
		if err := readYAML(settingsPath, &settings); err != nil {
			return nil, err
		}
		applyDefaults(&settings)
	}

	cfg := &Config{
		Settings: settings,
		Sites:    sites.Sites,
		Metrics:  metrics.Metrics,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return &domain.ConfigError{File: filepath.Base(path), Detail: err.Error()}
	}
	return nil
}

func defaultSettings() Settings {
	s := Settings{}
	applyDefaults(&s)
	return s
}

func applyDefaults(s *Settings) {
	if s.OutputDir == "" {
		s.OutputDir = "output"
	}
	if s.RecentDays <= 0 {
		s.RecentDays = 7
	}
	if s.MaxWindowDays <= 0 {
		s.MaxWindowDays = 93
	}
	if s.Interval == "" {
		s.Interval = "Min5"
	}
	if s.Aggregation == "" {
		s.Aggregation = "AVG"
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 4
	}
	if s.ComparisonDays <= 0 {
		s.ComparisonDays = 7
	}
	if s.RunTimeoutMin <= 0 {
		s.RunTimeoutMin = 30
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.BaseDelayMS <= 0 {
		s.Retry.BaseDelayMS = 500
	}
	if s.Retry.MaxDelayMS <= 0 {
		s.Retry.MaxDelayMS = 5000
	}
}
