package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/imageop/pkg/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "IMAGEOP_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Cache      CacheConfig      `yaml:"cache"`
	Session    SessionConfig    `yaml:"session"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// CacheConfig represents operation cache settings
type CacheConfig struct {
	TileWidth     int    `yaml:"tile_width"`
	TileHeight    int    `yaml:"tile_height"`
	Workers       int    `yaml:"workers"`
	Interpolation string `yaml:"interpolation"`
	RetainSize    string `yaml:"retain_size"`
	DiskThreshold string `yaml:"disk_threshold"`
}

// SessionConfig represents scratch storage settings
type SessionConfig struct {
	ScratchRoot string        `yaml:"scratch_root"`
	Prefix      string        `yaml:"prefix"`
	LockSuffix  string        `yaml:"lock_suffix"`
	Reclaim     ReclaimConfig `yaml:"reclaim"`
}

// ReclaimConfig controls the shutdown deletion retry loop
type ReclaimConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Deadline     time.Duration `yaml:"deadline"`
}

// MonitoringConfig represents monitoring settings
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFormat:   "text",
			MetricsPort: 9108,
		},
		Cache: CacheConfig{
			TileWidth:     256,
			TileHeight:    256,
			Workers:       0,
			Interpolation: "catmull-rom",
			RetainSize:    "256MB",
			DiskThreshold: "64MB",
		},
		Session: SessionConfig{
			ScratchRoot: filepath.Join(os.TempDir(), "imageop"),
			Prefix:      "imageop-",
			LockSuffix:  ".lck",
			Reclaim: ReclaimConfig{
				InitialDelay: time.Millisecond,
				MaxDelay:     1024 * time.Millisecond,
				Deadline:     10 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "imageop",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to read config file").
			WithDetail("file", filename)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to parse config file").
			WithDetail("file", filename)
	}

	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from a .env file into the process
// environment without overriding variables already set. A missing file is not an error.
func LoadDotEnv(filename string) error {
	if filename == "" {
		filename = ".env"
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(filename); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to load env file").
			WithDetail("file", filename)
	}
	return nil
}

// LoadFromEnv loads configuration from IMAGEOP_* environment variables.
// Malformed numeric or duration values are reported.
func (c *Configuration) LoadFromEnv() error {
	var bad []string

	str := func(key string, dst *string) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			*dst = val
		}
	}
	num := func(key string, dst *int) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			n, err := strconv.Atoi(val)
			if err != nil {
				bad = append(bad, EnvPrefix+key)
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if val := os.Getenv(EnvPrefix + key); val != "" {
			d, err := time.ParseDuration(val)
			if err != nil {
				bad = append(bad, EnvPrefix+key)
				return
			}
			*dst = d
		}
	}

	// Global settings
	str("LOG_LEVEL", &c.Global.LogLevel)
	str("LOG_FORMAT", &c.Global.LogFormat)
	num("METRICS_PORT", &c.Global.MetricsPort)

	// Cache settings
	num("TILE_WIDTH", &c.Cache.TileWidth)
	num("TILE_HEIGHT", &c.Cache.TileHeight)
	num("WORKERS", &c.Cache.Workers)
	str("INTERPOLATION", &c.Cache.Interpolation)
	str("RETAIN_SIZE", &c.Cache.RetainSize)
	str("DISK_THRESHOLD", &c.Cache.DiskThreshold)

	// Session settings
	str("SCRATCH_ROOT", &c.Session.ScratchRoot)
	str("SESSION_PREFIX", &c.Session.Prefix)
	dur("RECLAIM_INITIAL_DELAY", &c.Session.Reclaim.InitialDelay)
	dur("RECLAIM_MAX_DELAY", &c.Session.Reclaim.MaxDelay)
	dur("RECLAIM_DEADLINE", &c.Session.Reclaim.Deadline)

	if val := os.Getenv(EnvPrefix + "METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	if len(bad) > 0 {
		return errors.Newf(errors.ErrCodeConfigLoad, "malformed environment values: %s", strings.Join(bad, ", "))
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// RetainBytes returns the retention list bound in bytes.
func (c CacheConfig) RetainBytes() (uint64, error) {
	return parseSize("retain_size", c.RetainSize)
}

// DiskThresholdBytes returns the bitmap size at which allocation moves to mapped files.
// Zero disables mapped allocation.
func (c CacheConfig) DiskThresholdBytes() (uint64, error) {
	return parseSize("disk_threshold", c.DiskThreshold)
}

func parseSize(field, value string) (uint64, error) {
	if value == "" || value == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid "+field).WithDetail("value", value)
	}
	return n, nil
}

var validLogLevels = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

var validInterpolations = []string{"nearest", "approx-bilinear", "bilinear", "catmull-rom"}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
	}

	if !contains(validLogLevels, strings.ToUpper(c.Global.LogLevel)) {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if c.Global.MetricsPort < 0 || c.Global.MetricsPort > 65535 {
		return invalid("metrics_port out of range: %d", c.Global.MetricsPort)
	}

	if c.Cache.TileWidth <= 0 || c.Cache.TileHeight <= 0 {
		return invalid("tile dimensions must be greater than 0")
	}
	if c.Cache.Workers < 0 {
		return invalid("workers must not be negative")
	}
	if !contains(validInterpolations, strings.ToLower(c.Cache.Interpolation)) {
		return invalid("invalid interpolation: %s (must be one of: %s)",
			c.Cache.Interpolation, strings.Join(validInterpolations, ", "))
	}
	if _, err := c.Cache.RetainBytes(); err != nil {
		return err
	}
	if _, err := c.Cache.DiskThresholdBytes(); err != nil {
		return err
	}

	if c.Session.ScratchRoot == "" {
		return invalid("scratch_root must be set")
	}
	if c.Session.Prefix == "" || strings.ContainsAny(c.Session.Prefix, `/\`) {
		return invalid("invalid session prefix: %q", c.Session.Prefix)
	}
	if c.Session.LockSuffix == "" {
		return invalid("lock_suffix must be set")
	}
	r := c.Session.Reclaim
	if r.InitialDelay <= 0 || r.MaxDelay < r.InitialDelay {
		return invalid("reclaim delays must satisfy 0 < initial_delay <= max_delay")
	}
	if r.Deadline < 0 {
		return invalid("reclaim deadline must not be negative")
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
