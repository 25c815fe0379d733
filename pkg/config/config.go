// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/oracle"
)

// Config holds all tracemine configuration.
type Config struct {
	Version int `yaml:"version"`

	Inference  InferenceConfig  `yaml:"inference"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InferenceConfig controls mining, refinement and coarsening.
type InferenceConfig struct {
	// Relations limits mining to these relations. Empty means all.
	Relations []string `yaml:"relations"`

	MineConcurrency   bool `yaml:"mine_concurrency"`    // ACwith / NCwith over partial orders
	MineImmediate     bool `yaml:"mine_immediate"`      // AIFby / NIFby, reported only
	MineInterruptedBy bool `yaml:"mine_interrupted_by"` // IntrBy over total orders
	Workers           int  `yaml:"workers"`             // relations mined in parallel, 0 = one per CPU

	Coarsen     bool          `yaml:"coarsen"`
	MaxSplits   int           `yaml:"max_splits"`   // 0 = unbounded
	MaxDuration time.Duration `yaml:"max_duration"` // 0 = unbounded
	CheckSanity bool          `yaml:"check_sanity"`
	SelfCheck   bool          `yaml:"self_check"` // verify every trace is accepted by the final model
}

// OracleConfig selects the counterexample oracle.
type OracleConfig struct {
	Name string `yaml:"name"` // fsm | automaton
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug | info | warn | error
	Development bool   `yaml:"development"`
}

// TelemetryConfig for OTLP trace export.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	Environment   string  `yaml:"environment"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// CheckpointConfig for run records.
type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"` // file | redis | s3
	// Mirror optionally names a second backend that receives a copy of
	// every record.
	Mirror string      `yaml:"mirror"`
	Dir    string      `yaml:"dir"`
	Redis  RedisConfig `yaml:"redis"`
	S3     S3Config    `yaml:"s3"`
}

// RedisConfig for the Redis checkpoint backend.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// S3Config for the S3 checkpoint backend.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MetricsConfig selects the metrics exporter.
type MetricsConfig struct {
	Exporter string `yaml:"exporter"` // none | log | victoria
	// Output is a file the victoria exporter writes Prometheus text to at
	// the end of a run.
	Output string `yaml:"output"`
}

// Backend and exporter names.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendS3    = "s3"

	ExporterNone     = "none"
	ExporterLog      = "log"
	ExporterVictoria = "victoria"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Inference: InferenceConfig{
			MineConcurrency: true,
			Coarsen:         true,
		},
		Oracle: OracleConfig{Name: "fsm"},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Endpoint:      "localhost:4317",
			Insecure:      true,
			Environment:   "development",
			SamplingRatio: 1.0,
		},
		Checkpoint: CheckpointConfig{
			Enabled: true,
			Backend: BackendFile,
			Dir:     filepath.Join(homeDir(), "runs"),
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "tracemine:runs:",
				TTL:     7 * 24 * time.Hour,
			},
			S3: S3Config{
				Prefix: "runs/",
			},
		},
		Metrics: MetricsConfig{
			Exporter: ExporterNone,
		},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tracemine"
	}
	return filepath.Join(home, ".tracemine")
}

// Validate rejects unknown names and negative budgets.
func (c *Config) Validate() error {
	var errs lferrors.MultiError
	invalid := func(field string, value interface{}, msg string) {
		errs.Add(lferrors.New(lferrors.CodeInvalidConfig, msg).
			WithContext("field", field).
			WithContext("value", value))
	}

	known := false
	for _, n := range oracle.Names() {
		if n == c.Oracle.Name {
			known = true
		}
	}
	if !known {
		invalid("oracle.name", c.Oracle.Name, "unknown oracle")
	}
	if c.Inference.MaxSplits < 0 {
		invalid("inference.max_splits", c.Inference.MaxSplits, "must not be negative")
	}
	if c.Inference.MaxDuration < 0 {
		invalid("inference.max_duration", c.Inference.MaxDuration, "must not be negative")
	}
	if c.Inference.Workers < 0 {
		invalid("inference.workers", c.Inference.Workers, "must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		invalid("logging.level", c.Logging.Level, "unknown log level")
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		invalid("telemetry.sampling_ratio", c.Telemetry.SamplingRatio, "must be within [0, 1]")
	}
	if c.Checkpoint.Enabled {
		if !validBackend(c.Checkpoint.Backend) {
			invalid("checkpoint.backend", c.Checkpoint.Backend, "unknown checkpoint backend")
		}
		if c.Checkpoint.Mirror != "" && !validBackend(c.Checkpoint.Mirror) {
			invalid("checkpoint.mirror", c.Checkpoint.Mirror, "unknown checkpoint backend")
		}
		if c.Checkpoint.Mirror != "" && c.Checkpoint.Mirror == c.Checkpoint.Backend {
			invalid("checkpoint.mirror", c.Checkpoint.Mirror, "mirror must differ from backend")
		}
		if c.uses(BackendS3) && c.Checkpoint.S3.Bucket == "" {
			invalid("checkpoint.s3.bucket", "", "bucket required for the s3 backend")
		}
	}
	switch c.Metrics.Exporter {
	case ExporterNone, ExporterLog, ExporterVictoria, "":
	default:
		invalid("metrics.exporter", c.Metrics.Exporter, "unknown metrics exporter")
	}
	return errs.Combined()
}

func validBackend(name string) bool {
	switch name {
	case BackendFile, BackendRedis, BackendS3:
		return true
	}
	return false
}

func (c *Config) uses(backend string) bool {
	return c.Checkpoint.Backend == backend || c.Checkpoint.Mirror == backend
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string // candidate files in priority order
	paths  []string // files that were loaded
}

// NewManager creates a manager over the standard search paths.
func NewManager() *Manager {
	return NewManagerWithPaths(defaultSearchPaths()...)
}

// NewManagerWithPaths creates a manager that searches the given files, later
// files overriding earlier ones.
func NewManagerWithPaths(paths ...string) *Manager {
	return &Manager{
		config: Default(),
		search: paths,
	}
}

func defaultSearchPaths() []string {
	var paths []string
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/tracemine/config.yaml")
	}
	paths = append(paths, UserPath())
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".tracemine.yaml"))
	}
	return paths
}

// UserPath is the per-user config file.
func UserPath() string {
	return filepath.Join(homeDir(), "config.yaml")
}

// Load loads configuration from all sources in priority order and
// validates the result.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil
	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}
	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// LoadFile layers one explicit file (e.g. --config) over the current
// configuration. Unlike Load, a missing file is an error.
func (m *Manager) LoadFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadFile(path); err != nil {
		if os.IsNotExist(err) {
			return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "config file not found").
				WithContext("path", path)
		}
		return err
	}
	m.paths = append(m.paths, path)
	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// loadFile decodes a file over the current configuration; keys absent from
// the file keep their current values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to parse config file").
			WithContext("path", path)
	}
	return nil
}

// loadEnv applies TRACEMINE_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var errs lferrors.MultiError
	parse := func(name string, set func(string) error) {
		if v := os.Getenv(name); v != "" {
			if err := set(v); err != nil {
				errs.Add(lferrors.Wrap(err, lferrors.CodeInvalidConfig, "invalid environment variable").
					WithContext("name", name).
					WithContext("value", v))
			}
		}
	}
	boolean := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err == nil {
				*dst = b
			}
			return err
		}
	}

	str("TRACEMINE_ORACLE", &c.Oracle.Name)
	str("TRACEMINE_LOG_LEVEL", &c.Logging.Level)
	str("TRACEMINE_CHECKPOINT_BACKEND", &c.Checkpoint.Backend)
	str("TRACEMINE_CHECKPOINT_DIR", &c.Checkpoint.Dir)
	str("TRACEMINE_REDIS_ADDR", &c.Checkpoint.Redis.Address)
	str("TRACEMINE_S3_BUCKET", &c.Checkpoint.S3.Bucket)
	str("TRACEMINE_METRICS", &c.Metrics.Exporter)

	parse("TRACEMINE_MAX_SPLITS", func(v string) error {
		n, err := strconv.Atoi(v)
		if err == nil {
			c.Inference.MaxSplits = n
		}
		return err
	})
	parse("TRACEMINE_MAX_DURATION", func(v string) error {
		d, err := time.ParseDuration(v)
		if err == nil {
			c.Inference.MaxDuration = d
		}
		return err
	})
	parse("TRACEMINE_COARSEN", boolean(&c.Inference.Coarsen))
	parse("TRACEMINE_CHECK_SANITY", boolean(&c.Inference.CheckSanity))
	parse("TRACEMINE_CHECKPOINT", boolean(&c.Checkpoint.Enabled))

	if v := os.Getenv("TRACEMINE_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
	return errs.Combined()
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// YAML renders the current configuration.
func (m *Manager) YAML() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return yaml.Marshal(m.config)
}

// Save writes the current config to path, creating its directory.
func (m *Manager) Save(path string) error {
	data, err := m.YAML()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
