package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/twinflow/errors"
)

// Config represents the complete service configuration
type Config struct {
	NATS      NATSConfig      `json:"nats" yaml:"nats"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Buffer    BufferConfig    `json:"buffer" yaml:"buffer"`
	Limiter   LimiterConfig   `json:"limiter" yaml:"limiter"`
	Timeout   TimeoutConfig   `json:"timeout" yaml:"timeout"`
	Reconcile ReconcileConfig `json:"reconcile" yaml:"reconcile"`
	HTTP      HTTPConfig      `json:"http" yaml:"http"`
}

// NATSConfig defines NATS connection and subscription settings
type NATSConfig struct {
	URL           string   `json:"url" yaml:"url"`
	Subject       string   `json:"subject" yaml:"subject"`
	QueueGroup    string   `json:"queue_group,omitempty" yaml:"queue_group,omitempty"`
	ClientName    string   `json:"client_name,omitempty" yaml:"client_name,omitempty"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait Duration `json:"reconnect_wait" yaml:"reconnect_wait"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// DispatchConfig sizes the partitioned dispatch engine
type DispatchConfig struct {
	QueueCapacity int `json:"queue_capacity" yaml:"queue_capacity"`
	// Lanes is the number of hashed lanes; 0 means one per CPU.
	Lanes       int      `json:"lanes" yaml:"lanes"`
	LaneBuffer  int      `json:"lane_buffer" yaml:"lane_buffer"`
	StopTimeout Duration `json:"stop_timeout" yaml:"stop_timeout"`
}

// BufferConfig configures each lane's fail-fast buffer
type BufferConfig struct {
	MaxSize int `json:"max_size" yaml:"max_size"`
}

// LimiterConfig configures each lane's windowed rejection limiter
type LimiterConfig struct {
	Window      Duration `json:"window" yaml:"window"`
	MaxElements int      `json:"max_elements" yaml:"max_elements"`
}

// TimeoutConfig configures the per-command deadline
type TimeoutConfig struct {
	After Duration `json:"after" yaml:"after"`
	// NotifySubject receives a notification for every command that overran.
	// Empty disables notifications; the overrun is still counted.
	NotifySubject string `json:"notify_subject,omitempty" yaml:"notify_subject,omitempty"`
}

// ReconcileConfig configures background reconciliation
type ReconcileConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	Interval           Duration `json:"interval" yaml:"interval"`
	CreditsPerInterval int      `json:"credits_per_interval" yaml:"credits_per_interval"`
	ReportSubject      string   `json:"report_subject,omitempty" yaml:"report_subject,omitempty"`
	// ReportRate caps published difference reports per second; 0 is unlimited.
	ReportRate  float64 `json:"report_rate,omitempty" yaml:"report_rate,omitempty"`
	ReportBurst int     `json:"report_burst,omitempty" yaml:"report_burst,omitempty"`
}

// HTTPConfig configures the /metrics and /healthz server
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Subject:       "twin.commands.>",
			QueueGroup:    "twinflow",
			ClientName:    "twinflow",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Dispatch: DispatchConfig{
			QueueCapacity: 1000,
			LaneBuffer:    16,
			StopTimeout:   Duration(10 * time.Second),
		},
		Buffer: BufferConfig{
			MaxSize: 100,
		},
		Limiter: LimiterConfig{
			Window:      Duration(time.Second),
			MaxElements: 100,
		},
		Timeout: TimeoutConfig{
			After: Duration(5 * time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:           Duration(time.Second),
			CreditsPerInterval: 100,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
	}
}

// EffectiveLanes returns the configured lane count with 0 resolved to the CPU count.
func (d DispatchConfig) EffectiveLanes() int {
	if d.Lanes == 0 {
		return runtime.NumCPU()
	}
	return d.Lanes
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
			"Config", "Validate", "check configuration")
	}

	if c.NATS.URL == "" {
		return invalid("nats.url is required")
	}
	if !isValidSubject(c.NATS.Subject) {
		return invalid("nats.subject %q is not a valid NATS subject", c.NATS.Subject)
	}
	if c.NATS.ReconnectWait < 0 {
		return invalid("nats.reconnect_wait must not be negative")
	}
	if c.Dispatch.QueueCapacity <= 0 {
		return invalid("dispatch.queue_capacity must be positive")
	}
	if c.Dispatch.Lanes < 0 {
		return invalid("dispatch.lanes must not be negative")
	}
	if c.Dispatch.LaneBuffer < 0 {
		return invalid("dispatch.lane_buffer must not be negative")
	}
	if c.Dispatch.StopTimeout <= 0 {
		return invalid("dispatch.stop_timeout must be positive")
	}
	if c.Buffer.MaxSize <= 0 {
		return invalid("buffer.max_size must be positive")
	}
	if c.Limiter.Window <= 0 {
		return invalid("limiter.window must be positive")
	}
	if c.Limiter.MaxElements <= 0 {
		return invalid("limiter.max_elements must be positive")
	}
	if c.Timeout.After <= 0 {
		return invalid("timeout.after must be positive")
	}
	if c.Timeout.NotifySubject != "" && !isValidSubject(c.Timeout.NotifySubject) {
		return invalid("timeout.notify_subject %q is not a valid NATS subject", c.Timeout.NotifySubject)
	}
	if c.Reconcile.Enabled {
		if c.Reconcile.Interval <= 0 {
			return invalid("reconcile.interval must be positive")
		}
		if c.Reconcile.CreditsPerInterval <= 0 {
			return invalid("reconcile.credits_per_interval must be positive")
		}
		if c.Reconcile.ReportRate < 0 {
			return invalid("reconcile.report_rate must not be negative")
		}
		if c.Reconcile.ReportRate > 0 && c.Reconcile.ReportBurst <= 0 {
			return invalid("reconcile.report_burst must be positive when report_rate is set")
		}
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr is required")
	}

	return nil
}

// isValidSubject checks a NATS subject: dot-separated non-empty tokens of
// letters, digits, dashes and underscores, with * and a trailing > as wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}

	tokens := strings.Split(s, ".")
	for i, token := range tokens {
		switch {
		case token == "":
			return false
		case token == "*":
			continue
		case token == ">":
			if i != len(tokens)-1 {
				return false
			}
			continue
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// Load reads a single configuration file on top of the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	loader := NewLoader()
	loader.AddLayer(path)
	loader.EnableValidation(true)
	return loader.Load()
}

// Loader handles configuration loading with layers and overrides. Later layers
// override the fields they set; fields they omit keep earlier values.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "TWINFLOW"}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges defaults, every layer and the environment
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := decodeFile(path, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+filepath.Base(path))
		}
	}

	if err := cfg.applyEnv(l.envPrefix); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// decodeFile decodes path onto cfg, choosing the format by extension.
func decodeFile(path string, cfg *Config) error {
	data, err := readConfigFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var document any
		if err := yaml.Unmarshal(data, &document); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
		if document == nil {
			return nil
		}
		if err := checkSchema(gojsonschema.NewGoLoader(document)); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
	default:
		if err := checkNesting(data); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
		if err := checkSchema(gojsonschema.NewBytesLoader(data)); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}

// ApplyEnv applies TWINFLOW_* environment overrides
func (c *Config) ApplyEnv() error {
	return c.applyEnv("TWINFLOW")
}

func (c *Config) applyEnv(prefix string) error {
	lookup := func(name string) (string, bool, error) {
		key := prefix + "_" + name
		val := os.Getenv(key)
		if val == "" {
			return "", false, nil
		}
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Config", "ApplyEnv", "read "+key)
		}
		return val, true, nil
	}
	atoi := func(name string, dst *int) error {
		val, ok, err := lookup(name)
		if err != nil || !ok {
			return err
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.WrapInvalid(err, "Config", "ApplyEnv", "parse "+prefix+"_"+name)
		}
		*dst = n
		return nil
	}

	if val, ok, err := lookup("NATS_URL"); err != nil {
		return err
	} else if ok {
		c.NATS.URL = val
	}
	if val, ok, err := lookup("NATS_TOKEN"); err != nil {
		return err
	} else if ok {
		c.NATS.Token = val
	}
	if val, ok, err := lookup("HTTP_ADDR"); err != nil {
		return err
	} else if ok {
		c.HTTP.Addr = val
	}
	if err := atoi("LANES", &c.Dispatch.Lanes); err != nil {
		return err
	}
	return atoi("QUEUE_CAPACITY", &c.Dispatch.QueueCapacity)
}

// SaveToFile saves the configuration as indented JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "marshal")
	}
	return writeConfigFile(path, data)
}

// String returns a JSON representation of the config with secrets redacted
func (c *Config) String() string {
	cp := *c
	if cp.NATS.Password != "" {
		cp.NATS.Password = "[REDACTED]"
	}
	if cp.NATS.Token != "" {
		cp.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(cp, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	cp := *sc.config
	return &cp
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
