package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Write modes of the feature table.
const (
	WriteModeOverwrite = "overwrite"
	WriteModeAppend    = "append"
)

// Windowing scopes of the stream-ordered features.
const (
	WindowScopeGlobal = "global"
	WindowScopeBatch  = "batch"
)

const (
	defaultBatchSize    = 10000
	defaultPollInterval = "10s"
	// pendingBatches is the default retry backlog, in batches.
	pendingBatches = 10
)

// ExtractorConfig holds the parameters of the polling pipeline.
type ExtractorConfig struct {
	SourcePath   string `yaml:"source_path"`
	OutputPath   string `yaml:"output_path"`
	BatchSize    int    `yaml:"batch_size"`
	PollInterval string `yaml:"poll_interval"`
	WriteMode    string `yaml:"write_mode"`
	WindowScope  string `yaml:"window_scope"`
	// FlowTTL evicts flows idle for longer than this, in capture time.
	// Empty or "0s" keeps flows for the whole run.
	FlowTTL string `yaml:"flow_ttl"`
	// Watch enables filesystem notifications on the source path so that
	// the poll loop wakes up as soon as the capture grows.
	Watch bool `yaml:"watch"`
	// MaxPendingRows caps the rows each sink keeps for retry while its
	// writes fail. The oldest rows are dropped beyond it.
	MaxPendingRows int `yaml:"max_pending_rows"`
}

// CSVConfig configures an additional CSV mirror of the feature table.
type CSVConfig struct {
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

// SQLiteConfig configures the SQLite feature sink.
type SQLiteConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
	Mode  string `yaml:"mode"`
}

// ClickHouseConfig holds the connection details for ClickHouse.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
}

// NATSConfig configures the NATS row publisher.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// SinkDef defines one additional feature sink.
type SinkDef struct {
	Type       string           `yaml:"type"`
	Enabled    bool             `yaml:"enabled"`
	CSV        CSVConfig        `yaml:"csv"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	NATS       NATSConfig       `yaml:"nats"`
}

// APIConfig holds the status API listen addresses. Empty disables them.
type APIConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	GRPCListenAddr string `yaml:"grpc_listen_addr"`
}

// LogConfig configures the diagnostic stream.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Extractor ExtractorConfig `yaml:"extractor"`
	Sinks     []SinkDef       `yaml:"sinks"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct
// with defaults applied.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Extractor.BatchSize <= 0 {
		c.Extractor.BatchSize = defaultBatchSize
	}
	if c.Extractor.MaxPendingRows <= 0 {
		c.Extractor.MaxPendingRows = pendingBatches * c.Extractor.BatchSize
	}
	if c.Extractor.PollInterval == "" {
		c.Extractor.PollInterval = defaultPollInterval
	}
	if c.Extractor.WriteMode == "" {
		c.Extractor.WriteMode = WriteModeOverwrite
	}
	if c.Extractor.WindowScope == "" {
		c.Extractor.WindowScope = WindowScopeGlobal
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	e := c.Extractor
	if e.SourcePath == "" {
		return fmt.Errorf("extractor.source_path is required")
	}
	if e.OutputPath == "" {
		return fmt.Errorf("extractor.output_path is required")
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.FlowTTL(); err != nil {
		return err
	}
	if err := checkMode(e.WriteMode); err != nil {
		return fmt.Errorf("extractor.write_mode: %w", err)
	}
	switch e.WindowScope {
	case WindowScopeGlobal, WindowScopeBatch:
	default:
		return fmt.Errorf("extractor.window_scope: unknown scope '%s'", e.WindowScope)
	}
	for i, s := range c.Sinks {
		if s.Type == "" {
			return fmt.Errorf("sinks[%d]: type is required", i)
		}
	}
	return nil
}

// PollInterval returns the parsed poll interval.
func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Extractor.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid extractor.poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("extractor.poll_interval must be a positive duration")
	}
	return d, nil
}

// FlowTTL returns the parsed flow eviction horizon; zero disables eviction.
func (c *Config) FlowTTL() (time.Duration, error) {
	if c.Extractor.FlowTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Extractor.FlowTTL)
	if err != nil {
		return 0, fmt.Errorf("invalid extractor.flow_ttl: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("extractor.flow_ttl must not be negative")
	}
	return d, nil
}

// ModeOrDefault returns mode, or overwrite when it is empty.
func ModeOrDefault(mode string) string {
	if mode == "" {
		return WriteModeOverwrite
	}
	return mode
}

func checkMode(mode string) error {
	switch mode {
	case WriteModeOverwrite, WriteModeAppend:
		return nil
	default:
		return fmt.Errorf("unknown write mode '%s'", mode)
	}
}
