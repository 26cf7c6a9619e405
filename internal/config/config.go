package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MIDI        MIDIConfig        `mapstructure:"midi"`
	Session     SessionConfig     `mapstructure:"session"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Lights      LightsConfig      `mapstructure:"lights"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig defines the local HTTP endpoints
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIEnabled  bool   `mapstructure:"api_enabled"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// MIDIConfig selects the input port
type MIDIConfig struct {
	Port           string   `mapstructure:"port"` // substring of the preferred port name; empty picks the only candidate
	Preferred      []string `mapstructure:"preferred"`
	Excluded       []string `mapstructure:"excluded"`
	RescanInterval string   `mapstructure:"rescan_interval"`
}

// SessionConfig defines practice-session activity tracking
type SessionConfig struct {
	PauseThreshold string `mapstructure:"pause_threshold"`
	TickInterval   string `mapstructure:"tick_interval"`
}

// AggregationConfig defines the statistics owner queue
type AggregationConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// PersistenceConfig defines the periodic flush and retention
type PersistenceConfig struct {
	FlushInterval   string `mapstructure:"flush_interval"`
	MaxRetries      int    `mapstructure:"max_retries"`
	InitialBackoff  string `mapstructure:"initial_backoff"`
	MaxBackoff      string `mapstructure:"max_backoff"`
	HourlyQueueSize int    `mapstructure:"hourly_queue_size"`
	RetentionDays   int    `mapstructure:"retention_days"`
	RetentionTime   string `mapstructure:"retention_time"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type   string       `mapstructure:"type"` // "sqlite" or "redis"
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig defines the embedded database
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	PoolSize      int    `mapstructure:"pool_size"`
	MinIdleConns  int    `mapstructure:"min_idle_conns"`
	DialTimeout   string `mapstructure:"dial_timeout"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	RetentionDays int    `mapstructure:"retention_days"` // key TTL, 0 keeps keys forever
}

// LightsConfig defines the light feedback engine and its strip
type LightsConfig struct {
	Enabled     bool        `mapstructure:"enabled"`
	PresetPath  string      `mapstructure:"preset_path"`
	WatchPreset bool        `mapstructure:"watch_preset"`
	FrameRate   int         `mapstructure:"frame_rate"`
	Strip       StripConfig `mapstructure:"strip"`
}

// StripConfig defines the physical strip sink
type StripConfig struct {
	Type   string `mapstructure:"type"` // "none" or "serial"
	Device string `mapstructure:"device"`
	Baud   int    `mapstructure:"baud"`
	Count  int    `mapstructure:"count"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("KEYTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.api_enabled", true)
	v.SetDefault("server.api_port", 8765)
	v.SetDefault("server.metrics_port", 9765)

	// MIDI defaults
	v.SetDefault("midi.port", "")
	v.SetDefault("midi.preferred", []string{})
	v.SetDefault("midi.excluded", []string{"Midi Through", "Through Port", "Dummy"})
	v.SetDefault("midi.rescan_interval", "1s")

	// Session defaults
	v.SetDefault("session.pause_threshold", "40s")
	v.SetDefault("session.tick_interval", "1s")

	// Aggregation defaults
	v.SetDefault("aggregation.queue_size", 1024)

	// Persistence defaults
	v.SetDefault("persistence.flush_interval", "20s")
	v.SetDefault("persistence.max_retries", 5)
	v.SetDefault("persistence.initial_backoff", "100ms")
	v.SetDefault("persistence.max_backoff", "2s")
	v.SetDefault("persistence.hourly_queue_size", 256)
	v.SetDefault("persistence.retention_days", 365)
	v.SetDefault("persistence.retention_time", "03:00")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.sqlite.path", "/var/lib/keytrack/keytrack.db")
	v.SetDefault("storage.sqlite.busy_timeout_ms", 1000)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 4)
	v.SetDefault("storage.redis.min_idle_conns", 1)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.redis.retention_days", 0)

	// Lights defaults
	v.SetDefault("lights.enabled", true)
	v.SetDefault("lights.preset_path", "")
	v.SetDefault("lights.watch_preset", false)
	v.SetDefault("lights.frame_rate", 30)
	v.SetDefault("lights.strip.type", "none")
	v.SetDefault("lights.strip.device", "/dev/ttyACM0")
	v.SetDefault("lights.strip.baud", 115200)
	v.SetDefault("lights.strip.count", 144)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	for name, value := range map[string]string{
		"midi.rescan_interval":        cfg.MIDI.RescanInterval,
		"session.pause_threshold":     cfg.Session.PauseThreshold,
		"session.tick_interval":       cfg.Session.TickInterval,
		"persistence.flush_interval":  cfg.Persistence.FlushInterval,
		"persistence.initial_backoff": cfg.Persistence.InitialBackoff,
		"persistence.max_backoff":     cfg.Persistence.MaxBackoff,
	} {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.Persistence.MaxRetries < 0 {
		return fmt.Errorf("persistence.max_retries must not be negative")
	}
	if cfg.Persistence.RetentionDays < 0 {
		return fmt.Errorf("persistence.retention_days must not be negative")
	}
	if _, err := time.Parse("15:04", cfg.Persistence.RetentionTime); err != nil {
		return fmt.Errorf("invalid persistence.retention_time %q: %w", cfg.Persistence.RetentionTime, err)
	}
	if cfg.Aggregation.QueueSize <= 0 {
		return fmt.Errorf("aggregation.queue_size must be positive")
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "sqlite"
		fallthrough
	case "sqlite":
		if cfg.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Lights.Strip.Type {
	case "none", "serial":
	default:
		return fmt.Errorf("unsupported strip type: %s", cfg.Lights.Strip.Type)
	}
	if cfg.Lights.Strip.Count <= 0 {
		return fmt.Errorf("lights.strip.count must be positive")
	}
	if cfg.Lights.FrameRate <= 0 || cfg.Lights.FrameRate > 240 {
		return fmt.Errorf("invalid lights.frame_rate: %d", cfg.Lights.FrameRate)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported logging format: %s", cfg.Logging.Format)
	}

	return nil
}
