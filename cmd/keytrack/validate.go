package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/keytrack/internal/config"
	"github.com/goodtune/keytrack/internal/lights"
	"github.com/spf13/cobra"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the KeyTrack configuration file and the light preset it points to.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := config.UnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if path := cfg.Lights.PresetPath; path != "" {
		_, err := lights.LoadPreset(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			_, _ = fmt.Fprintf(os.Stdout, "ℹ️  Preset %s does not exist yet, defaults will be used\n", path)
		case err != nil:
			fmt.Fprintf(os.Stderr, "❌ Preset validation failed: %v\n", err)
			return err
		default:
			_, _ = fmt.Fprintf(os.Stdout, "✅ Preset is valid: %s\n", path)
		}
	}

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "Configuration (yellow = modified, green = default)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))
		dumpConfig(cfg, config.Default())
	}

	return nil
}

func dumpConfig(cfg, def *config.Config) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField("  "+name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Println("\n[server]")
	field("bind_address", cfg.Server.BindAddress, def.Server.BindAddress)
	field("api_enabled", cfg.Server.APIEnabled, def.Server.APIEnabled)
	field("api_port", cfg.Server.APIPort, def.Server.APIPort)
	field("metrics_port", cfg.Server.MetricsPort, def.Server.MetricsPort)

	_, _ = cyan.Println("\n[midi]")
	field("port", cfg.MIDI.Port, def.MIDI.Port)
	field("preferred", cfg.MIDI.Preferred, def.MIDI.Preferred)
	field("excluded", cfg.MIDI.Excluded, def.MIDI.Excluded)
	field("rescan_interval", cfg.MIDI.RescanInterval, def.MIDI.RescanInterval)

	_, _ = cyan.Println("\n[session]")
	field("pause_threshold", cfg.Session.PauseThreshold, def.Session.PauseThreshold)
	field("tick_interval", cfg.Session.TickInterval, def.Session.TickInterval)

	_, _ = cyan.Println("\n[aggregation]")
	field("queue_size", cfg.Aggregation.QueueSize, def.Aggregation.QueueSize)

	_, _ = cyan.Println("\n[persistence]")
	field("flush_interval", cfg.Persistence.FlushInterval, def.Persistence.FlushInterval)
	field("max_retries", cfg.Persistence.MaxRetries, def.Persistence.MaxRetries)
	field("initial_backoff", cfg.Persistence.InitialBackoff, def.Persistence.InitialBackoff)
	field("max_backoff", cfg.Persistence.MaxBackoff, def.Persistence.MaxBackoff)
	field("hourly_queue_size", cfg.Persistence.HourlyQueueSize, def.Persistence.HourlyQueueSize)
	field("retention_days", cfg.Persistence.RetentionDays, def.Persistence.RetentionDays)
	field("retention_time", cfg.Persistence.RetentionTime, def.Persistence.RetentionTime)

	_, _ = cyan.Println("\n[storage]")
	field("type", cfg.Storage.Type, def.Storage.Type)
	switch cfg.Storage.Type {
	case "redis":
		field("redis.host", cfg.Storage.Redis.Host, def.Storage.Redis.Host)
		field("redis.port", cfg.Storage.Redis.Port, def.Storage.Redis.Port)
		field("redis.password", redactPassword(cfg.Storage.Redis.Password), redactPassword(def.Storage.Redis.Password))
		field("redis.db", cfg.Storage.Redis.DB, def.Storage.Redis.DB)
		field("redis.pool_size", cfg.Storage.Redis.PoolSize, def.Storage.Redis.PoolSize)
		field("redis.min_idle_conns", cfg.Storage.Redis.MinIdleConns, def.Storage.Redis.MinIdleConns)
		field("redis.dial_timeout", cfg.Storage.Redis.DialTimeout, def.Storage.Redis.DialTimeout)
		field("redis.read_timeout", cfg.Storage.Redis.ReadTimeout, def.Storage.Redis.ReadTimeout)
		field("redis.write_timeout", cfg.Storage.Redis.WriteTimeout, def.Storage.Redis.WriteTimeout)
		field("redis.retention_days", cfg.Storage.Redis.RetentionDays, def.Storage.Redis.RetentionDays)
	default:
		field("sqlite.path", cfg.Storage.SQLite.Path, def.Storage.SQLite.Path)
		field("sqlite.busy_timeout_ms", cfg.Storage.SQLite.BusyTimeoutMS, def.Storage.SQLite.BusyTimeoutMS)
	}

	_, _ = cyan.Println("\n[lights]")
	field("enabled", cfg.Lights.Enabled, def.Lights.Enabled)
	field("preset_path", cfg.Lights.PresetPath, def.Lights.PresetPath)
	field("watch_preset", cfg.Lights.WatchPreset, def.Lights.WatchPreset)
	field("frame_rate", cfg.Lights.FrameRate, def.Lights.FrameRate)
	field("strip.type", cfg.Lights.Strip.Type, def.Lights.Strip.Type)
	field("strip.device", cfg.Lights.Strip.Device, def.Lights.Strip.Device)
	field("strip.baud", cfg.Lights.Strip.Baud, def.Lights.Strip.Baud)
	field("strip.count", cfg.Lights.Strip.Count, def.Lights.Strip.Count)

	_, _ = cyan.Println("\n[logging]")
	field("level", cfg.Logging.Level, def.Logging.Level)
	field("format", cfg.Logging.Format, def.Logging.Format)
}

// dumpField prints a configuration field with color coding
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts password if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
