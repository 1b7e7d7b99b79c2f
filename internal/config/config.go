// Package config loads the host (master) process configuration: which SPI
// device to drive, the render mode and compression settings negotiated
// with the handheld at session reset, and ambient logging/metrics knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the master process's configuration. Both struct tags target
// the same snake_case key per field: mapstructure for viper's decode (it
// reads the YAML into a map first, then matches these tags), yaml for
// WriteDefault's direct yaml.v3 marshal — so a file WriteDefault writes
// reads back through Load as the same Config.
type Config struct {
	SPIDevicePath string `mapstructure:"spi_device_path" yaml:"spi_device_path"`
	PaletteCache  string `mapstructure:"palette_cache_path" yaml:"palette_cache_path"`

	RenderMode                string `mapstructure:"render_mode" yaml:"render_mode"`                               // "standard" or "benchmark"
	ControlMap                string `mapstructure:"control_map" yaml:"control_map"`                               // named button layout
	CompressionAggressiveness int    `mapstructure:"compression_aggressiveness" yaml:"compression_aggressiveness"` // 0-3, higher = lossier/faster
	CPUOverclock              bool   `mapstructure:"cpu_overclock" yaml:"cpu_overclock"`

	MetricsIntervalSeconds int `mapstructure:"metrics_interval_seconds" yaml:"metrics_interval_seconds"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// Default returns a Config populated with sane defaults.
func Default() *Config {
	return &Config{
		SPIDevicePath:             "/dev/spidev0.0",
		PaletteCache:              filepath.Join(configDir(), "palette.cache"),
		RenderMode:                "standard",
		ControlMap:                "default",
		CompressionAggressiveness: 2,
		CPUOverclock:              false,
		MetricsIntervalSeconds:    10,
		LogLevel:                  "info",
		LogFormat:                 "text",
	}
}

// Load reads configuration from cfgFile (or the default search path if
// empty), layering environment variables prefixed SPILINK_ on top, and
// validates the result. Validation errors are returned alongside a usable
// (possibly clamped) config — callers decide whether to treat them as
// fatal.
func Load(cfgFile string) (*Config, []error, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("spilink")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SPILINK")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, nil, err
	}

	errs := cfg.Validate()
	return cfg, errs, nil
}

// WriteDefault writes a starter config file at path, creating parent
// directories as needed. Marshaled directly with yaml.v3 (rather than
// viper.WriteConfigAs, which only ever sees whatever keys were Set on the
// global viper instance) so the file always reflects every field Config
// declares, in struct order, including ones a future Load never touched.
func WriteDefault(path string) error {
	if path == "" {
		path = filepath.Join(configDir(), "spilink.yaml")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create dir: %w", err)
		}
	}

	out, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("config: marshal default: %w", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "spilink")
	case "darwin":
		return "/Library/Application Support/spilink"
	default:
		return "/etc/spilink"
	}
}
