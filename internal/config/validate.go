package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validRenderModes = map[string]bool{
	"standard":  true,
	"benchmark": true,
}

// Validate checks the config for invalid values and returns all errors
// found. Dangerous out-of-range values are clamped to safe defaults so the
// caller can still run; everything else is reported but non-fatal.
func (c *Config) Validate() []error {
	var errs []error

	if c.SPIDevicePath == "" {
		errs = append(errs, fmt.Errorf("spi_device_path must not be empty"))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.RenderMode != "" && !validRenderModes[strings.ToLower(c.RenderMode)] {
		errs = append(errs, fmt.Errorf("render_mode %q is not valid (use standard or benchmark)", c.RenderMode))
		c.RenderMode = "standard"
	}

	// Compression aggressiveness indexes a fixed 4-entry threshold table
	// (see internal/frame.DiffThresholds); out-of-range values would panic.
	if c.CompressionAggressiveness < 0 {
		errs = append(errs, fmt.Errorf("compression_aggressiveness %d is below minimum 0, clamping", c.CompressionAggressiveness))
		c.CompressionAggressiveness = 0
	} else if c.CompressionAggressiveness > 3 {
		errs = append(errs, fmt.Errorf("compression_aggressiveness %d exceeds maximum 3, clamping", c.CompressionAggressiveness))
		c.CompressionAggressiveness = 3
	}

	if c.MetricsIntervalSeconds < 1 {
		errs = append(errs, fmt.Errorf("metrics_interval_seconds %d is below minimum 1, clamping", c.MetricsIntervalSeconds))
		c.MetricsIntervalSeconds = 1
	} else if c.MetricsIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("metrics_interval_seconds %d exceeds maximum 3600, clamping", c.MetricsIntervalSeconds))
		c.MetricsIntervalSeconds = 3600
	}

	return errs
}
