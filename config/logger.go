package config

import (
	"fmt"
	"slices"
	"strings"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LogLevelSilent  LogLevel = "silent"
	LogLevelError   LogLevel = "error"
	LogLevelWarn    LogLevel = "warn"
	LogLevelInfo    LogLevel = "info" // progress, batches and folder results
	LogLevelDebug   LogLevel = "debug"
	LogLevelVerbose LogLevel = "verbose" // every remote request
)

// LogLevels lists the accepted levels from quietest to loudest
var LogLevels = []LogLevel{LogLevelSilent, LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelVerbose}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level      LogLevel `json:"level" yaml:"level" toml:"level"`
	AddSource  bool     `json:"add_source,omitempty" yaml:"add_source,omitempty" toml:"add_source"`    // file:line of the caller
	TimeFormat string   `json:"time_format,omitempty" yaml:"time_format,omitempty" toml:"time_format"` // Go layout, see time.Layout
	NoColor    bool     `json:"no_color,omitempty" yaml:"no_color,omitempty" toml:"no_color"`          // plain output even on a terminal
}

func (lc *LoggerConfig) Validate() error {
	if lc.Level == "" || slices.Contains(LogLevels, lc.Level) {
		return nil
	}
	names := make([]string, len(LogLevels))
	for i, l := range LogLevels {
		names[i] = string(l)
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", lc.Level, strings.Join(names, ", "))
}

// ApplyDefaults normalizes the level to lower case and fills in info and the default timestamp layout
func (lc *LoggerConfig) ApplyDefaults() {
	lc.Level = LogLevel(strings.ToLower(strings.TrimSpace(string(lc.Level))))
	if lc.Level == "" {
		lc.Level = LogLevelInfo
	}
	if lc.TimeFormat == "" {
		lc.TimeFormat = "2006-01-02 15:04:05"
	}
}
