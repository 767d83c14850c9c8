package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.Nop()
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// ParseLevel converts a flag or config value into a Level
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel:
		return l, nil
	case "":
		return InfoLevel, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// zerologLevel maps a Level onto zerolog. Unknown levels log at info.
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init replaces the global logger. Loggers already derived with
// WithComponent keep writing to the previous one, so call Init before
// constructing components.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(cfg.Level.zerologLevel())

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithNodeID creates a child logger with node_id field
func WithNodeID(nodeID string) zerolog.Logger {
	return Logger.With().Str("node_id", nodeID).Logger()
}

// WithInstance creates a child logger with instance field
func WithInstance(l zerolog.Logger, id string) zerolog.Logger {
	return l.With().Str("instance", id).Logger()
}

// WithAddressSpace creates a child logger with address_space field
func WithAddressSpace(l zerolog.Logger, space string) zerolog.Logger {
	return l.With().Str("address_space", space).Logger()
}

// WithObserverKey creates a child logger with observer_key field
func WithObserverKey(l zerolog.Logger, key string) zerolog.Logger {
	return l.With().Str("observer_key", key).Logger()
}
