// Package corelog builds the structured logger shared by every
// component of the messaging core.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the logger's output encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Config controls the root logger's level and encoding.
type Config struct {
	Level  string
	Format Format
}

// New builds a zerolog.Logger with timestamp, caller and a fixed
// "component" field identifying the messaging core.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Format == FormatConsole {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("component", "remotecore").
		Logger()
}
