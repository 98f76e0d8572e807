// Package logger constructs the process logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level to output: debug, info, warn, error.
	Level string

	// Format selects the output encoding: "console" for human-readable
	// output, "json" for structured logs.
	Format string

	// Output selects the destination: stdout, stderr, or a file path.
	Output string
}

// New builds a zerolog logger from the configuration. Unknown levels
// fall back to info.
func New(cfg Config) (zerolog.Logger, error) {
	out, err := writer(cfg.Output)
	if err != nil {
		return zerolog.Nop(), err
	}

	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

func writer(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	}
}
