// Package logging initializes the process logger.
package logging

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Init builds a logger for the given format ("json", "text", "pretty" or
// "auto") and minimum level. "auto" picks pretty output on a terminal and
// JSON otherwise.
func Init(format, level string, addSource bool) (*slog.Logger, error) {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	options := slog.HandlerOptions{
		AddSource: addSource,
		Level:     logLevel,
	}

	if format == "auto" {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "pretty"
		} else {
			format = "json"
		}
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &options)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, &options)
	case "pretty":
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			AddSource: addSource,
			Level:     logLevel,
		})
	default:
		return nil, fmt.Errorf("unknown log format '%s'", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
