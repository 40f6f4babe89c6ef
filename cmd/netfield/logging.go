package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const envLogLevel = "NETFIELD_LOG_LEVEL"

// newLogger builds the console logger. --log-level wins over the environment.
func newLogger(w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if lvl, ok := parseLevel(os.Getenv(envLogLevel)); ok {
		level = lvl
	}
	if lvl, ok := parseLevel(logLevel); ok {
		level = lvl
	}

	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", "netfield").Logger()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
