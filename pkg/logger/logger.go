// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// log stays a no-op until Initialize is called.
var log = zerolog.Nop()

// Initialize sets up the global logger with the specified level and format.
// Format "json" writes one JSON object per line; anything else uses the
// human-readable console writer.
func Initialize(level string, format string) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if strings.EqualFold(format, "json") {
		output = os.Stdout
	}

	zerolog.SetGlobalLevel(logLevel)
	log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel converts string log level to zerolog.Level
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "fatal":
		return zerolog.FatalLevel, nil
	case "panic":
		return zerolog.PanicLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// SetLevel changes the level of the global logger, e.g. after a config reload.
func SetLevel(level string) {
	logLevel, _ := parseLogLevel(level)
	zerolog.SetGlobalLevel(logLevel)
}

// Level returns the level currently applied to every logger, including
// those derived with With and ForSensor.
func Level() zerolog.Level {
	return zerolog.GlobalLevel()
}

// Get returns the global logger instance
func Get() *zerolog.Logger {
	return &log
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal logs a fatal message and exits
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With creates a child logger with additional fields
func With() zerolog.Context {
	return log.With()
}

// ForSensor returns a child logger tagged with a sensor id.
func ForSensor(sensorID string) zerolog.Logger {
	return log.With().Str("sensor_id", sensorID).Logger()
}

// SetOutput sets the output writer for the logger
func SetOutput(w io.Writer) {
	log = log.Output(w)
}
