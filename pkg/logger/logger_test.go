// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		expected zerolog.Level
	}{
		{"debug", "debug", zerolog.DebugLevel},
		{"info", "info", zerolog.InfoLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"warning", "warning", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
		{"fatal", "fatal", zerolog.FatalLevel},
		{"panic", "panic", zerolog.PanicLevel},
		{"invalid defaults to info", "invalid", zerolog.InfoLevel},
		{"empty defaults to info", "", zerolog.InfoLevel},
		{"uppercase", "DEBUG", zerolog.DebugLevel},
		{"mixed case", "InFo", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, _ := parseLogLevel(tt.level)
			if level != tt.expected {
				t.Errorf("parseLogLevel(%s) = %v, want %v", tt.level, level, tt.expected)
			}
		})
	}
}

func TestInitialize_SetsLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Initialize(tt.level, "console")
			if got := Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitialize_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", "json")
	SetOutput(&buf)

	Info().Str("sensor_id", "S1").Msg("feed opened")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json output did not decode: %v (%q)", err, buf.String())
	}
	if entry["message"] != "feed opened" {
		t.Errorf("message = %v, want %q", entry["message"], "feed opened")
	}
	if entry["sensor_id"] != "S1" {
		t.Errorf("sensor_id = %v, want %q", entry["sensor_id"], "S1")
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	Initialize("debug", "console")
	SetOutput(&buf)

	tests := []struct {
		name    string
		logFunc func() *zerolog.Event
		message string
	}{
		{"debug", Debug, "debug message"},
		{"info", Info, "info message"},
		{"warn", Warn, "warn message"},
		{"error", Error, "error message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()

			event := tt.logFunc()
			if event == nil {
				t.Fatalf("%s() returned nil event", tt.name)
			}
			event.Msg(tt.message)

			if !strings.Contains(buf.String(), tt.message) {
				t.Errorf("%s() output should contain %q, got %q", tt.name, tt.message, buf.String())
			}
		})
	}
}

func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    string
		shouldLog   bool
	}{
		{"info logs at info level", "info", "info", true},
		{"debug filtered at info level", "info", "debug", false},
		{"error logs at info level", "info", "error", true},
		{"debug logs at debug level", "debug", "debug", true},
		{"info filtered at error level", "error", "info", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Initialize(tt.configLevel, "console")
			SetOutput(&buf)

			message := "test message for filtering"
			switch tt.logLevel {
			case "debug":
				Debug().Msg(message)
			case "info":
				Info().Msg(message)
			case "error":
				Error().Msg(message)
			}

			hasMessage := strings.Contains(buf.String(), message)
			if hasMessage != tt.shouldLog {
				t.Errorf("logged = %v, want %v (config %s, level %s)", hasMessage, tt.shouldLog, tt.configLevel, tt.logLevel)
			}
		})
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", "console")
	SetOutput(&buf)

	Debug().Msg("hidden")
	SetLevel("debug")
	Debug().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged before SetLevel(debug)")
	}
	if !strings.Contains(out, "visible") {
		t.Error("debug message missing after SetLevel(debug)")
	}
}

func TestSetLevel_ReachesSensorLoggers(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", "json")
	SetOutput(&buf)

	l := ForSensor("S3")
	l.Debug().Msg("before reload")
	SetLevel("debug")
	l.Debug().Msg("after reload")
	SetLevel("error")
	l.Info().Msg("after raise")

	out := buf.String()
	if strings.Contains(out, "before reload") {
		t.Error("sensor logger wrote debug before SetLevel(debug)")
	}
	if !strings.Contains(out, "after reload") {
		t.Errorf("sensor logger ignored SetLevel(debug): %s", out)
	}
	if strings.Contains(out, "after raise") {
		t.Error("sensor logger ignored SetLevel(error)")
	}
	if got := Level(); got != zerolog.ErrorLevel {
		t.Errorf("Level() = %v, want %v", got, zerolog.ErrorLevel)
	}
}

func TestSetLevel_ConcurrentWithLogging(t *testing.T) {
	Initialize("info", "json")
	SetOutput(io.Discard)
	l := ForSensor("S4")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				Debug().Int("j", j).Msg("global")
				l.Debug().Int("j", j).Msg("sensor")
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			SetLevel("debug")
		} else {
			SetLevel("info")
		}
	}
	wg.Wait()
	SetLevel("info")
}

func TestForSensor(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", "json")
	SetOutput(&buf)

	l := ForSensor("S7")
	l.Info().Msg("tagged")

	if !strings.Contains(buf.String(), `"sensor_id":"S7"`) {
		t.Errorf("ForSensor() output missing sensor_id field: %s", buf.String())
	}
}

func TestWith(t *testing.T) {
	Initialize("info", "console")

	var buf bytes.Buffer
	l := With().Str("test_field", "test_value").Logger().Output(&buf)
	l.Info().Msg("test message")

	if !strings.Contains(buf.String(), "test message") {
		t.Error("Context-created logger should be functional")
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	Initialize("info", "console")
	SetOutput(&buf)

	Info().
		Str("string_field", "value").
		Int("int_field", 42).
		Bool("bool_field", true).
		Float64("float_field", 3.14).
		Msg("test with fields")

	output := buf.String()
	for _, field := range []string{"test with fields", "string_field", "value", "int_field", "42", "bool_field", "float_field", "3.14"} {
		if !strings.Contains(output, field) {
			t.Errorf("Output should contain %q, got: %s", field, output)
		}
	}
}
