// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

// rangeSeparator splits an explicit "start..end" range.
const rangeSeparator = ".."

// Mode selects where a feed gets its samples from: a live stream, or a
// single historical query over a look-back window or an explicit range.
type Mode struct {
	Live   bool
	Window time.Duration
	Start  time.Time
	End    time.Time
}

// LiveMode returns the live streaming mode.
func LiveMode() Mode {
	return Mode{Live: true}
}

// Last returns a historical mode covering the window ending now.
func Last(window time.Duration) Mode {
	return Mode{Window: window}
}

// LastMinutes returns a historical mode covering the last n minutes.
func LastMinutes(n int) Mode {
	return Mode{Window: time.Duration(n) * time.Minute}
}

// Between returns a historical mode for an explicit time range.
func Between(start, end time.Time) Mode {
	return Mode{Start: start, End: end}
}

// ParseMode parses a mode string:
//
//	live                         live streaming
//	10                           the last 10 minutes
//	90s, 1h30m                   a look-back window
//	2025-01-01T00:00:00Z..2025-01-01T06:00:00Z
//	                             an explicit range
func ParseMode(s string) (Mode, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Mode{}, apperrors.NewInvalidArgumentError("mode", s, "must not be empty")
	}
	if strings.EqualFold(text, "live") {
		return LiveMode(), nil
	}

	if minutes, err := strconv.Atoi(text); err == nil {
		m := LastMinutes(minutes)
		return m, m.Validate()
	}

	if startText, endText, ok := strings.Cut(text, rangeSeparator); ok {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(startText))
		if err != nil {
			return Mode{}, apperrors.NewInvalidArgumentError("mode", s, "range start is not RFC 3339")
		}
		end, err := time.Parse(time.RFC3339, strings.TrimSpace(endText))
		if err != nil {
			return Mode{}, apperrors.NewInvalidArgumentError("mode", s, "range end is not RFC 3339")
		}
		m := Between(start, end)
		return m, m.Validate()
	}

	if window, err := time.ParseDuration(text); err == nil {
		m := Last(window)
		return m, m.Validate()
	}

	return Mode{}, apperrors.NewInvalidArgumentError("mode", s, `expected "live", minutes, a duration, or start..end`)
}

// Validate checks that exactly one kind of mode is described.
func (m Mode) Validate() error {
	hasRange := !m.Start.IsZero() || !m.End.IsZero()
	switch {
	case m.Live:
		if m.Window != 0 || hasRange {
			return apperrors.NewInvalidArgumentError("mode", m.String(), "live mode cannot carry a time window")
		}
	case hasRange:
		if m.Window != 0 {
			return apperrors.NewInvalidArgumentError("mode", m.String(), "use either a window or a range, not both")
		}
		if m.Start.IsZero() || m.End.IsZero() {
			return apperrors.NewInvalidArgumentError("mode", m.String(), "range needs both start and end")
		}
		if !m.End.After(m.Start) {
			return apperrors.NewInvalidArgumentError("mode", m.String(), "range end must be after start")
		}
	case m.Window <= 0:
		return apperrors.NewInvalidArgumentError("mode", m.String(), "window must be positive")
	}
	return nil
}

// IsLive reports whether the mode streams live samples.
func (m Mode) IsLive() bool {
	return m.Live
}

// IsRange reports whether the mode is an explicit start/end range.
func (m Mode) IsRange() bool {
	return !m.Live && m.Window == 0 && (!m.Start.IsZero() || !m.End.IsZero())
}

// WholeMinutes returns the window in minutes when it is a whole number of minutes.
func (m Mode) WholeMinutes() (int, bool) {
	if m.Live || m.IsRange() || m.Window <= 0 || m.Window%time.Minute != 0 {
		return 0, false
	}
	return int(m.Window / time.Minute), true
}

// Resolve returns the concrete time range for a historical mode.
func (m Mode) Resolve(now time.Time) (start, end time.Time) {
	if m.IsRange() {
		return m.Start, m.End
	}
	return now.Add(-m.Window), now
}

// String renders the mode in the form ParseMode accepts.
func (m Mode) String() string {
	switch {
	case m.Live:
		return "live"
	case m.IsRange():
		return m.Start.Format(time.RFC3339) + rangeSeparator + m.End.Format(time.RFC3339)
	default:
		if minutes, ok := m.WholeMinutes(); ok {
			return strconv.Itoa(minutes)
		}
		return m.Window.String()
	}
}

// MarshalJSON encodes the mode as its string form.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts any string ParseMode accepts.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("mode must be a string: %w", err)
	}
	parsed, err := ParseMode(text)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// sameKind reports whether both modes are live or both are historical.
func (m Mode) sameKind(other Mode) bool {
	return m.Live == other.Live
}

// Equal reports whether two modes describe the same data.
func (m Mode) Equal(other Mode) bool {
	return m.Live == other.Live &&
		m.Window == other.Window &&
		m.Start.Equal(other.Start) &&
		m.End.Equal(other.End)
}
