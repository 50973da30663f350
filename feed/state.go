// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"fmt"
	"strings"
	"time"
)

// Status is the connection status of a feed.
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusOpen
	StatusError
	StatusClosed
)

var statusNames = [...]string{"idle", "connecting", "open", "error", "closed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a lowercase status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if strings.EqualFold(string(text), name) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// ReconnectingMessage is reported while a live feed recovers from a transport failure.
const ReconnectingMessage = "connection lost, reconnecting"

// State is a read-only snapshot of a sensor feed.
type State struct {
	SensorID   string    `json:"sensor_id"`
	Mode       Mode      `json:"mode"`
	Series     []Sample  `json:"series"`
	Status     Status    `json:"status"`
	LastError  string    `json:"last_error,omitempty"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// View is what a renderer should show for a feed.
type View string

const (
	ViewLoading     View = "loading"     // no data yet, request or connection in flight
	ViewData        View = "data"        // samples available and feed healthy
	ViewEmpty       View = "empty"       // feed healthy but no samples
	ViewStale       View = "stale"       // feed in error, previous samples still shown
	ViewUnavailable View = "unavailable" // feed in error and nothing to show
	ViewClosed      View = "closed"
)

// View classifies the state for display.
func (s State) View() View {
	hasData := len(s.Series) > 0
	switch s.Status {
	case StatusError:
		if hasData {
			return ViewStale
		}
		return ViewUnavailable
	case StatusClosed:
		return ViewClosed
	case StatusOpen:
		if hasData {
			return ViewData
		}
		return ViewEmpty
	default:
		if hasData {
			return ViewData
		}
		return ViewLoading
	}
}

// Stats returns descriptive statistics for the series.
func (s State) Stats() Stats {
	return Summarize(s.Series)
}
