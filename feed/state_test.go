// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusConnecting, StatusOpen, StatusError, StatusClosed} {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}
		var back Status
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) error = %v", text, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %s -> %v", s, text, back)
		}
	}

	var s Status
	if err := s.UnmarshalText([]byte("exploded")); err == nil {
		t.Error("UnmarshalText() should reject unknown names")
	}
	if got := Status(42).String(); got != "status(42)" {
		t.Errorf("String() = %q", got)
	}
}

func TestStateView(t *testing.T) {
	data := []Sample{sampleAt(1)}

	tests := []struct {
		name   string
		status Status
		series []Sample
		want   View
	}{
		{"idle", StatusIdle, nil, ViewLoading},
		{"connecting without data", StatusConnecting, nil, ViewLoading},
		{"reconnecting with data", StatusConnecting, data, ViewData},
		{"open with data", StatusOpen, data, ViewData},
		{"open without data", StatusOpen, nil, ViewEmpty},
		{"error with data", StatusError, data, ViewStale},
		{"error without data", StatusError, nil, ViewUnavailable},
		{"closed", StatusClosed, data, ViewClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := State{Status: tt.status, Series: tt.series}
			if got := st.View(); got != tt.want {
				t.Errorf("View() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateJSON(t *testing.T) {
	st := State{
		SensorID:  "S1",
		Mode:      LastMinutes(10),
		Series:    []Sample{sampleAt(1)},
		Status:    StatusError,
		LastError: "Sensor offline",
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)
	for _, want := range []string{`"sensor_id":"S1"`, `"mode":"10"`, `"status":"error"`, `"last_error":"Sensor offline"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Marshal() = %s, missing %s", out, want)
		}
	}
}
