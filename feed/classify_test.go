// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"math"
	"testing"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantKind EventKind
		want     Sample
	}{
		{"connected marker", "connected", EventControl, Sample{}},
		{"heartbeat marker", "heartbeat", EventControl, Sample{}},
		{"iso sample", `{"timestamp":"2025-06-01T12:00:01Z","value":1}`, EventSample, sampleAt(1)},
		{"epoch millis", `{"timestamp":1748779201000,"value":1}`, EventSample, sampleAt(1)},
		{"epoch seconds", `{"timestamp":1748779201,"value":1}`, EventSample, sampleAt(1)},
		{"extra fields ignored", `{"timestamp":"2025-06-01T12:00:01Z","value":1,"unit":"kW"}`, EventSample, sampleAt(1)},
		{"marker with whitespace", " heartbeat", EventMalformed, Sample{}},
		{"quoted marker", `"connected"`, EventMalformed, Sample{}},
		{"marker wrong case", "Heartbeat", EventMalformed, Sample{}},
		{"truncated json", `{"timestamp":"2025-06-01T12:00:01Z",`, EventMalformed, Sample{}},
		{"missing value", `{"timestamp":"2025-06-01T12:00:01Z"}`, EventMalformed, Sample{}},
		{"missing timestamp", `{"value":4}`, EventMalformed, Sample{}},
		{"string value", `{"timestamp":"2025-06-01T12:00:01Z","value":"4"}`, EventMalformed, Sample{}},
		{"bad timestamp", `{"timestamp":"tomorrow","value":4}`, EventMalformed, Sample{}},
		{"empty", "", EventMalformed, Sample{}},
		{"infinite timestamp", `{"timestamp":"Infinity","value":1}`, EventMalformed, Sample{}},
		{"nan timestamp", `{"timestamp":"NaN","value":1}`, EventMalformed, Sample{}},
		{"huge epoch", `{"timestamp":1e300,"value":1}`, EventMalformed, Sample{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, kind, err := Classify("S1", []byte(tt.payload))
			if kind != tt.wantKind {
				t.Fatalf("Classify(%q) kind = %v, want %v (err=%v)", tt.payload, kind, tt.wantKind, err)
			}
			switch kind {
			case EventMalformed:
				if !apperrors.IsMalformedPayloadError(err) {
					t.Errorf("Classify(%q) error = %v, want MalformedPayloadError", tt.payload, err)
				}
			default:
				if err != nil {
					t.Errorf("Classify(%q) unexpected error = %v", tt.payload, err)
				}
			}
			if !got.Timestamp.Equal(tt.want.Timestamp) || got.Value != tt.want.Value {
				t.Errorf("Classify(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}

func TestEventKindString(t *testing.T) {
	for kind, want := range map[EventKind]string{
		EventSample:    "sample",
		EventControl:   "control",
		EventMalformed: "malformed",
	} {
		if kind.String() != want {
			t.Errorf("EventKind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}

func FuzzClassify(f *testing.F) {
	f.Add([]byte("heartbeat"))
	f.Add([]byte("connected"))
	f.Add([]byte(`{"timestamp":"2025-06-01T12:00:01Z","value":1}`))
	f.Add([]byte(`{"timestamp":1748779201000,"value":-3.5}`))
	f.Add([]byte(`{"timestamp":null,"value":null}`))
	f.Add([]byte(`{"timestamp":1e400,"value":1}`))

	f.Fuzz(func(t *testing.T, payload []byte) {
		s, kind, err := Classify("fuzz", payload)
		switch kind {
		case EventControl:
			if err != nil || (string(payload) != MarkerConnected && string(payload) != MarkerHeartbeat) {
				t.Fatalf("control classification for %q, err=%v", payload, err)
			}
		case EventSample:
			if err != nil {
				t.Fatalf("sample with error for %q: %v", payload, err)
			}
			if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
				t.Fatalf("non-finite value accepted for %q", payload)
			}
		case EventMalformed:
			if err == nil {
				t.Fatalf("malformed without error for %q", payload)
			}
		}
	})
}
