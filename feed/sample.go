// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package feed keeps a time-ordered series of sensor samples up to date for a
// sensor, either from a live event stream or from a one-shot historical query.
package feed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// 1e12 ms is September 2001; 1e12 s is tens of thousands of years away.
const epochMillisThreshold = 1e12

// Sample is a single sensor reading.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// UnmarshalJSON decodes {"timestamp": ..., "value": ...}. The timestamp may be
// an ISO-8601 string or an epoch number in seconds or milliseconds.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Timestamp) == 0 || bytes.Equal(raw.Timestamp, []byte("null")) {
		return errors.New("missing timestamp")
	}
	if len(raw.Value) == 0 || bytes.Equal(raw.Value, []byte("null")) {
		return errors.New("missing value")
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}

	var value float64
	if err := json.Unmarshal(raw.Value, &value); err != nil {
		return fmt.Errorf("value: %w", err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("value %v is not finite", value)
	}

	s.Timestamp = ts
	s.Value = value
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return time.Time{}, fmt.Errorf("timestamp: %w", err)
		}
		return parseTimestampString(text)
	}

	epoch, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %s is neither a string nor a number", raw)
	}
	return fromEpoch(epoch)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestampString(text string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, text); err == nil {
			return ts, nil
		}
	}
	if epoch, err := strconv.ParseFloat(text, 64); err == nil {
		return fromEpoch(epoch)
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not ISO-8601 or epoch", text)
}

// maxEpoch is 2^63, the first float64 outside the int64 range.
const maxEpoch = float64(math.MaxInt64)

func fromEpoch(epoch float64) (time.Time, error) {
	if math.IsNaN(epoch) || math.IsInf(epoch, 0) {
		return time.Time{}, fmt.Errorf("timestamp %v is not finite", epoch)
	}
	if epoch >= maxEpoch || epoch < -maxEpoch {
		return time.Time{}, fmt.Errorf("timestamp %v is out of range", epoch)
	}
	if math.Abs(epoch) >= epochMillisThreshold {
		return time.UnixMilli(int64(epoch)).UTC(), nil
	}
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), nil
}

// SortSamples orders samples ascending by timestamp. Samples sharing a
// timestamp keep their relative order.
func SortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}
