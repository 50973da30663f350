// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides an InfluxDB-backed history source for sensor
// series. It only reads; samples are written by whatever feeds the bucket.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/interfaces"
	"github.com/soothill/plant-feed/pkg/logger"
)

// DefaultMeasurement is the measurement sensor samples are stored under.
const DefaultMeasurement = "sensor_data"

const (
	healthTimeout  = 5 * time.Second
	maxFluxLiteral = 1000
)

// InfluxHistory answers historical queries from an InfluxDB bucket. Each
// sample is a point in the measurement tagged with sensor_id whose "value"
// field holds the reading.
type InfluxHistory struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	bucket      string
	org         string
	measurement string
}

var _ interfaces.HistoryStore = (*InfluxHistory)(nil)

// NewInfluxHistory connects to InfluxDB and verifies the server is healthy
func NewInfluxHistory(url, token, org, bucket, measurement string) (*InfluxHistory, error) {
	if url == "" {
		return nil, apperrors.NewInvalidArgumentError("url", url, "must not be empty")
	}
	if measurement == "" {
		measurement = DefaultMeasurement
	}

	client := influxdb2.NewClient(url, token)
	h := &InfluxHistory{
		client:      client,
		queryAPI:    client.QueryAPI(org),
		bucket:      bucket,
		org:         org,
		measurement: measurement,
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	if err := h.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info().
		Str("url", url).
		Str("bucket", bucket).
		Str("measurement", measurement).
		Msg("Connected to InfluxDB history source")

	return h, nil
}

// Health checks that the InfluxDB server reports a passing status
func (h *InfluxHistory) Health(ctx context.Context) error {
	health, err := h.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", message)
	}
	return nil
}

// Close releases the InfluxDB client
func (h *InfluxHistory) Close() {
	logger.Info().Msg("Closing InfluxDB connection")
	h.client.Close()
}

// FetchHistory returns the samples for sensorID inside the mode's window,
// ordered by time.
func (h *InfluxHistory) FetchHistory(ctx context.Context, sensorID string, mode feed.Mode) ([]feed.Sample, error) {
	if sensorID == "" {
		return nil, apperrors.NewInvalidArgumentError("sensorID", sensorID, "must not be empty")
	}
	if mode.IsLive() {
		return nil, apperrors.NewInvalidArgumentError("mode", mode.String(), "live mode has no history query")
	}
	if err := mode.Validate(); err != nil {
		return nil, apperrors.NewInvalidArgumentError("mode", mode.String(), err.Error())
	}

	start, end := mode.Resolve(time.Now())
	query := h.buildQuery(sensorID, start, end)

	result, err := h.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, apperrors.NewRequestError("influx history", 0, "", fmt.Errorf("query failed: %w", err))
	}
	defer func() {
		_ = result.Close()
	}()

	samples := make([]feed.Sample, 0)
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			logger.Debug().
				Str("sensor_id", sensorID).
				Interface("value", record.Value()).
				Msg("Skipping non-numeric history point")
			continue
		}
		samples = append(samples, feed.Sample{Timestamp: record.Time(), Value: value})
	}
	if result.Err() != nil {
		return nil, apperrors.NewRequestError("influx history", 0, "", fmt.Errorf("query parsing failed: %w", result.Err()))
	}

	feed.SortSamples(samples)
	return samples, nil
}

func (h *InfluxHistory) buildQuery(sensorID string, start, end time.Time) string {
	return fmt.Sprintf(`from(bucket: "%s")
	|> range(start: %s, stop: %s)
	|> filter(fn: (r) => r._measurement == "%s")
	|> filter(fn: (r) => r.sensor_id == "%s")
	|> filter(fn: (r) => r._field == "value")
	|> sort(columns: ["_time"])`,
		sanitizeFluxString(h.bucket),
		start.UTC().Format(time.RFC3339Nano),
		end.UTC().Format(time.RFC3339Nano),
		sanitizeFluxString(h.measurement),
		sanitizeFluxString(sensorID),
	)
}

// sanitizeFluxString escapes s for use inside a double-quoted Flux string
// literal. NUL bytes and invalid UTF-8 are dropped and input past
// maxFluxLiteral bytes is cut at a rune boundary.
func sanitizeFluxString(s string) string {
	runes := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if i+size > maxFluxLiteral {
			break
		}
		i += size
		if r == 0 || (r == utf8.RuneError && size == 1) {
			continue
		}
		runes = append(runes, r)
	}

	var b strings.Builder
	b.Grow(len(s))
	for i, r := range runes {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$':
			// Flux interpolates ${...} inside string literals
			if i+1 < len(runes) && runes[i+1] == '{' {
				b.WriteString(`\$`)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
