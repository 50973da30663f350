// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

const historyCSV = "#datatype,string,long,dateTime:RFC3339,double,string,string,string\r\n" +
	"#group,false,false,false,false,true,true,true\r\n" +
	"#default,_result,,,,,,\r\n" +
	",result,table,_time,_value,_field,_measurement,sensor_id\r\n" +
	",,0,2025-01-01T00:01:00Z,2.5,value,sensor_data,S1\r\n" +
	",,0,2025-01-01T00:00:00Z,1.5,value,sensor_data,S1\r\n" +
	"\r\n"

// fakeInflux serves the health and query endpoints and records the last
// Flux query it received.
func fakeInflux(t *testing.T, healthStatus string, csv string) (*httptest.Server, *string) {
	t.Helper()
	var lastQuery string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"name":    "influxdb",
				"message": "ready for queries and writes",
				"status":  healthStatus,
				"checks":  []interface{}{},
				"version": "v2.7.0",
				"commit":  "test",
			})
		case "/api/v2/query":
			var body struct {
				Query string `json:"query"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			lastQuery = body.Query
			w.Header().Set("Content-Type", "text/csv; charset=utf-8")
			_, _ = w.Write([]byte(csv))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastQuery
}

func TestNewInfluxHistory_EmptyURL(t *testing.T) {
	h, err := NewInfluxHistory("", "token", "org", "bucket", "")
	assert.Nil(t, h)
	assert.True(t, apperrors.IsInvalidArgumentError(err))
}

func TestNewInfluxHistory_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h, err := NewInfluxHistory(url, "token", "org", "bucket", "")
	assert.Error(t, err)
	assert.Nil(t, h)
}

func TestNewInfluxHistory_HealthFailing(t *testing.T) {
	srv, _ := fakeInflux(t, "fail", "")

	h, err := NewInfluxHistory(srv.URL, "token", "org", "bucket", "")
	require.Error(t, err)
	assert.Nil(t, h)
	assert.Contains(t, err.Error(), "health check failed")
}

func TestInfluxHistory_FetchHistory(t *testing.T) {
	srv, lastQuery := fakeInflux(t, "pass", historyCSV)

	h, err := NewInfluxHistory(srv.URL, "token", "org", "sensors", "")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Health(context.Background()))

	samples, err := h.FetchHistory(context.Background(), "S1", feed.LastMinutes(10))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 1.5, samples[0].Value, "samples are sorted by time")
	assert.Equal(t, 2.5, samples[1].Value)
	assert.True(t, samples[0].Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	assert.Contains(t, *lastQuery, `from(bucket: "sensors")`)
	assert.Contains(t, *lastQuery, `r._measurement == "sensor_data"`)
	assert.Contains(t, *lastQuery, `r.sensor_id == "S1"`)
	assert.Contains(t, *lastQuery, `r._field == "value"`)
}

func TestInfluxHistory_FetchHistory_Empty(t *testing.T) {
	srv, _ := fakeInflux(t, "pass", "")

	h, err := NewInfluxHistory(srv.URL, "token", "org", "sensors", "custom")
	require.NoError(t, err)
	defer h.Close()

	samples, err := h.FetchHistory(context.Background(), "S1", feed.LastMinutes(5))
	require.NoError(t, err)
	assert.NotNil(t, samples)
	assert.Empty(t, samples)
}

func TestInfluxHistory_FetchHistory_Rejects(t *testing.T) {
	h := &InfluxHistory{bucket: "b", measurement: DefaultMeasurement}
	ctx := context.Background()

	_, err := h.FetchHistory(ctx, "", feed.LastMinutes(10))
	assert.True(t, apperrors.IsInvalidArgumentError(err), "empty sensor")

	_, err = h.FetchHistory(ctx, "S1", feed.LiveMode())
	assert.True(t, apperrors.IsInvalidArgumentError(err), "live mode")

	_, err = h.FetchHistory(ctx, "S1", feed.Last(-time.Minute))
	assert.True(t, apperrors.IsInvalidArgumentError(err), "negative window")
}

func TestInfluxHistory_BuildQuery(t *testing.T) {
	h := &InfluxHistory{bucket: "plant", measurement: "sensor_data"}
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	query := h.buildQuery(`S1") |> drop() //`, start, end)

	assert.Contains(t, query, "range(start: 2025-03-01T10:00:00Z, stop: 2025-03-01T11:00:00Z)")
	assert.Contains(t, query, `r.sensor_id == "S1\") |> drop() //"`)
	assert.Contains(t, query, `sort(columns: ["_time"])`)
}

func TestSanitizeFluxString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "sensor-42", "sensor-42"},
		{"quote", `a"b`, `a\"b`},
		{"backslash", `a\b`, `a\\b`},
		{"newline", "a\nb", `a\nb`},
		{"carriage return", "a\rb", `a\rb`},
		{"tab", "a\tb", `a\tb`},
		{"null byte", "a\x00b", "ab"},
		{"interpolation", "${secret}", `\${secret}`},
		{"lone dollar", "$5", "$5"},
		{"invalid utf8", "a\xffb", "ab"},
		{"unicode", "温度", "温度"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFluxString(tt.input))
		})
	}
}

func TestSanitizeFluxString_Truncates(t *testing.T) {
	assert.Len(t, sanitizeFluxString(strings.Repeat("A", 1500)), maxFluxLiteral)

	// A multi-byte rune straddling the limit is dropped whole
	input := strings.Repeat("A", maxFluxLiteral-1) + "温"
	assert.Equal(t, strings.Repeat("A", maxFluxLiteral-1), sanitizeFluxString(input))
}

func TestToFloat(t *testing.T) {
	v, ok := toFloat(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	v, ok = toFloat(uint64(4))
	assert.True(t, ok)
	assert.Equal(t, 4.0, v)

	_, ok = toFloat("x")
	assert.False(t, ok)
}
