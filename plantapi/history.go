// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plantapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

var _ feed.HistorySource = (*Client)(nil)

// historyBody accepts either a bare sample array or one wrapped as {"data": [...]}.
type historyBody []feed.Sample

func (h *historyBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped struct {
			Data []feed.Sample `json:"data"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return err
		}
		*h = wrapped.Data
		return nil
	}
	var samples []feed.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return err
	}
	*h = samples
	return nil
}

// HistoryQuery builds the query string for a historical mode. Whole-minute
// windows use the dashboard's timeRange parameter; anything else sends an
// explicit RFC 3339 range.
func HistoryQuery(mode feed.Mode, now time.Time) url.Values {
	q := url.Values{}
	if minutes, ok := mode.WholeMinutes(); ok {
		q.Set("timeRange", strconv.Itoa(minutes))
		return q
	}
	start, end := mode.Resolve(now)
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	return q
}

// FetchHistory returns the samples the API holds for sensorID over mode.
func (c *Client) FetchHistory(ctx context.Context, sensorID string, mode feed.Mode) ([]feed.Sample, error) {
	if err := requireID("sensor_id", sensorID); err != nil {
		return nil, err
	}
	if mode.IsLive() {
		return nil, apperrors.NewInvalidArgumentError("mode", mode.String(), "history requires a window or range")
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}

	var body historyBody
	path := fmt.Sprintf("/api/sensors/%s/data", url.PathEscape(sensorID))
	if err := c.do(ctx, "fetch history", http.MethodGet, path, HistoryQuery(mode, time.Now()), nil, &body); err != nil {
		return nil, err
	}
	if body == nil {
		return []feed.Sample{}, nil
	}
	return []feed.Sample(body), nil
}
