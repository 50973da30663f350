// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package plantapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/soothill/plant-feed/feed"
	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 1 << 20

var _ feed.LiveSource = (*Client)(nil)

// Stream opens the live event stream for sensorID and delivers its events
// until the server closes it or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, sensorID string, onOpen func(), onEvent func(feed.Event)) error {
	if err := requireID("sensor_id", sensorID); err != nil {
		return err
	}

	target := endpoint(c.liveBaseURL, "/api/sensors/"+url.PathEscape(sensorID)+"/live", nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return apperrors.NewTransportError("connect", sensorID, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return apperrors.NewTransportError("connect", sensorID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewTransportError("connect", sensorID, streamRefused(resp))
	}

	logger.Debug().Str("sensor_id", sensorID).Str("url", target).Msg("Live stream opened")
	onOpen()

	if err := readEvents(resp.Body, onEvent); err != nil {
		return apperrors.NewTransportError("read", sensorID, err)
	}
	return nil
}

func streamRefused(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Message)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

// readEvents parses a text/event-stream body. Data lines accumulate until a
// blank line dispatches them; comment lines are reported as keepalives.
// An event still buffered when the body ends is dropped.
func readEvents(r io.Reader, onEvent func(feed.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		data    []string
		hasData bool
		lastID  string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if hasData {
				onEvent(feed.Event{Data: []byte(strings.Join(data, "\n")), ID: lastID})
			}
			data = data[:0]
			hasData = false
			continue
		}

		if strings.HasPrefix(line, ":") {
			onEvent(feed.Event{Comment: true})
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				lastID = value
			}
		}
	}

	return scanner.Err()
}
