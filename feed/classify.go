// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"encoding/json"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

// Reserved live payloads that carry no sample.
const (
	MarkerConnected = "connected"
	MarkerHeartbeat = "heartbeat"
)

// EventKind classifies an inbound live payload.
type EventKind int

const (
	EventSample EventKind = iota
	EventControl
	EventMalformed
)

func (k EventKind) String() string {
	switch k {
	case EventSample:
		return "sample"
	case EventControl:
		return "control"
	default:
		return "malformed"
	}
}

// Event is one message delivered by a live transport. Comment events carry
// no data and only prove the connection is alive.
type Event struct {
	Data    []byte
	Comment bool
	ID      string
}

// Classify decides what a live payload is. Control markers must match
// exactly; anything else has to be a JSON sample object.
func Classify(sensorID string, payload []byte) (Sample, EventKind, error) {
	switch string(payload) {
	case MarkerConnected, MarkerHeartbeat:
		return Sample{}, EventControl, nil
	}

	var s Sample
	if err := json.Unmarshal(payload, &s); err != nil {
		return Sample{}, EventMalformed, apperrors.NewMalformedPayloadError(sensorID, payload, err)
	}
	return s, EventSample, nil
}
