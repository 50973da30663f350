// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"

	"github.com/soothill/plant-feed/feed"
)

// FeedManager defines the sensor feed operations the application drives.
// *feed.Client is the production implementation.
type FeedManager interface {
	// Open starts (or re-targets) the feed for a sensor
	Open(ctx context.Context, sensorID string, mode feed.Mode) (*feed.Subscription, error)

	// Refresh re-runs a historical query, or forces a live reconnect
	Refresh(ctx context.Context, sensorID string) error

	// Close stops the feed for a sensor; closing an unknown sensor is a no-op
	Close(sensorID string)

	// State returns the current state of one feed
	State(sensorID string) (feed.State, bool)

	// States returns every feed's state ordered by sensor ID
	States() []feed.State

	// Sensors returns the IDs of all open feeds
	Sensors() []string

	// Watch streams state updates for a sensor until cancel is called
	Watch(sensorID string) (<-chan feed.State, func(), error)

	// Shutdown closes every feed and refuses further opens
	Shutdown()
}

var _ FeedManager = (*feed.Client)(nil)
