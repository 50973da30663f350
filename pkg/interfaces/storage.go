// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"

	"github.com/soothill/plant-feed/feed"
)

// HistoryStore is a history backend with its own connection lifecycle,
// such as a time-series database queried in place of the REST API.
type HistoryStore interface {
	feed.HistorySource

	// Health checks if the storage backend is reachable
	Health(ctx context.Context) error

	// Close releases the backend connection
	Close()
}
