// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// Endpoint is a resolved plant API location.
type Endpoint struct {
	BaseURL     string // REST base, e.g. http://10.0.0.5:5000
	LiveBaseURL string // live stream base; may equal BaseURL
}

// EndpointResolver finds the plant API when no base URL is configured.
// Implementations should support mDNS/DNS-SD discovery protocols.
type EndpointResolver interface {
	// Resolve browses for the API and returns the first usable endpoint
	Resolve(ctx context.Context, timeout time.Duration) (*Endpoint, error)
}
