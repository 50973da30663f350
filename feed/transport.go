// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HistorySource answers a single historical query for a sensor.
type HistorySource interface {
	FetchHistory(ctx context.Context, sensorID string, mode Mode) ([]Sample, error)
}

// LiveSource streams live events for a sensor.
//
// Stream blocks until the connection ends or ctx is cancelled. It calls
// onOpen once the server has accepted the connection and onEvent for every
// message, both from the goroutine that called Stream. A nil return means
// the server ended the stream.
type LiveSource interface {
	Stream(ctx context.Context, sensorID string, onOpen func(), onEvent func(Event)) error
}

// Notifier receives alerts when a live feed stays down and when it recovers.
type Notifier interface {
	SendFeedDown(ctx context.Context, sensorID string, failures int, err error) error
	SendFeedRecovered(ctx context.Context, sensorID string, downtime time.Duration) error
	IsEnabled() bool
}

// Reconnect policies.
const (
	ReconnectFixed       = "fixed"
	ReconnectExponential = "exponential"
)

// ReconnectPolicy controls the delay between live reconnection attempts.
type ReconnectPolicy struct {
	Policy       string        // ReconnectFixed or ReconnectExponential
	InitialDelay time.Duration // fixed delay, or first exponential delay
	MaxDelay     time.Duration // exponential cap
	Multiplier   float64       // exponential growth factor
}

// DefaultReconnectPolicy waits one second between attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Policy:       ReconnectFixed,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
	}
}

// newBackOff builds a fresh backoff for one live subscription. The
// exponential policy never gives up.
func (p ReconnectPolicy) newBackOff() backoff.BackOff {
	initial := p.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	if p.Policy != ReconnectExponential {
		return backoff.NewConstantBackOff(initial)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = p.MaxDelay
	if eb.MaxInterval < initial {
		eb.MaxInterval = initial
	}
	if p.Multiplier > 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = 0.1
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Options configures a Client.
type Options struct {
	// BufferSize bounds the live series. Defaults to DefaultBufferSize.
	BufferSize int
	// HistoryTimeout bounds each historical request. Defaults to 10s.
	HistoryTimeout time.Duration
	// IdleTimeout fails a live connection that delivers nothing, not even a
	// keepalive, for this long. Zero disables the check.
	IdleTimeout time.Duration
	// Reconnect controls the delay between live reconnection attempts.
	Reconnect ReconnectPolicy
	// Notifier is told about feeds that stay down. Optional.
	Notifier Notifier
	// AlertAfter is the number of consecutive failed connection attempts
	// before Notifier is alerted. Zero disables alerting.
	AlertAfter int
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = 10 * time.Second
	}
	if o.Reconnect.Policy == "" {
		o.Reconnect.Policy = ReconnectFixed
	}
	if o.Reconnect.InitialDelay <= 0 {
		o.Reconnect.InitialDelay = time.Second
	}
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	return o
}
