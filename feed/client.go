// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/pkg/metrics"
)

// Client manages one Subscription per sensor.
type Client struct {
	opts    Options
	history HistorySource
	live    LiveSource

	mu       sync.RWMutex
	subs     map[string]*Subscription
	retiring map[string]chan struct{} // closed once the removed subscription has stopped
	stopped  bool
}

// NewClient creates a feed client. Either source may be nil if the
// corresponding mode is never requested.
func NewClient(history HistorySource, live LiveSource, opts Options) *Client {
	return &Client{
		opts:    opts.withDefaults(),
		history: history,
		live:    live,
		subs:     make(map[string]*Subscription),
		retiring: make(map[string]chan struct{}),
	}
}

// Open starts feeding sensorID in mode. Any transport already running for
// the sensor is torn down first. ctx bounds the lifetime of the feed, not
// just the call. Invalid arguments are rejected before any network action.
func (c *Client) Open(ctx context.Context, sensorID string, mode Mode) (*Subscription, error) {
	if strings.TrimSpace(sensorID) == "" {
		return nil, apperrors.NewInvalidArgumentError("sensor_id", sensorID, "must not be empty")
	}
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if mode.Live && c.live == nil {
		return nil, apperrors.NewInvalidArgumentError("mode", mode.String(), "no live source configured")
	}
	if !mode.Live && c.history == nil {
		return nil, apperrors.NewInvalidArgumentError("mode", mode.String(), "no history source configured")
	}

	for {
		sub, err := c.subscription(ctx, sensorID)
		if err != nil {
			return nil, err
		}
		err = sub.start(ctx, mode)
		if errors.Is(err, apperrors.ErrSubscriptionClosed) {
			// Lost a race with Close; the next lookup creates a fresh one.
			continue
		}
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// OpenString parses mode with ParseMode and calls Open.
func (c *Client) OpenString(ctx context.Context, sensorID string, mode string) (*Subscription, error) {
	m, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, sensorID, m)
}

// subscription returns the sensor's subscription, creating it if needed. A
// sensor still being closed is waited out first so its transport is gone
// before a new one can start.
func (c *Client) subscription(ctx context.Context, sensorID string) (*Subscription, error) {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return nil, apperrors.ErrClientClosed
		}
		if sub, ok := c.subs[sensorID]; ok {
			c.mu.Unlock()
			return sub, nil
		}
		if done, ok := c.retiring[sensorID]; ok {
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		sub := newSubscription(sensorID, c.opts, c.history, c.live)
		c.subs[sensorID] = sub
		metrics.SubscriptionsActive.Inc()
		c.mu.Unlock()
		return sub, nil
	}
}

// Refresh re-issues the current mode for sensorID. For a historical feed
// this is the explicit retry after a failed request.
func (c *Client) Refresh(ctx context.Context, sensorID string) error {
	sub := c.lookup(sensorID)
	if sub == nil {
		return apperrors.ErrSensorNotFound
	}
	mode, ok := sub.current()
	if !ok {
		return apperrors.ErrSensorNotFound
	}
	_, err := c.Open(ctx, sensorID, mode)
	return err
}

// Close stops the feed for sensorID and forgets it. Closing an unknown or
// already closed sensor does nothing.
func (c *Client) Close(sensorID string) {
	c.mu.Lock()
	sub, ok := c.subs[sensorID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.subs, sensorID)
	metrics.SubscriptionsActive.Dec()
	done := make(chan struct{})
	c.retiring[sensorID] = done
	c.mu.Unlock()

	sub.stop()

	c.mu.Lock()
	delete(c.retiring, sensorID)
	c.mu.Unlock()
	close(done)
}

// State returns a snapshot of the feed for sensorID.
func (c *Client) State(sensorID string) (State, bool) {
	sub := c.lookup(sensorID)
	if sub == nil {
		return State{}, false
	}
	return sub.State(), true
}

// States returns snapshots of every open feed, ordered by sensor id.
func (c *Client) States() []State {
	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	states := make([]State, 0, len(subs))
	for _, sub := range subs {
		states = append(states, sub.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].SensorID < states[j].SensorID })
	return states
}

// Sensors returns the ids of every open feed, sorted.
func (c *Client) Sensors() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch subscribes to state changes for sensorID. See Subscription.Watch.
func (c *Client) Watch(sensorID string) (<-chan State, func(), error) {
	sub := c.lookup(sensorID)
	if sub == nil {
		return nil, nil, apperrors.ErrSensorNotFound
	}
	ch, cancel := sub.Watch()
	return ch, cancel, nil
}

func (c *Client) lookup(sensorID string) *Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[sensorID]
}

// Shutdown closes every feed and waits for their transports to exit.
// Later calls to Open fail with ErrClientClosed.
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	subs := make([]*Subscription, 0, len(c.subs))
	for id, sub := range c.subs {
		subs = append(subs, sub)
		delete(c.subs, id)
		metrics.SubscriptionsActive.Dec()
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			sub.stop()
		}(sub)
	}
	wg.Wait()
	logger.Info().Int("feeds", len(subs)).Msg("Feed client stopped")
}
