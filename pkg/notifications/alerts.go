// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package notifications turns feed and API events into operator alerts.
//
// FeedAlerts implements feed.Notifier on top of any interfaces.Notifier
// (in production a Slack webhook client). The feed client calls it when a
// live feed has failed a configured number of consecutive times, and again
// when that feed recovers.
//
// # Automatic Notifications
//
//   - Live feed down (once per outage, after alert_after failures)
//   - Live feed recovered (with the outage duration)
//   - Plant API discovery failure (when mDNS finds nothing)
//   - Plant API login failure (when configured credentials are rejected)
//
// # Error Handling
//
// Sends are bounded by the caller's context. A disabled notifier makes every
// call a no-op returning nil, and failures are logged before being returned.
//
// # Example Usage
//
//	alerts := notifications.NewFeedAlerts(slacknotifier.New(webhookURL))
//	client := feed.NewClient(api, api, feed.Options{
//	    Notifier:   alerts,
//	    AlertAfter: 3,
//	})
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/soothill/plant-feed/feed"
	"github.com/soothill/plant-feed/pkg/interfaces"
	"github.com/soothill/plant-feed/pkg/logger"
)

// FeedAlerts sends feed lifecycle alerts through a Notifier.
type FeedAlerts struct {
	notifier interfaces.Notifier
}

var _ feed.Notifier = (*FeedAlerts)(nil)

// NewFeedAlerts creates a new adapter.
func NewFeedAlerts(notifier interfaces.Notifier) *FeedAlerts {
	return &FeedAlerts{notifier: notifier}
}

// IsEnabled returns whether the underlying notifier will deliver anything.
func (a *FeedAlerts) IsEnabled() bool {
	return a.notifier != nil && a.notifier.IsEnabled()
}

// SendFeedDown reports a live feed that keeps failing to connect.
func (a *FeedAlerts) SendFeedDown(ctx context.Context, sensorID string, failures int, err error) error {
	return a.send(ctx, "danger", "⚠️ Sensor Feed Down",
		fmt.Sprintf("Live feed for sensor %s has failed %d consecutive times: %v\nThe last received readings are still shown and reconnection continues.",
			sensorID, failures, err))
}

// SendFeedRecovered reports that a previously failing feed is open again.
func (a *FeedAlerts) SendFeedRecovered(ctx context.Context, sensorID string, downtime time.Duration) error {
	return a.send(ctx, "good", "✅ Sensor Feed Restored",
		fmt.Sprintf("Live feed for sensor %s is receiving data again after %s.",
			sensorID, downtime.Round(time.Second)))
}

// SendDiscoveryFailure sends an alert when the plant API cannot be located
func (a *FeedAlerts) SendDiscoveryFailure(ctx context.Context, err error) error {
	return a.send(ctx, "warning", "⚠️ Plant API Discovery Failure",
		fmt.Sprintf("Failed to discover the plant API via mDNS: %v", err))
}

// SendLoginFailure sends an alert when configured credentials are rejected
func (a *FeedAlerts) SendLoginFailure(ctx context.Context, email string, err error) error {
	return a.send(ctx, "danger", "⚠️ Plant API Login Failed",
		fmt.Sprintf("Login as %s was rejected: %v\nFeeds will run unauthenticated.", email, err))
}

func (a *FeedAlerts) send(ctx context.Context, severity, title, message string) error {
	if !a.IsEnabled() {
		return nil
	}
	if err := a.notifier.SendAlert(ctx, severity, title, message); err != nil {
		logger.Error().Err(err).Str("title", title).Msg("Failed to send alert")
		return err
	}
	return nil
}
