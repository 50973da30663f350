// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package slacknotifier posts messages to a Slack Incoming Webhook.
//
// A notifier built with an empty webhook URL is disabled: every send is a
// no-op that returns nil, so callers never need to check before sending.
//
// # Usage
//
//	notifier := slacknotifier.New("https://hooks.slack.com/services/...",
//	    slacknotifier.WithFooter("Plant Feed Client"))
//
//	err := notifier.SendAlert(ctx, "danger", "Feed down", "S1 unreachable")
package slacknotifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
)

// DefaultFooter is stamped on alert attachments.
const DefaultFooter = "Plant Feed Client"

// Notifier sends notifications to Slack via webhook
type Notifier struct {
	mu         sync.RWMutex
	webhookURL string
	footer     string
	client     *http.Client
}

// Message represents a Slack webhook message payload
type Message struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment represents a Slack attachment
type Attachment struct {
	Color  string `json:"color,omitempty"`
	Title  string `json:"title,omitempty"`
	Text   string `json:"text,omitempty"`
	Footer string `json:"footer,omitempty"`
	Ts     int64  `json:"ts,omitempty"`
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithFooter sets the attachment footer.
func WithFooter(footer string) Option {
	return func(n *Notifier) { n.footer = footer }
}

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) { n.client = client }
}

// New creates a new Slack notifier
func New(webhookURL string, opts ...Option) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		footer:     DefaultFooter,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// IsEnabled returns whether Slack notifications are enabled
func (s *Notifier) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL != ""
}

// UpdateWebhookURL swaps the webhook, e.g. after a config reload. An empty
// URL disables the notifier.
func (s *Notifier) UpdateWebhookURL(webhookURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = webhookURL
}

// SendMessage sends a simple text message to Slack
func (s *Notifier) SendMessage(ctx context.Context, message string) error {
	return s.sendPayload(ctx, "message", Message{Text: message})
}

// SendAlert sends a color-coded attachment.
func (s *Notifier) SendAlert(ctx context.Context, severity, title, message string) error {
	s.mu.RLock()
	footer := s.footer
	s.mu.RUnlock()

	payload := Message{
		Attachments: []Attachment{
			{
				Color:  severityToColor(severity),
				Title:  title,
				Text:   message,
				Footer: footer,
				Ts:     time.Now().Unix(),
			},
		},
	}

	return s.sendPayload(ctx, "alert", payload)
}

func (s *Notifier) sendPayload(ctx context.Context, kind string, payload Message) error {
	s.mu.RLock()
	webhookURL := s.webhookURL
	s.mu.RUnlock()

	if webhookURL == "" {
		return nil
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return apperrors.NewNotificationError(kind, fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return apperrors.NewNotificationError(kind, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewNotificationError(kind, fmt.Errorf("failed to send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.NewNotificationError(kind, fmt.Errorf("slack webhook returned status %d", resp.StatusCode))
	}

	return nil
}

// severityToColor maps severity levels to Slack colors
func severityToColor(severity string) string {
	switch severity {
	case "danger", "error":
		return "danger"
	case "warning", "warn":
		return "warning"
	case "good", "success":
		return "good"
	default:
		return "#808080"
	}
}
