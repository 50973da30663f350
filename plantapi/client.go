// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package plantapi is the HTTP client for the plant dashboard API. It covers
// authentication, the project/asset/sensor catalog, historical sensor data,
// incidents and the server-sent event stream used for live readings.
package plantapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/pkg/metrics"
)

const (
	// DefaultBaseURL is where the dashboard API listens in a stock install.
	DefaultBaseURL = "http://localhost:5000"

	// DefaultTimeout bounds every REST round trip.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 64 << 10
)

// TokenStore holds the bearer credential attached to requests.
type TokenStore interface {
	Token() string
	Set(token string)
	Clear()
}

// BreakerSettings configures the circuit breaker wrapped around REST calls.
type BreakerSettings struct {
	FailureThreshold uint32        // consecutive failures before opening
	OpenTimeout      time.Duration // time spent open before a trial request
	HalfOpenRequests uint32        // requests allowed through while half-open
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	LiveBaseURL string // defaults to BaseURL
	Timeout     time.Duration
	Tokens      TokenStore
	Breaker     *BreakerSettings // nil disables the breaker

	// HTTPClient replaces both the REST and streaming clients when set.
	HTTPClient *http.Client
}

// Client talks to the plant dashboard API.
type Client struct {
	baseURL     string
	liveBaseURL string
	rest        *http.Client
	stream      *http.Client
	tokens      TokenStore
	breaker     *gobreaker.CircuitBreaker
}

// New creates a client. Base URLs must be absolute http or https URLs.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.LiveBaseURL == "" {
		opts.LiveBaseURL = opts.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	base, err := normalizeBase("base_url", opts.BaseURL)
	if err != nil {
		return nil, err
	}
	live, err := normalizeBase("live_base_url", opts.LiveBaseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:     base,
		liveBaseURL: live,
		tokens:      opts.Tokens,
	}

	if opts.HTTPClient != nil {
		c.rest = opts.HTTPClient
		c.stream = opts.HTTPClient
	} else {
		c.rest = &http.Client{Timeout: opts.Timeout}
		// Streams stay open indefinitely, so only the header wait is bounded.
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = opts.Timeout
		c.stream = &http.Client{Transport: transport}
	}

	if opts.Breaker != nil {
		c.breaker = newBreaker(*opts.Breaker)
	}

	return c, nil
}

// BaseURL returns the REST base URL in use.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// LiveBaseURL returns the base URL used for live streams.
func (c *Client) LiveBaseURL() string {
	return c.liveBaseURL
}

func normalizeBase(field, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", apperrors.NewInvalidArgumentError(field, raw, err.Error())
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperrors.NewInvalidArgumentError(field, raw, "scheme must be http or https")
	}
	if u.Host == "" {
		return "", apperrors.NewInvalidArgumentError(field, raw, "host is required")
	}
	return strings.TrimRight(raw, "/"), nil
}

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker {
	threshold := s.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := s.OpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	halfOpen := s.HalfOpenRequests
	if halfOpen == 0 {
		halfOpen = 1
	}

	metrics.CircuitBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "plant-api",
		MaxRequests: halfOpen,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.CircuitBreakerState.Set(breakerStateValue(to))
		},
	})
}

// countsAsSuccess keeps client-side failures (4xx, cancellations) from
// tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	code := apperrors.StatusCode(err)
	return code != 0 && code < http.StatusInternalServerError
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// endpoint joins base and an already-escaped path, appending query if any.
func endpoint(base, path string, query url.Values) string {
	u := base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs a JSON request through the breaker and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	call := func() (any, error) {
		return nil, c.roundTrip(ctx, op, method, path, query, body, out)
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(call)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = apperrors.NewRequestError(op, 0, apperrors.ErrCircuitBreakerOpen.Error(), apperrors.ErrCircuitBreakerOpen)
		}
	} else {
		_, err = call()
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
		logger.Debug().Err(err).Str("op", op).Str("path", path).Msg("Plant API request failed")
	}
	metrics.APIRequestsTotal.WithLabelValues(op, outcome).Inc()
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.NewRequestError(op, 0, "", fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint(c.baseURL, path, query), reader)
	if err != nil {
		return apperrors.NewRequestError(op, 0, "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.rest.Do(req)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		}
		return apperrors.NewRequestError(op, 0, "", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewRequestError(op, 0, "", fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// failure builds a RequestError from a non-2xx response, taking the
// server's "message" field verbatim when present.
func failure(op string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)

	return apperrors.NewRequestError(op, resp.StatusCode, body.Message,
		fmt.Errorf("unexpected status %s", resp.Status))
}
