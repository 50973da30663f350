// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package errors provides structured error types for the plant sensor feed client.
//
// The types map onto how a feed reacts to a failure:
//
//   - TransportError: the live connection dropped; the feed reconnects.
//   - MalformedPayloadError: one event was unusable; it is dropped and the
//     connection stays open.
//   - RequestError: a REST call came back non-2xx or failed outright; the
//     message is shown to the user as-is and the request is not retried.
//   - InvalidArgumentError: the caller asked for something impossible; no
//     network action is taken.
//
// # Example Usage
//
//	err := errors.NewRequestError("fetch history", 503, "Sensor offline", nil)
//	if errors.IsRequestError(err) {
//	    state.LastError = errors.Message(err) // "Sensor offline"
//	}
package errors

import (
	"errors"
	"fmt"
)

// DefaultRequestMessage is reported when a failed response carries no message.
const DefaultRequestMessage = "An error occurred"

// TransportError represents a failure of the live event transport.
type TransportError struct {
	Op       string // Operation being performed (e.g., "connect", "read stream")
	SensorID string // Sensor whose feed failed (if applicable)
	Err      error  // Underlying error
}

func (e *TransportError) Error() string {
	if e.SensorID != "" {
		return fmt.Sprintf("transport %s (sensor=%s): %v", e.Op, e.SensorID, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s failed", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a new transport error.
func NewTransportError(op string, sensorID string, err error) *TransportError {
	return &TransportError{Op: op, SensorID: sensorID, Err: err}
}

// IsTransportError checks if an error is a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// MalformedPayloadError represents an inbound event that could not be decoded.
type MalformedPayloadError struct {
	SensorID string // Sensor the event arrived on
	Payload  string // Raw payload, truncated for logging
	Err      error  // Decode failure
}

func (e *MalformedPayloadError) Error() string {
	if e.SensorID != "" {
		return fmt.Sprintf("malformed payload (sensor=%s) %q: %v", e.SensorID, e.Payload, e.Err)
	}
	return fmt.Sprintf("malformed payload %q: %v", e.Payload, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// NewMalformedPayloadError creates a new malformed payload error. Payloads
// longer than 256 bytes are truncated.
func NewMalformedPayloadError(sensorID string, payload []byte, err error) *MalformedPayloadError {
	const maxPayload = 256
	p := string(payload)
	if len(p) > maxPayload {
		p = p[:maxPayload] + "..."
	}
	return &MalformedPayloadError{SensorID: sensorID, Payload: p, Err: err}
}

// IsMalformedPayloadError checks if an error is a MalformedPayloadError.
func IsMalformedPayloadError(err error) bool {
	var me *MalformedPayloadError
	return errors.As(err, &me)
}

// RequestError represents a REST request that failed or returned a non-2xx status.
type RequestError struct {
	Op         string // Operation being performed (e.g., "fetch history", "login")
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // Message for the user, taken verbatim from the response body
	Err        error  // Underlying error (optional)
}

func (e *RequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s (status=%d): %s", e.Op, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("request %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("request %s: %s", e.Op, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new request error. An empty message falls back to
// DefaultRequestMessage when a status code is present, or to the underlying
// error text otherwise.
func NewRequestError(op string, statusCode int, message string, err error) *RequestError {
	if message == "" {
		switch {
		case statusCode != 0 || err == nil:
			message = DefaultRequestMessage
		default:
			message = err.Error()
		}
	}
	return &RequestError{Op: op, StatusCode: statusCode, Message: message, Err: err}
}

// IsRequestError checks if an error is a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// StatusCode returns the HTTP status carried by a RequestError, or 0.
func StatusCode(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// InvalidArgumentError represents a caller error detected before any network action.
type InvalidArgumentError struct {
	Field  string // Argument that failed validation
	Value  any    // Offending value
	Reason string // Why validation failed
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument: %s %q: %s", e.Field, fmt.Sprint(e.Value), e.Reason)
}

// NewInvalidArgumentError creates a new invalid argument error.
func NewInvalidArgumentError(field string, value any, reason string) *InvalidArgumentError {
	return &InvalidArgumentError{Field: field, Value: value, Reason: reason}
}

// IsInvalidArgumentError checks if an error is an InvalidArgumentError.
func IsInvalidArgumentError(err error) bool {
	var ie *InvalidArgumentError
	return errors.As(err, &ie)
}

// DiscoveryError represents an error while locating the plant API.
type DiscoveryError struct {
	Op  string // Operation being performed (e.g., "mDNS browse")
	Err error  // Underlying error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discovery %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("discovery %s failed", e.Op)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// NewDiscoveryError creates a new discovery error.
func NewDiscoveryError(op string, err error) *DiscoveryError {
	return &DiscoveryError{Op: op, Err: err}
}

// IsDiscoveryError checks if an error is a DiscoveryError.
func IsDiscoveryError(err error) bool {
	var de *DiscoveryError
	return errors.As(err, &de)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field string // Configuration field that caused the error
	Value string // Invalid value (optional, may be redacted for sensitive fields)
	Err   error  // Underlying error or description
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("config error in field %q (value=%q): %v", e.Field, e.Value, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("config error in field %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config error in field %q", e.Field)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new configuration error.
func NewConfigError(field string, value string, err error) *ConfigError {
	return &ConfigError{Field: field, Value: value, Err: err}
}

// IsConfigError checks if an error is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// NotificationError represents an error sending notifications.
type NotificationError struct {
	Type string // Notification type (e.g., "slack")
	Err  error  // Underlying error
}

func (e *NotificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notification %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("notification %s failed", e.Type)
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// NewNotificationError creates a new notification error.
func NewNotificationError(notifType string, err error) *NotificationError {
	return &NotificationError{Type: notifType, Err: err}
}

// IsNotificationError checks if an error is a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// Message returns the text a user should see for err. Request failures
// surface the server's message untouched; everything else uses Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

// Sentinel errors for common conditions
var (
	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("operation timeout")

	// ErrIdleTimeout indicates a live stream went quiet for longer than allowed
	ErrIdleTimeout = errors.New("no events received within idle timeout")

	// ErrStreamEnded indicates the server closed a live stream
	ErrStreamEnded = errors.New("stream ended by server")

	// ErrSubscriptionClosed indicates the subscription was closed or superseded
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrClientClosed indicates the feed client has been shut down
	ErrClientClosed = errors.New("feed client closed")

	// ErrCircuitBreakerOpen indicates the circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrSensorNotFound indicates no subscription exists for a sensor
	ErrSensorNotFound = errors.New("sensor not found")
)
