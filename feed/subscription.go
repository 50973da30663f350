// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "github.com/soothill/plant-feed/pkg/errors"
	"github.com/soothill/plant-feed/pkg/logger"
	"github.com/soothill/plant-feed/pkg/metrics"
)

const (
	watchBufferSize = 16
	notifyTimeout   = 10 * time.Second
)

// Subscription owns the feed for one sensor: its transport, its series and
// its status. Every transport it starts is tagged with the generation that
// was current at the time; callbacks carrying an older generation are
// dropped, so a closed or replaced transport can never touch the state.
type Subscription struct {
	sensorID string
	opts     Options
	history  HistorySource
	live     LiveSource
	log      zerolog.Logger

	// lifecycle serializes start and stop. Transport callbacks never take
	// it, so a teardown can wait for its goroutine while holding it.
	lifecycle sync.Mutex
	notifyWG  sync.WaitGroup

	mu        sync.Mutex
	gen       uint64
	mode      Mode
	hasMode   bool
	retired   bool
	buf       *Buffer
	status    Status
	lastErr   string
	updatedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	backoff   backoff.BackOff
	failures  int
	downSince time.Time
	alerted   bool
	watchers  map[string]chan State
}

func newSubscription(sensorID string, opts Options, history HistorySource, live LiveSource) *Subscription {
	return &Subscription{
		sensorID:  sensorID,
		opts:      opts,
		history:   history,
		live:      live,
		log:       logger.ForSensor(sensorID),
		buf:       NewBuffer(opts.BufferSize),
		status:    StatusIdle,
		updatedAt: time.Now(),
		watchers:  make(map[string]chan State),
	}
}

// SensorID returns the sensor this subscription follows.
func (s *Subscription) SensorID() string {
	return s.sensorID
}

// State returns a snapshot of the feed.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Watch returns a channel that receives the current state immediately and
// every state after it. A watcher that falls behind skips intermediate
// states but always gets the newest. The channel is closed when the
// subscription closes or cancel is called. Received states share their
// Series and must not be modified.
func (s *Subscription) Watch() (<-chan State, func()) {
	id := uuid.NewString()
	ch := make(chan State, watchBufferSize)

	s.mu.Lock()
	ch <- s.snapshotLocked()
	if s.retired {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.watchers[id] = ch
	s.mu.Unlock()

	s.log.Debug().Str("watcher_id", id).Msg("Watcher attached")

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// start tears down whatever transport is running and starts a new one for
// mode. It returns ErrSubscriptionClosed if the subscription was stopped.
func (s *Subscription) start(ctx context.Context, mode Mode) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	retired := s.retired
	s.mu.Unlock()
	if retired {
		return apperrors.ErrSubscriptionClosed
	}

	s.teardown()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasMode || !s.mode.sameKind(mode) {
		if mode.Live {
			s.buf = NewBuffer(s.opts.BufferSize)
		} else {
			s.buf = NewBuffer(0)
		}
	}
	s.mode = mode
	s.hasMode = true
	s.status = StatusConnecting
	s.lastErr = ""
	s.failures = 0
	s.downSince = time.Time{}
	s.alerted = false

	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	s.log.Info().Str("mode", mode.String()).Uint64("generation", gen).Msg("Opening sensor feed")

	if mode.Live {
		s.backoff = s.opts.Reconnect.newBackOff()
		go s.runLive(runCtx, gen, done)
	} else {
		s.backoff = nil
		go s.runHistory(runCtx, gen, mode, done)
	}

	s.touchLocked()
	s.publishLocked()
	return nil
}

// teardown invalidates the current generation, cancels its transport and
// waits for the transport goroutine to exit. Callers hold lifecycle.
func (s *Subscription) teardown() {
	s.mu.Lock()
	s.gen++
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// stop closes the subscription for good. It is safe to call more than once.
func (s *Subscription) stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.teardown()
	s.notifyWG.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = true
	s.status = StatusClosed
	s.lastErr = ""
	s.touchLocked()
	s.publishLocked()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.log.Info().Msg("Sensor feed closed")
}

// current returns the active mode, if any.
func (s *Subscription) current() (Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode, s.hasMode && !s.retired
}

func (s *Subscription) runHistory(ctx context.Context, gen uint64, mode Mode, done chan struct{}) {
	defer close(done)

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.HistoryTimeout)
	defer cancel()

	start := time.Now()
	samples, err := s.history.FetchHistory(reqCtx, s.sensorID, mode)
	metrics.HistoryRequestDuration.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		s.finish(gen)
		return
	}
	if err != nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded) && !apperrors.IsRequestError(err) {
		err = fmt.Errorf("%w: no response within %s", apperrors.ErrTimeout, s.opts.HistoryTimeout)
	}
	s.handleHistory(gen, samples, err)
}

func (s *Subscription) handleHistory(gen uint64, samples []Sample, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		metrics.StaleEventsDiscarded.Inc()
		return
	}

	if err != nil {
		metrics.HistoryRequestsTotal.WithLabelValues("failure").Inc()
		s.status = StatusError
		s.lastErr = apperrors.Message(err)
		s.log.Warn().Err(err).Str("mode", s.mode.String()).Msg("Historical request failed")
	} else {
		metrics.HistoryRequestsTotal.WithLabelValues("success").Inc()
		s.buf.Replace(samples)
		s.status = StatusOpen
		s.lastErr = ""
		s.log.Debug().Int("samples", len(samples)).Str("mode", s.mode.String()).Msg("Historical series loaded")
	}
	s.touchLocked()
	s.publishLocked()
}

func (s *Subscription) runLive(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	for {
		err := s.connect(ctx, gen)
		if ctx.Err() != nil {
			s.finish(gen)
			return
		}

		delay, ok := s.handleTransportError(gen, err)
		if !ok {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(gen)
			return
		case <-timer.C:
		}

		if !s.handleReconnecting(gen) {
			return
		}
	}
}

// connect runs one live connection until it fails. A connection that
// delivers nothing for IdleTimeout is cancelled and reported as a
// transport error.
func (s *Subscription) connect(ctx context.Context, gen uint64) error {
	connCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// ended retires this connection's callbacks once Stream returns, so a
	// late event from an earlier attempt cannot reach a later one.
	var ended atomic.Bool
	idle := s.opts.IdleTimeout
	var watchdog *time.Timer
	if idle > 0 {
		watchdog = time.AfterFunc(idle, func() { cancel(apperrors.ErrIdleTimeout) })
	}
	alive := func() bool {
		if ended.Load() {
			metrics.StaleEventsDiscarded.Inc()
			return false
		}
		if watchdog != nil {
			watchdog.Reset(idle)
		}
		return true
	}

	err := s.live.Stream(connCtx, s.sensorID,
		func() {
			if alive() {
				s.handleOpen(gen)
			}
		},
		func(ev Event) {
			if alive() {
				s.handleEvent(gen, ev)
			}
		},
	)
	ended.Store(true)
	if watchdog != nil {
		watchdog.Stop()
	}

	if ctx.Err() == nil && errors.Is(context.Cause(connCtx), apperrors.ErrIdleTimeout) {
		return apperrors.NewTransportError("idle", s.sensorID, fmt.Errorf("%w (%s)", apperrors.ErrIdleTimeout, idle))
	}
	if err == nil {
		err = apperrors.ErrStreamEnded
	}
	if !apperrors.IsTransportError(err) {
		err = apperrors.NewTransportError("stream", s.sensorID, err)
	}
	return err
}

func (s *Subscription) handleOpen(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		metrics.StaleEventsDiscarded.Inc()
		return
	}

	if s.alerted && s.opts.Notifier != nil {
		downtime := time.Since(s.downSince)
		s.notifyAsync(func(ctx context.Context) error {
			return s.opts.Notifier.SendFeedRecovered(ctx, s.sensorID, downtime)
		})
	}
	if s.backoff != nil {
		s.backoff.Reset()
	}
	s.failures = 0
	s.downSince = time.Time{}
	s.alerted = false
	s.status = StatusOpen
	s.lastErr = ""
	s.touchLocked()
	s.publishLocked()
	s.log.Info().Uint64("generation", gen).Msg("Live feed open")
}

func (s *Subscription) handleEvent(gen uint64, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		metrics.StaleEventsDiscarded.Inc()
		return
	}
	if ev.Comment {
		return
	}

	sample, kind, err := Classify(s.sensorID, ev.Data)
	switch kind {
	case EventControl:
		metrics.ControlEventsTotal.Inc()
		return
	case EventMalformed:
		metrics.MalformedPayloadsTotal.Inc()
		s.log.Warn().Err(err).Msg("Dropping malformed live payload")
		return
	}

	s.buf.Push(sample)
	metrics.SamplesTotal.WithLabelValues(s.sensorID).Inc()
	metrics.LastValue.WithLabelValues(s.sensorID).Set(sample.Value)

	if s.status == StatusConnecting {
		s.status = StatusOpen
		s.lastErr = ""
	}
	s.touchLocked()
	s.publishLocked()
}

// handleTransportError records a failed live connection and returns how
// long to wait before reconnecting. ok is false if gen is no longer current.
func (s *Subscription) handleTransportError(gen uint64, err error) (delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return 0, false
	}

	metrics.TransportErrorsTotal.Inc()
	s.failures++
	if s.downSince.IsZero() {
		s.downSince = time.Now()
	}
	s.status = StatusError
	s.lastErr = ReconnectingMessage
	s.touchLocked()
	s.publishLocked()

	delay = s.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = s.opts.Reconnect.InitialDelay
	}

	s.log.Warn().Err(err).Int("failures", s.failures).Dur("retry_in", delay).Msg("Live feed connection lost")

	n := s.opts.Notifier
	if n != nil && n.IsEnabled() && s.opts.AlertAfter > 0 && s.failures >= s.opts.AlertAfter && !s.alerted {
		s.alerted = true
		failures := s.failures
		s.notifyAsync(func(ctx context.Context) error {
			return n.SendFeedDown(ctx, s.sensorID, failures, err)
		})
	}
	return delay, true
}

func (s *Subscription) handleReconnecting(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return false
	}
	metrics.ReconnectsTotal.Inc()
	s.status = StatusConnecting
	s.touchLocked()
	s.publishLocked()
	s.log.Debug().Int("attempt", s.failures+1).Msg("Reconnecting live feed")
	return true
}

// finish marks the feed closed when its context ended without a teardown,
// e.g. because the parent context passed to Open was cancelled.
func (s *Subscription) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.retired {
		return
	}
	s.status = StatusClosed
	s.touchLocked()
	s.publishLocked()
}

func (s *Subscription) notifyAsync(send func(ctx context.Context) error) {
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := send(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to send feed notification")
		}
	}()
}

func (s *Subscription) touchLocked() {
	s.updatedAt = time.Now()
}

func (s *Subscription) snapshotLocked() State {
	return State{
		SensorID:   s.sensorID,
		Mode:       s.mode,
		Series:     s.buf.Samples(),
		Status:     s.status,
		LastError:  s.lastErr,
		Generation: s.gen,
		UpdatedAt:  s.updatedAt,
	}
}

func (s *Subscription) publishLocked() {
	if len(s.watchers) == 0 {
		return
	}
	st := s.snapshotLocked()
	for _, ch := range s.watchers {
		select {
		case ch <- st:
			continue
		default:
		}
		// Full: drop the oldest queued state so the newest gets through.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}
