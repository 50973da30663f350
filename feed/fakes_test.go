// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// sampleAt returns the i-th sample of a one-per-second test series.
func sampleAt(i int) Sample {
	return Sample{Timestamp: baseTime.Add(time.Duration(i) * time.Second), Value: float64(i)}
}

func payloadAt(i int) []byte {
	s := sampleAt(i)
	return []byte(fmt.Sprintf(`{"timestamp":%q,"value":%v}`, s.Timestamp.Format(time.RFC3339Nano), s.Value))
}

// fakeConn is one live connection handed out by fakeLive. Tests drive it
// by calling open/send and end it with drop.
type fakeConn struct {
	sensorID string
	ctx      context.Context
	onOpen   func()
	onEvent  func(Event)
	drop     chan error
	ended    chan struct{}
}

func (c *fakeConn) open() { c.onOpen() }

func (c *fakeConn) send(payload []byte) { c.onEvent(Event{Data: payload}) }

func (c *fakeConn) comment() { c.onEvent(Event{Comment: true}) }

func (c *fakeConn) fail(err error) {
	c.drop <- err
	<-c.ended
}

type fakeLive struct {
	mu    sync.Mutex
	conns []*fakeConn
	next  chan *fakeConn
}

func newFakeLive() *fakeLive {
	return &fakeLive{next: make(chan *fakeConn, 64)}
}

func (f *fakeLive) Stream(ctx context.Context, sensorID string, onOpen func(), onEvent func(Event)) error {
	c := &fakeConn{
		sensorID: sensorID,
		ctx:      ctx,
		onOpen:   onOpen,
		onEvent:  onEvent,
		drop:     make(chan error, 1),
		ended:    make(chan struct{}),
	}
	defer close(c.ended)

	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	f.next <- c

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.drop:
		return err
	}
}

func (f *fakeLive) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// await returns the next connection or fails the test.
func (f *fakeLive) await(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-f.next:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live connection")
		return nil
	}
}

type historyCall struct {
	sensorID string
	mode     Mode
}

type fakeHistory struct {
	mu    sync.Mutex
	calls []historyCall
	fn    func(ctx context.Context, sensorID string, mode Mode) ([]Sample, error)
}

func (f *fakeHistory) FetchHistory(ctx context.Context, sensorID string, mode Mode) ([]Sample, error) {
	f.mu.Lock()
	f.calls = append(f.calls, historyCall{sensorID: sensorID, mode: mode})
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, sensorID, mode)
}

func (f *fakeHistory) setFn(fn func(ctx context.Context, sensorID string, mode Mode) ([]Sample, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
}

func (f *fakeHistory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeHistory) lastCall() historyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func returning(samples []Sample, err error) func(context.Context, string, Mode) ([]Sample, error) {
	return func(context.Context, string, Mode) ([]Sample, error) {
		return samples, err
	}
}

type notification struct {
	kind     string
	sensorID string
	failures int
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notification
}

func (n *fakeNotifier) SendFeedDown(_ context.Context, sensorID string, failures int, _ error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: "down", sensorID: sensorID, failures: failures})
	return nil
}

func (n *fakeNotifier) SendFeedRecovered(_ context.Context, sensorID string, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: "recovered", sensorID: sensorID})
	return nil
}

func (n *fakeNotifier) IsEnabled() bool { return true }

func (n *fakeNotifier) sent() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.events...)
}

// statusRecorder collects every status a watcher observes.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
	done     chan struct{}
}

func recordStatuses(ch <-chan State) *statusRecorder {
	r := &statusRecorder{done: make(chan struct{})}
	go func() {
		defer close(r.done)
		for st := range ch {
			r.mu.Lock()
			if n := len(r.statuses); n == 0 || r.statuses[n-1] != st.Status {
				r.statuses = append(r.statuses, st.Status)
			}
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *statusRecorder) seen() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}
