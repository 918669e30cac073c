// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// Emission is one frame recorded by [FakeChannel].
type Emission struct {
	Event   string
	Payload any
}

type fakeHandler struct {
	id int
	fn realtime.Handler
}

// FakeChannel is an in-memory [realtime.Channel]. Inbound frames are injected with [FakeChannel.Deliver]
// and pass through the same decode table as the websocket manager.
type FakeChannel struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string][]fakeHandler
	listeners []func(realtime.State)
	rooms     map[string]int
	joins     []string
	emitted   []Emission
	nextID    int

	// EmitErr, when set, is returned by every Emit after the connectivity check.
	EmitErr error
}

var _ realtime.Channel = (*FakeChannel)(nil)

func NewFakeChannel(connected bool) *FakeChannel {
	return &FakeChannel{
		connected: connected,
		handlers:  make(map[string][]fakeHandler),
		rooms:     make(map[string]int),
	}
}

func (f *FakeChannel) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("%w: cannot emit %s", shared.ErrNotConnected, event)
	}
	if !realtime.Known(event) {
		return fmt.Errorf("%w: %s", shared.ErrUnknownEvent, event)
	}
	if f.EmitErr != nil {
		return f.EmitErr
	}
	f.emitted = append(f.emitted, Emission{Event: event, Payload: payload})
	return nil
}

func (f *FakeChannel) On(event string, h realtime.Handler) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.handlers[event] = append(f.handlers[event], fakeHandler{id: id, fn: h})
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handlers[event] = slices.DeleteFunc(f.handlers[event], func(h fakeHandler) bool { return h.id == id })
	}
}

func (f *FakeChannel) Join(productionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms[productionID]++
	if f.rooms[productionID] == 1 {
		f.joins = append(f.joins, productionID)
	}
	return nil
}

func (f *FakeChannel) Leave(productionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rooms[productionID] > 1 {
		f.rooms[productionID]--
		return nil
	}
	delete(f.rooms, productionID)
	return nil
}

func (f *FakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeChannel) OnStateChange(fn func(realtime.State)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	idx := len(f.listeners) - 1
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.listeners[idx] = nil
		f.mu.Unlock()
	}
}

// SetConnected flips the connection and notifies state listeners.
func (f *FakeChannel) SetConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()

	state := realtime.Disconnected
	if connected {
		state = realtime.Connected
	}
	for _, fn := range listeners {
		if fn != nil {
			fn(state)
		}
	}
}

// Deliver encodes payload as JSON, decodes it through the event table and runs the handlers for event.
func (f *FakeChannel) Deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode %s payload: %v", event, err)
	}
	decoded, err := realtime.Decode(event, data)
	if err != nil {
		t.Fatalf("failed to decode %s payload: %v", event, err)
	}

	f.mu.Lock()
	subs := slices.Clone(f.handlers[event])
	f.mu.Unlock()

	for _, h := range subs {
		h.fn(event, decoded)
	}
}

// Emitted returns the recorded emissions of event, or all of them when event is "".
func (f *FakeChannel) Emitted(event string) []Emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Emission
	for _, e := range f.emitted {
		if event == "" || e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Handlers returns the number of handlers registered for event.
func (f *FakeChannel) Handlers(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event])
}

// Rooms returns the joined rooms, sorted.
func (f *FakeChannel) Rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.rooms))
}

// Joins returns every production id a join was recorded for, in order.
func (f *FakeChannel) Joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.joins)
}

// FakeClock is a settable time source.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// JSONHandler responds with v wrapped in a data envelope.
func JSONHandler(t *testing.T, status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if v == nil {
			return
		}
		if err := json.NewEncoder(w).Encode(map[string]any{"data": v}); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
