package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	defaultMinBackoff   = 500 * time.Millisecond
	defaultMaxBackoff   = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// State is the connection state of a [Manager].
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives a decoded inbound payload together with its event name.
type Handler func(event string, payload any)

// Subscriber registers handlers for inbound events.
type Subscriber interface {
	On(event string, h Handler) func()
}

// Channel is the surface the presence, production, intercom and chat components consume.
type Channel interface {
	Subscriber
	Emit(event string, payload any) error
	Join(productionID string) error
	Leave(productionID string) error
	IsConnected() bool
	OnStateChange(fn func(State)) func()
}

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	AccessToken() string
}

// Options configures a [Manager].
type Options struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3000/ws.
	URL string
	// Tokens is read on every dial so a refreshed session is used on the next connect.
	Tokens TokenSource
	// Dialer defaults to [websocket.DefaultDialer].
	Dialer       *websocket.Dialer
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	WriteTimeout time.Duration
	Logger       *log.Logger
}

type subscription struct {
	id int
	fn Handler
}

// Manager maintains the event channel connection. It implements [Channel].
type Manager struct {
	url          string
	tokens       TokenSource
	dialer       *websocket.Dialer
	minBackoff   time.Duration
	maxBackoff   time.Duration
	writeTimeout time.Duration
	logger       *log.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	// rooms counts the holders of each joined production room.
	rooms map[string]int

	writeMu sync.Mutex

	handlersMu     sync.RWMutex
	handlers       map[string][]subscription
	stateListeners []subscription
	nextID         int

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

var _ Channel = (*Manager)(nil)

// New creates a manager. Call [Manager.Start] to connect.
func New(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("%w: event channel URL is required", shared.ErrInvalidConfig)
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	minBackoff := opts.MinBackoff
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	maxBackoff := opts.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	return &Manager{
		url:          opts.URL,
		tokens:       opts.Tokens,
		dialer:       dialer,
		minBackoff:   minBackoff,
		maxBackoff:   maxBackoff,
		writeTimeout: writeTimeout,
		logger:       shared.ComponentLogger(opts.Logger, "realtime"),
		rooms:        make(map[string]int),
		handlers:     make(map[string][]subscription),
	}, nil
}

// Start launches the connection loop. It returns immediately; calling it twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.run(ctx)
	}()
}

// Close stops the connection loop and waits for it to exit. Rooms and handlers are kept.
func (m *Manager) Close() {
	m.lifecycleMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the channel is up.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Rooms returns the joined production ids, sorted.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.rooms))
}

// Join takes a hold on the room of productionID. The first hold sends the join message now when
// connected, otherwise on the next connect. Every Join must be paired with a [Manager.Leave].
func (m *Manager) Join(productionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rooms[productionID]++
	if m.rooms[productionID] > 1 || m.state != Connected {
		return nil
	}
	m.logger.Info("joining room", "production", productionID)
	return m.write(m.conn, EventJoin, RoomPayload{Scope{ProductionID: productionID}})
}

// Leave releases a hold taken by [Manager.Join]. The room is left when its last holder releases it.
func (m *Manager) Leave(productionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	holders, ok := m.rooms[productionID]
	if !ok {
		return nil
	}
	if holders > 1 {
		m.rooms[productionID] = holders - 1
		return nil
	}
	delete(m.rooms, productionID)

	if m.state != Connected {
		return nil
	}
	m.logger.Info("leaving room", "production", productionID)
	return m.write(m.conn, EventLeave, RoomPayload{Scope{ProductionID: productionID}})
}

// Emit sends event with payload. There is no offline queue: it fails with [shared.ErrNotConnected]
// while the channel is down.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("%w: cannot emit %s", shared.ErrNotConnected, event)
	}
	return m.write(conn, event, payload)
}

// On registers h for event. The returned func unregisters it.
func (m *Manager) On(event string, h Handler) func() {
	m.handlersMu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[event] = append(m.handlers[event], subscription{id: id, fn: h})
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		defer m.handlersMu.Unlock()
		m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(s subscription) bool { return s.id == id })
		if len(m.handlers[event]) == 0 {
			delete(m.handlers, event)
		}
	}
}

// Off removes every handler registered for event.
func (m *Manager) Off(event string) {
	m.handlersMu.Lock()
	delete(m.handlers, event)
	m.handlersMu.Unlock()
}

// OnStateChange registers fn to run on every state transition. The returned func unregisters it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.handlersMu.Lock()
	id := m.nextID
	m.nextID++
	m.stateListeners = append(m.stateListeners, subscription{id: id, fn: func(_ string, v any) { fn(v.(State)) }})
	m.handlersMu.Unlock()

	return func() {
		m.handlersMu.Lock()
		m.stateListeners = slices.DeleteFunc(m.stateListeners, func(s subscription) bool { return s.id == id })
		m.handlersMu.Unlock()
	}
}

// Subscribe registers fn for event, delivering only payloads of type T.
func Subscribe[T any](s Subscriber, event string, fn func(T)) func() {
	return s.On(event, func(_ string, payload any) {
		if v, ok := payload.(T); ok {
			fn(v)
		}
	})
}

func (m *Manager) run(ctx context.Context) {
	backoff := m.minBackoff

	for {
		if ctx.Err() != nil {
			m.setState(Disconnected, nil)
			return
		}

		m.setState(Connecting, nil)
		conn, err := m.dial(ctx)
		if err != nil {
			m.setState(Disconnected, nil)
			m.logger.Warn("event channel dial failed", "error", err, "retry", backoff)
			if sleepWithContext(ctx, backoff) != nil {
				return
			}
			backoff = nextBackoff(backoff, m.maxBackoff)
			continue
		}

		backoff = m.minBackoff
		m.logger.Info("event channel connected", "url", m.url)
		m.setState(Connected, conn)

		err = m.serve(ctx, conn)
		m.setState(Disconnected, nil)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("event channel disconnected", "error", err, "retry", backoff)
		if sleepWithContext(ctx, backoff) != nil {
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if m.tokens != nil {
		if token := m.tokens.AccessToken(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// serve reads frames until the connection fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.logger.Warn("dropping malformed frame", "error", err)
		return
	}

	payload, err := Decode(frame.Event, frame.Data)
	if err != nil {
		m.logger.Debug("dropping frame", "event", frame.Event, "error", err)
		return
	}

	m.handlersMu.RLock()
	subs := slices.Clone(m.handlers[frame.Event])
	m.handlersMu.RUnlock()

	m.logger.Debug("event", "name", frame.Event, "handlers", len(subs))
	for _, s := range subs {
		s.fn(frame.Event, payload)
	}
}

// setState records the transition and notifies listeners. Entering Connected rejoins every room
// before any listener runs.
func (m *Manager) setState(state State, conn *websocket.Conn) {
	m.mu.Lock()
	if m.state == state && m.conn == conn {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.conn = conn

	if state == Connected {
		for _, id := range slices.Sorted(maps.Keys(m.rooms)) {
			if err := m.write(conn, EventJoin, RoomPayload{Scope{ProductionID: id}}); err != nil {
				m.logger.Warn("failed to rejoin room", "production", id, "error", err)
			}
		}
	}
	m.mu.Unlock()

	m.handlersMu.RLock()
	listeners := slices.Clone(m.stateListeners)
	m.handlersMu.RUnlock()

	for _, l := range listeners {
		l.fn("", state)
	}
}

func (m *Manager) write(conn *websocket.Conn, event string, payload any) error {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNotConnected, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNotConnected, err)
	}
	return nil
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
