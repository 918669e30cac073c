// Package chat keeps the message log, typing indicators and unread counter of a production chat.
package chat

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/realtime"
	"github.com/desertthunder/cuedeck/internal/shared"
	"golang.org/x/time/rate"
)

const (
	defaultTypingIdle     = 3 * time.Second
	defaultTypingThrottle = 2 * time.Second
	defaultHistoryLimit   = 100
)

// HistorySource fetches past messages over HTTP.
type HistorySource interface {
	ChatHistory(ctx context.Context, productionID string, limit int) ([]models.ChatMessage, error)
}

type Options struct {
	ProductionID string
	User         models.User
	Channel      realtime.Channel
	History      HistorySource
	// TypingIdle is how long a typing indicator lives without a refresh.
	TypingIdle time.Duration
	// TypingThrottle is the minimum gap between outgoing typing indicators.
	TypingThrottle time.Duration
	// HistoryLimit bounds the kept message log.
	HistoryLimit int
	Now          func() time.Time
	Logger       *log.Logger
}

type typist struct {
	name    string
	expires time.Time
	timer   *time.Timer
}

// State is the chat of one production as seen by this client.
type State struct {
	productionID string
	self         models.User
	ch           realtime.Channel
	history      HistorySource
	idle         time.Duration
	limit        int
	limiter      *rate.Limiter
	now          func() time.Time
	logger       *log.Logger

	mu       sync.Mutex
	messages []models.ChatMessage
	seen     map[string]struct{}
	typing   map[string]*typist
	unread   int
	focused  bool
	closed   bool

	listenersMu sync.Mutex
	listeners   map[int]func()
	nextID      int

	unsubs []func()
}

// New creates a chat state subscribed to the production's chat events.
func New(opts Options) (*State, error) {
	if opts.ProductionID == "" {
		return nil, fmt.Errorf("%w: production id is required", shared.ErrMissingArgument)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	idle := opts.TypingIdle
	if idle <= 0 {
		idle = defaultTypingIdle
	}
	throttle := opts.TypingThrottle
	if throttle <= 0 {
		throttle = defaultTypingThrottle
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	s := &State{
		productionID: opts.ProductionID,
		self:         opts.User,
		ch:           opts.Channel,
		history:      opts.History,
		idle:         idle,
		limit:        limit,
		limiter:      rate.NewLimiter(rate.Every(throttle), 1),
		now:          now,
		logger:       shared.ComponentLogger(opts.Logger, "chat").With("production", opts.ProductionID),
		seen:         make(map[string]struct{}),
		typing:       make(map[string]*typist),
		listeners:    make(map[int]func()),
	}

	s.unsubs = append(s.unsubs,
		realtime.Subscribe(opts.Channel, realtime.EventChatMessage, s.handleMessage),
		realtime.Subscribe(opts.Channel, realtime.EventChatTyping, s.handleTyping),
	)
	return s, nil
}

// Close unsubscribes from the channel and cancels every pending typing expiry.
func (s *State) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.mu.Lock()
	s.closed = true
	for _, t := range s.typing {
		t.timer.Stop()
	}
	clear(s.typing)
	s.mu.Unlock()
}

// LoadHistory replaces the message log with the most recent messages from the backend.
func (s *State) LoadHistory(ctx context.Context) error {
	if s.history == nil {
		return fmt.Errorf("%w: no chat history source", shared.ErrMissingConfig)
	}

	msgs, err := s.history.ChatHistory(ctx, s.productionID, s.limit)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	s.mu.Lock()
	s.messages = s.messages[:0]
	clear(s.seen)
	for _, m := range msgs {
		s.appendLocked(m)
	}
	s.mu.Unlock()

	s.logger.Debug("chat history loaded", "messages", len(msgs))
	s.notify()
	return nil
}

// Send emits a message. It appears in the log when the server echoes it back.
func (s *State) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: message is empty", shared.ErrInvalidInput)
	}

	return s.ch.Emit(realtime.EventChatSend, realtime.ChatPayload{
		ChatMessage: models.ChatMessage{
			ProductionID: s.productionID,
			UserID:       s.self.ID,
			UserName:     s.self.Name,
			Message:      text,
		},
		ClientID: shared.GenerateID(),
	})
}

// Typing announces that this user is typing. Calls inside the throttle window are dropped and
// report false.
func (s *State) Typing() (bool, error) {
	if !s.limiter.AllowN(s.now(), 1) {
		return false, nil
	}
	if err := s.ch.Emit(realtime.EventChatTyping, s.typingPayload(true)); err != nil {
		return false, err
	}
	return true, nil
}

// StopTyping clears this user's indicator on other clients.
func (s *State) StopTyping() error {
	return s.ch.Emit(realtime.EventChatTyping, s.typingPayload(false))
}

func (s *State) typingPayload(typing bool) realtime.TypingPayload {
	return realtime.TypingPayload{
		Scope:    realtime.Scope{ProductionID: s.productionID},
		UserID:   s.self.ID,
		UserName: s.self.Name,
		IsTyping: typing,
	}
}

// Messages returns the message log, oldest first.
func (s *State) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

// TypingUsers returns userId -> display name for every unexpired indicator.
func (s *State) TypingUsers() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]string, len(s.typing))
	for id, t := range s.typing {
		if now.Before(t.expires) {
			out[id] = t.name
		}
	}
	return out
}

// Unread returns the number of messages from others received while unfocused.
func (s *State) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// SetFocused marks the chat surface as visible. While focused the unread counter stays at zero.
func (s *State) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	changed := focused && s.unread != 0
	if focused {
		s.unread = 0
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// OnChange registers fn to run after the log, typing map or unread counter change.
func (s *State) OnChange(fn func()) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *State) handleMessage(p realtime.ChatPayload) {
	if p.Production() != s.productionID {
		return
	}

	msg := p.ChatMessage
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	s.mu.Lock()
	if !s.appendLocked(msg) {
		s.mu.Unlock()
		return
	}
	if msg.UserID != s.self.ID && !s.focused {
		s.unread++
	}
	if t, ok := s.typing[msg.UserID]; ok {
		t.timer.Stop()
		delete(s.typing, msg.UserID)
	}
	s.mu.Unlock()

	s.notify()
}

// appendLocked adds m unless its id was already seen, trimming the log to the limit.
func (s *State) appendLocked(m models.ChatMessage) bool {
	if m.ID != "" {
		if _, dup := s.seen[m.ID]; dup {
			return false
		}
		s.seen[m.ID] = struct{}{}
	}

	s.messages = append(s.messages, m)
	if over := len(s.messages) - s.limit; over > 0 {
		for _, old := range s.messages[:over] {
			delete(s.seen, old.ID)
		}
		s.messages = slices.Delete(s.messages, 0, over)
	}
	return true
}

func (s *State) handleTyping(p realtime.TypingPayload) {
	if p.Production() != s.productionID || p.UserID == "" || p.UserID == s.self.ID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, ok := s.typing[p.UserID]; ok {
		t.timer.Stop()
		delete(s.typing, p.UserID)
	}
	if p.IsTyping {
		userID := p.UserID
		t := &typist{name: p.UserName, expires: s.now().Add(s.idle)}
		t.timer = time.AfterFunc(s.idle, func() { s.expire(userID, t) })
		s.typing[userID] = t
	}
	s.mu.Unlock()

	s.notify()
}

func (s *State) expire(userID string, t *typist) {
	s.mu.Lock()
	current, ok := s.typing[userID]
	if !ok || current != t {
		s.mu.Unlock()
		return
	}
	delete(s.typing, userID)
	s.mu.Unlock()

	s.notify()
}

func (s *State) notify() {
	s.listenersMu.Lock()
	fns := slices.Collect(maps.Values(s.listeners))
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
