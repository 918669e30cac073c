// Package auth owns the client session: the bearer token and user every request and the event channel
// authenticate with, and the refresh cookie the backend issues out-of-band.
//
// [Store] is the single writer of the session. The gateway reads it on every request and writes it only
// on refresh and forced logout; the login flow writes it through [Store.Set].
package auth

import (
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
	"golang.org/x/oauth2"
)

// Session is the authenticated identity of this client.
type Session struct {
	Token *oauth2.Token
	User  *models.User
}

// Authenticated reports whether the session carries an access token.
func (s Session) Authenticated() bool {
	return s.Token != nil && s.Token.AccessToken != ""
}

// AccessToken returns the bearer token or "".
func (s Session) AccessToken() string {
	if s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

// UserID returns the id of the session user or "".
func (s Session) UserID() string {
	if s.User == nil {
		return ""
	}
	return s.User.ID
}

// Persister stores the session across process restarts.
type Persister interface {
	SaveSession(Session) error
	ClearSession() error
}

// StoreOptions configures a [Store].
type StoreOptions struct {
	Persister Persister
	Logger    *log.Logger
}

// Store holds the process-wide session. Reads are safe from any goroutine.
type Store struct {
	mu        sync.RWMutex
	session   Session
	persister Persister
	logger    *log.Logger

	listenersMu sync.Mutex
	listeners   map[int]func(Session)
	nextID      int
}

// NewStore creates an empty store.
func NewStore(opts StoreOptions) *Store {
	return &Store{
		persister: opts.Persister,
		logger:    shared.ComponentLogger(opts.Logger, "auth"),
		listeners: make(map[int]func(Session)),
	}
}

// Restore seeds the store with a previously persisted session without writing it back.
func (s *Store) Restore(session Session) {
	s.mu.Lock()
	s.session = copySession(session)
	s.mu.Unlock()
}

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySession(s.session)
}

// AccessToken returns the current bearer token or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken()
}

// Attach sets the Authorization header on req from the current session and returns the token it used.
func (s *Store) Attach(req *http.Request) string {
	s.mu.RLock()
	token := s.session.Token
	s.mu.RUnlock()

	if token == nil || token.AccessToken == "" {
		req.Header.Del("Authorization")
		return ""
	}
	token.SetAuthHeader(req)
	return token.AccessToken
}

// Set replaces the session, persists it and notifies listeners.
// The in-memory value is replaced even when persisting fails.
func (s *Store) Set(session Session) error {
	s.mu.Lock()
	s.session = copySession(session)
	s.mu.Unlock()

	var err error
	if s.persister != nil {
		if err = s.persister.SaveSession(session); err != nil {
			s.logger.Warn("failed to persist session", "error", err)
		}
	}
	s.notify(session)
	return err
}

// Clear drops the session (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	s.session = Session{}
	s.mu.Unlock()

	var err error
	if s.persister != nil {
		if err = s.persister.ClearSession(); err != nil {
			s.logger.Warn("failed to clear persisted session", "error", err)
		}
	}
	s.notify(Session{})
	return err
}

// OnChange registers fn to run after every Set and Clear. The returned func unregisters it.
func (s *Store) OnChange(fn func(Session)) func() {
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

func (s *Store) notify(session Session) {
	s.listenersMu.Lock()
	fns := make([]func(Session), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(copySession(session))
	}
}

func copySession(s Session) Session {
	out := Session{}
	if s.Token != nil {
		t := *s.Token
		out.Token = &t
	}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
