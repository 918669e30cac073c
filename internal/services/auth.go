package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/gateway"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
)

// MePath returns the authenticated user.
const MePath = "/auth/me"

// AuthService runs the login flow. It is the only writer of the session besides the gateway's
// refresh and forced logout.
type AuthService struct {
	api    Requester
	store  *auth.Store
	jar    *auth.Jar
	now    func() time.Time
	logger *log.Logger
}

// NewAuthService creates an auth service. jar may be nil when the refresh cookie is not persisted.
func NewAuthService(api Requester, store *auth.Store, jar *auth.Jar, logger *log.Logger) *AuthService {
	return &AuthService{
		api:    api,
		store:  store,
		jar:    jar,
		now:    time.Now,
		logger: shared.ComponentLogger(logger, "auth"),
	}
}

// Login exchanges credentials for a session. The refresh cookie arrives out-of-band in the jar.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", shared.ErrMissingArgument)
	}

	var payload gateway.AuthPayload
	body := map[string]string{"email": email, "password": password}
	if err := s.api.Post(ctx, gateway.LoginPath, body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuthFailed, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response carried no access token", shared.ErrAuthFailed)
	}

	session := payload.Session(s.now())
	if err := s.store.Set(session); err != nil {
		s.logger.Warn("session not persisted, login lasts for this process only", "error", err)
	}

	s.logger.Info("logged in", "user", session.UserID())
	return session.User, nil
}

// Logout tells the backend to revoke the refresh credential, then clears the local session whether or
// not the call succeeded.
func (s *AuthService) Logout(ctx context.Context) error {
	var remote error
	if s.store.Current().Authenticated() {
		remote = s.api.Post(ctx, gateway.LogoutPath, nil, nil)
		if remote != nil {
			s.logger.Warn("backend logout failed", "error", remote)
		}
	}

	if err := s.store.Clear(); err != nil {
		return err
	}
	if s.jar != nil {
		if err := s.jar.Clear(); err != nil {
			return fmt.Errorf("failed to clear cookies: %w", err)
		}
	}
	return nil
}

// Me fetches the current user and records it on the session.
func (s *AuthService) Me(ctx context.Context) (*models.User, error) {
	session := s.store.Current()
	if !session.Authenticated() {
		return nil, shared.ErrNotAuthenticated
	}

	var user models.User
	if err := s.api.Get(ctx, MePath, &user); err != nil {
		return nil, err
	}

	current := s.store.Current()
	if current.AccessToken() == session.AccessToken() {
		current.User = &user
		if err := s.store.Set(current); err != nil {
			s.logger.Warn("failed to persist user", "error", err)
		}
	}
	return &user, nil
}
