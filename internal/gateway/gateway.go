package gateway

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
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/shared"
)

const (
	LoginPath   = "/auth/login"
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"

	defaultRefreshTimeout = 15 * time.Second
)

// Options configures a [Gateway].
type Options struct {
	// BaseURL is prefixed to every request path.
	BaseURL string
	// HTTPClient is used for all requests. It should carry the cookie jar holding the refresh
	// credential. Defaults to [http.DefaultClient].
	HTTPClient *http.Client
	// Store is the session the gateway authenticates with. Required.
	Store *auth.Store
	// RefreshTimeout bounds a single refresh call. Defaults to 15s.
	RefreshTimeout time.Duration
	Logger         *log.Logger
}

// Gateway performs authenticated HTTP calls against the backend.
type Gateway struct {
	baseURL        string
	httpClient     *http.Client
	store          *auth.Store
	refreshTimeout time.Duration
	logger         *log.Logger

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
	// expiredToken is the token whose refresh failed; expired stays set until a refresh succeeds.
	expired      bool
	expiredToken string

	hooksMu  sync.Mutex
	onLogout []func()
}

type refreshResult struct {
	token string
	err   error
}

// New creates a gateway for the backend at opts.BaseURL.
func New(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: gateway requires a session store", shared.ErrInvalidConfig)
	}
	if _, err := url.Parse(opts.BaseURL); err != nil || opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", shared.ErrInvalidConfig, opts.BaseURL)
	}

	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}

	return &Gateway{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     client,
		store:          opts.Store,
		refreshTimeout: timeout,
		logger:         shared.ComponentLogger(opts.Logger, "gateway"),
	}, nil
}

// Store returns the session store the gateway authenticates with.
func (g *Gateway) Store() *auth.Store {
	return g.store
}

// OnLogout registers fn to run after a failed refresh has cleared the session.
func (g *Gateway) OnLogout(fn func()) {
	g.hooksMu.Lock()
	g.onLogout = append(g.onLogout, fn)
	g.hooksMu.Unlock()
}

// Get performs a GET request and decodes the unwrapped payload into result.
func (g *Gateway) Get(ctx context.Context, path string, result any) error {
	return g.Do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request with a JSON body.
func (g *Gateway) Post(ctx context.Context, path string, body, result any) error {
	return g.Do(ctx, http.MethodPost, path, body, result)
}

// Put performs a PUT request with a JSON body.
func (g *Gateway) Put(ctx context.Context, path string, body, result any) error {
	return g.Do(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request.
func (g *Gateway) Delete(ctx context.Context, path string, result any) error {
	return g.Do(ctx, http.MethodDelete, path, nil, result)
}

// Do performs an authenticated request. body is JSON-encoded when non-nil; result, when non-nil,
// receives the unwrapped response payload.
func (g *Gateway) Do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &APIError{Message: fmt.Sprintf("failed to encode request body: %v", err), Err: err}
		}
		payload = encoded
	}

	raw, err := g.send(ctx, method, path, payload)
	if err != nil {
		return err
	}

	if result == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &APIError{Message: fmt.Sprintf("failed to decode response: %v", err), Err: err}
	}
	return nil
}

// send runs the request, handling a 401 with one refresh-and-replay.
func (g *Gateway) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	status, body, tokenUsed, err := g.roundTrip(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized && !isAuthPath(path) {
		g.logger.Debug("unauthorized, awaiting token", "method", method, "path", path)
		if _, err := g.awaitToken(ctx, tokenUsed); err != nil {
			return nil, err
		}
		status, body, _, err = g.roundTrip(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, normalizeError(status, body)
	}

	return unwrap(body), nil
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, payload []byte) (int, []byte, string, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, "", &APIError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	tokenUsed := ""
	if !isAuthPath(path) || path == LogoutPath {
		tokenUsed = g.store.Attach(req)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, tokenUsed, &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, tokenUsed, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read response: %v", err), Err: err}
	}

	g.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode)
	return resp.StatusCode, body, tokenUsed, nil
}

// awaitToken returns a token to replay a request that was rejected while sent with tokenUsed.
//
// If the session already moved past tokenUsed (a refresh completed while the request was in flight)
// the current token is returned immediately. Otherwise the caller starts a refresh or, if one is in
// flight, parks until it settles. Once a refresh has failed, requests sent with that token or with no
// token at all are rejected without refreshing again until the session changes.
func (g *Gateway) awaitToken(ctx context.Context, tokenUsed string) (string, error) {
	g.mu.Lock()
	if !g.refreshing {
		current := g.store.AccessToken()
		if current != "" && current != tokenUsed {
			g.mu.Unlock()
			return current, nil
		}
		if g.expired && (current == "" || tokenUsed == g.expiredToken) {
			g.mu.Unlock()
			g.logger.Debug("session already expired, skipping refresh")
			return "", sessionExpired(errors.New("refresh already failed for this session"))
		}
	}

	if g.refreshing {
		ch := make(chan refreshResult, 1)
		g.waiters = append(g.waiters, ch)
		g.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", &APIError{Message: ctx.Err().Error(), Err: ctx.Err()}
		}
	}

	g.refreshing = true
	g.mu.Unlock()

	token, err := g.refresh(ctx)

	g.mu.Lock()
	waiters := g.waiters
	g.waiters = nil
	g.refreshing = false
	g.expired = err != nil
	g.expiredToken = ""
	if err != nil {
		g.expiredToken = tokenUsed
	}
	g.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}

	return token, err
}

// refresh performs the single in-flight refresh call. It outlives the triggering request's context so
// that a cancelled caller does not fail every parked request.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	defer cancel()

	g.logger.Info("refreshing session")

	status, body, _, err := g.roundTrip(ctx, http.MethodPost, RefreshPath, nil)
	if err == nil && (status < 200 || status >= 300) {
		err = normalizeError(status, body)
	}

	var payload AuthPayload
	if err == nil {
		if decodeErr := json.Unmarshal(unwrap(body), &payload); decodeErr != nil {
			err = decodeErr
		} else if payload.AccessToken == "" {
			err = fmt.Errorf("refresh response carried no access token")
		}
	}

	if err != nil {
		g.logger.Warn("session refresh failed, logging out", "error", err)
		g.forceLogout()
		return "", sessionExpired(err)
	}

	session := payload.Session(time.Now())
	if session.User == nil {
		session.User = g.store.Current().User
	}
	// The in-memory session is replaced even if persisting it fails.
	if err := g.store.Set(session); err != nil {
		g.logger.Warn("refreshed session was not persisted", "error", err)
	}

	g.logger.Info("session refreshed", "expires", session.Token.Expiry)
	return session.Token.AccessToken, nil
}

func (g *Gateway) forceLogout() {
	if err := g.store.Clear(); err != nil {
		g.logger.Warn("persisted session was not cleared", "error", err)
	}

	g.hooksMu.Lock()
	hooks := append([]func(){}, g.onLogout...)
	g.hooksMu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

func sessionExpired(err error) error {
	return &APIError{
		StatusCode: http.StatusUnauthorized,
		Message:    "session expired, please log in again",
		Err:        fmt.Errorf("%w: %w", shared.ErrSessionExpired, err),
	}
}

func isAuthPath(path string) bool {
	p, _, _ := strings.Cut(path, "?")
	return p == LoginPath || p == RefreshPath || p == LogoutPath
}

// unwrap returns the "data" member of a JSON object envelope, or the body itself.
func unwrap(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '{' {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err == nil {
			if data, ok := envelope["data"]; ok {
				return data
			}
		}
	}

	return json.RawMessage(trimmed)
}
