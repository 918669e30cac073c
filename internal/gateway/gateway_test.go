package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
	tu "github.com/desertthunder/cuedeck/internal/testing"
	"golang.org/x/oauth2"
)

func newStore(token string) *auth.Store {
	store := auth.NewStore(auth.StoreOptions{})
	if token != "" {
		store.Restore(auth.Session{
			Token: &oauth2.Token{AccessToken: token},
			User:  &models.User{ID: "u1", Name: "Director"},
		})
	}
	return store
}

func newGateway(t *testing.T, url string, store *auth.Store) *Gateway {
	t.Helper()
	gw, err := New(Options{BaseURL: url, Store: store})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return gw
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		if _, err := New(Options{BaseURL: "http://example.com"}); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("requires a base URL", func(t *testing.T) {
		if _, err := New(Options{Store: newStore("")}); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestGatewayRequests(t *testing.T) {
	t.Run("Attaches Bearer Token And Unwraps Data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("expected bearer header, got %q", got)
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"id": "p1"}})
		}))
		defer server.Close()

		gw := newGateway(t, server.URL, newStore("tok-1"))

		var out struct {
			ID string `json:"id"`
		}
		if err := gw.Get(context.Background(), "/productions/p1", &out); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out.ID != "p1" {
			t.Errorf("expected p1, got %q", out.ID)
		}
	})

	t.Run("Bare Payloads Are Not Unwrapped", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, []string{"a", "b"})
		}))
		defer server.Close()

		gw := newGateway(t, server.URL, newStore("tok-1"))

		var out []string
		if err := gw.Get(context.Background(), "/list", &out); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(out) != 2 {
			t.Errorf("expected 2 items, got %v", out)
		}
	})

	t.Run("Sends JSON Body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
			}
			var in map[string]string
			json.NewDecoder(r.Body).Decode(&in)
			if in["name"] != "Intro rule" {
				t.Errorf("unexpected body %v", in)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		gw := newGateway(t, server.URL, newStore("tok-1"))
		var out map[string]any
		if err := gw.Post(context.Background(), "/rules", map[string]string{"name": "Intro rule"}, &out); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if out != nil {
			t.Errorf("expected empty result for 204, got %v", out)
		}
	})

	t.Run("Transport Failure", func(t *testing.T) {
		gw := newGateway(t, "http://127.0.0.1:1", newStore("tok-1"))
		err := gw.Get(context.Background(), "/x", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != 0 || apiErr.Err == nil {
			t.Errorf("expected transport error, got %+v", apiErr)
		}
	})
	t.Run("Unreadable Body", func(t *testing.T) {
		resp := &http.Response{StatusCode: http.StatusOK, Body: &tu.FCloser{}, Header: http.Header{}}
		gw, err := New(Options{
			BaseURL:    "http://backend.test",
			HTTPClient: &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)},
			Store:      newStore("tok-1"),
		})
		if err != nil {
			t.Fatalf("failed to create gateway: %v", err)
		}

		err = gw.Get(context.Background(), "/x", nil)

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if apiErr.StatusCode != http.StatusOK || apiErr.Err == nil {
			t.Errorf("expected read error with status, got %+v", apiErr)
		}
	})
}

func TestErrorNormalization(t *testing.T) {
	tt := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "message string", status: 400, body: `{"message":"Invalid rule"}`, want: "Invalid rule"},
		{name: "validation array", status: 400, body: `{"message":["name should not be empty","actions must be an array"]}`, want: "name should not be empty, actions must be an array"},
		{name: "error field", status: 404, body: `{"error":"Not Found"}`, want: "Not Found"},
		{name: "non json body", status: 502, body: `<html>bad gateway</html>`, want: "Bad Gateway"},
		{name: "empty body", status: 500, body: ``, want: "Internal Server Error"},
		{name: "unknown status", status: 599, body: ``, want: "request failed with status 599"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			gw := newGateway(t, server.URL, newStore("tok-1"))
			err := gw.Get(context.Background(), "/x", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if Message(err) != tc.want {
				t.Errorf("Message() = %q, want %q", Message(err), tc.want)
			}
			if !IsStatus(err, tc.status) {
				t.Errorf("expected status %d", tc.status)
			}
		})
	}
}

// refreshServer serves /auth/refresh and a protected /resource that accepts only the refreshed token.
type refreshServer struct {
	refreshes   atomic.Int32
	resourceHit atomic.Int32
	failRefresh bool
	alwaysDeny  bool
	delay       time.Duration
}

func (s *refreshServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		s.refreshes.Add(1)
		if r.Header.Get("Authorization") != "" {
			t.Errorf("refresh must not carry a bearer token")
		}
		time.Sleep(s.delay)
		if s.failRefresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Refresh token expired"})
			return
		}
		cookie, err := r.Cookie("refresh_token")
		if err != nil || cookie.Value != "r1" {
			t.Errorf("expected refresh cookie, got %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"accessToken": "tok-2", "expiresIn": 900}})
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		s.resourceHit.Add(1)
		if s.alwaysDeny || r.Header.Get("Authorization") != "Bearer tok-2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"token": r.Header.Get("Authorization")})
	})
	return mux
}

type failingPersister struct{}

func (failingPersister) SaveSession(auth.Session) error { return errors.New("disk full") }
func (failingPersister) ClearSession() error            { return errors.New("disk full") }

func clientWithRefreshCookie(t *testing.T, url string) *http.Client {
	t.Helper()
	jar, err := auth.NewJar(url, nil)
	if err != nil {
		t.Fatalf("failed to create jar: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	jar.SetCookies(req.URL, []*http.Cookie{{Name: "refresh_token", Value: "r1", Path: "/"}})
	return &http.Client{Jar: jar}
}

func TestGatewayRefresh(t *testing.T) {
	t.Run("Concurrent 401s Trigger A Single Refresh", func(t *testing.T) {
		rs := &refreshServer{delay: 50 * time.Millisecond}
		server := httptest.NewServer(rs.handler(t))
		defer server.Close()

		store := newStore("tok-1")
		gw, err := New(Options{BaseURL: server.URL, Store: store, HTTPClient: clientWithRefreshCookie(t, server.URL)})
		if err != nil {
			t.Fatalf("failed to create gateway: %v", err)
		}

		const n = 12
		var wg sync.WaitGroup
		errs := make(chan error, n)
		tokens := make(chan string, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				var out struct {
					Token string `json:"token"`
				}
				if err := gw.Get(context.Background(), "/resource", &out); err != nil {
					errs <- err
					return
				}
				tokens <- out.Token
			}()
		}
		wg.Wait()
		close(errs)
		close(tokens)

		for err := range errs {
			t.Errorf("unexpected error: %v", err)
		}
		for token := range tokens {
			if token != "Bearer tok-2" {
				t.Errorf("expected replay with tok-2, got %q", token)
			}
		}
		if got := rs.refreshes.Load(); got != 1 {
			t.Errorf("expected exactly 1 refresh, got %d", got)
		}
		if store.AccessToken() != "tok-2" {
			t.Errorf("expected store to hold tok-2, got %q", store.AccessToken())
		}
		if store.Current().User == nil || store.Current().User.ID != "u1" {
			t.Error("expected user to be kept when the refresh response omits it")
		}
		if store.Current().Token.Expiry.IsZero() {
			t.Error("expected expiry from expiresIn")
		}
	})

	t.Run("Failed Refresh Rejects Every Parked Request", func(t *testing.T) {
		rs := &refreshServer{failRefresh: true, delay: 50 * time.Millisecond}
		server := httptest.NewServer(rs.handler(t))
		defer server.Close()

		store := newStore("tok-1")
		gw := newGateway(t, server.URL, store)

		var logouts atomic.Int32
		gw.OnLogout(func() { logouts.Add(1) })

		const n = 8
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- gw.Get(context.Background(), "/resource", nil)
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if !errors.Is(err, shared.ErrSessionExpired) {
				t.Errorf("expected ErrSessionExpired, got %v", err)
			}
		}
		if got := rs.refreshes.Load(); got != 1 {
			t.Errorf("expected exactly 1 refresh, got %d", got)
		}
		if store.Current().Authenticated() {
			t.Error("expected session to be cleared")
		}
		if logouts.Load() != 1 {
			t.Errorf("expected 1 logout hook call, got %d", logouts.Load())
		}
	})

	t.Run("Late 401s After A Failed Refresh Do Not Refresh Again", func(t *testing.T) {
		var refreshes atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			refreshes.Add(1)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Refresh token expired"})
		})
		mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		})
		mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		store := newStore("tok-1")
		gw := newGateway(t, server.URL, store)

		var logouts atomic.Int32
		gw.OnLogout(func() { logouts.Add(1) })

		paths := []string{"/fast", "/slow", "/slow", "/slow"}
		var wg sync.WaitGroup
		errs := make(chan error, len(paths)+1)
		for _, path := range paths {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- gw.Get(context.Background(), path, nil)
			}()
		}
		wg.Wait()

		// Sent after the forced logout, without a token.
		errs <- gw.Get(context.Background(), "/fast", nil)
		close(errs)

		for err := range errs {
			if !errors.Is(err, shared.ErrSessionExpired) {
				t.Errorf("expected ErrSessionExpired, got %v", err)
			}
		}
		if got := refreshes.Load(); got != 1 {
			t.Errorf("expected exactly 1 refresh, got %d", got)
		}
		if got := logouts.Load(); got != 1 {
			t.Errorf("expected 1 logout hook call, got %d", got)
		}
	})

	t.Run("New Session Can Refresh After An Earlier Failure", func(t *testing.T) {
		var refreshes atomic.Int32
		var failRefresh atomic.Bool
		failRefresh.Store(true)
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
			refreshes.Add(1)
			if failRefresh.Load() {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Refresh token expired"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"accessToken": "tok-2"})
		})
		mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		store := newStore("tok-1")
		gw := newGateway(t, server.URL, store)

		if err := gw.Get(context.Background(), "/resource", nil); !errors.Is(err, shared.ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}

		// Signing in again yields a token the failed refresh never saw.
		failRefresh.Store(false)
		store.Restore(auth.Session{Token: &oauth2.Token{AccessToken: "tok-5"}})

		if err := gw.Get(context.Background(), "/resource", nil); err != nil {
			t.Fatalf("expected replay after refresh, got %v", err)
		}
		if got := refreshes.Load(); got != 2 {
			t.Errorf("expected 2 refreshes, got %d", got)
		}
		if store.AccessToken() != "tok-2" {
			t.Errorf("expected store to hold tok-2, got %q", store.AccessToken())
		}
	})

	t.Run("Unpersisted Refresh Is Logged", func(t *testing.T) {
		rs := &refreshServer{}
		server := httptest.NewServer(rs.handler(t))
		defer server.Close()

		logs := &bytes.Buffer{}
		store := auth.NewStore(auth.StoreOptions{Persister: failingPersister{}, Logger: shared.NewLogger(io.Discard)})
		store.Restore(auth.Session{Token: &oauth2.Token{AccessToken: "tok-1"}})
		gw, _ := New(Options{
			BaseURL:    server.URL,
			Store:      store,
			HTTPClient: clientWithRefreshCookie(t, server.URL),
			Logger:     shared.NewLogger(logs),
		})

		if err := gw.Get(context.Background(), "/resource", nil); err != nil {
			t.Fatalf("expected refresh to succeed without persistence, got %v", err)
		}
		if store.AccessToken() != "tok-2" {
			t.Errorf("expected in-memory tok-2, got %q", store.AccessToken())
		}
		if !strings.Contains(logs.String(), "refreshed session was not persisted") {
			t.Errorf("expected warning in logs, got %q", logs.String())
		}
	})

	t.Run("Retry Happens At Most Once", func(t *testing.T) {
		rs := &refreshServer{alwaysDeny: true}
		server := httptest.NewServer(rs.handler(t))
		defer server.Close()

		gw, _ := New(Options{BaseURL: server.URL, Store: newStore("tok-1"), HTTPClient: clientWithRefreshCookie(t, server.URL)})

		err := gw.Get(context.Background(), "/resource", nil)
		if !IsStatus(err, http.StatusUnauthorized) {
			t.Fatalf("expected 401 APIError, got %v", err)
		}
		if errors.Is(err, shared.ErrSessionExpired) {
			t.Error("a 401 on replay is not a refresh failure")
		}
		if rs.refreshes.Load() != 1 {
			t.Errorf("expected 1 refresh, got %d", rs.refreshes.Load())
		}
		if rs.resourceHit.Load() != 2 {
			t.Errorf("expected original + one replay, got %d", rs.resourceHit.Load())
		}
	})

	t.Run("Stale Token Replays Without Refresh", func(t *testing.T) {
		var refreshes atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/auth/refresh":
				refreshes.Add(1)
				writeJSON(w, http.StatusOK, map[string]string{"accessToken": "tok-3"})
			default:
				if r.Header.Get("Authorization") == "Bearer tok-1" {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
					return
				}
				w.WriteHeader(http.StatusOK)
			}
		}))
		defer server.Close()

		store := newStore("tok-1")
		gw := newGateway(t, server.URL, store)

		status, _, tokenUsed, err := gw.roundTrip(context.Background(), http.MethodGet, "/resource", nil)
		if err != nil || status != http.StatusUnauthorized || tokenUsed != "tok-1" {
			t.Fatalf("unexpected first attempt: %d %q %v", status, tokenUsed, err)
		}

		// A refresh completed elsewhere while the request was in flight.
		store.Restore(auth.Session{Token: &oauth2.Token{AccessToken: "tok-2"}})

		token, err := gw.awaitToken(context.Background(), tokenUsed)
		if err != nil || token != "tok-2" {
			t.Fatalf("expected current token tok-2, got %q %v", token, err)
		}
		if refreshes.Load() != 0 {
			t.Errorf("expected no refresh, got %d", refreshes.Load())
		}
	})

	t.Run("Auth Endpoints Skip Refresh", func(t *testing.T) {
		rs := &refreshServer{}
		mux := http.NewServeMux()
		mux.Handle("/auth/refresh", rs.handler(t))
		mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("login must not carry a bearer token")
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		gw := newGateway(t, server.URL, newStore("tok-1"))
		err := gw.Post(context.Background(), LoginPath, map[string]string{"email": "a@b.c"}, nil)

		if Message(err) != "Invalid credentials" {
			t.Errorf("expected login error message, got %v", err)
		}
		if rs.refreshes.Load() != 0 {
			t.Errorf("expected no refresh, got %d", rs.refreshes.Load())
		}
	})

	t.Run("Cancelled Caller Does Not Abort Refresh For Others", func(t *testing.T) {
		rs := &refreshServer{delay: 80 * time.Millisecond}
		server := httptest.NewServer(rs.handler(t))
		defer server.Close()

		store := newStore("tok-1")
		gw, _ := New(Options{BaseURL: server.URL, Store: store, HTTPClient: clientWithRefreshCookie(t, server.URL)})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- gw.Get(ctx, "/resource", nil) }()

		time.Sleep(20 * time.Millisecond)
		cancel()
		<-done

		deadline := time.Now().Add(2 * time.Second)
		for store.AccessToken() != "tok-2" && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if store.AccessToken() != "tok-2" {
			t.Errorf("expected refresh to complete, token %q", store.AccessToken())
		}
	})
}

func TestUnwrap(t *testing.T) {
	tt := []struct {
		name string
		body string
		want string
	}{
		{name: "envelope", body: `{"data":{"a":1}}`, want: `{"a":1}`},
		{name: "envelope with metadata", body: `{"success":true,"data":[1,2]}`, want: `[1,2]`},
		{name: "plain object", body: `{"a":1}`, want: `{"a":1}`},
		{name: "array", body: ` [1] `, want: `[1]`},
		{name: "empty", body: ``, want: ``},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			if got := string(unwrap([]byte(tc.body))); got != tc.want {
				t.Errorf("unwrap() = %q, want %q", got, tc.want)
			}
		})
	}
}
