package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/gateway"
	"github.com/desertthunder/cuedeck/internal/models"
	"github.com/desertthunder/cuedeck/internal/shared"
	tu "github.com/desertthunder/cuedeck/internal/testing"
	"golang.org/x/oauth2"
)

func newTestGateway(t *testing.T, handler http.Handler) (*gateway.Gateway, *auth.Store) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := auth.NewStore(auth.StoreOptions{})
	gw, err := gateway.New(gateway.Options{BaseURL: server.URL, HTTPClient: server.Client(), Store: store})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return gw, store
}

func TestAuthService(t *testing.T) {
	ctx := context.Background()

	t.Run("Login stores the session", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST "+gateway.LoginPath, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("failed to decode login body: %v", err)
			}
			if body["email"] != "td@example.com" || body["password"] != "secret" {
				t.Errorf("unexpected credentials %v", body)
			}
			tu.JSONHandler(t, http.StatusOK, gateway.AuthPayload{
				AccessToken: "tok-1",
				ExpiresIn:   900,
				User:        &models.User{ID: "u1", Name: "Director"},
			})(w, r)
		})
		gw, store := newTestGateway(t, mux)

		user, err := NewAuthService(gw, store, nil, nil).Login(ctx, " td@example.com ", "secret")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.ID != "u1" {
			t.Errorf("expected user u1, got %+v", user)
		}
		if store.AccessToken() != "tok-1" || store.Current().UserID() != "u1" {
			t.Errorf("unexpected session %+v", store.Current())
		}
		if store.Current().Token.Expiry.IsZero() {
			t.Error("expected token expiry to be set")
		}
	})

	t.Run("Login failure", func(t *testing.T) {
		gw, store := newTestGateway(t, tu.JSONHandler(t, http.StatusUnauthorized, nil))

		_, err := NewAuthService(gw, store, nil, nil).Login(ctx, "td@example.com", "wrong")
		if !errors.Is(err, shared.ErrAuthFailed) {
			t.Errorf("expected ErrAuthFailed, got %v", err)
		}
		if store.Current().Authenticated() {
			t.Error("expected no session")
		}
	})

	t.Run("Login requires credentials", func(t *testing.T) {
		svc := NewAuthService(&recorder{}, auth.NewStore(auth.StoreOptions{}), nil, nil)
		if _, err := svc.Login(ctx, "", "x"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("Logout clears locally when the backend fails", func(t *testing.T) {
		gw, store := newTestGateway(t, tu.JSONHandler(t, http.StatusInternalServerError, nil))
		store.Restore(auth.Session{Token: &oauth2.Token{AccessToken: "tok-1"}})

		jar, err := auth.NewJar("http://localhost", nil)
		if err != nil {
			t.Fatalf("failed to create jar: %v", err)
		}

		if err := NewAuthService(gw, store, jar, nil).Logout(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if store.Current().Authenticated() {
			t.Error("expected session to be cleared")
		}
	})

	t.Run("Me records the user", func(t *testing.T) {
		rec := &recorder{response: models.User{ID: "u1", Name: "Director"}}
		store := auth.NewStore(auth.StoreOptions{})
		store.Restore(auth.Session{Token: &oauth2.Token{AccessToken: "tok-1"}})

		user, err := NewAuthService(rec, store, nil, nil).Me(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if user.Name != "Director" || store.Current().UserID() != "u1" {
			t.Errorf("unexpected user %+v, session %+v", user, store.Current())
		}
		if got := rec.last(t).Path; got != MePath {
			t.Errorf("expected %s, got %s", MePath, got)
		}
	})

	t.Run("Me without a session", func(t *testing.T) {
		svc := NewAuthService(&recorder{}, auth.NewStore(auth.StoreOptions{}), nil, nil)
		if _, err := svc.Me(ctx); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})
}
