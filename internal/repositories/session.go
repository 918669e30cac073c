package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/models"
	"golang.org/x/oauth2"
)

// SessionRepository persists the session and its cookies.
type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionRepository creates a new [SessionRepository] with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: time.Now}
}

var (
	_ auth.Persister       = (*SessionRepository)(nil)
	_ auth.CookiePersister = (*SessionRepository)(nil)
)

// SaveSession replaces the stored session. An unauthenticated session clears it.
func (r *SessionRepository) SaveSession(session auth.Session) error {
	if !session.Authenticated() {
		return r.ClearSession()
	}

	var userJSON any
	if session.User != nil {
		data, err := json.Marshal(session.User)
		if err != nil {
			return fmt.Errorf("failed to encode user: %w", err)
		}
		userJSON = string(data)
	}

	var expiresAt any
	if !session.Token.Expiry.IsZero() {
		expiresAt = session.Token.Expiry.UTC()
	}

	tokenType := session.Token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	query := `
		INSERT INTO sessions (id, access_token, token_type, expires_at, user_json, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			token_type = excluded.token_type,
			expires_at = excluded.expires_at,
			user_json = excluded.user_json,
			updated_at = excluded.updated_at
	`

	if _, err := r.db.Exec(query, session.Token.AccessToken, tokenType, expiresAt, userJSON, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSession returns the stored session, or an empty one when none is stored.
func (r *SessionRepository) LoadSession() (auth.Session, error) {
	query := `SELECT access_token, token_type, expires_at, user_json FROM sessions WHERE id = 1`

	var (
		accessToken string
		tokenType   string
		expiresAt   sql.NullTime
		userJSON    sql.NullString
	)

	err := r.db.QueryRow(query).Scan(&accessToken, &tokenType, &expiresAt, &userJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, nil
	}
	if err != nil {
		return auth.Session{}, fmt.Errorf("failed to query session: %w", err)
	}

	session := auth.Session{Token: &oauth2.Token{AccessToken: accessToken, TokenType: tokenType}}
	if expiresAt.Valid {
		session.Token.Expiry = expiresAt.Time
	}
	if userJSON.Valid && userJSON.String != "" {
		var user models.User
		if err := json.Unmarshal([]byte(userJSON.String), &user); err != nil {
			return auth.Session{}, fmt.Errorf("failed to decode user: %w", err)
		}
		session.User = &user
	}

	return session, nil
}

// ClearSession removes the stored session.
func (r *SessionRepository) ClearSession() error {
	if _, err := r.db.Exec(`DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// SaveCookies upserts cookies by name and path. Expired or deleted cookies are removed.
func (r *SessionRepository) SaveCookies(cookies []*http.Cookie) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := r.now()
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}

		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			if _, err := tx.Exec(`DELETE FROM session_cookies WHERE name = ? AND path = ?`, c.Name, path); err != nil {
				return fmt.Errorf("failed to delete cookie %s: %w", c.Name, err)
			}
			continue
		}

		var expiresAt any
		switch {
		case c.MaxAge > 0:
			expiresAt = now.Add(time.Duration(c.MaxAge) * time.Second).UTC()
		case !c.Expires.IsZero():
			expiresAt = c.Expires.UTC()
		}

		query := `
			INSERT INTO session_cookies (name, path, value, expires_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(name, path) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		`
		if _, err := tx.Exec(query, c.Name, path, c.Value, expiresAt); err != nil {
			return fmt.Errorf("failed to save cookie %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cookies: %w", err)
	}
	return nil
}

// LoadCookies returns the unexpired stored cookies.
func (r *SessionRepository) LoadCookies() ([]*http.Cookie, error) {
	rows, err := r.db.Query(`SELECT name, path, value, expires_at FROM session_cookies ORDER BY name, path`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cookies: %w", err)
	}
	defer rows.Close()

	now := r.now()
	var cookies []*http.Cookie
	for rows.Next() {
		var (
			c         http.Cookie
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&c.Name, &c.Path, &c.Value, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan cookie: %w", err)
		}
		if expiresAt.Valid {
			if expiresAt.Time.Before(now) {
				continue
			}
			c.Expires = expiresAt.Time
		}
		cookies = append(cookies, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return cookies, nil
}

// ClearCookies removes every stored cookie.
func (r *SessionRepository) ClearCookies() error {
	if _, err := r.db.Exec(`DELETE FROM session_cookies`); err != nil {
		return fmt.Errorf("failed to clear cookies: %w", err)
	}
	return nil
}
