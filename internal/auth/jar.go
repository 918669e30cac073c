package auth

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// CookiePersister stores backend cookies (the refresh credential) across process restarts.
type CookiePersister interface {
	SaveCookies(cookies []*http.Cookie) error
	LoadCookies() ([]*http.Cookie, error)
	ClearCookies() error
}

// Jar is an [http.CookieJar] that mirrors cookies set by the backend into a [CookiePersister].
type Jar struct {
	mu        sync.RWMutex
	jar       *cookiejar.Jar
	base      *url.URL
	persister CookiePersister
}

// NewJar creates a jar scoped to baseURL and seeds it with persisted cookies.
func NewJar(baseURL string, persister CookiePersister) (*Jar, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	j := &Jar{jar: inner, base: base, persister: persister}
	if persister != nil {
		cookies, err := persister.LoadCookies()
		if err != nil {
			return nil, fmt.Errorf("failed to load cookies: %w", err)
		}
		if len(cookies) > 0 {
			inner.SetCookies(base, cookies)
		}
	}

	return j, nil
}

// SetCookies implements [http.CookieJar].
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	j.jar.SetCookies(u, cookies)
	j.mu.RUnlock()

	if j.persister != nil && len(cookies) > 0 {
		// Persistence failures leave the in-memory jar authoritative for this process.
		_ = j.persister.SaveCookies(cookies)
	}
}

// Cookies implements [http.CookieJar].
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Clear forgets every cookie, in memory and persisted.
func (j *Jar) Clear() error {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}

	j.mu.Lock()
	j.jar = inner
	j.mu.Unlock()

	if j.persister != nil {
		return j.persister.ClearCookies()
	}
	return nil
}
