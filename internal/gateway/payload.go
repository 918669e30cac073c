package gateway

import (
	"time"

	"github.com/desertthunder/cuedeck/internal/auth"
	"github.com/desertthunder/cuedeck/internal/models"
	"golang.org/x/oauth2"
)

// AuthPayload is the body of login and refresh responses.
type AuthPayload struct {
	AccessToken string       `json:"accessToken"`
	ExpiresIn   int64        `json:"expiresIn,omitempty"`
	User        *models.User `json:"user,omitempty"`
}

// Session converts the payload into a session issued at now.
func (p AuthPayload) Session(now time.Time) auth.Session {
	token := &oauth2.Token{AccessToken: p.AccessToken, TokenType: "Bearer"}
	if p.ExpiresIn > 0 {
		token.Expiry = now.Add(time.Duration(p.ExpiresIn) * time.Second)
	}
	return auth.Session{Token: token, User: p.User}
}
