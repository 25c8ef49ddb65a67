// Package auth implements Google OAuth2 sign-in and the session cookie
// that carries the signed-in user's identity.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// googleUserinfoURL is the endpoint that resolves an access token to a
// profile. Overridable in tests.
const googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Profile is the portion of the Google userinfo response the backend
// keeps: external ID, email, name, avatar.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleProvider wraps golang.org/x/oauth2 for the Google authorization
// code flow.
type GoogleProvider struct {
	config      *oauth2.Config
	userinfoURL string
}

// NewGoogleProvider creates a GoogleProvider with the given credentials.
// redirectURL must match the authorized redirect URI configured in the
// Google console exactly.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userinfoURL: googleUserinfoURL,
	}
}

// AuthURL returns the Google consent page URL for the given CSRF state.
func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades the authorization code for a Google profile: the code is
// exchanged server-to-server for an access token, then the token resolves
// the userinfo endpoint.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, errExchange := p.config.Exchange(ctx, code)
	if errExchange != nil {
		return nil, fmt.Errorf("auth: exchange code: %w", errExchange)
	}

	client := p.config.Client(ctx, token)
	resp, errGet := client.Get(p.userinfoURL)
	if errGet != nil {
		return nil, fmt.Errorf("auth: fetch userinfo: %w", errGet)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: userinfo returned status %d", resp.StatusCode)
	}

	var profile Profile
	if errDecode := json.NewDecoder(resp.Body).Decode(&profile); errDecode != nil {
		return nil, fmt.Errorf("auth: decode userinfo: %w", errDecode)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("auth: userinfo returned empty id")
	}
	return &profile, nil
}
