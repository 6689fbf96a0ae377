package secrets

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// OAuthRefresherConfig describes one provider's refresh-token grant.
type OAuthRefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	RefreshToken string
}

// OAuthRefresher wraps an oauth2.TokenSource scoped to one provider's
// refresh-token grant, used when provider.AuthModeOAuth's stored token has
// expired by the time a step tries to invoke it.
type OAuthRefresher struct {
	source oauth2.TokenSource
}

// NewOAuthRefresher builds a refresher around cfg's refresh-token grant.
func NewOAuthRefresher(ctx context.Context, cfg OAuthRefresherConfig) *OAuthRefresher {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		Scopes:       cfg.Scopes,
	}
	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	return &OAuthRefresher{source: oauthConfig.TokenSource(ctx, token)}
}

// AccessToken returns a currently-valid access token, transparently
// refreshing via the stored refresh token when the cached one has expired.
func (r *OAuthRefresher) AccessToken() (string, error) {
	token, err := r.source.Token()
	if err != nil {
		return "", fmt.Errorf("secrets: oauth token refresh failed: %w", err)
	}
	return token.AccessToken, nil
}
