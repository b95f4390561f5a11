package tokenstore

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrel-proxy/relaygate/internal/model"
)

// OAuthRefresher is the reference Refresher backed by golang.org/x/oauth2,
// grounded on the teacher's Google OAuth2 login flow
// (internal/auth/gemini/gemini_auth.go uses the same oauth2.Config /
// oauth2.Token shapes for the authorization-code side of this exchange).
type OAuthRefresher struct {
	Config *oauth2.Config
}

// Refresh exchanges cred's refresh token for a new access token via the
// configured OAuth2 token endpoint.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred model.TokenCredential) (model.TokenCredential, error) {
	if r.Config == nil {
		return model.TokenCredential{}, fmt.Errorf("tokenstore: oauth refresher has no config")
	}
	src := r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return model.TokenCredential{}, fmt.Errorf("tokenstore: oauth2 token refresh: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		// Some providers omit refresh_token on rotation responses; keep the
		// previous one rather than losing the ability to refresh again.
		refreshToken = cred.RefreshToken
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(time.Hour)
	}

	return model.TokenCredential{
		AccountID:    cred.AccountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		ProjectID:    cred.ProjectID,
	}, nil
}
