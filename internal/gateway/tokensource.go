package gateway

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var errNoSession = errors.New("no session")

type tokenSource struct {
	ctx         context.Context
	coordinator *Coordinator
}

// TokenSource exposes the coordinated access token to oauth2 aware clients
// Every Token call goes through EnsureFresh, so the token is never cached outside the store
func (c *Coordinator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &tokenSource{ctx: ctx, coordinator: c}
}

func (ts *tokenSource) Token() (*oauth2.Token, error) {
	access, err := ts.coordinator.freshAccess(ts.ctx)
	if err != nil {
		return nil, err
	}
	if access.Value == "" {
		return nil, errNoSession
	}

	return &oauth2.Token{
		AccessToken: access.Value,
		TokenType:   "Bearer",
		Expiry:      access.ExpiresAt,
	}, nil
}
