package refresh

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/freekieb7/formlink/internal/grant"
	"golang.org/x/oauth2"
)

// Exchanger trades a grant's refresh token for a new access token.
type Exchanger interface {
	Refresh(ctx context.Context, g grant.Grant) (*oauth2.Token, error)
}

// OAuth2Exchanger talks to the provider token endpoint with an explicit client.
type OAuth2Exchanger struct {
	Config *oauth2.Config
	Client *http.Client
}

func NewOAuth2Exchanger(cfg *oauth2.Config, client *http.Client) *OAuth2Exchanger {
	return &OAuth2Exchanger{
		Config: cfg,
		Client: client,
	}
}

func (e *OAuth2Exchanger) Refresh(ctx context.Context, g grant.Grant) (*oauth2.Token, error) {
	if g.RefreshToken == nil {
		return nil, grant.ErrGrantNotRefreshable
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.Client)

	// An empty access token makes the source refresh straight away
	token, err := e.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: *g.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			return nil, fmt.Errorf("provider rejected refresh (%s): %w", retrieveErr.ErrorCode, err)
		}
		return nil, err
	}
	return token, nil
}
