package session

import (
	"github.com/jrsteele09/go-auth-client/autherrors"
	"golang.org/x/oauth2"
)

// TokenSource exposes the live access credential as an oauth2.TokenSource.
// It never triggers a refresh; recovery from a rejected credential belongs
// to the transport.
func (c *Controller) TokenSource() oauth2.TokenSource {
	return controllerTokenSource{c: c}
}

type controllerTokenSource struct {
	c *Controller
}

func (s controllerTokenSource) Token() (*oauth2.Token, error) {
	current := s.c.CurrentCredential()
	if current == "" {
		return nil, autherrors.ErrNotAuthenticated
	}
	tok := &oauth2.Token{
		AccessToken: current,
		TokenType:   "Bearer",
	}
	if exp, ok := s.c.AccessTokenExpiry(); ok {
		tok.Expiry = exp
	}
	return tok, nil
}
