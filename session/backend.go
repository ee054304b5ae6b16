package session

import (
	"context"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/token"
)

// Grant is the result of a successful sign-in exchange.
type Grant struct {
	Identity     credentials.Identity
	AccessToken  string
	RefreshToken string
	// IDToken is optional; verified when the controller has an IDTokenVerifier.
	IDToken string
}

// RefreshResult is the result of a successful refresh exchange. RefreshToken
// is empty unless the backend rotated it.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
}

// Backend performs the credential exchanges. Implementations return
// autherrors.ErrInvalidCredentials for a rejected sign-in and a
// *autherrors.TransportError when the backend could not be reached.
type Backend interface {
	SignIn(ctx context.Context, username, password string) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// IDTokenVerifier checks the ID token returned by sign-in.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*token.IDClaims, error)
}
