// Package token reads the credentials the backend issues. Access tokens are
// opaque to the client as far as authorisation goes; the claims are only
// decoded for display and diagnostics. ID tokens can be verified against the
// issuer's keys.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/internal/utils"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// ErrNotJWT is returned when a credential is not a decodable JWT.
var ErrNotJWT = errors.New("credential is not a JWT")

// Introspection is what can be read from an access token without verifying
// its signature. Never use it for an authorisation decision.
type Introspection struct {
	Subject   string
	Issuer    string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// Expired reports whether the exp claim is in the past. A token without an
// exp claim never expires by this measure.
func (i *Introspection) Expired() bool {
	if i.ExpiresAt.IsZero() {
		return false
	}
	return NowTimeFunc().After(i.ExpiresAt)
}

// Inspect decodes the claims of rawToken without verifying it.
func Inspect(rawToken string) (*Introspection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrNotJWT
	}

	unverified, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}
	claims, ok := unverified.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	out := &Introspection{}
	out.Subject, _ = claims["sub"].(string)
	out.Issuer, _ = claims["iss"].(string)
	out.ID, _ = claims["jti"].(string)

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if claimRoles, ok := claims["roles"].([]any); ok {
		out.Roles = utils.ToStringSlice(claimRoles)
	}
	return out, nil
}
