package token

import (
	"context"
	"crypto"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// IDClaims are the identity claims read from a verified ID token.
type IDClaims struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	OrgUnit string `json:"org_unit"`
	Nonce   string `json:"nonce"`
}

// OIDCVerifier checks ID tokens returned alongside a sign-in.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewRemoteOIDCVerifier verifies against the issuer's published JWKS.
func NewRemoteOIDCVerifier(ctx context.Context, issuer, clientID, jwksURL string) (*OIDCVerifier, error) {
	if issuer == "" || clientID == "" || jwksURL == "" {
		return nil, errors.New("[NewRemoteOIDCVerifier] issuer, clientID and jwksURL are required")
	}
	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID, Now: NowTimeFunc}),
	}, nil
}

// NewStaticOIDCVerifier verifies against a fixed set of public keys.
func NewStaticOIDCVerifier(issuer, clientID string, keys ...crypto.PublicKey) (*OIDCVerifier, error) {
	if issuer == "" || clientID == "" || len(keys) == 0 {
		return nil, errors.New("[NewStaticOIDCVerifier] issuer, clientID and at least one key are required")
	}
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID, Now: NowTimeFunc}),
	}, nil
}

// Verify checks the signature, issuer, audience and expiry of rawIDToken and
// returns its identity claims.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (*IDClaims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[OIDCVerifier.Verify] %w", err)
	}
	var claims IDClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[OIDCVerifier.Verify] claims: %w", err)
	}
	claims.Subject = idToken.Subject
	return &claims, nil
}
