package keys

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer signs claims and verifies tokens it issued.
type Signer interface {
	Sign(claims jwt.MapClaims) (string, error)
	Parse(raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error)
	JWKS() (*JWKS, error)
}

// KeyPairSigner implements Signer with a single RS256 key pair.
type KeyPairSigner struct {
	keyPair *KeyPair
}

func NewKeyPairSigner(keyPair *KeyPair) *KeyPairSigner {
	return &KeyPairSigner{
		keyPair: keyPair,
	}
}

func (s *KeyPairSigner) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(s.keyPair.SigningMethod(), claims)
	token.Header["kid"] = s.keyPair.KeyID

	signedToken, err := token.SignedString(s.keyPair.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token with asymmetric key: %w", err)
	}
	return signedToken, nil
}

// Parse verifies raw against the key pair and returns its claims. Expiry is
// enforced by the parser.
func (s *KeyPairSigner) Parse(raw string, opts ...jwt.ParserOption) (jwt.MapClaims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{RS256}))
	parsed, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.keyPair.PublicKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// JWKS returns the public key as a JSON Web Key Set
func (s *KeyPairSigner) JWKS() (*JWKS, error) {
	jwk, err := s.keyPair.ToJWK()
	if err != nil {
		return nil, fmt.Errorf("failed to convert key to JWK: %w", err)
	}

	return &JWKS{
		Keys: []JWK{*jwk},
	}, nil
}

// PublicKey returns the verification key.
func (s *KeyPairSigner) PublicKey() any {
	return s.keyPair.PublicKey
}
