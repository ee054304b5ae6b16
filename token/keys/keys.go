// Package keys holds RSA signing keys and their JWK form. The development
// backend signs with them; the client side only ever sees the public half.
package keys

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/golang-jwt/jwt/v5"
)

const RS256 = "RS256"

// KeyPair is an RSA key pair identified by KeyID.
type KeyPair struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey
	PublicKey  crypto.PublicKey
	Algorithm  string
}

// JWKS represents a JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// GenerateRSAKeyPair generates a new RSA key pair for RS256 signing.
// Sizes below 2048 bits are raised to 2048.
func GenerateRSAKeyPair(keyID string, bits int) (*KeyPair, error) {
	if bits < 2048 {
		bits = 2048
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	return &KeyPair{
		KeyID:      keyID,
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Algorithm:  RS256,
	}, nil
}

func (kp *KeyPair) SigningMethod() jwt.SigningMethod {
	return jwt.SigningMethodRS256
}

// ToJWK converts the public key to JWK format
func (kp *KeyPair) ToJWK() (*JWK, error) {
	pubKey, ok := kp.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported public key type %T", kp.PublicKey)
	}
	return &JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kp.KeyID,
		Alg: kp.Algorithm,
		N:   base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pubKey.E)).Bytes()),
	}, nil
}
