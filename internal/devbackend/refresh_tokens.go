package devbackend

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errRefreshTokenInvalid = errors.New("refresh token invalid")

type storedRefreshToken struct {
	Token  string
	UserID string
	Iat    time.Time
}

// refreshTokens issues opaque refresh tokens, one live token per user.
type refreshTokens struct {
	length  int
	expiry  time.Duration
	nowTime func() time.Time

	lock   sync.Mutex
	tokens map[string]*storedRefreshToken
	byUser map[string]string
}

func newRefreshTokens(length int, expiry time.Duration, nowTime func() time.Time) *refreshTokens {
	if length <= 0 {
		length = 32
	}
	return &refreshTokens{
		length:  length,
		expiry:  expiry,
		nowTime: nowTime,
		tokens:  make(map[string]*storedRefreshToken),
		byUser:  make(map[string]string),
	}
}

// Create replaces any existing refresh token for userID.
func (r *refreshTokens) Create(userID string) (string, error) {
	tokenBytes := make([]byte, r.length)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	tokenStr := hex.EncodeToString(tokenBytes)

	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.byUser[userID]; ok {
		delete(r.tokens, existing)
	}
	r.tokens[tokenStr] = &storedRefreshToken{Token: tokenStr, UserID: userID, Iat: r.nowTime()}
	r.byUser[userID] = tokenStr
	return tokenStr, nil
}

// Validate returns the owner of token if it is live.
func (r *refreshTokens) Validate(token string) (string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	rt, ok := r.tokens[token]
	if !ok {
		return "", errRefreshTokenInvalid
	}
	if r.expiry > 0 && r.nowTime().Sub(rt.Iat) > r.expiry {
		delete(r.tokens, token)
		delete(r.byUser, rt.UserID)
		return "", errRefreshTokenInvalid
	}
	return rt.UserID, nil
}

// RevokeAll forgets every refresh token.
func (r *refreshTokens) RevokeAll() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.tokens = make(map[string]*storedRefreshToken)
	r.byUser = make(map[string]string)
}
