package devbackend

import (
	"fmt"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// createAccessToken mints an RS256 access token for user.
func (s *Server) createAccessToken(user *User, issuer string) (string, error) {
	now := s.nowTime()
	exp := now.Add(s.config.GetAccessTokenExpiry())
	jti := uuid.New().String()
	claims := jwtlib.MapClaims{
		"iss":        issuer,
		"sub":        user.ID,
		"roles":      []string{user.Role},
		"token_type": "user",
		"iat":        now.Unix(),
		"exp":        exp.Unix(),
		"jti":        jti,
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	s.accessTokens.Issue(jti, exp)
	return signed, nil
}

// createIDToken mints an OpenID Connect ID token. Identity claims only.
func (s *Server) createIDToken(user *User, issuer string) (string, error) {
	now := s.nowTime()
	claims := jwtlib.MapClaims{
		"iss":  issuer,
		"sub":  user.ID,
		"aud":  s.clientID,
		"name": user.Name,
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.config.GetIDTokenExpiry()).Unix(),
		"jti":  uuid.New().String(),
	}
	if user.OrgUnit != "" {
		claims["org_unit"] = user.OrgUnit
	}
	signed, err := s.signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token: %w", err)
	}
	return signed, nil
}
