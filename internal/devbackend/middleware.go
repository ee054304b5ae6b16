package devbackend

import (
	"context"
	"net/http"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/authapi"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyUserID stores the authenticated user ID
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyClaims stores parsed token claims
	ContextKeyClaims ContextKey = "claims"
)

func ChainMiddleware(routeFunction http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chainedHandler := routeFunction
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chainedHandler = mw[i](chainedHandler)
	}
	return chainedHandler
}

func (s *Server) LoggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.env == "DEV" {
			s.logRoute(r.Method, r.URL.Path)
		}
		next(w, r)
	}
}

func (s *Server) RecoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, authapi.ErrorServer, "internal error")
			}
		}()
		next(w, r)
	}
}

// RequireAuth is middleware that validates a Bearer access token issued by
// this server.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			s.controls.mu.Lock()
			s.controls.apiCalls++
			rejectAll := s.controls.rejectAll
			s.controls.mu.Unlock()

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, authapi.ErrorUnauthorized, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, authapi.ErrorUnauthorized, "Invalid Authorization header format")
				return
			}

			token := parts[1]
			if token == "" {
				writeError(w, http.StatusUnauthorized, authapi.ErrorUnauthorized, "Empty token")
				return
			}
			if rejectAll {
				writeError(w, http.StatusUnauthorized, authapi.ErrorUnauthorized, "Token rejected")
				return
			}

			claims, err := s.signer.Parse(token, jwtlib.WithTimeFunc(s.nowTime))
			if err != nil {
				s.logger.Debug().Err(err).Msg("access token rejected")
				writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidToken, "Invalid token")
				return
			}
			if jti, _ := claims["jti"].(string); jti == "" || s.accessTokens.IsRevoked(jti) {
				writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidToken, "Token expired")
				return
			}
			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidToken, "Token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUserID, sub)
			ctx = context.WithValue(ctx, ContextKeyClaims, claims)
			next(w, r.WithContext(ctx))
		}
	}
}
