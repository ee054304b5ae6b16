package devbackend

import (
	"encoding/json"
	"io"
	"net/http"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/internal/utils"
)

const maxRequestBytes = 1 << 20

// MeResponse is the body of MeRoute.
type MeResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Role    string   `json:"role"`
	OrgUnit string   `json:"org_unit,omitempty"`
	Roles   []string `json:"roles"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	s.controls.mu.Lock()
	s.controls.signIns++
	s.controls.mu.Unlock()

	var req authapi.SignInRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authapi.ErrorInvalidRequest, "Malformed body")
		return
	}

	user, err := s.users.GetByUsername(req.Username)
	if err != nil || !CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidGrant, "Invalid username or password")
		return
	}
	if user.Blocked {
		writeError(w, http.StatusForbidden, authapi.ErrorAccessDenied, "Account blocked")
		return
	}

	issuer := s.issuerFor(r)
	accessToken, err := s.createAccessToken(user, issuer)
	if err != nil {
		s.serverError(w, err)
		return
	}
	idToken, err := s.createIDToken(user, issuer)
	if err != nil {
		s.serverError(w, err)
		return
	}
	refreshToken, err := s.refreshTokens.Create(user.ID)
	if err != nil {
		s.serverError(w, err)
		return
	}

	s.logger.Debug().Str("user_id", user.ID).Msg("signed in")
	writeJSON(w, http.StatusOK, authapi.SignInResponse{
		User: authapi.User{
			ID:      user.ID,
			Name:    user.Name,
			Role:    user.Role,
			OrgUnit: user.OrgUnit,
		},
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		IDToken:      idToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.controls.mu.Lock()
	s.controls.refreshes++
	gate, started, reject := s.controls.refreshGate, s.controls.refreshStarted, s.controls.rejectRefresh
	s.controls.mu.Unlock()

	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		// Knobs may have changed while held.
		s.controls.mu.Lock()
		reject = s.controls.rejectRefresh
		s.controls.mu.Unlock()
	}

	var req authapi.RefreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, authapi.ErrorInvalidRequest, "Malformed body")
		return
	}
	if reject {
		writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidGrant, "Refresh rejected")
		return
	}

	userID, err := s.refreshTokens.Validate(req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidGrant, "Invalid refresh token")
		return
	}
	user, err := s.users.GetByID(userID)
	if err != nil || user.Blocked {
		writeError(w, http.StatusUnauthorized, authapi.ErrorInvalidGrant, "Unknown user")
		return
	}

	accessToken, err := s.createAccessToken(user, s.issuerFor(r))
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := authapi.RefreshResponse{AccessToken: accessToken}
	if s.config.GetRotateRefreshTokens() {
		if resp.RefreshToken, err = s.refreshTokens.Create(user.ID); err != nil {
			s.serverError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := s.signer.JWKS()
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jwks)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value(ContextKeyUserID).(string)
	user, err := s.users.GetByID(userID)
	if err != nil {
		writeError(w, http.StatusNotFound, authapi.ErrorNotFound, "User not found")
		return
	}
	claims, _ := r.Context().Value(ContextKeyClaims).(jwtlib.MapClaims)
	raw, _ := claims["roles"].([]any)
	writeJSON(w, http.StatusOK, MeResponse{
		ID:      user.ID,
		Name:    user.Name,
		Role:    user.Role,
		OrgUnit: user.OrgUnit,
		Roles:   utils.ToStringSlice(raw),
	})
}

// handleEcho writes the request body back unchanged.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, authapi.ErrorInvalidRequest, "Unreadable body")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, authapi.ErrorServer, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code authapi.ErrorCode, description string) {
	writeJSON(w, status, authapi.ErrorResponse{Error: code, ErrorDescription: description})
}
