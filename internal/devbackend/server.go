// Package devbackend is a local authentication backend for development and
// end-to-end tests. It issues RS256 access and ID tokens, opaque refresh
// tokens, and guards a small protected API with them.
package devbackend

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/token/keys"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	SignInRoute  = "/auth/login"
	RefreshRoute = "/auth/refresh"
	JWKSRoute    = "/.well-known/jwks.json"
	MeRoute      = "/api/me"
	EchoRoute    = "/api/echo"

	DefaultClientID = "authclient"

	refreshTokenExpiry = 30 * 24 * time.Hour
)

type Server struct {
	env        string
	mux        *http.ServeMux
	routes     []string
	logger     zerolog.Logger
	config     config.DevBackendConfig
	clientID   string
	issuer     string
	bcryptCost int
	nowTime    func() time.Time

	signer        *keys.KeyPairSigner
	users         *userDirectory
	refreshTokens *refreshTokens
	accessTokens  *accessTokenLedger

	controls controls
}

// controls are the knobs tests use to provoke refresh races and failures.
type controls struct {
	mu             sync.Mutex
	rejectRefresh  bool
	rejectAll      bool
	refreshGate    chan struct{}
	refreshStarted chan struct{}
	signIns        int
	refreshes      int
	apiCalls       int
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClientID sets the audience of issued ID tokens.
func WithClientID(clientID string) Option {
	return func(s *Server) {
		s.clientID = clientID
	}
}

// WithIssuer fixes the issuer. Without it the issuer is derived from the
// request's scheme and host.
func WithIssuer(issuer string) Option {
	return func(s *Server) {
		s.issuer = strings.TrimRight(issuer, "/")
	}
}

func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		s.bcryptCost = cost
	}
}

func WithNowTime(now func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = now
	}
}

// WithSigningKey replaces the key pair generated at start-up.
func WithSigningKey(kp *keys.KeyPair) Option {
	return func(s *Server) {
		s.signer = keys.NewKeyPairSigner(kp)
	}
}

func New(cfg config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		env:        cfg.GetEnv(),
		mux:        http.NewServeMux(),
		logger:     log.Logger,
		config:     cfg,
		clientID:   DefaultClientID,
		bcryptCost: bcrypt.DefaultCost,
		nowTime:    time.Now,
		users:      newUserDirectory(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signer == nil {
		kp, err := keys.GenerateRSAKeyPair("devbackend-1", 2048)
		if err != nil {
			return nil, errors.Wrap(err, "[devbackend.New] signing key")
		}
		s.signer = keys.NewKeyPairSigner(kp)
	}
	s.refreshTokens = newRefreshTokens(cfg.GetRefreshTokenLength(), refreshTokenExpiry, s.nowTime)
	s.accessTokens = newAccessTokenLedger()

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) initRoutes() {
	api := []func(http.HandlerFunc) http.HandlerFunc{s.RecoverMiddleware, s.LoggingMiddleware}
	protected := append(api, s.RequireAuth())

	s.RegisterRouteFunc("POST "+SignInRoute, ChainMiddleware(s.handleSignIn, api...))
	s.RegisterRouteFunc("POST "+RefreshRoute, ChainMiddleware(s.handleRefresh, api...))
	s.RegisterRouteFunc("GET "+JWKSRoute, ChainMiddleware(s.handleJWKS, api...))
	s.RegisterRouteFunc("GET "+MeRoute, ChainMiddleware(s.handleMe, protected...))
	s.RegisterRouteFunc("POST "+EchoRoute, ChainMiddleware(s.handleEcho, protected...))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// AddUser registers an account that can sign in with password.
func (s *Server) AddUser(username, password string, user User) (*User, error) {
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, "[Server.AddUser] hash password")
	}
	user.Username = username
	user.PasswordHash = hash
	s.users.Upsert(&user)
	return &user, nil
}

// ExpireAccessTokens revokes every access token issued so far, as if each
// had reached its expiry. It returns how many were revoked.
func (s *Server) ExpireAccessTokens() int {
	s.accessTokens.Cleanup(s.nowTime())
	return s.accessTokens.RevokeIssued()
}

// RevokeRefreshTokens makes every outstanding refresh token unusable.
func (s *Server) RevokeRefreshTokens() {
	s.refreshTokens.RevokeAll()
}

// RejectRefresh makes the refresh endpoint answer 401 while reject is set.
func (s *Server) RejectRefresh(reject bool) {
	s.controls.mu.Lock()
	defer s.controls.mu.Unlock()
	s.controls.rejectRefresh = reject
}

// RejectAll makes every protected route answer 401 whatever the credential.
func (s *Server) RejectAll(reject bool) {
	s.controls.mu.Lock()
	defer s.controls.mu.Unlock()
	s.controls.rejectAll = reject
}

// HoldRefreshes blocks refresh requests until the returned release function is
// called. started receives once per refresh request that reaches the gate.
func (s *Server) HoldRefreshes() (started <-chan struct{}, release func()) {
	s.controls.mu.Lock()
	defer s.controls.mu.Unlock()
	gate := make(chan struct{})
	ch := make(chan struct{}, 64)
	s.controls.refreshGate = gate
	s.controls.refreshStarted = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.controls.mu.Lock()
			if s.controls.refreshGate == gate {
				s.controls.refreshGate = nil
			}
			s.controls.mu.Unlock()
			close(gate)
		})
	}
}

// Counts is a snapshot of how often each route group has been hit.
type Counts struct {
	SignIns   int
	Refreshes int
	APICalls  int
}

func (s *Server) Counts() Counts {
	s.controls.mu.Lock()
	defer s.controls.mu.Unlock()
	return Counts{SignIns: s.controls.signIns, Refreshes: s.controls.refreshes, APICalls: s.controls.apiCalls}
}

// JWKS returns the signing key set served at JWKSRoute.
func (s *Server) JWKS() (*keys.JWKS, error) {
	return s.signer.JWKS()
}

// PublicKey returns the key that verifies issued tokens.
func (s *Server) PublicKey() any {
	return s.signer.PublicKey()
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	s.logger.Info().Msgf("[%-19s] %s", displayMethod, path)
}

func (s *Server) issuerFor(r *http.Request) string {
	if s.issuer != "" {
		return s.issuer
	}
	return getScheme(r) + "://" + r.Host
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
