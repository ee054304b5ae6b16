// Package session owns the signed-in session: sign-in, sign-out, the live
// access credential, and the single-flight refresh of that credential.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Controller is the single source of truth for whether there is a usable
// session. It is safe for concurrent use.
type Controller struct {
	backend        Backend
	store          credentials.Store
	logger         zerolog.Logger
	metrics        *metrics.Collectors
	verifier       IDTokenVerifier
	refreshTimeout time.Duration
	nowTime        func() time.Time

	// mu guards session and epoch. Store writes happen while it is held so
	// the store and memory never disagree.
	mu      sync.RWMutex
	session credentials.Session
	// epoch changes on every sign-in and sign-out. A refresh started under
	// one epoch never writes into another.
	epoch uint64

	flights singleflight.Group
}

// New restores any persisted session from store. A persisted fragment that is
// not a complete session is cleared.
func New(backend Backend, store credentials.Store, opts ...Option) (*Controller, error) {
	if backend == nil {
		return nil, errors.New("[session.New] backend is required")
	}
	if store == nil {
		return nil, errors.New("[session.New] store is required")
	}

	c := &Controller{
		backend:        backend,
		store:          store,
		logger:         log.Logger,
		refreshTimeout: DefaultRefreshTimeout,
		nowTime:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	ctx := context.Background()
	restored := store.Load(ctx)
	switch {
	case restored.Valid():
		c.session = restored
		c.logger.Debug().Str("user_id", restored.Identity.ID).Msg("session restored")
	case !restored.IsEmpty():
		c.logger.Warn().Msg("persisted session incomplete, clearing")
		if err := store.Clear(ctx); err != nil {
			return nil, errors.Wrap(err, "[session.New] clear incomplete session")
		}
	}
	return c, nil
}

// SignIn exchanges username and password for a session. On any failure the
// previous state, in memory and in the store, is left as it was.
func (c *Controller) SignIn(ctx context.Context, username, password string) (*credentials.Identity, error) {
	grant, err := c.backend.SignIn(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.Identity.ID == "" || grant.AccessToken == "" {
		return nil, fmt.Errorf("[Controller.SignIn] %w: response missing identity or access token", autherrors.ErrUpstream)
	}
	if err := c.verifyIDToken(ctx, grant); err != nil {
		return nil, err
	}

	identity := grant.Identity
	update := credentials.Update{
		Identity:     &identity,
		AccessToken:  utils.Ptr(grant.AccessToken),
		RefreshToken: utils.Ptr(grant.RefreshToken),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(ctx, update); err != nil {
		return nil, autherrors.Wrapf(err, "[Controller.SignIn] persist session")
	}
	c.epoch++
	c.session = update.Apply(credentials.Session{})

	c.logger.Info().Str("user_id", identity.ID).Str("role", identity.Role).Msg("signed in")
	return utils.Ptr(identity), nil
}

func (c *Controller) verifyIDToken(ctx context.Context, grant *Grant) error {
	if c.verifier == nil || grant.IDToken == "" {
		return nil
	}
	claims, err := c.verifier.Verify(ctx, grant.IDToken)
	if err != nil {
		c.logger.Warn().Err(err).Msg("ID token rejected")
		return fmt.Errorf("[Controller.SignIn] %w: ID token rejected", autherrors.ErrInvalidCredentials)
	}
	if claims.Subject != grant.Identity.ID {
		c.logger.Warn().Str("subject", claims.Subject).Str("user_id", grant.Identity.ID).Msg("ID token subject mismatch")
		return fmt.Errorf("[Controller.SignIn] %w: ID token subject mismatch", autherrors.ErrInvalidCredentials)
	}
	return nil
}

// SignOut ends the session and clears the store. Any refresh in flight will
// have its result discarded. Calling it with no session is a no-op apart
// from clearing the store again.
func (c *Controller) SignOut() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasSignedIn := c.session.Valid()
	if err := c.endSessionLocked(context.Background()); err != nil {
		return autherrors.Wrapf(err, "[Controller.SignOut] clear store")
	}
	if wasSignedIn {
		c.metrics.SignOut(metrics.SignOutUser)
		c.logger.Info().Msg("signed out")
	}
	return nil
}

// endSessionLocked clears memory first so a failing store never leaves the
// controller reporting a session. c.mu must be held for writing.
func (c *Controller) endSessionLocked(ctx context.Context) error {
	c.epoch++
	c.session = credentials.Session{}
	return c.store.Clear(ctx)
}

// IsAuthenticated reports whether both an identity and an access credential
// are present.
func (c *Controller) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Valid()
}

// CurrentCredential returns the live access credential, or "" when signed out.
func (c *Controller) CurrentCredential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.AccessToken
}

// Identity returns a copy of the signed-in identity, or nil.
func (c *Controller) Identity() *credentials.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.Identity == nil {
		return nil
	}
	return utils.Ptr(*c.session.Identity)
}

// AccessTokenExpiry returns the unverified exp claim of the current access
// credential. ok is false when signed out, or when the credential is not a
// JWT or carries no exp. Informational only.
func (c *Controller) AccessTokenExpiry() (time.Time, bool) {
	current := c.CurrentCredential()
	if current == "" {
		return time.Time{}, false
	}
	claims, err := token.Inspect(current)
	if err != nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

// Status is a point-in-time view of the session for display.
type Status struct {
	Authenticated bool
	Identity      *credentials.Identity
	ExpiresAt     time.Time
	// ExpiresIn is negative once the access credential's exp has passed.
	// Zero when the expiry is unknown.
	ExpiresIn time.Duration
}

// Status returns a snapshot of the session and its access credential expiry.
func (c *Controller) Status() Status {
	status := Status{
		Authenticated: c.IsAuthenticated(),
		Identity:      c.Identity(),
	}
	if exp, ok := c.AccessTokenExpiry(); ok {
		status.ExpiresAt = exp
		status.ExpiresIn = exp.Sub(c.nowTime())
	}
	return status
}
