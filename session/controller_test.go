package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/memstore"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/internal/utils"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	testUsername = "ada"
	testPassword = "correct horse"
)

var testIdentity = credentials.Identity{ID: "u-1", DisplayName: "Ada Lovelace", Role: "instructor", OrgUnit: "maths"}

// fakeBackend issues access-1, access-2, ... on each successful refresh.
type fakeBackend struct {
	mu          sync.Mutex
	refreshErr  error
	rotate      bool
	gate        chan struct{}
	started     chan struct{}
	signInCalls atomic.Int32
	calls       atomic.Int32
	lastRefresh string
	idToken     string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{}
}

// hold makes the next refreshes block until the returned release is called.
// started receives once per refresh that reaches the backend.
func (b *fakeBackend) hold() (started <-chan struct{}, release func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
	b.started = make(chan struct{}, 16)
	gate := b.gate
	var once sync.Once
	return b.started, func() { once.Do(func() { close(gate) }) }
}

func (b *fakeBackend) SignIn(_ context.Context, username, password string) (*session.Grant, error) {
	b.signInCalls.Add(1)
	if username != testUsername || password != testPassword {
		return nil, autherrors.ErrInvalidCredentials
	}
	return &session.Grant{
		Identity:     testIdentity,
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		IDToken:      b.idToken,
	}, nil
}

func (b *fakeBackend) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error) {
	n := b.calls.Add(1)

	b.mu.Lock()
	gate, started, refreshErr := b.gate, b.started, b.refreshErr
	b.lastRefresh = refreshToken
	b.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, &autherrors.TransportError{Op: "refresh", Cause: ctx.Err()}
		}
	}
	if refreshErr != nil {
		return nil, refreshErr
	}
	result := &session.RefreshResult{AccessToken: "access-" + itoa(int(n)+1)}
	if b.rotate {
		result.RefreshToken = "refresh-" + itoa(int(n)+1)
	}
	return result, nil
}

func itoa(n int) string {
	return string(rune('0' + n))
}

type failingStore struct {
	credentials.Store
	saveErr error
}

func (s *failingStore) Save(ctx context.Context, u credentials.Update) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, u)
}

type fakeVerifier struct {
	subject string
	err     error
}

func (v fakeVerifier) Verify(context.Context, string) (*token.IDClaims, error) {
	if v.err != nil {
		return nil, v.err
	}
	return &token.IDClaims{Subject: v.subject}, nil
}

func newController(t *testing.T, backend session.Backend, store credentials.Store, opts ...session.Option) *session.Controller {
	t.Helper()
	opts = append([]session.Option{session.WithLogger(zerolog.Nop())}, opts...)
	c, err := session.New(backend, store, opts...)
	require.NoError(t, err)
	return c
}

func signedIn(t *testing.T, backend session.Backend, store credentials.Store, opts ...session.Option) *session.Controller {
	t.Helper()
	c := newController(t, backend, store, opts...)
	_, err := c.SignIn(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	return c
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := session.New(nil, memstore.New(""))
	require.Error(t, err)
	_, err = session.New(newFakeBackend(), nil)
	require.Error(t, err)
}

func TestRestoreAtStart(t *testing.T) {
	ctx := context.Background()

	t.Run("complete session restored", func(t *testing.T) {
		store := memstore.New("")
		require.NoError(t, store.Save(ctx, credentials.Update{
			Identity:     utils.Ptr(testIdentity),
			AccessToken:  utils.Ptr("access-9"),
			RefreshToken: utils.Ptr("refresh-9"),
		}))

		c := newController(t, newFakeBackend(), store)
		require.True(t, c.IsAuthenticated())
		require.Equal(t, "access-9", c.CurrentCredential())
		require.Equal(t, testIdentity, *c.Identity())
	})

	t.Run("half session cleared", func(t *testing.T) {
		store := memstore.New("")
		require.NoError(t, store.Save(ctx, credentials.Update{AccessToken: utils.Ptr("access-9")}))

		c := newController(t, newFakeBackend(), store)
		require.False(t, c.IsAuthenticated())
		require.Equal(t, "", c.CurrentCredential())
		require.True(t, store.Load(ctx).IsEmpty())
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	t.Run("success persists and publishes", func(t *testing.T) {
		store := memstore.New("")
		c := newController(t, newFakeBackend(), store)

		identity, err := c.SignIn(ctx, testUsername, testPassword)
		require.NoError(t, err)
		require.Equal(t, testIdentity, *identity)
		require.True(t, c.IsAuthenticated())
		require.Equal(t, "access-1", c.CurrentCredential())

		persisted := store.Load(ctx)
		require.True(t, persisted.Valid())
		require.Equal(t, "refresh-1", persisted.RefreshToken)
	})

	t.Run("rejected commits nothing", func(t *testing.T) {
		store := memstore.New("")
		c := newController(t, newFakeBackend(), store)

		_, err := c.SignIn(ctx, testUsername, "wrong")
		require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
		require.False(t, c.IsAuthenticated())
		require.True(t, store.Load(ctx).IsEmpty())
	})

	t.Run("store failure commits nothing", func(t *testing.T) {
		store := &failingStore{Store: memstore.New(""), saveErr: errors.New("disk full")}
		c := newController(t, newFakeBackend(), store)

		_, err := c.SignIn(ctx, testUsername, testPassword)
		require.ErrorContains(t, err, "disk full")
		require.False(t, c.IsAuthenticated())
		require.Equal(t, "", c.CurrentCredential())
	})

	t.Run("ID token subject must match", func(t *testing.T) {
		backend := newFakeBackend()
		backend.idToken = "id-token"
		c := newController(t, backend, memstore.New(""), session.WithIDTokenVerifier(fakeVerifier{subject: "someone-else"}))

		_, err := c.SignIn(ctx, testUsername, testPassword)
		require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
		require.False(t, c.IsAuthenticated())
	})

	t.Run("ID token verification failure", func(t *testing.T) {
		backend := newFakeBackend()
		backend.idToken = "id-token"
		c := newController(t, backend, memstore.New(""), session.WithIDTokenVerifier(fakeVerifier{err: errors.New("bad signature")}))

		_, err := c.SignIn(ctx, testUsername, testPassword)
		require.ErrorIs(t, err, autherrors.ErrInvalidCredentials)
	})

	t.Run("verified ID token accepted", func(t *testing.T) {
		backend := newFakeBackend()
		backend.idToken = "id-token"
		c := newController(t, backend, memstore.New(""), session.WithIDTokenVerifier(fakeVerifier{subject: testIdentity.ID}))

		_, err := c.SignIn(ctx, testUsername, testPassword)
		require.NoError(t, err)
		require.True(t, c.IsAuthenticated())
	})
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := signedIn(t, newFakeBackend(), store, session.WithMetrics(m))

	require.NoError(t, c.SignOut())
	require.False(t, c.IsAuthenticated())
	require.Nil(t, c.Identity())
	require.Equal(t, "", c.CurrentCredential())
	require.True(t, store.Load(ctx).IsEmpty())

	// idempotent
	require.NoError(t, c.SignOut())
	require.Equal(t, 1.0, testutil.ToFloat64(m.SignOutsTotal.WithLabelValues(metrics.SignOutUser)))
}

func TestRefreshWithoutSession(t *testing.T) {
	backend := newFakeBackend()
	c := newController(t, backend, memstore.New(""))

	_, err := c.Refresh(context.Background(), "")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Equal(t, int32(0), backend.calls.Load())
}

func TestRefreshReplacesCredential(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	backend := newFakeBackend()
	c := signedIn(t, backend, store)

	got, err := c.Refresh(ctx, "access-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", got)
	require.Equal(t, "access-2", c.CurrentCredential())
	require.Equal(t, "refresh-1", backend.lastRefresh)

	persisted := store.Load(ctx)
	require.Equal(t, "access-2", persisted.AccessToken)
	require.Equal(t, "refresh-1", persisted.RefreshToken, "refresh credential kept when not rotated")

	t.Run("stale rejection needs no network call", func(t *testing.T) {
		got, err := c.Refresh(ctx, "access-1")
		require.NoError(t, err)
		require.Equal(t, "access-2", got)
		require.Equal(t, int32(1), backend.calls.Load())
	})
}

func TestRefreshRotatesRefreshCredential(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	backend := newFakeBackend()
	backend.rotate = true
	c := signedIn(t, backend, store)

	_, err := c.Refresh(ctx, "access-1")
	require.NoError(t, err)
	require.Equal(t, "refresh-2", store.Load(ctx).RefreshToken)

	_, err = c.Refresh(ctx, "access-2")
	require.NoError(t, err)
	require.Equal(t, "refresh-2", backend.lastRefresh)
}

func TestRefreshSingleFlight(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := signedIn(t, backend, memstore.New(""), session.WithMetrics(m))

	started, release := backend.hold()

	const waiters = 10
	results := make([]string, waiters)
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(ctx, "access-1")
		}(i)
	}

	<-started
	release()
	wg.Wait()

	require.Equal(t, int32(1), backend.calls.Load())
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "access-2", results[i])
	}
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues(metrics.RefreshSucceeded)))
}

func TestRefreshFailureSignsOut(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	backend := newFakeBackend()
	backend.refreshErr = &autherrors.UpstreamError{StatusCode: 401}
	c := signedIn(t, backend, store)

	started, release := backend.hold()

	const waiters = 3
	errs := make([]error, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Refresh(ctx, "access-1")
		}(i)
	}

	<-started
	release()
	wg.Wait()

	require.Equal(t, int32(1), backend.calls.Load())
	for _, err := range errs {
		require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	}
	require.False(t, c.IsAuthenticated())
	require.True(t, store.Load(ctx).IsEmpty())

	_, err := c.Refresh(ctx, "access-1")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Equal(t, int32(1), backend.calls.Load(), "no refresh without a session")
}

func TestRefreshFailureCarriesCause(t *testing.T) {
	backend := newFakeBackend()
	backend.refreshErr = &autherrors.UpstreamError{StatusCode: 401}
	c := signedIn(t, backend, memstore.New(""))

	_, err := c.Refresh(context.Background(), "access-1")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.ErrorIs(t, err, autherrors.ErrUpstream)

	var upstream *autherrors.UpstreamError
	require.ErrorAs(t, err, &upstream)
	require.Equal(t, 401, upstream.StatusCode)
}

func TestRefreshStoreFailureSignsOut(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: memstore.New("")}
	c := signedIn(t, newFakeBackend(), store)

	store.saveErr = errors.New("read-only filesystem")
	_, err := c.Refresh(ctx, "access-1")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.ErrorContains(t, err, "read-only filesystem")
	require.False(t, c.IsAuthenticated())
}

func TestSignOutDuringRefreshDiscardsResult(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	backend := newFakeBackend()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c := signedIn(t, backend, store, session.WithMetrics(m))

	started, release := backend.hold()

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "access-1")
		done <- err
	}()

	<-started
	require.NoError(t, c.SignOut())
	release()

	err := <-done
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.False(t, c.IsAuthenticated())
	require.True(t, store.Load(ctx).IsEmpty())
	require.Equal(t, 1.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues(metrics.RefreshDiscarded)))
}

func TestNewSignInDuringRefreshKeepsNewSession(t *testing.T) {
	ctx := context.Background()
	store := memstore.New("")
	backend := newFakeBackend()
	c := signedIn(t, backend, store)

	started, release := backend.hold()

	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "access-1")
		done <- err
	}()

	<-started
	require.NoError(t, c.SignOut())
	_, err := c.SignIn(ctx, testUsername, testPassword)
	require.NoError(t, err)
	release()

	require.ErrorIs(t, <-done, autherrors.ErrSessionExpired)
	require.True(t, c.IsAuthenticated())
	require.Equal(t, "access-1", c.CurrentCredential())
	require.Equal(t, "access-1", store.Load(ctx).AccessToken)
}

func TestRefreshWaiterCancellation(t *testing.T) {
	backend := newFakeBackend()
	c := signedIn(t, backend, memstore.New(""))

	started, release := backend.hold()

	patientDone := make(chan string, 1)
	go func() {
		got, err := c.Refresh(context.Background(), "access-1")
		assert.NoError(t, err)
		patientDone <- got
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	impatientDone := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "access-1")
		impatientDone <- err
	}()
	cancel()
	require.ErrorIs(t, <-impatientDone, context.Canceled)

	release()
	require.Equal(t, "access-2", <-patientDone)
	require.True(t, c.IsAuthenticated())
	require.Equal(t, int32(1), backend.calls.Load())
}

func TestLeaderCancellationDoesNotFailRefresh(t *testing.T) {
	backend := newFakeBackend()
	c := signedIn(t, backend, memstore.New(""))

	started, release := backend.hold()

	ctx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "access-1")
		leaderDone <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-leaderDone, context.Canceled)

	release()
	require.Eventually(t, func() bool {
		return c.CurrentCredential() == "access-2"
	}, time.Second, 5*time.Millisecond)
	require.True(t, c.IsAuthenticated())
}

func TestRefreshTimeout(t *testing.T) {
	backend := newFakeBackend()
	c := signedIn(t, backend, memstore.New(""), session.WithRefreshTimeout(20*time.Millisecond))

	_, release := backend.hold()
	defer release()

	_, err := c.Refresh(context.Background(), "access-1")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.ErrorIs(t, err, autherrors.ErrTransport)
	require.False(t, c.IsAuthenticated())
}

func TestAccessTokenExpiryAndStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := now.Add(10 * time.Minute)

	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": testIdentity.ID,
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	store := memstore.New("")
	require.NoError(t, store.Save(ctx, credentials.Update{
		Identity:     utils.Ptr(testIdentity),
		AccessToken:  utils.Ptr(raw),
		RefreshToken: utils.Ptr("refresh-1"),
	}))
	c := newController(t, newFakeBackend(), store, session.WithNowTime(func() time.Time { return now }))

	got, ok := c.AccessTokenExpiry()
	require.True(t, ok)
	require.True(t, exp.Equal(got))

	status := c.Status()
	require.True(t, status.Authenticated)
	require.Equal(t, testIdentity.ID, status.Identity.ID)
	require.Equal(t, 10*time.Minute, status.ExpiresIn)

	tok, err := c.TokenSource().Token()
	require.NoError(t, err)
	require.Equal(t, raw, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.True(t, exp.Equal(tok.Expiry))

	require.NoError(t, c.SignOut())
	_, ok = c.AccessTokenExpiry()
	require.False(t, ok)
	_, err = c.TokenSource().Token()
	require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
}

func TestOpaqueCredentialHasNoExpiry(t *testing.T) {
	c := signedIn(t, newFakeBackend(), memstore.New(""))
	_, ok := c.AccessTokenExpiry()
	require.False(t, ok)
	require.Zero(t, c.Status().ExpiresIn)
}
