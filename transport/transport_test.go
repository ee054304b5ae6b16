package transport_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeSession hands out current and, on refresh, whatever refresh returns.
type fakeSession struct {
	mu        sync.Mutex
	current   string
	rejected  []string
	refreshFn func(s *fakeSession) (string, error)
}

func (s *fakeSession) CurrentCredential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSession) Refresh(_ context.Context, rejected string) (string, error) {
	s.mu.Lock()
	s.rejected = append(s.rejected, rejected)
	fn := s.refreshFn
	s.mu.Unlock()
	return fn(s)
}

func (s *fakeSession) set(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = v
}

func (s *fakeSession) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rejected)
}

func rotateTo(next string) func(*fakeSession) (string, error) {
	return func(s *fakeSession) (string, error) {
		s.set(next)
		return next, nil
	}
}

type attempt struct {
	auth      string
	requestID string
	body      string
}

// recorder is a backend that accepts only the credentials in valid.
type recorder struct {
	mu       sync.Mutex
	attempts []attempt
	valid    map[string]bool
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec.mu.Lock()
	rec.attempts = append(rec.attempts, attempt{
		auth:      r.Header.Get("Authorization"),
		requestID: r.Header.Get(transport.RequestIDHeader),
		body:      string(body),
	})
	ok := rec.valid[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	rec.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/login":
		w.WriteHeader(http.StatusOK)
	case r.URL.Path == "/api/broken":
		http.Error(w, "boom", http.StatusInternalServerError)
	case !ok:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		_, _ = w.Write([]byte("ok"))
	}
}

func (rec *recorder) snapshot() []attempt {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]attempt(nil), rec.attempts...)
}

func newPipeline(t *testing.T, s transport.Session, opts ...transport.Option) (*http.Client, *recorder, string) {
	t.Helper()
	return newPipelineUnder(t, s, "", opts...)
}

// newPipelineUnder scopes the pipeline to the recorder's origin with
// basePath as the base URL's path.
func newPipelineUnder(t *testing.T, s transport.Session, basePath string, opts ...transport.Option) (*http.Client, *recorder, string) {
	t.Helper()
	rec := &recorder{valid: map[string]bool{}}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL + basePath)
	require.NoError(t, err)
	opts = append([]transport.Option{
		transport.WithLogger(zerolog.Nop()),
		transport.WithBaseURL(base),
		transport.WithExemptPaths("/auth/login", "/auth/refresh"),
	}, opts...)
	return &http.Client{Transport: transport.Pipeline(http.DefaultTransport, s, opts...)}, rec, base.String()
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestAuthenticatorStampsCredential(t *testing.T) {
	s := &fakeSession{current: "access-1"}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-1"] = true

	resp, err := get(t, c, base+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	attempts := rec.snapshot()
	require.Len(t, attempts, 1)
	require.Equal(t, "Bearer access-1", attempts[0].auth)
	require.NotEmpty(t, attempts[0].requestID)
}

func TestExemptPathsCarryNoCredential(t *testing.T) {
	s := &fakeSession{current: "access-1"}
	c, rec, base := newPipeline(t, s)

	resp, err := get(t, c, base+"/auth/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, rec.snapshot()[0].auth)
}

func TestNonRejectionPassesThrough(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-1"] = true

	resp, err := get(t, c, base+"/api/broken")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Len(t, rec.snapshot(), 1)
	require.Equal(t, 0, s.refreshCount())
}

func TestRejectionRefreshesAndReplaysOnce(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, rec, base := newPipeline(t, s, transport.WithMetrics(m))
	rec.valid["access-2"] = true

	req, err := http.NewRequest(http.MethodPost, base+"/api/items", strings.NewReader(`{"name":"widget"}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	attempts := rec.snapshot()
	require.Len(t, attempts, 2)
	require.Equal(t, "Bearer access-1", attempts[0].auth)
	require.Equal(t, "Bearer access-2", attempts[1].auth)
	require.Equal(t, attempts[0].body, attempts[1].body, "replay is byte-identical")
	require.Equal(t, `{"name":"widget"}`, attempts[1].body)
	require.Equal(t, attempts[0].requestID, attempts[1].requestID)

	require.Equal(t, []string{"access-1"}, s.rejected, "refresh told which credential was rejected")
	require.Equal(t, 1.0, testutil.ToFloat64(m.ReplaysTotal.WithLabelValues(metrics.ReplaySucceeded)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues(http.MethodPost, "2xx")))
}

func TestSecondRejectionIsFinal(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)

	resp, err := get(t, c, base+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Len(t, rec.snapshot(), 2, "exactly two network attempts")
	require.Equal(t, 1, s.refreshCount())
}

func TestReplayUsesRefreshedCredential(t *testing.T) {
	// The session moves on again before the replay is sent; the replay still
	// carries the credential its own refresh produced.
	s := &fakeSession{current: "access-1", refreshFn: func(s *fakeSession) (string, error) {
		s.set("access-3")
		return "access-2", nil
	}}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-2"] = true

	resp, err := get(t, c, base+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer access-2", rec.snapshot()[1].auth)
}

func TestRefreshFailureSurfacesSessionExpired(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: func(*fakeSession) (string, error) {
		return "", autherrors.SessionExpired(&autherrors.UpstreamError{StatusCode: 401})
	}}
	c, rec, base := newPipeline(t, s)

	_, err := get(t, c, base+"/api/me")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Len(t, rec.snapshot(), 1, "no resend after a failed refresh")
}

func TestTransportErrorIsNotRecovered(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	dialErr := errors.New("connection refused")
	base := transport.RoundTripperFunc(func(*http.Request) (*http.Response, error) {
		return nil, dialErr
	})
	c := &http.Client{Transport: transport.Pipeline(base, s, transport.WithLogger(zerolog.Nop()))}

	_, err := get(t, c, "http://backend.invalid/api/me")
	require.ErrorIs(t, err, autherrors.ErrTransport)
	require.ErrorIs(t, err, dialErr)

	var transportErr *autherrors.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, "GET /api/me", transportErr.Op)
	require.Equal(t, 0, s.refreshCount())
}

func TestNoCredentialSendsUnauthenticated(t *testing.T) {
	s := &fakeSession{refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)

	_, err := get(t, c, base+"/api/me")
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
	require.Empty(t, rec.snapshot()[0].auth)
	require.Equal(t, 0, s.refreshCount())
}

func TestSignInDuringUnauthenticatedRequestDoesNotRefresh(t *testing.T) {
	s := &fakeSession{refreshFn: rotateTo("access-2")}
	rec := &recorder{valid: map[string]bool{"access-1": true}}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)

	// The session signs in while the unauthenticated request is in flight.
	base := transport.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(r)
		s.set("access-1")
		return resp, err
	})
	c := &http.Client{Transport: transport.Pipeline(base, s, transport.WithLogger(zerolog.Nop()))}

	_, err := get(t, c, srv.URL+"/api/me")
	require.ErrorIs(t, err, autherrors.ErrNotAuthenticated)
	require.Equal(t, 0, s.refreshCount())
	require.Len(t, rec.snapshot(), 1)
	require.Equal(t, "access-1", s.CurrentCredential())
}

func TestOtherOriginIsForwardedUntouched(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-1"] = true

	foreign := &recorder{valid: map[string]bool{}}
	foreignSrv := httptest.NewServer(foreign)
	t.Cleanup(foreignSrv.Close)

	resp, err := get(t, c, foreignSrv.URL+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a foreign 401 is not recovered")
	require.Len(t, foreign.snapshot(), 1)
	require.Empty(t, foreign.snapshot()[0].auth)
	require.Empty(t, foreign.snapshot()[0].requestID)
	require.Equal(t, 0, s.refreshCount())

	resp, err = get(t, c, base+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer access-1", rec.snapshot()[0].auth)
}

func TestCrossOriginRedirectDropsCredential(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	foreign := &recorder{valid: map[string]bool{}}
	foreignSrv := httptest.NewServer(foreign)
	t.Cleanup(foreignSrv.Close)

	originRec := &recorder{valid: map[string]bool{}}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		originRec.mu.Lock()
		originRec.attempts = append(originRec.attempts, attempt{auth: r.Header.Get("Authorization")})
		originRec.mu.Unlock()
		http.Redirect(w, r, foreignSrv.URL+"/api/collect", http.StatusFound)
	}))
	t.Cleanup(origin.Close)

	base, err := url.Parse(origin.URL)
	require.NoError(t, err)
	c := &http.Client{Transport: transport.Pipeline(http.DefaultTransport, s,
		transport.WithLogger(zerolog.Nop()),
		transport.WithBaseURL(base),
	)}

	_, err = get(t, c, origin.URL+"/api/moved")
	require.NoError(t, err)
	require.Equal(t, "Bearer access-1", originRec.snapshot()[0].auth)
	require.Len(t, foreign.snapshot(), 1)
	require.Empty(t, foreign.snapshot()[0].auth)
}

func TestExemptPathsResolveUnderBasePath(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipelineUnder(t, s, "/v1")
	require.True(t, strings.HasSuffix(base, "/v1"))

	resp, err := get(t, c, base+"/auth/refresh")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "exempt requests are not recovered")
	require.Empty(t, rec.snapshot()[0].auth)
	require.Equal(t, 0, s.refreshCount())

	rec.valid["access-1"] = true
	resp, err = get(t, c, base+"/api/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Bearer access-1", rec.snapshot()[1].auth)
}

func TestReplayRereadsBodyThroughGetBody(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-2"] = true

	req, err := http.NewRequest(http.MethodPut, base+"/api/items/1", strings.NewReader(`{"name":"gadget"}`))
	require.NoError(t, err)
	getBody := req.GetBody
	require.NotNil(t, getBody)
	var calls int
	req.GetBody = func() (io.ReadCloser, error) {
		calls++
		return getBody()
	}

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	attempts := rec.snapshot()
	require.Len(t, attempts, 2)
	require.Equal(t, `{"name":"gadget"}`, attempts[0].body)
	require.Equal(t, attempts[0].body, attempts[1].body)
	require.Equal(t, 1, calls, "the replay re-reads the body once")
}

func TestOpaqueBodyIsBufferedForReplay(t *testing.T) {
	s := &fakeSession{current: "access-1", refreshFn: rotateTo("access-2")}
	c, rec, base := newPipeline(t, s)
	rec.valid["access-2"] = true

	req, err := http.NewRequest(http.MethodPost, base+"/api/items", io.NopCloser(strings.NewReader("opaque payload")))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	attempts := rec.snapshot()
	require.Len(t, attempts, 2)
	require.Equal(t, "opaque payload", attempts[0].body)
	require.Equal(t, "opaque payload", attempts[1].body)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) transport.Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return transport.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}
	base := transport.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: r}, nil
	})

	req, err := http.NewRequest(http.MethodGet, "http://example.test/", nil)
	require.NoError(t, err)
	_, err = transport.Chain(base, mark("outer"), mark("inner")).RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, []string{"outer", "inner", "base"}, order)
}

func TestAuthenticatorAloneSetsRequestID(t *testing.T) {
	var seen *http.Request
	base := transport.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		seen = r
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
	})
	rt := transport.Chain(base, transport.Authenticator(&fakeSession{current: "access-1"}))

	req, err := http.NewRequest(http.MethodGet, "http://example.test/api", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)

	require.Equal(t, "Bearer access-1", seen.Header.Get("Authorization"))
	require.NotEmpty(t, seen.Header.Get(transport.RequestIDHeader))
	require.Empty(t, req.Header.Get("Authorization"), "caller's request is not modified")
}
