// Package client assembles the credential store, the session controller and
// the authenticated transport into one object for application code.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/authapi"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/credentials/filestore"
	"github.com/jrsteele09/go-auth-client/credentials/memstore"
	"github.com/jrsteele09/go-auth-client/credentials/sqlitestore"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/jrsteele09/go-auth-client/token"
	"github.com/jrsteele09/go-auth-client/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxErrorBodyBytes = 64 << 10

var _ transport.Session = (*session.Controller)(nil)

// Client sends requests to the backend on behalf of the signed-in user.
type Client struct {
	baseURL    string
	controller *session.Controller
	httpClient *http.Client
	store      credentials.Store
	ownsStore  bool
	logger     zerolog.Logger
}

// New builds a Client from cfg. Any session persisted by an earlier process
// is restored.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "[client.New] invalid configuration")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.GetBaseURL(), "/"),
		store:   o.store,
		logger:  logger,
	}
	if c.store == nil {
		store, err := openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		c.store, c.ownsStore = store, true
	}

	verifier := o.verifier
	if verifier == nil && cfg.OIDCEnabled() {
		v, err := token.NewRemoteOIDCVerifier(context.Background(), cfg.GetOIDCIssuer(), cfg.GetOIDCClientID(), cfg.GetOIDCJWKSURL())
		if err != nil {
			c.closeStore()
			return nil, errors.Wrap(err, "[client.New] ID token verifier")
		}
		verifier = v
	}

	// The exchanges and the API share one http.Client; its transport is set
	// once the controller exists.
	c.httpClient = &http.Client{Timeout: cfg.GetHTTPTimeout()}
	backend, err := authapi.New(cfg, authapi.WithHTTPClient(c.httpClient), authapi.WithLogger(logger))
	if err != nil {
		c.closeStore()
		return nil, err
	}

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(o.metrics),
		session.WithRefreshTimeout(cfg.GetRefreshTimeout()),
	}
	if verifier != nil {
		sessionOpts = append(sessionOpts, session.WithIDTokenVerifier(verifier))
	}
	c.controller, err = session.New(backend, c.store, sessionOpts...)
	if err != nil {
		c.closeStore()
		return nil, err
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		c.closeStore()
		return nil, errors.Wrap(err, "[client.New] base URL")
	}
	c.httpClient.Transport = transport.Pipeline(o.base, c.controller,
		transport.WithLogger(logger),
		transport.WithMetrics(o.metrics),
		transport.WithBaseURL(base),
		transport.WithExemptPaths(cfg.GetSignInPath(), cfg.GetRefreshPath()),
	)
	return c, nil
}

func openStore(cfg config.StoreConfig, logger zerolog.Logger) (credentials.Store, error) {
	switch cfg.GetStoreKind() {
	case config.StoreMemory:
		return memstore.New(cfg.GetStoreNamespace()), nil
	case config.StoreFile:
		return filestore.New(cfg.GetStorePath(), cfg.GetStoreNamespace(), filestore.WithLogger(logger))
	case config.StoreSQLite:
		return sqlitestore.Open(context.Background(), cfg.GetStorePath(), cfg.GetStoreNamespace(), sqlitestore.WithLogger(logger))
	}
	return nil, fmt.Errorf("[client.openStore] unknown store kind %q", cfg.GetStoreKind())
}

// HTTPClient returns the authenticated client. Requests sent through it carry
// the access credential and are recovered once from a 401.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *Client) Session() *session.Controller {
	return c.controller
}

func (c *Client) SignIn(ctx context.Context, username, password string) (*credentials.Identity, error) {
	return c.controller.SignIn(ctx, username, password)
}

func (c *Client) SignOut() error {
	return c.controller.SignOut()
}

// Close releases the store if New opened it.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return c.closeStore()
}

func (c *Client) closeStore() error {
	if !c.ownsStore {
		return nil
	}
	return c.store.Close()
}

// Do sends body as JSON to path, relative to the base URL, and decodes a 2xx
// response into out. An absolute URL for another origin is sent without the
// access credential. A nil body sends no body; a nil out discards the
// response. Any other status is returned as *autherrors.UpstreamError.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "[Client.Do] marshal body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return errors.Wrap(err, "[Client.Do] create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return unwrapURLError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &autherrors.UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &autherrors.UpstreamError{StatusCode: resp.StatusCode, Body: "undecodable response: " + err.Error()}
	}
	return nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// unwrapURLError strips the *url.Error net/http adds so callers see the
// pipeline's own error types first.
func unwrapURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}
