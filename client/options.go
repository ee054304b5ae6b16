package client

import (
	"net/http"

	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/rs/zerolog"
)

type options struct {
	base     http.RoundTripper
	store    credentials.Store
	logger   *zerolog.Logger
	metrics  *metrics.Collectors
	verifier session.IDTokenVerifier
}

type Option func(*options)

// WithBaseTransport sets the round-tripper underneath the authenticated
// pipeline. Defaults to http.DefaultTransport.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.base = rt
	}
}

// WithStore overrides the store built from configuration. The caller keeps
// ownership: Close does not close it.
func WithStore(store credentials.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = &logger
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithIDTokenVerifier overrides the verifier built from the oidc.* settings.
func WithIDTokenVerifier(v session.IDTokenVerifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}
