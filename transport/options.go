package transport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type options struct {
	logger      zerolog.Logger
	metrics     *metrics.Collectors
	base        *url.URL
	exemptPaths []string
	exempted    map[string]struct{}
}

type Option func(*options)

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithBaseURL restricts the pipeline to requests for base's scheme and host.
// Requests to any other origin are forwarded without a credential and are
// never recovered. Exempt paths are resolved under base's path.
func WithBaseURL(base *url.URL) Option {
	return func(o *options) {
		o.base = base
	}
}

// WithExemptPaths names URL paths that are sent without a credential and
// never recovered, typically the sign-in and refresh endpoints.
func WithExemptPaths(paths ...string) Option {
	return func(o *options) {
		o.exemptPaths = append(o.exemptPaths, paths...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:   log.Logger,
		exempted: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	prefix := ""
	if o.base != nil {
		prefix = strings.TrimRight(o.base.Path, "/")
	}
	for _, p := range o.exemptPaths {
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		o.exempted[prefix+p] = struct{}{}
	}
	return o
}

// inScope reports whether r is addressed to the configured origin. Without a
// base URL every request is in scope.
func (o *options) inScope(r *http.Request) bool {
	if o.base == nil {
		return true
	}
	return strings.EqualFold(r.URL.Scheme, o.base.Scheme) &&
		canonicalHost(r.URL) == canonicalHost(o.base)
}

func (o *options) exempt(r *http.Request) bool {
	_, ok := o.exempted[r.URL.Path]
	return ok
}

// passThrough reports whether r must be sent untouched.
func (o *options) passThrough(r *http.Request) bool {
	return !o.inScope(r) || o.exempt(r)
}

// canonicalHost lowercases the host and drops the scheme's default port.
func canonicalHost(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	switch {
	case port == "",
		port == "80" && strings.EqualFold(u.Scheme, "http"),
		port == "443" && strings.EqualFold(u.Scheme, "https"):
		return host
	}
	return host + ":" + port
}
