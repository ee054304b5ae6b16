// Package transport is the outbound request pipeline: every request is
// stamped with the current access credential, and a request rejected with
// 401 is recovered at most once by refreshing the credential and replaying.
package transport

import "net/http"

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Middleware wraps a RoundTripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain wraps base so that mw[0] sees a request first.
func Chain(base http.RoundTripper, mw ...Middleware) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	chained := base
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// Session is what the pipeline needs from the session owner.
type Session interface {
	CredentialSource
	Refresher
}

// Pipeline returns Recovery(Authenticator(base)).
func Pipeline(base http.RoundTripper, s Session, opts ...Option) http.RoundTripper {
	return Chain(base,
		Recovery(s, opts...),
		Authenticator(s, opts...),
	)
}
