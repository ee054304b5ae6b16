package transport

import (
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const RequestIDHeader = "X-Request-ID"

// CredentialSource yields the live access credential, "" when there is none.
type CredentialSource interface {
	CurrentCredential() string
}

// Authenticator sets "Authorization: Bearer <credential>" on each request.
// It reads the credential once per attempt and never waits for a refresh. A
// replay carries the credential it must use, so it is not affected by a
// later refresh. Exempt paths and requests for another origin pass through
// untouched.
func Authenticator(source CredentialSource, opts ...Option) Middleware {
	o := newOptions(opts)
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if o.passThrough(req) {
				return next.RoundTrip(req)
			}

			p := pendingFrom(req.Context())
			var credential string
			if p != nil && p.pinned {
				credential = p.credential
			} else {
				credential = source.CurrentCredential()
				if p != nil {
					p.credential = credential
				}
			}

			out := req.Clone(req.Context())
			if credential != "" {
				(&oauth2.Token{AccessToken: credential, TokenType: "Bearer"}).SetAuthHeader(out)
			} else {
				out.Header.Del("Authorization")
			}
			if out.Header.Get(RequestIDHeader) == "" {
				id := uuid.NewString()
				if p != nil {
					id = p.id
				}
				out.Header.Set(RequestIDHeader, id)
			}
			return next.RoundTrip(out)
		})
	}
}
