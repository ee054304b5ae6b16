package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/internal/metrics"
)

const maxDrainBytes = 64 << 10

// Refresher replaces a rejected access credential. Implementations return
// an error wrapping autherrors.ErrSessionExpired when no replacement is
// possible.
type Refresher interface {
	Refresh(ctx context.Context, rejected string) (string, error)
}

// Recovery answers a 401 by refreshing the credential and replaying the
// request exactly once with the new credential. The replay's response is
// final, whatever its status. Any other response passes through unchanged
// and network failures are returned as *autherrors.TransportError without a
// refresh. A request sent without a credential is not refreshed. The replay
// re-reads the body through GetBody, or from a buffer when the body cannot be
// re-read, so it is byte-identical.
func Recovery(refresher Refresher, opts ...Option) Middleware {
	o := newOptions(opts)
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := recoverRoundTrip(o, refresher, next, req)
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			o.metrics.ObserveRequest(req.Method, status, err, time.Since(start))
			return resp, err
		})
	}
}

func recoverRoundTrip(o *options, refresher Refresher, next http.RoundTripper, req *http.Request) (*http.Response, error) {
	op := req.Method + " " + req.URL.Path
	if o.passThrough(req) {
		resp, err := next.RoundTrip(req)
		if err != nil {
			return nil, &autherrors.TransportError{Op: op, Cause: err}
		}
		return resp, nil
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, &autherrors.TransportError{Op: op, Cause: err}
	}
	p := &pendingRequest{
		id:       uuid.NewString(),
		original: req,
		body:     body,
	}
	ctx := withPending(req.Context(), p)
	logger := o.logger.With().Str("request_id", p.id).Str("method", req.Method).Str("path", req.URL.Path).Logger()

	for {
		attempt, err := p.attempt(ctx)
		if err != nil {
			o.metrics.Replay(metrics.ReplayError)
			return nil, &autherrors.TransportError{Op: op, Cause: err}
		}
		resp, err := next.RoundTrip(attempt)
		if err != nil {
			if p.retried {
				o.metrics.Replay(metrics.ReplayError)
			}
			return nil, &autherrors.TransportError{Op: op, Cause: err}
		}

		switch {
		case resp.StatusCode != http.StatusUnauthorized:
			if p.retried {
				o.metrics.Replay(metrics.ReplaySucceeded)
				logger.Debug().Int("status", resp.StatusCode).Str("outcome", "replayed").Msg("request replayed")
			}
			return resp, nil
		case p.retried:
			o.metrics.Replay(metrics.ReplayRejected)
			logger.Warn().Int("status", resp.StatusCode).Str("outcome", "rejected").Msg("replay rejected, not retrying")
			return resp, nil
		}

		drain(resp)
		p.retried = true
		if p.credential == "" {
			logger.Debug().Str("outcome", "failed").Msg("rejected without a credential")
			return nil, autherrors.SessionExpired(autherrors.ErrNotAuthenticated)
		}
		logger.Debug().Msg("credential rejected, refreshing")

		credential, err := refresher.Refresh(req.Context(), p.credential)
		if err != nil {
			logger.Info().Err(err).Str("outcome", "failed").Msg("recovery failed")
			return nil, err
		}
		p.credential = credential
		p.pinned = true
	}
}

// drain discards the rest of a body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()
}
