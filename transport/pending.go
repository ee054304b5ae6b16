package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// pendingRequest tracks one logical request through the pipeline, across
// its original send and at most one replay.
type pendingRequest struct {
	id       string
	original *http.Request
	// body is set when the original body had to be buffered. Otherwise a
	// replay re-reads the body through original.GetBody.
	body    []byte
	sent    bool
	retried bool
	// credential is the access credential the last attempt was sent with.
	credential string
	// pinned means the next attempt must use credential as is.
	pinned bool
}

type pendingKey struct{}

func withPending(ctx context.Context, p *pendingRequest) context.Context {
	return context.WithValue(ctx, pendingKey{}, p)
}

func pendingFrom(ctx context.Context) *pendingRequest {
	p, _ := ctx.Value(pendingKey{}).(*pendingRequest)
	return p
}

// attempt builds a fresh copy of the original request. The first attempt
// sends the original body; a replay gets a new reader over the same bytes.
func (p *pendingRequest) attempt(ctx context.Context) (*http.Request, error) {
	r := p.original.Clone(ctx)
	defer func() { p.sent = true }()

	if p.body != nil {
		body := p.body
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		r.ContentLength = int64(len(body))
		return r, nil
	}
	if p.sent && r.GetBody != nil {
		body, err := r.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

// bufferBody reads and closes a request body that cannot be re-read through
// GetBody, so it can be sent twice. It returns nil when no buffering is
// needed.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody || r.GetBody != nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if data == nil && err == nil {
		data = []byte{}
	}
	return data, err
}
