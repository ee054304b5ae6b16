// Package authapi implements the sign-in and refresh exchanges over HTTP.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-auth-client/autherrors"
	"github.com/jrsteele09/go-auth-client/credentials"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxResponseBytes = 1 << 20

var _ session.Backend = (*Backend)(nil)

// Backend talks to the authentication endpoints.
type Backend struct {
	baseURL     string
	signInPath  string
	refreshPath string
	httpClient  *http.Client
	validate    *validator.Validate
	logger      zerolog.Logger
}

type Option func(*Backend)

// WithHTTPClient sets the client used for both exchanges. The client's
// transport may be the authenticated pipeline; the exchange paths are exempt
// from it.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) {
		b.httpClient = c
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

func New(cfg config.ClientConfig, opts ...Option) (*Backend, error) {
	if cfg.GetBaseURL() == "" {
		return nil, errors.New("[authapi.New] base URL is required")
	}
	b := &Backend{
		baseURL:     strings.TrimRight(cfg.GetBaseURL(), "/"),
		signInPath:  cfg.GetSignInPath(),
		refreshPath: cfg.GetRefreshPath(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      log.Logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.httpClient == nil {
		b.httpClient = &http.Client{Timeout: cfg.GetHTTPTimeout()}
	}
	return b, nil
}

// SignIn maps any 4xx to autherrors.ErrInvalidCredentials; the body of a
// rejection carries no contract.
func (b *Backend) SignIn(ctx context.Context, username, password string) (*session.Grant, error) {
	var resp SignInResponse
	status, body, err := b.post(ctx, b.signInPath, SignInRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, exchangeError("sign-in", err)
	}

	switch {
	case status >= 200 && status < 300:
	case status >= 400 && status < 500:
		b.logger.Debug().Int("status", status).Msg("sign-in rejected")
		return nil, fmt.Errorf("[Backend.SignIn] %w (status %d)", autherrors.ErrInvalidCredentials, status)
	default:
		return nil, &autherrors.UpstreamError{StatusCode: status, Body: body}
	}

	if err := b.validate.Struct(resp); err != nil {
		return nil, &autherrors.UpstreamError{StatusCode: status, Body: "invalid sign-in response: " + err.Error()}
	}

	return &session.Grant{
		Identity: credentials.Identity{
			ID:          resp.User.ID,
			DisplayName: resp.User.Name,
			Role:        resp.User.Role,
			OrgUnit:     resp.User.OrgUnit,
		},
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
	}, nil
}

// Refresh treats any non-2xx as a refresh failure.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResult, error) {
	var resp RefreshResponse
	status, body, err := b.post(ctx, b.refreshPath, RefreshRequest{RefreshToken: refreshToken}, &resp)
	if err != nil {
		return nil, exchangeError("refresh", err)
	}
	if status < 200 || status >= 300 {
		b.logger.Debug().Int("status", status).Msg("refresh rejected")
		return nil, &autherrors.UpstreamError{StatusCode: status, Body: body}
	}
	if err := b.validate.Struct(resp); err != nil {
		return nil, &autherrors.UpstreamError{StatusCode: status, Body: "invalid refresh response: " + err.Error()}
	}
	return &session.RefreshResult{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// exchangeError passes an undecodable response through and treats anything
// else as a transport failure.
func exchangeError(op string, err error) error {
	var upstream *autherrors.UpstreamError
	if autherrors.As(err, &upstream) {
		return err
	}
	return &autherrors.TransportError{Op: op, Cause: err}
}

// post sends payload as JSON and decodes a 2xx body into out. A non-2xx body
// is returned as text. err is set when no response was received, the body could
// not be read, or a 2xx body could not be decoded (*autherrors.UpstreamError).
func (b *Backend) post(ctx context.Context, path string, payload, out any) (int, string, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}
	b.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("auth exchange")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, strings.TrimSpace(string(data)), nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, "", &autherrors.UpstreamError{StatusCode: resp.StatusCode, Body: "undecodable response: " + err.Error()}
	}
	return resp.StatusCode, "", nil
}
