package session

import (
	"time"

	"github.com/jrsteele09/go-auth-client/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultRefreshTimeout bounds a refresh exchange when no timeout is configured.
const DefaultRefreshTimeout = 30 * time.Second

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithIDTokenVerifier requires any ID token returned by sign-in to verify,
// and its subject to match the signed-in identity.
func WithIDTokenVerifier(v IDTokenVerifier) Option {
	return func(c *Controller) {
		c.verifier = v
	}
}

// WithRefreshTimeout bounds each refresh exchange. The exchange is not tied
// to any single caller's context.
func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}
