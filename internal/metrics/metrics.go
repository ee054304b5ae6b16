// Package metrics holds the Prometheus collectors for the authenticated
// client. A nil *Collectors is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authclient"

// Refresh outcomes.
const (
	RefreshSucceeded = "success"
	RefreshFailed    = "failure"
	RefreshDiscarded = "discarded"
	RefreshSkipped   = "skipped"
)

// Replay results.
const (
	ReplaySucceeded = "success"
	ReplayRejected  = "rejected"
	ReplayError     = "error"
)

// Sign-out reasons.
const (
	SignOutUser          = "user"
	SignOutRefreshFailed = "refresh_failed"
)

type Collectors struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RefreshesTotal  *prometheus.CounterVec
	RefreshWaiters  prometheus.Counter
	ReplaysTotal    *prometheus.CounterVec
	SignOutsTotal   *prometheus.CounterVec
}

// New creates and registers the collectors with reg.
func New(reg prometheus.Registerer) *Collectors {
	return &Collectors{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Outbound requests by method and status class",
			},
			[]string{"method", "status"}, // status=2xx/4xx/5xx/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Outbound request duration including any refresh and replay",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		RefreshesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refreshes_total",
				Help:      "Credential refresh exchanges by outcome",
			},
			[]string{"outcome"},
		),
		RefreshWaiters: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_waiters_total",
				Help:      "Callers that joined a refresh already in flight",
			},
		),
		ReplaysTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replays_total",
				Help:      "Requests replayed after a refresh, by result",
			},
			[]string{"result"},
		),
		SignOutsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sign_outs_total",
				Help:      "Sessions ended, by reason",
			},
			[]string{"reason"},
		),
	}
}

func (c *Collectors) ObserveRequest(method string, status int, err error, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, StatusClass(status, err)).Inc()
	c.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collectors) Refresh(outcome string) {
	if c == nil {
		return
	}
	c.RefreshesTotal.WithLabelValues(outcome).Inc()
}

func (c *Collectors) JoinedRefresh() {
	if c == nil {
		return
	}
	c.RefreshWaiters.Inc()
}

func (c *Collectors) Replay(result string) {
	if c == nil {
		return
	}
	c.ReplaysTotal.WithLabelValues(result).Inc()
}

func (c *Collectors) SignOut(reason string) {
	if c == nil {
		return
	}
	c.SignOutsTotal.WithLabelValues(reason).Inc()
}

// StatusClass buckets an HTTP status as "2xx", "4xx" etc, or "error" when the
// request never produced a response.
func StatusClass(status int, err error) string {
	if err != nil || status < 100 || status > 599 {
		return "error"
	}
	return string(rune('0'+status/100)) + "xx"
}
