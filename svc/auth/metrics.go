package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of the auth service. A nil
// *Metrics records nothing.
type Metrics struct {
	Logins             *prometheus.CounterVec
	Validations        *prometheus.CounterVec
	Refreshes          *prometheus.CounterVec
	Revocations        *prometheus.CounterVec
	Lockouts           *prometheus.CounterVec
	ResolutionDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_token_validations_total",
				Help: "Access token validations by result",
			},
			[]string{"result"},
		),
		Refreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_token_refreshes_total",
				Help: "Token refreshes by result",
			},
			[]string{"result"},
		),
		Revocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_session_revocations_total",
				Help: "Revoked sessions by reason",
			},
			[]string{"reason"},
		),
		Lockouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_login_lockouts_total",
				Help: "Login lockouts by scope",
			},
			[]string{"scope"},
		),
		ResolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_permission_resolution_seconds",
				Help:    "Latency of live permission resolution",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Logins, m.Validations, m.Refreshes, m.Revocations, m.Lockouts, m.ResolutionDuration)
	}
	return m
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) validation(result string) {
	if m != nil {
		m.Validations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		m.Refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) revoked(reason string, n int) {
	if m != nil && n > 0 {
		m.Revocations.WithLabelValues(reason).Add(float64(n))
	}
}

// Lockout counts a lockout. It fits loginguard.WithLockoutHook through a
// small adapter at wiring time.
func (m *Metrics) Lockout(scope string) {
	if m != nil {
		m.Lockouts.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) resolution(start time.Time) {
	if m != nil {
		m.ResolutionDuration.Observe(time.Since(start).Seconds())
	}
}
