package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the counters external rate-limiting tooling hooks into.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Refreshes     *prometheus.CounterVec
	CodeConsumes  *prometheus.CounterVec
	AuditDropped  prometheus.Counter
	SessionIssued prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		Refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "token_refreshes_total",
			Help:      "Refresh-token rotations by outcome.",
		}, []string{"outcome"}),
		CodeConsumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "verification_consumes_total",
			Help:      "Verification code consumption attempts by outcome.",
		}, []string{"outcome"}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "audit_events_dropped_total",
			Help:      "Audit events lost to a full buffer or exhausted retries.",
		}),
		SessionIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Name:      "sessions_issued_total",
			Help:      "Sessions created by successful authentication.",
		}),
	}
}
