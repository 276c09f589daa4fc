package licensing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus instruments for the licensing core.
type Metrics struct {
	IssueRequests    *prometheus.CounterVec
	ValidateRequests *prometheus.CounterVec
	TokensIssued     prometheus.Counter
	TokensRevoked    prometheus.Counter
	CacheHits        *prometheus.CounterVec
	CacheMisses      prometheus.Counter
}

// NewMetrics registers the licensing instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssueRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "issue_requests_total",
			Help:      "Issue-access requests by outcome code.",
		}, []string{"outcome"}),
		ValidateRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "validate_requests_total",
			Help:      "Validate-access requests by outcome code.",
		}, []string{"outcome"}),
		TokensIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "tokens_issued_total",
			Help:      "Access tokens minted (fresh and refreshed).",
		}),
		TokensRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "tokens_revoked_total",
			Help:      "Tokens blacklisted by forced refresh.",
		}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "record_cache_hits_total",
			Help:      "Entitlement cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "licsvc",
			Name:      "record_cache_misses_total",
			Help:      "Entitlement cache misses (cold directory fetches).",
		}),
	}
}
