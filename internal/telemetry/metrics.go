package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all handlers.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tollgate",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// KeyRotationTransitionsTotal counts signing-key lifecycle transitions by
// outcome (promoted, deprecated, retired, failed).
var KeyRotationTransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "keys",
		Name:      "transitions_total",
		Help:      "Total number of signing-key lifecycle transitions by outcome.",
	},
	[]string{"outcome"},
)

// TokenValidationsTotal counts inbound token validation outcomes.
var TokenValidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "validator",
		Name:      "validations_total",
		Help:      "Total number of inbound token validations by result.",
	},
	[]string{"result"},
)

// JwksRefreshTotal counts remote JWKS cache refreshes by outcome.
var JwksRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "jwks_cache",
		Name:      "refresh_total",
		Help:      "Total number of remote JWKS refreshes by outcome.",
	},
	[]string{"outcome"},
)

// TranslationsTotal counts claim translations.
var TranslationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "translator",
		Name:      "translations_total",
		Help:      "Total number of claim translations performed.",
	},
)

// ConfigCacheTierHitsTotal counts ConfigStore reads satisfied by each tier.
var ConfigCacheTierHitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "configstore",
		Name:      "tier_hits_total",
		Help:      "Total number of ConfigStore reads satisfied by each tier.",
	},
	[]string{"tier"},
)

// IssuedTokensTotal counts downstream tokens issued.
var IssuedTokensTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "issuer",
		Name:      "issued_total",
		Help:      "Total number of downstream tokens issued.",
	},
)

// RevocationChecksTotal counts revocation checks by outcome.
var RevocationChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "revocation",
		Name:      "checks_total",
		Help:      "Total number of revocation checks by outcome.",
	},
	[]string{"outcome"},
)

// BloomRebuildsTotal counts BloomFront rebuilds by trigger.
var BloomRebuildsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "revocation",
		Name:      "bloom_rebuilds_total",
		Help:      "Total number of Bloom filter rebuilds by trigger.",
	},
	[]string{"trigger"},
)

// PkceConsumptionsTotal counts PKCE challenge consumptions by outcome.
var PkceConsumptionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "pkce",
		Name:      "consumptions_total",
		Help:      "Total number of PKCE challenge consumption attempts by outcome.",
	},
	[]string{"outcome"},
)

// PipelineDecisionsTotal counts gateway pipeline request outcomes.
var PipelineDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tollgate",
		Subsystem: "pipeline",
		Name:      "decisions_total",
		Help:      "Total number of gateway pipeline decisions by outcome.",
	},
	[]string{"decision", "reason"},
)

// All returns every tollgate-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		KeyRotationTransitionsTotal,
		TokenValidationsTotal,
		JwksRefreshTotal,
		TranslationsTotal,
		ConfigCacheTierHitsTotal,
		IssuedTokensTotal,
		RevocationChecksTotal,
		BloomRebuildsTotal,
		PkceConsumptionsTotal,
		PipelineDecisionsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional collectors passed
// as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
