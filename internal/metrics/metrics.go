package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	claimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipam_claims_total",
		Help: "Claim operations by kind and outcome",
	}, []string{"op", "outcome"})
	claimRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipam_claim_retries_total",
		Help: "Claim attempts rolled back because of a concurrent claim",
	}, []string{"op"})
	releasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipam_releases_total",
		Help: "Allocations released",
	})
	probeResultsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipam_probe_results_total",
		Help: "Liveness probe outcomes by signal (neighbor, echo) and result (alive, silent, error)",
	}, []string{"signal", "result"})
)

// Register registers Prometheus collectors. Call once at startup.
func Register(registry *prometheus.Registry) {
	registry.MustRegister(claimsTotal, claimRetriesTotal, releasesTotal, probeResultsTotal)
}

// IncClaim counts a finished claim or find-free call.
func IncClaim(op, outcome string) { claimsTotal.WithLabelValues(op, outcome).Inc() }

// IncClaimRetry counts an attempt lost to contention.
func IncClaimRetry(op string) { claimRetriesTotal.WithLabelValues(op).Inc() }

func IncRelease() { releasesTotal.Inc() }

// IncProbe counts a single liveness signal result.
func IncProbe(signal, result string) { probeResultsTotal.WithLabelValues(signal, result).Inc() }
