package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lovepage"

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "decisions_total",
		Help:      "Entitlement decisions by operation and outcome.",
	}, []string{"operation", "outcome"})

	consumeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "consume_attempts_total",
		Help:      "Atomic consume attempts against the quota store by operation and result.",
	}, []string{"operation", "result"})

	failOpenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "fail_open_total",
		Help:      "Decisions allowed by the fail-open policy while the store was unavailable.",
	}, []string{"operation"})

	consumeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "entitlement",
		Name:      "consume_duration_seconds",
		Help:      "End-to-end consume latency including retries.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"operation"})

	planUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "plan_upgrades_total",
		Help:      "Plan upgrade jobs by result.",
	}, []string{"result"})
)

// ObserveDecision counts a decision returned to a caller.
func ObserveDecision(operation string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	decisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncConsumeAttempt counts one store round trip with its result
// (committed, replayed, conflict, error).
func IncConsumeAttempt(operation, result string) {
	consumeAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// IncFailOpen counts a decision granted by policy instead of the store.
func IncFailOpen(operation string) {
	failOpenTotal.WithLabelValues(operation).Inc()
}

// ObserveConsumeDuration records consume latency since start.
func ObserveConsumeDuration(operation string, start time.Time) {
	consumeDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// IncPlanUpgrade counts a plan upgrade job outcome (applied, duplicate, failed, dropped).
func IncPlanUpgrade(result string) {
	planUpgradesTotal.WithLabelValues(result).Inc()
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
