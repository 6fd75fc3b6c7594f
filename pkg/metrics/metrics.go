package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gin-gonic/gin"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_rule_runs_total",
		Help: "Number of rule runs, by rule.",
	}, []string{"rule"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lifecycle_rule_records_total",
		Help: "Records handled by rule runs, by rule and outcome.",
	}, []string{"rule", "outcome"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lifecycle_rule_run_duration_seconds",
		Help:    "Wall-clock duration of rule runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"rule"})
)

// ObserveRun records the outcome counts and duration of one rule run
func ObserveRun(rule string, processed, succeeded, failed, skipped int, d time.Duration) {
	runsTotal.WithLabelValues(rule).Inc()
	recordsTotal.WithLabelValues(rule, "succeeded").Add(float64(succeeded))
	recordsTotal.WithLabelValues(rule, "failed").Add(float64(failed))
	recordsTotal.WithLabelValues(rule, "skipped").Add(float64(skipped))
	runDuration.WithLabelValues(rule).Observe(d.Seconds())
}

// Handler exposes the default prometheus registry as a gin handler
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
