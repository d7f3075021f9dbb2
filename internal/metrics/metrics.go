// Package metrics exposes Prometheus collectors for the lead engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal             *prometheus.CounterVec
	jobDurationSeconds    prometheus.Histogram
	leadsDiscoveredTotal  *prometheus.CounterVec
	leadsClaimedTotal     prometheus.Counter
	emailsExtractedTotal  *prometheus.CounterVec
	creditDenialsTotal    prometheus.Counter
	browserRotationsTotal prometheus.Counter
	pollerCooldownsTotal  prometheus.Counter
	stalledReleasedTotal  prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call more than once; the observe
// helpers call it themselves so callers never hit an unregistered collector.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_jobs_total",
				Help: "Scrape jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		jobDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadengine_job_duration_seconds",
				Help:    "Wall-clock time per scrape job.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200},
			},
		)

		leadsDiscoveredTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_leads_discovered_total",
				Help: "Leads discovered, labeled by whether they were new or duplicates.",
			},
			[]string{"outcome"},
		)

		leadsClaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_leads_claimed_total",
				Help: "Leads claimed from the enrichment queue.",
			},
		)

		emailsExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadengine_emails_extracted_total",
				Help: "Emails extracted, labeled by pipeline stage.",
			},
			[]string{"source"},
		)

		creditDenialsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_credit_denials_total",
				Help: "Deductions rejected for insufficient balance.",
			},
		)

		browserRotationsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_browser_rotations_total",
				Help: "Browser sessions replaced, by budget or after a crash.",
			},
		)

		pollerCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_poller_cooldowns_total",
				Help: "Circuit-breaker cooldowns entered by the job poller.",
			},
		)

		stalledReleasedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "leadengine_stalled_leads_released_total",
				Help: "Stalled lead claims released back to the queue.",
			},
		)
	})
}

// Handler exposes the collectors over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records one finished job.
func ObserveJob(status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	jobDurationSeconds.Observe(duration.Seconds())
}

// ObserveLeadDiscovered counts a discovered lead. outcome is "new" or
// "duplicate".
func ObserveLeadDiscovered(outcome string) {
	Init()
	leadsDiscoveredTotal.WithLabelValues(outcome).Inc()
}

// ObserveLeadClaimed counts one queue claim.
func ObserveLeadClaimed() {
	Init()
	leadsClaimedTotal.Inc()
}

// ObserveEmailExtracted counts one extracted address by stage.
func ObserveEmailExtracted(source string) {
	Init()
	emailsExtractedTotal.WithLabelValues(source).Inc()
}

// ObserveCreditDenial counts one rejected deduction.
func ObserveCreditDenial() {
	Init()
	creditDenialsTotal.Inc()
}

// ObserveBrowserRotation counts one session replacement.
func ObserveBrowserRotation() {
	Init()
	browserRotationsTotal.Inc()
}

// ObservePollerCooldown counts one circuit-breaker trip.
func ObservePollerCooldown() {
	Init()
	pollerCooldownsTotal.Inc()
}

// ObserveStalledReleased counts released stalled claims.
func ObserveStalledReleased(n int64) {
	Init()
	if n > 0 {
		stalledReleasedTotal.Add(float64(n))
	}
}
