// Package metrics exposes the server's Prometheus instrumentation:
// counters for queries/answers/errors by type, a latency histogram for
// full resolutions, and a gauge for how many referral hops each
// resolution took.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdnsd_queries_total", Help: "Total incoming queries by requested qtype"},
		[]string{"qtype"},
	)
	AnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdnsd_answers_total", Help: "Total resolutions returning rescode=NOERROR with answers"},
		[]string{"qtype"},
	)
	NXDomainTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdnsd_nxdomain_total", Help: "Total resolutions returning rescode=NXDOMAIN"},
		[]string{"qtype"},
	)
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rdnsd_errors_total", Help: "Total resolution failures by cause"},
		[]string{"reason"},
	)
	ResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rdnsd_resolution_duration_seconds",
			Help:    "Time to resolve one query, from first stub query to final answer",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"qtype"},
	)
	ResolutionIterations = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "rdnsd_resolution_last_iterations", Help: "Iteration count of the most recently completed resolution"},
	)
)

// Register adds all collectors to reg, returning an error if any are
// already registered (e.g. a second Register call in the same process).
func Register(reg *prometheus.Registry) error {
	for _, c := range []prometheus.Collector{
		QueriesTotal, AnswersTotal, NXDomainTotal, ErrorsTotal,
		ResolutionDuration, ResolutionIterations,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveResolution records the outcome of one recursive_lookup call.
func ObserveResolution(qtype string, start time.Time, iterations int, hasAnswers, nxdomain bool, err error) {
	ResolutionDuration.WithLabelValues(qtype).Observe(time.Since(start).Seconds())
	ResolutionIterations.Set(float64(iterations))

	switch {
	case err != nil:
		ErrorsTotal.WithLabelValues("resolution_failed").Inc()
	case nxdomain:
		NXDomainTotal.WithLabelValues(qtype).Inc()
	case hasAnswers:
		AnswersTotal.WithLabelValues(qtype).Inc()
	}
}
