// Package metrics exposes prometheus collectors for notification runs,
// SMS delivery and price fetches.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meramandi"

// Result label values.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Recorder owns the collectors and the registry they are registered on.
// A nil Recorder discards every observation.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	smsSent     *prometheus.CounterVec
	priceFetch  *prometheus.CounterVec
	runDuration prometheus.Histogram
}

// New builds a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "runs_total",
			Help:      "Notification passes by result.",
		}, []string{"result"}),
		smsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sms_sent_total",
			Help:      "SMS send attempts by result.",
		}, []string{"result"}),
		priceFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_fetch_total",
			Help:      "Upstream price fetches by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "run_duration_seconds",
			Help:      "Duration of notification passes.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.smsSent,
		r.priceFetch,
		r.runDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the registry to serve on /metrics.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

// ObserveRun records one notification pass.
func (r *Recorder) ObserveRun(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(result).Inc()
	r.runDuration.Observe(d.Seconds())
}

// SMS records one SMS attempt.
func (r *Recorder) SMS(err error) {
	if r == nil {
		return
	}
	r.smsSent.WithLabelValues(resultOf(err)).Inc()
}

// PriceFetch records one upstream fetch result ("ok" or "error"). Its
// signature matches the fetcher's OnResult hook.
func (r *Recorder) PriceFetch(result string) {
	if r == nil {
		return
	}
	r.priceFetch.WithLabelValues(result).Inc()
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
