package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry *prometheus.Registry

	// Provider call rate by endpoint and status. Watch for: rate_limited share creeping up.
	ProviderCallsTotal *prometheus.CounterVec

	// Provider latency per request. Watch for: p95 > 2s (upstream degradation).
	ProviderDuration *prometheus.HistogramVec

	// Fetch failures by endpoint and error category, after rotation.
	FetchErrorsTotal *prometheus.CounterVec

	// Key rotations caused by 429/401/403. Watch for: a single key being penalized on every run.
	CredentialRotationsTotal *prometheus.CounterVec

	// Time callers spent blocked in the rate governor.
	RateGovernorWaitSeconds prometheus.Histogram

	// District outcomes per run: succeeded, partial, failed, skipped.
	DistrictOutcomesTotal *prometheus.CounterVec

	// Sink writes by backend and status.
	SinkWritesTotal *prometheus.CounterVec

	// Runs by terminal state (completed, aborted).
	RunsTotal *prometheus.CounterVec

	// Wall time of the last run.
	RunDurationSeconds prometheus.Gauge

	// Unix time the last run reached completed. Alert when stale.
	RunLastCompletedTimestamp prometheus.Gauge

	// Circuit breaker state (0 closed, 1 open, 2 half_open).
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	rateWindowGaugeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of weather provider HTTP calls",
		},
		[]string{"endpoint", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Weather provider latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	FetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetchErrorsTotal",
			Help: "Logical fetch failures by endpoint and category",
		},
		[]string{"endpoint", "category"},
	)
	CredentialRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credentialRotationsTotal",
			Help: "API key rotations triggered by provider rejections",
		},
		[]string{"reason"},
	)
	RateGovernorWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rateGovernorWaitSeconds",
			Help:    "Time spent waiting for rate window capacity",
			Buckets: []float64{.001, .01, .1, 1, 5, 15, 30, 60},
		},
	)
	DistrictOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "districtOutcomesTotal",
			Help: "Per-district sync outcomes",
		},
		[]string{"outcome"},
	)
	SinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sinkWritesTotal",
			Help: "Weather record upserts by backend and status",
		},
		[]string{"backend", "status"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncRunsTotal",
			Help: "Sync runs by terminal state",
		},
		[]string{"state"},
	)
	RunDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncRunDurationSeconds",
			Help: "Duration of the last sync run",
		},
	)
	RunLastCompletedTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncRunLastCompletedTimestampSeconds",
			Help: "Unix time of the last completed sync run",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half_open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		ProviderCallsTotal, ProviderDuration, FetchErrorsTotal,
		CredentialRotationsTotal, RateGovernorWaitSeconds,
		DistrictOutcomesTotal, SinkWritesTotal,
		RunsTotal, RunDurationSeconds, RunLastCompletedTimestamp,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RegisterRateWindowGauge exposes the number of requests in the governor's current window.
// Only the first call registers.
func RegisterRateWindowGauge(inWindow func() int) {
	rateWindowGaugeOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateWindowRequests",
					Help: "Provider requests inside the rolling rate window",
				},
				func() float64 { return float64(inWindow()) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a breaker state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// Gatherer returns the registry holding the pipeline metrics.
func Gatherer() prometheus.Gatherer {
	return registry
}
